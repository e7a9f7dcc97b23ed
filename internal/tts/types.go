// Package tts requests synthesized speech with character alignment from a
// hosted provider and turns it into lip-sync ready audio.
package tts

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/normanking/lipsync/internal/lipsync"
)

// Common errors
var (
	ErrMissingAPIKey = errors.New("TTS API key not configured")
	ErrNoVoice       = errors.New("no voice configured")
	ErrEmptyText     = errors.New("text is empty")
	ErrAPI           = errors.New("TTS API error")
)

// SpeechRequest asks for one utterance.
type SpeechRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`           // "cs", "sk-SK", ...
	VoiceID  string `json:"voice_id,omitempty"` // overrides the fallback voices
	Sex      string `json:"sex,omitempty"`      // "F" selects the female fallback
}

// LipSyncAudio is synthesized audio plus its word timeline. Audio holds raw
// PCM chunks in the order they should be played.
type LipSyncAudio struct {
	Audio [][]byte
	lipsync.WordTiming
}

// LipSyncAudioWire is the JSON transfer form of LipSyncAudio.
type LipSyncAudioWire struct {
	Audio       []string  `json:"audio"` // base64
	Words       []string  `json:"words"`
	StartsMs    []float64 `json:"wtimes"`
	DurationsMs []float64 `json:"wdurations"`
}

// Wire encodes the audio chunks as base64.
func (a LipSyncAudio) Wire() LipSyncAudioWire {
	w := LipSyncAudioWire{
		Audio:       make([]string, len(a.Audio)),
		Words:       a.Words,
		StartsMs:    a.StartsMs,
		DurationsMs: a.DurationsMs,
	}
	for i, chunk := range a.Audio {
		w.Audio[i] = base64.StdEncoding.EncodeToString(chunk)
	}
	return w
}

// Decode reverses Wire.
func (w LipSyncAudioWire) Decode() (LipSyncAudio, error) {
	a := LipSyncAudio{
		Audio: make([][]byte, len(w.Audio)),
		WordTiming: lipsync.WordTiming{
			Words:       w.Words,
			StartsMs:    w.StartsMs,
			DurationsMs: w.DurationsMs,
		},
	}
	for i, s := range w.Audio {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return LipSyncAudio{}, fmt.Errorf("decode audio chunk %d: %w", i, err)
		}
		a.Audio[i] = b
	}
	return a, nil
}

// ElevenLabsConfig holds the ElevenLabs settings.
type ElevenLabsConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	ModelID     string        `mapstructure:"model_id"`
	VoiceFemale string        `mapstructure:"voice_female"`
	VoiceMale   string        `mapstructure:"voice_male"`
	SampleRate  int           `mapstructure:"sample_rate"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DefaultElevenLabsConfig returns sensible defaults. The fallback voices are
// read from ELEVENLABS_FALLBACK_VOICE_ID_FEMALE / _MALE when left empty.
func DefaultElevenLabsConfig() *ElevenLabsConfig {
	return &ElevenLabsConfig{
		BaseURL:    "https://api.elevenlabs.io/v1",
		ModelID:    "eleven_multilingual_v2",
		SampleRate: 24000,
		Timeout:    30 * time.Second,
	}
}
