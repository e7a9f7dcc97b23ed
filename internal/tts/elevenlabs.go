package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/lipsync"
)

// ElevenLabsClient calls the ElevenLabs with-timestamps endpoint.
type ElevenLabsClient struct {
	apiKey string
	logger zerolog.Logger
	config *ElevenLabsConfig
	client *http.Client
	engine *lipsync.Engine
}

// NewElevenLabsClient creates a client. Empty config values are taken from
// ELEVENLABS_API_KEY and the fallback voice environment variables.
func NewElevenLabsClient(logger zerolog.Logger, config *ElevenLabsConfig) *ElevenLabsClient {
	if config == nil {
		config = DefaultElevenLabsConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultElevenLabsConfig().BaseURL
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultElevenLabsConfig().SampleRate
	}
	if config.VoiceFemale == "" {
		config.VoiceFemale = os.Getenv("ELEVENLABS_FALLBACK_VOICE_ID_FEMALE")
	}
	if config.VoiceMale == "" {
		config.VoiceMale = os.Getenv("ELEVENLABS_FALLBACK_VOICE_ID_MALE")
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}

	logger = logger.With().Str("provider", "elevenlabs-tts").Logger()
	return &ElevenLabsClient{
		apiKey: apiKey,
		logger: logger,
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		engine: lipsync.NewEngine(lipsync.DefaultOptions(), logger),
	}
}

func (p *ElevenLabsClient) Name() string {
	return "elevenlabs"
}

func (p *ElevenLabsClient) IsAvailable() bool {
	return p.apiKey != ""
}

func (p *ElevenLabsClient) SetAPIKey(key string) {
	p.apiKey = key
}

// SampleRate is the PCM rate requested from the provider.
func (p *ElevenLabsClient) SampleRate() int {
	return p.config.SampleRate
}

// Voice picks the request voice, else the fallback voice for the speaker's sex.
func (p *ElevenLabsClient) Voice(req SpeechRequest) string {
	if req.VoiceID != "" {
		return req.VoiceID
	}
	if strings.EqualFold(req.Sex, "F") {
		return p.config.VoiceFemale
	}
	return p.config.VoiceMale
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
}

type speechPayload struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// timestampedResponse is the body of the with-timestamps endpoint.
type timestampedResponse struct {
	AudioBase64         string                 `json:"audio_base64"`
	Alignment           *lipsync.AlignmentInfo `json:"alignment"`
	NormalizedAlignment *lipsync.AlignmentInfo `json:"normalized_alignment"`
}

// SpeakWithTimestamps synthesizes req as raw PCM and derives word timing from
// the returned character alignment.
func (p *ElevenLabsClient) SpeakWithTimestamps(ctx context.Context, req SpeechRequest) (LipSyncAudio, error) {
	if !p.IsAvailable() {
		return LipSyncAudio{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Text) == "" {
		return LipSyncAudio{}, ErrEmptyText
	}
	voiceID := p.Voice(req)
	if voiceID == "" {
		return LipSyncAudio{}, ErrNoVoice
	}

	startTime := time.Now()

	jsonData, err := json.Marshal(speechPayload{
		Text:          req.Text,
		ModelID:       p.config.ModelID,
		LanguageCode:  lipsync.PrimaryLanguage(req.Language),
		VoiceSettings: voiceSettings{Speed: 1.0},
	})
	if err != nil {
		return LipSyncAudio{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/with-timestamps?output_format=pcm_%d",
		strings.TrimSuffix(p.config.BaseURL, "/"), voiceID, p.config.SampleRate)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return LipSyncAudio{}, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return LipSyncAudio{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return LipSyncAudio{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return LipSyncAudio{}, fmt.Errorf("%w %d: %s", ErrAPI, resp.StatusCode, string(body))
	}

	out, err := p.decode(body)
	if err != nil {
		return LipSyncAudio{}, err
	}

	p.logger.Info().
		Str("voice", voiceID).
		Int("audioChunks", len(out.Audio)).
		Int("words", out.Len()).
		Dur("processingTime", time.Since(startTime)).
		Msg("ElevenLabs timestamped synthesis complete")

	return out, nil
}

// DecodeTimestampedResponse converts a with-timestamps response body into
// audio and word timing. A missing alignment yields an empty timeline.
func DecodeTimestampedResponse(body []byte) (LipSyncAudio, error) {
	return (&ElevenLabsClient{engine: lipsync.NewEngine(lipsync.DefaultOptions(), zerolog.Nop())}).decode(body)
}

func (p *ElevenLabsClient) decode(body []byte) (LipSyncAudio, error) {
	var r timestampedResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return LipSyncAudio{}, fmt.Errorf("parse response: %w", err)
	}

	out := LipSyncAudio{Audio: [][]byte{}}
	if r.AudioBase64 != "" {
		pcm, err := base64.StdEncoding.DecodeString(r.AudioBase64)
		if err != nil {
			return LipSyncAudio{}, fmt.Errorf("decode audio: %w", err)
		}
		out.Audio = append(out.Audio, pcm)
	}

	if a := lipsync.SelectAlignment(r.Alignment, r.NormalizedAlignment); a != nil {
		out.WordTiming = p.engine.FromAlignment(*a)
	} else {
		out.WordTiming = p.engine.FromAlignment(lipsync.AlignmentInfo{})
	}
	return out, nil
}

