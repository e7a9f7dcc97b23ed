// Package stt adapts hosted speech-to-text services into word-level
// transcribers for the lip-sync timing engine.
package stt

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrMissingAPIKey = errors.New("STT API key not configured")
	ErrEmptyAudio    = errors.New("audio file is empty")
	ErrAPI           = errors.New("STT API error")
)

// WhisperConfig holds the settings of an OpenAI-compatible transcription API.
type WhisperConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APIKeyEnv string        `mapstructure:"api_key_env"` // consulted when APIKey is empty
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"` // 0 disables caching
}

// DefaultWhisperConfig targets OpenAI's Whisper endpoint.
func DefaultWhisperConfig() *WhisperConfig {
	return &WhisperConfig{
		BaseURL:   "https://api.openai.com/v1",
		APIKeyEnv: "OPENAI_API_KEY",
		Model:     "whisper-1",
		Timeout:   30 * time.Second,
		CacheSize: 128,
	}
}

// GroqWhisperConfig targets Groq's OpenAI-compatible Whisper endpoint.
func GroqWhisperConfig() *WhisperConfig {
	return &WhisperConfig{
		BaseURL:   "https://api.groq.com/openai/v1",
		APIKeyEnv: "GROQ_API_KEY",
		Model:     "whisper-large-v3-turbo",
		Timeout:   30 * time.Second,
		CacheSize: 128,
	}
}
