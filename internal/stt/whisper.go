package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/lipsync"
)

// WhisperTranscriber requests word-level timestamps from an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperTranscriber struct {
	apiKey string
	client *http.Client
	logger zerolog.Logger
	config *WhisperConfig
}

var _ lipsync.Transcriber = (*WhisperTranscriber)(nil)

// NewWhisperTranscriber creates a transcriber. The API key comes from the
// config, then from the environment variable named by APIKeyEnv.
func NewWhisperTranscriber(logger zerolog.Logger, config *WhisperConfig) *WhisperTranscriber {
	if config == nil {
		config = DefaultWhisperConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" && config.APIKeyEnv != "" {
		apiKey = os.Getenv(config.APIKeyEnv)
	}

	return &WhisperTranscriber{
		apiKey: apiKey,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.With().Str("provider", "whisper").Str("model", config.Model).Logger(),
		config: config,
	}
}

// Name returns the provider identifier
func (p *WhisperTranscriber) Name() string {
	return "whisper"
}

// SetAPIKey sets the API key (for runtime configuration)
func (p *WhisperTranscriber) SetAPIKey(apiKey string) {
	p.apiKey = apiKey
}

// IsAvailable returns true if the provider has an API key
func (p *WhisperTranscriber) IsAvailable() bool {
	return p.apiKey != ""
}

// TranscribeWords uploads a WAV file and returns its word timestamps.
func (p *WhisperTranscriber) TranscribeWords(ctx context.Context, file []byte, language string) ([]lipsync.TimestampedWord, error) {
	startTime := time.Now()

	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(file) == 0 {
		return nil, ErrEmptyAudio
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", p.config.Model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
	}
	if lang := isoLanguage(language); lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := strings.TrimSuffix(p.config.BaseURL, "/") + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	p.logger.Debug().Int("audioBytes", len(file)).Str("language", language).Msg("Sending audio for word timestamps")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Whisper API error")
		return nil, fmt.Errorf("%w %d: %s", ErrAPI, resp.StatusCode, string(body))
	}

	var result struct {
		Text     string                    `json:"text"`
		Language string                    `json:"language"`
		Duration float64                   `json:"duration"`
		Words    []lipsync.TimestampedWord `json:"words"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	p.logger.Info().
		Str("text", result.Text).
		Int("words", len(result.Words)).
		Dur("time", time.Since(startTime)).
		Msg("Word-level transcription complete")

	return result.Words, nil
}

// isoLanguage reduces "cs-CZ" to the ISO-639 code "cs" the API expects.
func isoLanguage(tag string) string {
	tag = lipsync.PrimaryLanguage(tag)
	if tag == "auto" {
		return ""
	}
	return tag
}
