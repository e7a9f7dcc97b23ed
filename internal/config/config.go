// Package config provides configuration management for the lip-sync service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/normanking/lipsync/internal/lipsync"
	"github.com/normanking/lipsync/internal/logging"
	"github.com/normanking/lipsync/internal/stt"
	"github.com/normanking/lipsync/internal/tts"
)

// EnvPrefix prefixes environment overrides: LIPSYNC_SERVER_PORT=9000.
const EnvPrefix = "LIPSYNC"

var envReplacer = strings.NewReplacer(".", "_")

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LipSync LipSyncConfig `mapstructure:"lipsync"`
	Viseme  VisemeConfig  `mapstructure:"viseme"`
	STT     STTConfig     `mapstructure:"stt"`
	TTS     TTSConfig     `mapstructure:"tts"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP and WebSocket listener
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LipSyncConfig tunes word timing and describes the default PCM layout
type LipSyncConfig struct {
	MinWordDurationMs   float64 `mapstructure:"min_word_duration_ms"`
	ReferenceWordLength float64 `mapstructure:"reference_word_length"`
	SampleRate          int     `mapstructure:"sample_rate"`
	BytesPerSample      int     `mapstructure:"bytes_per_sample"`
	Channels            int     `mapstructure:"channels"`
}

// Options converts to engine options.
func (c LipSyncConfig) Options() lipsync.Options {
	return lipsync.Options{
		MinWordDurationMs:   c.MinWordDurationMs,
		ReferenceWordLength: c.ReferenceWordLength,
	}
}

// VisemeConfig configures the grapheme-to-viseme segmenter
type VisemeConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	RepeatDamping   float64  `mapstructure:"repeat_damping"` // applied to built-in tables when > 0
	Tables          []string `mapstructure:"tables"`         // extra YAML table files
	UnitMs          float64  `mapstructure:"unit_ms"`        // 0 keeps relative units
}

// STTConfig configures the word-level transcriber
type STTConfig struct {
	Provider  string        `mapstructure:"provider"` // openai, groq, none
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
}

// Whisper resolves the provider preset and applies overrides. It returns nil
// when transcription is disabled.
func (c STTConfig) Whisper() *stt.WhisperConfig {
	var w *stt.WhisperConfig
	switch c.Provider {
	case "openai", "whisper":
		w = stt.DefaultWhisperConfig()
	case "groq":
		w = stt.GroqWhisperConfig()
	default:
		return nil
	}
	if c.BaseURL != "" {
		w.BaseURL = c.BaseURL
	}
	if c.APIKey != "" {
		w.APIKey = c.APIKey
	}
	if c.Model != "" {
		w.Model = c.Model
	}
	if c.Timeout > 0 {
		w.Timeout = c.Timeout
	}
	w.CacheSize = c.CacheSize
	return w
}

// TTSConfig configures timestamped speech
type TTSConfig struct {
	Provider    string        `mapstructure:"provider"` // elevenlabs, none
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	ModelID     string        `mapstructure:"model_id"`
	VoiceFemale string        `mapstructure:"voice_female"`
	VoiceMale   string        `mapstructure:"voice_male"`
	SampleRate  int           `mapstructure:"sample_rate"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ElevenLabs returns the client config, or nil when speech is disabled.
func (c TTSConfig) ElevenLabs() *tts.ElevenLabsConfig {
	if c.Provider != "elevenlabs" {
		return nil
	}
	return &tts.ElevenLabsConfig{
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		ModelID:     c.ModelID,
		VoiceFemale: c.VoiceFemale,
		VoiceMale:   c.VoiceMale,
		SampleRate:  c.SampleRate,
		Timeout:     c.Timeout,
	}
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	JSON       bool   `mapstructure:"json"`
	Console    bool   `mapstructure:"console"`
	MaxHistory int    `mapstructure:"max_history"`
}

// Logger converts to the logging package config.
func (c LoggingConfig) Logger() *logging.Config {
	return &logging.Config{
		Level:      logging.LogLevel(c.Level),
		LogDir:     c.Dir,
		MaxHistory: c.MaxHistory,
		Console:    c.Console,
		JSON:       c.JSON,
	}
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	opts := lipsync.DefaultOptions()
	el := tts.DefaultElevenLabsConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8765,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    32 << 20,
		},
		LipSync: LipSyncConfig{
			MinWordDurationMs:   opts.MinWordDurationMs,
			ReferenceWordLength: opts.ReferenceWordLength,
			SampleRate:          24000,
			BytesPerSample:      2,
			Channels:            1,
		},
		Viseme: VisemeConfig{
			DefaultLanguage: "cs",
			Tables:          []string{},
		},
		STT: STTConfig{
			Provider:  "openai",
			Timeout:   30 * time.Second,
			CacheSize: 128,
		},
		TTS: TTSConfig{
			Provider:   "elevenlabs",
			BaseURL:    el.BaseURL,
			ModelID:    el.ModelID,
			SampleRate: el.SampleRate,
			Timeout:    el.Timeout,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxHistory: 500,
		},
	}
}

// settings flattens the config into dotted viper keys.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"server.host":             c.Server.Host,
		"server.port":             c.Server.Port,
		"server.read_timeout":     c.Server.ReadTimeout.String(),
		"server.write_timeout":    c.Server.WriteTimeout.String(),
		"server.shutdown_timeout": c.Server.ShutdownTimeout.String(),
		"server.max_body_bytes":   c.Server.MaxBodyBytes,

		"lipsync.min_word_duration_ms":  c.LipSync.MinWordDurationMs,
		"lipsync.reference_word_length": c.LipSync.ReferenceWordLength,
		"lipsync.sample_rate":           c.LipSync.SampleRate,
		"lipsync.bytes_per_sample":      c.LipSync.BytesPerSample,
		"lipsync.channels":              c.LipSync.Channels,

		"viseme.default_language": c.Viseme.DefaultLanguage,
		"viseme.repeat_damping":   c.Viseme.RepeatDamping,
		"viseme.tables":           c.Viseme.Tables,
		"viseme.unit_ms":          c.Viseme.UnitMs,

		"stt.provider":   c.STT.Provider,
		"stt.base_url":   c.STT.BaseURL,
		"stt.api_key":    c.STT.APIKey,
		"stt.model":      c.STT.Model,
		"stt.timeout":    c.STT.Timeout.String(),
		"stt.cache_size": c.STT.CacheSize,

		"tts.provider":     c.TTS.Provider,
		"tts.base_url":     c.TTS.BaseURL,
		"tts.api_key":      c.TTS.APIKey,
		"tts.model_id":     c.TTS.ModelID,
		"tts.voice_female": c.TTS.VoiceFemale,
		"tts.voice_male":   c.TTS.VoiceMale,
		"tts.sample_rate":  c.TTS.SampleRate,
		"tts.timeout":      c.TTS.Timeout.String(),

		"logging.level":       c.Logging.Level,
		"logging.dir":         c.Logging.Dir,
		"logging.json":        c.Logging.JSON,
		"logging.console":     c.Logging.Console,
		"logging.max_history": c.Logging.MaxHistory,
	}
}

// Manager owns a viper instance bound to one config file.
type Manager struct {
	v  *viper.Viper
	mu sync.RWMutex
	c  *Config
}

// NewManager reads configuration from path, or from config.yaml in
// ~/.lipsync or the working directory when path is empty. A missing file
// leaves the defaults in place. Environment variables override both.
func NewManager(path string) (*Manager, error) {
	v := viper.New()
	for k, val := range DefaultConfig().settings() {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	m := &Manager{v: v}
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.c = cfg
	return m, nil
}

// Load reads configuration once. See NewManager.
func Load(path string) (*Config, error) {
	m, err := NewManager(path)
	if err != nil {
		return nil, err
	}
	return m.Config(), nil
}

func (m *Manager) decode() (*Config, error) {
	cfg := &Config{}
	if err := m.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Config returns the current configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.c
}

// ConfigFile returns the file in use, empty when running on defaults.
func (m *Manager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

// Watch calls fn with the re-read configuration whenever the config file
// changes. Decode failures are passed to fn and the previous config is kept.
// Watch is a no-op without a config file.
func (m *Manager) Watch(fn func(cfg *Config, event fsnotify.Event, err error)) {
	if m.v.ConfigFileUsed() == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.decode()
		if err != nil {
			fn(nil, e, err)
			return
		}
		m.mu.Lock()
		m.c = cfg
		m.mu.Unlock()
		fn(cfg, e, nil)
	})
	m.v.WatchConfig()
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	for k, val := range cfg.settings() {
		v.Set(k, val)
	}
	return v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".lipsync"), nil
}
