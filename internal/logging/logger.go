// Package logging provides structured logging with optional file output and
// an in-memory history of recent entries.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one remembered log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
}

// Logger wraps zerolog with optional file output and log history.
type Logger struct {
	zlog    zerolog.Logger
	level   zerolog.Level
	file    *os.File
	logPath string
	mu      sync.RWMutex
	history []LogEntry
	maxHist int
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel  `mapstructure:"level"`
	LogDir     string    `mapstructure:"dir"`         // empty disables file output
	MaxHistory int       `mapstructure:"max_history"` // entries kept in memory
	Console    bool      `mapstructure:"console"`     // human-readable stderr output
	JSON       bool      `mapstructure:"json"`        // JSON lines on stderr instead of console
	Output     io.Writer `mapstructure:"-"`           // overrides stderr
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		MaxHistory: 500,
		Console:    true,
	}
}

// DefaultLogDir is ~/.lipsync/logs.
func DefaultLogDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lipsync", "logs")
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a Logger.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultConfig().MaxHistory
	}

	var writers []io.Writer
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	switch {
	case cfg.JSON:
		writers = append(writers, out)
	case cfg.Console:
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	}

	l := &Logger{
		level:   ParseLevel(cfg.Level),
		history: make([]LogEntry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.logPath = filepath.Join(cfg.LogDir, fmt.Sprintf("lipsync_%s.log", time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}

	// Every event, including those from Component loggers, lands in history.
	writers = append(writers, historyWriter{l})

	l.zlog = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(l.level).With().
		Timestamp().
		Str("app", "lipsync").
		Logger()

	l.Debug("logging", "Logger initialized", map[string]interface{}{
		"logFile": l.logPath,
		"level":   l.level.String(),
	})

	return l, nil
}

// historyWriter decodes each JSON event and records it in the history ring.
type historyWriter struct{ l *Logger }

func (h historyWriter) Write(p []byte) (int, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		return len(p), nil
	}
	h.l.addToHistory(entryFrom(fields))
	return len(p), nil
}

func entryFrom(fields map[string]interface{}) LogEntry {
	take := func(key string) string {
		v, _ := fields[key].(string)
		delete(fields, key)
		return v
	}

	entry := LogEntry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     take(zerolog.LevelFieldName),
		Component: take("component"),
		Message:   take(zerolog.MessageFieldName),
	}
	if provider := take("provider"); entry.Component == "" {
		entry.Component = provider
	}
	errText := take(zerolog.ErrorFieldName)
	delete(fields, zerolog.TimestampFieldName)
	delete(fields, "app")

	entry.Data = formatData(fields)
	if errText != "" {
		entry.Data = strings.TrimSpace(entry.Data + " error=" + errText)
	}
	return entry
}

func (l *Logger) addToHistory(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, entry)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
}

// GetHistory returns up to limit of the most recent entries, oldest first.
// A non-positive limit returns everything.
func (l *Logger) GetHistory(limit int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}

	result := make([]LogEntry, limit)
	copy(result, l.history[len(l.history)-limit:])
	return result
}

// GetLogPath returns the current log file path, empty without file output.
func (l *Logger) GetLogPath() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// formatData renders data as sorted key=value pairs.
func formatData(data map[string]interface{}) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, data[k])
	}
	return strings.Join(parts, ", ")
}

func (l *Logger) log(level zerolog.Level, component, msg string, err error, data map[string]interface{}) {
	if level < l.level {
		return
	}

	event := l.zlog.WithLevel(level).Str("component", component)
	if err != nil {
		event = event.Err(err)
	}
	for k, v := range data {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(component, msg string, data map[string]interface{}) {
	l.log(zerolog.DebugLevel, component, msg, nil, data)
}

// Info logs an info message
func (l *Logger) Info(component, msg string, data map[string]interface{}) {
	l.log(zerolog.InfoLevel, component, msg, nil, data)
}

// Warn logs a warning message
func (l *Logger) Warn(component, msg string, data map[string]interface{}) {
	l.log(zerolog.WarnLevel, component, msg, nil, data)
}

// Error logs an error message
func (l *Logger) Error(component, msg string, err error, data map[string]interface{}) {
	l.log(zerolog.ErrorLevel, component, msg, err, data)
}

// Component returns a zerolog.Logger with the component field set, for
// packages that take a zerolog.Logger directly.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}
