// Package lipsync derives word-level timing for avatar lip-sync from
// synthesized speech: an approximate spread driven by audio length, a precise
// path backed by a word-level transcription service, and a character
// alignment walk for providers that return per-character timestamps.
package lipsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrLengthMismatch   = errors.New("word timing arrays differ in length")
	ErrNegativeDuration = errors.New("word duration is negative")
	ErrStartsDecrease   = errors.New("word start times decrease")
	ErrNoTranscriber    = errors.New("no transcriber configured")
)

// WordTiming is a parallel-array word timeline. All three slices always have
// the same length.
type WordTiming struct {
	Words       []string  `json:"words"`
	StartsMs    []float64 `json:"wtimes"`
	DurationsMs []float64 `json:"wdurations"`
}

// Len returns the number of words.
func (w WordTiming) Len() int {
	return len(w.Words)
}

// End returns the end of the last word in milliseconds.
func (w WordTiming) End() float64 {
	n := len(w.Words)
	if n == 0 {
		return 0
	}
	return w.StartsMs[n-1] + w.DurationsMs[n-1]
}

// Validate checks the well-formedness invariants of a timeline.
func (w WordTiming) Validate() error {
	if len(w.Words) != len(w.StartsMs) || len(w.Words) != len(w.DurationsMs) {
		return fmt.Errorf("%w: words=%d starts=%d durations=%d",
			ErrLengthMismatch, len(w.Words), len(w.StartsMs), len(w.DurationsMs))
	}
	for i, d := range w.DurationsMs {
		if d < 0 {
			return fmt.Errorf("%w: index %d (%v)", ErrNegativeDuration, i, d)
		}
		if i > 0 && w.StartsMs[i] < w.StartsMs[i-1] {
			return fmt.Errorf("%w: index %d", ErrStartsDecrease, i)
		}
	}
	return nil
}

func (w *WordTiming) push(word string, startMs, durationMs float64) {
	w.Words = append(w.Words, word)
	w.StartsMs = append(w.StartsMs, startMs)
	w.DurationsMs = append(w.DurationsMs, durationMs)
}

func emptyTiming() WordTiming {
	return WordTiming{
		Words:       []string{},
		StartsMs:    []float64{},
		DurationsMs: []float64{},
	}
}

// AlignmentInfo is per-character alignment returned by a TTS provider.
// Start and end slices may be shorter than Characters; missing entries read as 0.
type AlignmentInfo struct {
	Characters         []string  `json:"characters"`
	CharacterStartsSec []float64 `json:"character_start_times_seconds"`
	CharacterEndsSec   []float64 `json:"character_end_times_seconds"`
}

// TimestampedWord is one word reported by a word-level transcription service.
type TimestampedWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// Transcriber transcribes a playable audio file and reports word timestamps.
type Transcriber interface {
	TranscribeWords(ctx context.Context, file []byte, language string) ([]TimestampedWord, error)
}

// TranscriberFunc adapts a function to the Transcriber interface.
type TranscriberFunc func(ctx context.Context, file []byte, language string) ([]TimestampedWord, error)

// TranscribeWords calls f.
func (f TranscriberFunc) TranscribeWords(ctx context.Context, file []byte, language string) ([]TimestampedWord, error) {
	return f(ctx, file, language)
}

// Options holds the empirically tuned constants of the approximate algorithm.
type Options struct {
	// MinWordDurationMs is the floor applied to every approximated word.
	MinWordDurationMs float64 `mapstructure:"min_word_duration_ms"`
	// ReferenceWordLength is the word length (in characters) that receives
	// exactly the average word duration.
	ReferenceWordLength float64 `mapstructure:"reference_word_length"`
}

// DefaultOptions returns the tuning used by the avatar front end.
func DefaultOptions() Options {
	return Options{
		MinWordDurationMs:   200,
		ReferenceWordLength: 5,
	}
}

// PrimaryLanguage reduces a BCP-47 style tag to its lowercase primary
// subtag: "cs-CZ" and "CS_cz" become "cs".
func PrimaryLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}
