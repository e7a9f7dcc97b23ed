package lipsync

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/wav"
)

// Engine derives word timing. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	opts   Options
	logger zerolog.Logger
}

// NewEngine creates an engine. Zero-valued options fall back to the defaults.
func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	def := DefaultOptions()
	if opts.MinWordDurationMs <= 0 {
		opts.MinWordDurationMs = def.MinWordDurationMs
	}
	if opts.ReferenceWordLength <= 0 {
		opts.ReferenceWordLength = def.ReferenceWordLength
	}
	return &Engine{
		opts:   opts,
		logger: logger.With().Str("component", "lipsync").Logger(),
	}
}

var defaultEngine = NewEngine(DefaultOptions(), zerolog.Nop())

// Options returns the engine tuning.
func (e *Engine) Options() Options {
	return e.opts
}

// Approximate spreads the transcript over the audio length using the default
// tuning. See (*Engine).Approximate.
func Approximate(samples []byte, transcript string, sampleRate, bytesPerSample int) WordTiming {
	return defaultEngine.Approximate(samples, transcript, sampleRate, bytesPerSample)
}

// Approximate guesses per-word timing from the audio length and word lengths.
// Each word gets avg*len/ReferenceWordLength milliseconds, but never less than
// MinWordDurationMs, so the result may run past the end of the audio.
// An empty transcript or unusable audio metadata yields an empty timeline.
func (e *Engine) Approximate(samples []byte, transcript string, sampleRate, bytesPerSample int) WordTiming {
	if bytesPerSample <= 0 {
		bytesPerSample = wav.DefaultBytesPerSample
	}

	words := strings.Fields(transcript)
	out := emptyTiming()
	if len(words) == 0 || sampleRate <= 0 {
		return out
	}

	totalMs := float64(len(samples)) / float64(bytesPerSample) / float64(sampleRate) * 1000
	avgWordMs := totalMs / float64(len(words))

	var current float64
	for _, w := range words {
		d := math.Max(e.opts.MinWordDurationMs,
			avgWordMs*float64(utf8.RuneCountInString(w))/e.opts.ReferenceWordLength)
		out.push(w, current, d)
		current += d
	}

	e.logger.Debug().
		Int("words", len(words)).
		Float64("audioMs", totalMs).
		Float64("timelineMs", current).
		Msg("Approximate word timing derived")

	return out
}

// PreciseRequest describes raw PCM audio to be timed by a transcriber.
type PreciseRequest struct {
	Samples        []byte
	SampleRate     int
	BytesPerSample int
	Channels       int
	Language       string
}

// Precise times raw audio with the default engine. See (*Engine).Precise.
func Precise(ctx context.Context, req PreciseRequest, transcriber Transcriber) (WordTiming, error) {
	return defaultEngine.Precise(ctx, req, transcriber)
}

// Precise wraps the samples in a WAV container, sends it to the transcriber
// once and converts the returned word timestamps to milliseconds.
// Transcriber errors are returned to the caller; there is no retry and no
// fallback to Approximate. A transcription without word timestamps yields an
// empty timeline and a nil error.
func (e *Engine) Precise(ctx context.Context, req PreciseRequest, transcriber Transcriber) (WordTiming, error) {
	if transcriber == nil {
		return WordTiming{}, ErrNoTranscriber
	}

	file := wav.Encode(req.Samples, req.SampleRate, req.Channels, req.BytesPerSample)

	start := time.Now()
	words, err := transcriber.TranscribeWords(ctx, file, req.Language)
	if err != nil {
		return WordTiming{}, fmt.Errorf("transcribe words: %w", err)
	}

	out := emptyTiming()
	if len(words) == 0 {
		e.logger.Warn().
			Str("language", req.Language).
			Int("audioBytes", len(req.Samples)).
			Msg("No word-level timestamps were provided by the transcriber")
		return out, nil
	}

	for _, w := range words {
		startMs := w.Start * 1000
		out.push(w.Word, startMs, math.Max(0, w.End*1000-startMs))
	}

	e.logger.Debug().
		Int("words", out.Len()).
		Dur("transcribeTime", time.Since(start)).
		Msg("Precise word timing derived")

	return out, nil
}

// FromAlignment converts character alignment with the default engine.
func FromAlignment(a AlignmentInfo) WordTiming {
	return defaultEngine.FromAlignment(a)
}

// FromAlignment folds per-character timestamps into words. A space closes the
// current word; runs of spaces collapse. A word starts at its first
// character's start time and lasts the sum of its characters' durations.
func (e *Engine) FromAlignment(a AlignmentInfo) WordTiming {
	out := emptyTiming()

	var (
		word     strings.Builder
		startMs  float64
		duration float64
	)
	flush := func() {
		out.push(word.String(), startMs, math.Max(0, duration))
		word.Reset()
		duration = 0
	}

	for i, ch := range a.Characters {
		if ch == " " {
			if word.Len() > 0 {
				flush()
			}
			continue
		}

		charStart := at(a.CharacterStartsSec, i)
		if word.Len() == 0 {
			startMs = charStart * 1000
		}
		duration += (at(a.CharacterEndsSec, i) - charStart) * 1000
		word.WriteString(ch)
	}
	if word.Len() > 0 {
		flush()
	}

	return out
}

// SelectAlignment prefers the provider's raw alignment over the normalized one.
func SelectAlignment(alignment, normalized *AlignmentInfo) *AlignmentInfo {
	if alignment != nil {
		return alignment
	}
	return normalized
}

func at(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}
