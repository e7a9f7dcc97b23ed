package viseme

import (
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

// Timing is a viseme timeline. Times and Durations are in the table's
// relative units (1.0 = an average viseme) unless scaled.
type Timing struct {
	Words     string    `json:"words"` // the preprocessed text
	Visemes   []string  `json:"visemes"`
	Times     []float64 `json:"times"`
	Durations []float64 `json:"durations"`
}

// Len returns the number of viseme entries.
func (v Timing) Len() int {
	return len(v.Visemes)
}

// Scale returns a copy with times and durations multiplied by unit, e.g. the
// number of milliseconds per relative unit.
func (v Timing) Scale(unit float64) Timing {
	out := Timing{
		Words:     v.Words,
		Visemes:   append([]string{}, v.Visemes...),
		Times:     make([]float64, len(v.Times)),
		Durations: make([]float64, len(v.Durations)),
	}
	for i, t := range v.Times {
		out.Times[i] = t * unit
	}
	for i, d := range v.Durations {
		out.Durations[i] = d * unit
	}
	return out
}

// Preprocess NFC-normalizes and uppercases s, trims it and collapses
// whitespace runs to single spaces.
func Preprocess(s string) string {
	s = strings.ToUpper(norm.NFC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// WordsToVisemes walks the preprocessed text left to right. At each position
// multi-character rules are tried before the single-character rule; unmatched
// characters only advance the clock by their special duration (0 if unlisted).
// A viseme equal to the previous one extends that entry by RepeatDamping of
// its nominal duration instead of starting a new one.
func (t *Table) WordsToVisemes(text string) Timing {
	processed := Preprocess(text)
	s := []rune(processed)

	out := Timing{
		Words:     processed,
		Visemes:   []string{},
		Times:     []float64{},
		Durations: []float64{},
	}

	damping := t.RepeatDamping
	if damping <= 0 {
		damping = DefaultRepeatDamping
	}

	var clock float64
	for i := 0; i < len(s); {
		rule, ok := t.match(s, i)
		if !ok {
			clock += t.SpecialDurations[s[i]]
			i++
			continue
		}

		for _, code := range rule.Visemes {
			d := t.Duration(code)
			if n := len(out.Visemes); n > 0 && out.Visemes[n-1] == code {
				extra := d * damping
				out.Durations[n-1] += extra
				clock += extra
				continue
			}
			out.Visemes = append(out.Visemes, code)
			out.Times = append(out.Times, clock)
			out.Durations = append(out.Durations, d)
			clock += d
		}
		i += rule.Move
	}

	return out
}

// Segmenter resolves a language to its table and segments text.
type Segmenter struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewSegmenter creates a segmenter over the given registry.
func NewSegmenter(registry *Registry, logger zerolog.Logger) *Segmenter {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Segmenter{
		registry: registry,
		logger:   logger.With().Str("component", "viseme").Logger(),
	}
}

// Registry returns the segmenter's language registry.
func (s *Segmenter) Registry() *Registry {
	return s.registry
}

// Segmentation is a viseme timeline and the table that produced it.
type Segmentation struct {
	Timing
	Language string // language of the table used
	Fallback bool   // true when the requested language had no table
}

// Segment resolves language once and segments text with that table.
// Unknown languages use the registry's default table.
func (s *Segmenter) Segment(text, language string) Segmentation {
	table, ok := s.registry.Lookup(language)
	if !ok {
		s.logger.Warn().
			Str("language", language).
			Str("fallback", table.Language).
			Msg("No viseme table for language, using default")
	}

	out := table.WordsToVisemes(text)

	s.logger.Debug().
		Str("language", table.Language).
		Int("chars", len(out.Words)).
		Int("visemes", out.Len()).
		Msg("Text segmented into visemes")

	return Segmentation{Timing: out, Language: table.Language, Fallback: !ok}
}

// WordsToVisemes is Segment without the table details.
func (s *Segmenter) WordsToVisemes(text, language string) Timing {
	return s.Segment(text, language).Timing
}
