// Package viseme segments text into mouth-shape codes ("visemes") with
// relative durations, driven by per-language grapheme rule tables.
package viseme

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultRepeatDamping is the fraction of a viseme's nominal duration added
// when the same viseme repeats back to back.
const DefaultRepeatDamping = 0.7

// DefaultVisemeDuration is used for viseme codes missing from a table's
// duration map.
const DefaultVisemeDuration = 1.0

// Table errors
var (
	ErrNoLanguage    = errors.New("viseme table has no language")
	ErrEmptyGrapheme = errors.New("viseme rule has empty grapheme")
	ErrNoVisemes     = errors.New("viseme rule emits no visemes")
	ErrDuplicateRule = errors.New("duplicate viseme rule")
	ErrBadMove       = errors.New("viseme rule move out of range")
)

// Rule maps a grapheme (one or more uppercase characters) to visemes.
type Rule struct {
	Grapheme string   `yaml:"grapheme" json:"grapheme"`
	Move     int      `yaml:"move,omitempty" json:"move,omitempty"` // characters consumed; defaults to the grapheme length
	Visemes  []string `yaml:"visemes" json:"visemes"`
}

// Table is one language's rule set. It is immutable once built.
type Table struct {
	Language         string
	Durations        map[string]float64
	SpecialDurations map[rune]float64
	RepeatDamping    float64

	rules  []Rule
	multi  []compiledRule
	single map[rune]Rule
}

type compiledRule struct {
	Rule
	runes []rune
}

// NewTable validates rules and builds the lookup indices. Graphemes are
// NFC-normalized and uppercased. Multi-character rules are tried longest
// first; among equal lengths the first registered wins.
func NewTable(language string, rules []Rule, durations map[string]float64, special map[rune]float64) (*Table, error) {
	if language == "" {
		return nil, ErrNoLanguage
	}

	t := &Table{
		Language:         language,
		Durations:        make(map[string]float64, len(durations)),
		SpecialDurations: make(map[rune]float64, len(special)),
		RepeatDamping:    DefaultRepeatDamping,
		single:           make(map[rune]Rule),
	}
	for k, v := range durations {
		t.Durations[k] = v
	}
	for k, v := range special {
		t.SpecialDurations[k] = v
	}

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		g := strings.ToUpper(norm.NFC.String(r.Grapheme))
		if g == "" {
			return nil, ErrEmptyGrapheme
		}
		if len(r.Visemes) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoVisemes, g)
		}
		if seen[g] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRule, g)
		}
		seen[g] = true

		n := utf8.RuneCountInString(g)
		if r.Move == 0 {
			r.Move = n
		}
		if r.Move < 1 || r.Move > n {
			return nil, fmt.Errorf("%w: %q move %d", ErrBadMove, g, r.Move)
		}

		r.Grapheme = g
		r.Visemes = append([]string(nil), r.Visemes...)
		t.rules = append(t.rules, r)

		if n > 1 {
			t.multi = append(t.multi, compiledRule{Rule: r, runes: []rune(g)})
		} else {
			c, _ := utf8.DecodeRuneInString(g)
			t.single[c] = r
		}
	}

	sort.SliceStable(t.multi, func(i, j int) bool {
		return len(t.multi[i].runes) > len(t.multi[j].runes)
	})

	return t, nil
}

// MustTable is NewTable for static tables; it panics on invalid input.
func MustTable(language string, rules []Rule, durations map[string]float64, special map[rune]float64) *Table {
	t, err := NewTable(language, rules, durations, special)
	if err != nil {
		panic(err)
	}
	return t
}

// Rules returns a copy of the rules in registration order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// WithRepeatDamping returns a copy of t that merges repeats with factor d.
// The copy shares t's read-only rule and duration data.
func (t *Table) WithRepeatDamping(d float64) *Table {
	c := *t
	c.RepeatDamping = d
	return &c
}

// Duration returns the nominal relative duration of a viseme code.
func (t *Table) Duration(code string) float64 {
	if d, ok := t.Durations[code]; ok {
		return d
	}
	return DefaultVisemeDuration
}

// match returns the rule that applies at position i of s, if any.
func (t *Table) match(s []rune, i int) (Rule, bool) {
	for _, r := range t.multi {
		if hasPrefixAt(s, i, r.runes) {
			return r.Rule, true
		}
	}
	r, ok := t.single[s[i]]
	return r, ok
}

func hasPrefixAt(s []rune, i int, p []rune) bool {
	if len(s)-i < len(p) {
		return false
	}
	for k, c := range p {
		if s[i+k] != c {
			return false
		}
	}
	return true
}
