package viseme

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// TableFile is the YAML form of a table:
//
//	language: pl
//	repeat_damping: 0.7
//	rules:
//	  - grapheme: CH
//	    visemes: [HH]
//	durations:
//	  HH: 1.0
//	special_durations:
//	  " ": 0.5
type TableFile struct {
	Language         string             `yaml:"language"`
	RepeatDamping    float64            `yaml:"repeat_damping,omitempty"`
	Rules            []Rule             `yaml:"rules"`
	Durations        map[string]float64 `yaml:"durations"`
	SpecialDurations map[string]float64 `yaml:"special_durations"`
}

// LoadTable decodes a YAML table definition.
func LoadTable(r io.Reader) (*Table, error) {
	var f TableFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode viseme table: %w", err)
	}

	special := make(map[rune]float64, len(f.SpecialDurations))
	for k, v := range f.SpecialDurations {
		if utf8.RuneCountInString(k) != 1 {
			return nil, fmt.Errorf("special duration key %q must be a single character", k)
		}
		c, _ := utf8.DecodeRuneInString(k)
		special[c] = v
	}

	t, err := NewTable(f.Language, f.Rules, f.Durations, special)
	if err != nil {
		return nil, err
	}
	if f.RepeatDamping > 0 {
		t.RepeatDamping = f.RepeatDamping
	}
	return t, nil
}

// LoadTableFile reads a YAML table from disk.
func LoadTableFile(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open viseme table: %w", err)
	}
	defer file.Close()

	t, err := LoadTable(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
