package viseme

import (
	"sort"
	"sync"

	"github.com/normanking/lipsync/internal/lipsync"
)

// Viseme codes used by the built-in tables.
const (
	VisemeAA  = "aa"
	VisemeE   = "E"
	VisemeI   = "I"
	VisemeO   = "O"
	VisemeU   = "U"
	VisemePP  = "PP" // p, b
	VisemeDD  = "DD" // d, t
	VisemeKK  = "kk" // k, g
	VisemeSS  = "SS" // s, z, c [ts]
	VisemeSH  = "SH" // š, ž
	VisemeCH  = "CH" // č, dž
	VisemeHH  = "HH" // h, ch
	VisemeFF  = "FF"
	VisemeVV  = "VV"
	VisemeMM  = "MM"
	VisemeNN  = "NN"
	VisemeRR  = "RR"
	VisemeLL  = "LL"
	VisemeSil = "sil"
)

var pauseDurations = map[rune]float64{' ': 0.5, ',': 2.0, '.': 3.0}

func one(g string, visemes ...string) Rule {
	return Rule{Grapheme: g, Visemes: visemes}
}

// Czech. Long vowels and ě share the short vowel's shape; c is [ts]; j is the
// English "y" in "yes".
var czech = MustTable("cs", []Rule{
	one("A", VisemeAA), one("Á", VisemeAA),
	one("E", VisemeE), one("É", VisemeE), one("Ě", VisemeE),
	one("I", VisemeI), one("Y", VisemeI), one("Í", VisemeI), one("Ý", VisemeI),
	one("O", VisemeO), one("Ó", VisemeO),
	one("U", VisemeU), one("Ú", VisemeU), one("Ů", VisemeU),

	one("B", VisemePP), one("P", VisemePP),
	one("D", VisemeDD), one("Ď", VisemeDD),
	one("T", VisemeDD), one("Ť", VisemeDD),
	one("C", VisemeSS),
	one("Č", VisemeCH),
	{Grapheme: "DŽ", Move: 2, Visemes: []string{VisemeCH}},
	one("F", VisemeFF),
	one("V", VisemeVV),
	one("S", VisemeSS), one("Z", VisemeSS),
	one("Š", VisemeSH), one("Ž", VisemeSH),
	one("H", VisemeHH),
	{Grapheme: "CH", Move: 2, Visemes: []string{VisemeHH}},
	one("K", VisemeKK), one("G", VisemeKK),
	one("J", VisemeI),
	one("M", VisemeMM),
	one("N", VisemeNN), one("Ň", VisemeNN),
	one("R", VisemeRR), one("Ř", VisemeRR),
}, map[string]float64{
	VisemeAA: 0.9, VisemeE: 0.8, VisemeI: 0.8, VisemeO: 0.9, VisemeU: 0.9,
	VisemePP: 1.0, VisemeDD: 1.0, VisemeKK: 1.0, VisemeSS: 1.1, VisemeCH: 1.2,
	VisemeHH: 1.0, VisemeVV: 1.0, VisemeMM: 1.0, VisemeNN: 1.0, VisemeRR: 1.0,
	VisemeSil: 1.0,
}, pauseDurations)

// Slovak. Ô is a diphthong [uo] and emits two visemes.
var slovak = MustTable("sk", []Rule{
	one("A", VisemeAA), one("Á", VisemeAA), one("Ä", VisemeE),
	one("E", VisemeE), one("É", VisemeE),
	one("I", VisemeI), one("Í", VisemeI),
	one("O", VisemeO), one("Ó", VisemeO),
	one("Ô", VisemeU, VisemeO),
	one("U", VisemeU), one("Ú", VisemeU),
	one("Y", VisemeI), one("Ý", VisemeI),

	one("B", VisemePP), one("P", VisemePP),
	one("D", VisemeDD), one("Ď", VisemeDD),
	one("T", VisemeDD), one("Ť", VisemeDD),
	one("C", VisemeSS),
	one("Č", VisemeCH),
	{Grapheme: "DZ", Move: 2, Visemes: []string{VisemeSS}},
	{Grapheme: "DŽ", Move: 2, Visemes: []string{VisemeCH}},
	one("F", VisemeFF),
	one("V", VisemeVV),
	one("S", VisemeSS), one("Z", VisemeSS),
	one("Š", VisemeSH), one("Ž", VisemeSH),
	one("H", VisemeHH),
	{Grapheme: "CH", Move: 2, Visemes: []string{VisemeHH}},
	one("K", VisemeKK), one("G", VisemeKK),
	one("J", VisemeI),
	one("L", VisemeLL), one("Ĺ", VisemeLL), one("Ľ", VisemeLL),
	one("M", VisemeMM),
	one("N", VisemeNN), one("Ň", VisemeNN),
	one("R", VisemeRR), one("Ŕ", VisemeRR),
}, map[string]float64{
	VisemeAA: 0.9, VisemeE: 0.8, VisemeI: 0.8, VisemeO: 0.9, VisemeU: 0.9,
	VisemePP: 1.0, VisemeDD: 1.0, VisemeKK: 1.0, VisemeSS: 1.1, VisemeCH: 1.2,
	VisemeHH: 1.0, VisemeVV: 1.0, VisemeFF: 1.0, VisemeMM: 1.0, VisemeNN: 1.0,
	VisemeRR: 1.0, VisemeLL: 1.0, VisemeSil: 1.0,
}, pauseDurations)

// Czech returns the built-in Czech table.
func Czech() *Table { return czech }

// Slovak returns the built-in Slovak table.
func Slovak() *Table { return slovak }

// Registry maps language tags to tables.
type Registry struct {
	mu       sync.RWMutex
	tables   map[string]*Table
	fallback string
}

// NewRegistry creates a registry whose unknown-language lookups resolve to
// fallback. The fallback must be one of the registered tables.
func NewRegistry(fallback string, tables ...*Table) *Registry {
	r := &Registry{
		tables:   make(map[string]*Table, len(tables)),
		fallback: lipsync.PrimaryLanguage(fallback),
	}
	for _, t := range tables {
		r.Register(t)
	}
	return r
}

// DefaultRegistry holds the built-in tables with Czech as the default.
func DefaultRegistry() *Registry {
	return NewRegistry("cs", czech, slovak)
}

// Register adds or replaces the table for t.Language.
func (r *Registry) Register(t *Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[lipsync.PrimaryLanguage(t.Language)] = t
}

// Lookup returns the table for a language tag such as "sk", "sk-SK" or "SK".
// When no table matches it returns the fallback table and false.
func (r *Registry) Lookup(language string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tables[lipsync.PrimaryLanguage(language)]; ok {
		return t, true
	}
	if t, ok := r.tables[r.fallback]; ok {
		return t, false
	}
	return czech, false
}

// Languages lists the registered language codes in sorted order.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.tables))
	for k := range r.tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
