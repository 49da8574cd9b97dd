// Package normalize turns raw tokenizer records into canonical vocabulary
// observations and drops tokens that never become vocabulary.
package normalize

import (
	"strings"
	"unicode"

	"github.com/japaniel/tango/pkg/tokenize"
)

// Parts of speech that are never persisted as vocabulary.
var filteredPOS = map[string]bool{
	"助詞":   true, // particle
	"記号":   true, // symbol
	"補助記号": true, // symbol (UniDic naming)
	"助動詞":  true, // auxiliary verb
}

// Verdict says why a token was kept or dropped.
type Verdict int

const (
	Kept Verdict = iota
	FilteredPOS
	UnknownForm
	EmptyForm
)

func (v Verdict) String() string {
	switch v {
	case Kept:
		return "kept"
	case FilteredPOS:
		return "filtered_pos"
	case UnknownForm:
		return "unknown_form"
	case EmptyForm:
		return "empty_form"
	default:
		return "invalid"
	}
}

// Observation is a normalized token keyed by its canonical (dictionary) form.
// Everything except Token describes the seen form.
type Observation struct {
	Token           string
	Surface         string
	POS             string
	POS1            string
	POS2            string
	POS3            string
	ConjugationType string
	ConjugationForm string
	Reading         string
	Pronunciation   string
}

// Normalize canonicalizes one raw token. The observation is only meaningful
// when the verdict is Kept.
func Normalize(t tokenize.Token) (Observation, Verdict) {
	if filteredPOS[t.POS] {
		return Observation{}, FilteredPOS
	}
	base := strings.TrimSpace(t.BaseForm)
	if base == tokenize.Unknown {
		return Observation{}, UnknownForm
	}
	if base == "" || isPunctuation(base) {
		return Observation{}, EmptyForm
	}

	return Observation{
		Token:           base,
		Surface:         t.Surface,
		POS:             t.POS,
		POS1:            field(t.POS1),
		POS2:            field(t.POS2),
		POS3:            field(t.POS3),
		ConjugationType: field(t.ConjugationType),
		ConjugationForm: field(t.ConjugationForm),
		Reading:         field(t.Reading),
		Pronunciation:   field(t.Pronunciation),
	}, Kept
}

// field maps the tokenizer's unknown marker to the empty string so seen forms
// compare equal regardless of how a missing field was spelled.
func field(s string) string {
	if s == tokenize.Unknown {
		return ""
	}
	return s
}

func isPunctuation(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

// Stats counts normalizer outcomes per verdict.
type Stats struct {
	Kept        int
	FilteredPOS int
	UnknownForm int
	EmptyForm   int
}

// Add records one verdict.
func (s *Stats) Add(v Verdict) {
	switch v {
	case Kept:
		s.Kept++
	case FilteredPOS:
		s.FilteredPOS++
	case UnknownForm:
		s.UnknownForm++
	case EmptyForm:
		s.EmptyForm++
	}
}

// Dropped is the number of tokens that did not survive normalization.
func (s Stats) Dropped() int {
	return s.FilteredPOS + s.UnknownForm + s.EmptyForm
}

// Line normalizes every token of one line, in emission order, and tallies
// the verdicts into stats when it is non-nil.
func Line(tokens []tokenize.Token, stats *Stats) []Observation {
	out := make([]Observation, 0, len(tokens))
	for _, t := range tokens {
		obs, v := Normalize(t)
		if stats != nil {
			stats.Add(v)
		}
		if v == Kept {
			out = append(out, obs)
		}
	}
	return out
}
