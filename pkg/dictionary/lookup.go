package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnexpectedResponse is returned when a lookup service answers in a shape
// we do not understand. An empty result is not an error.
var ErrUnexpectedResponse = errors.New("unexpected dictionary response")

// Candidate is one dictionary result for a looked-up term.
type Candidate struct {
	// Identity is the headword the service files the result under (Jisho's
	// slug, or the first written form of a JMdict entry).
	Identity      string          `json:"identity"`
	Reading       string          `json:"reading,omitempty"`
	Common        bool            `json:"common,omitempty"`
	Definitions   []string        `json:"definitions,omitempty"`
	PartsOfSpeech []string        `json:"parts_of_speech,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// JSON returns the service's raw record when available, otherwise the
// normalized candidate.
func (c Candidate) JSON() (string, error) {
	if len(c.Raw) > 0 {
		return string(c.Raw), nil
	}
	b, err := json.Marshal(c)
	return string(b), err
}

// DecodeCandidate rebuilds a candidate from a stored best match, which holds
// a Jisho word, a JMdict-simplified entry, or a normalized candidate.
func DecodeCandidate(raw string) (Candidate, error) {
	var shape struct {
		Slug *string         `json:"slug"`
		Kana json.RawMessage `json:"kana"`
	}
	if err := json.Unmarshal([]byte(raw), &shape); err != nil {
		return Candidate{}, fmt.Errorf("decode best match: %w", err)
	}
	switch {
	case shape.Slug != nil:
		var w jishoWord
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return Candidate{}, fmt.Errorf("decode jisho word: %w", err)
		}
		return w.candidate(json.RawMessage(raw)), nil
	case len(shape.Kana) > 0:
		var e JMdictEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return Candidate{}, fmt.Errorf("decode jmdict entry: %w", err)
		}
		return e.candidate(), nil
	}
	var c Candidate
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	c.Raw = json.RawMessage(raw)
	return c, nil
}

// Lookup finds dictionary candidates for a term, best match first. A term
// with no entry yields an empty slice and a nil error.
type Lookup interface {
	Lookup(ctx context.Context, term string) ([]Candidate, error)
}
