package dictionary

import (
	"encoding/json"
	"fmt"
	"os"
)

// JMdictEntry matches the structure of jmdict-simplified entries.
type JMdictEntry struct {
	Id    string          `json:"id"`
	Kanji []JMdictElement `json:"kanji"`
	Kana  []JMdictElement `json:"kana"`
	Sense []JMdictSense   `json:"sense"`
}

type JMdictElement struct {
	Text   string   `json:"text"`
	Common bool     `json:"common"`
	Tags   []string `json:"tags"`
}

type JMdictSense struct {
	PartOfSpeech []string      `json:"partOfSpeech"`
	Gloss        []JMdictGloss `json:"gloss"`
}

type JMdictGloss struct {
	Text string `json:"text"`
	Lang string `json:"lang"` // defaults to 'eng' if missing
}

// Headword is the first written form of the entry: its first kanji spelling,
// or its first kana spelling for kana-only words.
func (e JMdictEntry) Headword() string {
	if len(e.Kanji) > 0 {
		return e.Kanji[0].Text
	}
	if len(e.Kana) > 0 {
		return e.Kana[0].Text
	}
	return ""
}

// IsCommon reports whether any spelling is marked common.
func (e JMdictEntry) IsCommon() bool {
	for _, k := range e.Kanji {
		if k.Common {
			return true
		}
	}
	for _, k := range e.Kana {
		if k.Common {
			return true
		}
	}
	return false
}

// candidate converts the entry into a lookup result carrying the entry JSON.
func (e JMdictEntry) candidate() Candidate {
	c := Candidate{
		Identity: e.Headword(),
		Common:   e.IsCommon(),
	}
	for _, k := range e.Kana {
		if k.Common || c.Reading == "" {
			c.Reading = k.Text
			if k.Common {
				break
			}
		}
	}
	for _, s := range e.Sense {
		for _, g := range s.Gloss {
			c.Definitions = append(c.Definitions, g.Text)
		}
		c.PartsOfSpeech = append(c.PartsOfSpeech, s.PartOfSpeech...)
	}
	if raw, err := json.Marshal(e); err == nil {
		c.Raw = raw
	}
	return c
}

// LoadJMdictSimplified reads a JSON file (object with a "words" array, or a
// bare array of entries) and returns the entries.
func LoadJMdictSimplified(path string) ([]JMdictEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var wrapped struct {
		Words []JMdictEntry `json:"words"`
	}
	dec := json.NewDecoder(f)
	if err := dec.Decode(&wrapped); err == nil && len(wrapped.Words) > 0 {
		return wrapped.Words, nil
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	var entries []JMdictEntry
	dec = json.NewDecoder(f)
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary as object or array: %w", err)
	}
	return entries, nil
}
