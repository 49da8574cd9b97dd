package dictionary

import (
	"context"
	"sort"
)

// Index is an offline Lookup over an in-memory JMdict word list.
type Index struct {
	// Key: spelling (kanji or kana), Value: entries containing that spelling.
	// Built once and never mutated, so concurrent reads need no locking.
	index map[string][]JMdictEntry
}

// NewIndex builds an in-memory index of the provided dictionary.
func NewIndex(entries []JMdictEntry) *Index {
	idx := make(map[string][]JMdictEntry)
	for _, e := range entries {
		for _, k := range e.Kanji {
			idx[k.Text] = append(idx[k.Text], e)
		}
		for _, k := range e.Kana {
			// Entries spelling the same kana twice should only be indexed once.
			if !containsEntry(idx[k.Text], e.Id) {
				idx[k.Text] = append(idx[k.Text], e)
			}
		}
	}
	return &Index{index: idx}
}

// LoadIndex reads a jmdict-simplified file and indexes it.
func LoadIndex(path string) (*Index, error) {
	entries, err := LoadJMdictSimplified(path)
	if err != nil {
		return nil, err
	}
	return NewIndex(entries), nil
}

// Size returns the number of distinct spellings indexed.
func (im *Index) Size() int { return len(im.index) }

// Lookup returns every entry spelled exactly like term. Entries whose
// headword is term rank first, then common entries, then by entry id.
// Katakana terms with no entry fall back to their hiragana spelling.
func (im *Index) Lookup(ctx context.Context, term string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches := im.findMatches(term)
	if len(matches) == 0 {
		if hira := ToHiragana(term); hira != term {
			matches = im.findMatches(hira)
		}
	}
	out := make([]Candidate, 0, len(matches))
	for _, e := range matches {
		out = append(out, e.candidate())
	}
	return out, nil
}

func (im *Index) findMatches(term string) []JMdictEntry {
	if term == "" {
		return nil
	}
	var results []JMdictEntry
	for _, entry := range im.index[term] {
		if isMatch(entry, term) {
			results = append(results, entry)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		hi, hj := results[i].Headword() == term, results[j].Headword() == term
		if hi != hj {
			return hi
		}
		ci, cj := results[i].IsCommon(), results[j].IsCommon()
		if ci != cj {
			return ci
		}
		return results[i].Id < results[j].Id
	})
	return results
}

func containsEntry(entries []JMdictEntry, id string) bool {
	for _, e := range entries {
		if e.Id == id {
			return true
		}
	}
	return false
}

func isMatch(entry JMdictEntry, term string) bool {
	for _, k := range entry.Kanji {
		if k.Text == term {
			return true
		}
	}
	for _, k := range entry.Kana {
		if k.Text == term {
			return true
		}
	}
	return false
}

// ToHiragana converts Katakana to Hiragana.
func ToHiragana(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if r >= 0x30A1 && r <= 0x30F6 {
			runes[i] = r - 0x60
		}
	}
	return string(runes)
}
