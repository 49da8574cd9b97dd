package db

import "time"

// SeenForm is one distinct inflected realization of a token.
type SeenForm struct {
	ID              int64
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

// Line is a source line together with its cached translation.
type Line struct {
	ID          int64
	Source      string
	Translation string
}

// Example records that a token appeared in a given form within a line.
type Example struct {
	ID          int64
	Token       string
	SeenFormID  int64
	LineID      int64
	Surface     string
	Source      string
	Translation string
}

// DictionaryEntry is the cached lookup result for a token. BestMatch holds the
// raw JSON of the top candidate.
type DictionaryEntry struct {
	Token           string
	BestMatch       string
	MultipleResults bool
	DirectMatch     bool
	CreatedAt       time.Time
}

// UnresolvedToken is a token the dictionary had no entry for.
type UnresolvedToken struct {
	Token     string
	Resolved  bool
	CreatedAt time.Time
}

// Counts holds row counts per table.
type Counts struct {
	Tokens            int
	SeenForms         int
	Lines             int
	Examples          int
	DictionaryEntries int
	UnresolvedTokens  int
}
