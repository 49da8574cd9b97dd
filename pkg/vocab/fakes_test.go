package vocab

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/dictionary"
	"github.com/japaniel/tango/pkg/gate"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newGate(name string) *gate.Gate {
	return gate.New(gate.Settings{Name: name, MaxFailures: 100}, nil)
}

// fakeTranslator prefixes each line with "EN:" and counts calls.
type fakeTranslator struct {
	calls      int
	batchCalls int
	fail       map[string]bool
	short      bool
}

func (f *fakeTranslator) Translate(ctx context.Context, text string) (string, error) {
	f.calls++
	if f.fail[text] {
		return "", errors.New("service unavailable")
	}
	return "EN:" + text, nil
}

func (f *fakeTranslator) TranslateBatch(ctx context.Context, texts []string) ([]string, error) {
	f.batchCalls++
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if f.fail[t] {
			return nil, errors.New("service unavailable")
		}
		out = append(out, "EN:"+t)
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

// fakeLookup answers from a fixed table and counts calls per term.
type fakeLookup struct {
	entries map[string][]dictionary.Candidate
	fail    map[string]bool
	calls   map[string]int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		entries: map[string][]dictionary.Candidate{},
		fail:    map[string]bool{},
		calls:   map[string]int{},
	}
}

func (f *fakeLookup) Lookup(ctx context.Context, term string) ([]dictionary.Candidate, error) {
	f.calls[term]++
	if f.fail[term] {
		return nil, errors.New("connection reset")
	}
	return f.entries[term], nil
}

func (f *fakeLookup) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func candidates(identities ...string) []dictionary.Candidate {
	var out []dictionary.Candidate
	for _, id := range identities {
		out = append(out, dictionary.Candidate{Identity: id, Definitions: []string{strings.ToUpper(id)}})
	}
	return out
}
