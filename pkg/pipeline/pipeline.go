// Package pipeline runs input lines through tokenization, normalization,
// translation, example indexing and dictionary resolution.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/japaniel/tango/pkg/config"
	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/ingest"
	"github.com/japaniel/tango/pkg/logger"
	"github.com/japaniel/tango/pkg/normalize"
	"github.com/japaniel/tango/pkg/vocab"
)

// Strategy selects how lines are translated and whether examples are kept.
type Strategy struct {
	// TranslationMode is config.PerLine or config.Batched.
	TranslationMode string
	// Indexing is config.FullIndex or config.DictionaryOnly.
	Indexing string
}

// DefaultStrategy translates in batches and indexes examples.
func DefaultStrategy() Strategy {
	return Strategy{TranslationMode: config.Batched, Indexing: config.FullIndex}
}

// Report summarizes a run.
type Report struct {
	Lines        int
	UniqueTokens int
	Normalize    normalize.Stats
	Translation  vocab.LineStats
	// Untranslated lines got no examples this run.
	Untranslated int
	Dictionary   vocab.Report
	// Added counts rows this run created, per table.
	Added db.Counts
}

// Pipeline processes input lines against a session.
type Pipeline struct {
	Session  *Session
	Strategy Strategy

	Workers   int
	BatchSize int

	// OnProgress is called after each line is indexed.
	OnProgress func(current, total int)
	// OnLookup is called after each novel token is looked up.
	OnLookup func(current, total int)
}

// New returns a pipeline with the default strategy.
func New(s *Session) *Pipeline {
	return &Pipeline{Session: s, Strategy: DefaultStrategy(), Workers: 4, BatchSize: 25}
}

// Run processes lines. Blank lines are ignored. Per-item failures of the
// external services are logged and left for the next run; store failures
// and cancellation abort the run.
func (p *Pipeline) Run(ctx context.Context, lines []string) (Report, error) {
	var rep Report
	s := p.Session
	if err := s.validate(p.Strategy); err != nil {
		return rep, err
	}
	log := s.Log
	if log == nil {
		log = logger.Nop()
	}

	lines = cleanLines(lines)
	rep.Lines = len(lines)
	if len(lines) == 0 {
		return rep, nil
	}

	before, err := db.CountRows(ctx, s.DB)
	if err != nil {
		return rep, fmt.Errorf("count rows: %w", err)
	}

	lt := &ingest.LineTokenizer{Analyzer: s.Tokenizer, Workers: p.Workers}
	tokens, err := lt.Tokenize(ctx, lines)
	if err != nil {
		return rep, err
	}
	observations := make([][]normalize.Observation, len(lines))
	for i, toks := range tokens {
		observations[i] = normalize.Line(toks, &rep.Normalize)
	}
	log.Debug("normalized", "lines", len(lines), "kept", rep.Normalize.Kept, "dropped", rep.Normalize.Dropped())

	unique, err := p.index(ctx, log, lines, observations, &rep)
	if err != nil {
		return rep, err
	}
	rep.UniqueTokens = len(unique)

	tc := vocab.NewTokenCache(s.DB, s.Lookup, s.LookupGate, log)
	tc.OnProgress = p.OnLookup
	rep.Dictionary, err = tc.Resolve(ctx, unique)
	if err != nil {
		return rep, err
	}

	after, err := db.CountRows(ctx, s.DB)
	if err != nil {
		return rep, fmt.Errorf("count rows: %w", err)
	}
	rep.Added = diff(after, before)
	return rep, nil
}

// index resolves translations and records observations line by line. It
// returns the canonical tokens in first-sight order.
func (p *Pipeline) index(ctx context.Context, log *logger.Logger, lines []string, observations [][]normalize.Observation, rep *Report) (unique []string, err error) {
	s := p.Session
	ix := ingest.NewIndex(s.DB, p.BatchSize, log)
	defer func() {
		if cerr := ix.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("example index: %w", cerr)
		}
	}()

	var lc *vocab.LineCache
	var batched map[string]db.Line
	full := p.Strategy.Indexing == config.FullIndex
	inBatch := p.Strategy.TranslationMode == config.Batched
	if full {
		lc = vocab.NewLineCache(s.DB, s.Translator, s.TranslateGate, p.BatchSize, log)
		defer func() { rep.Translation = lc.Stats() }()
		if inBatch {
			if batched, err = lc.ResolveBatch(ctx, lines); err != nil {
				return nil, err
			}
		}
	}

	seen := make(map[string]bool)
	for i, text := range lines {
		var toks []string
		for _, o := range observations[i] {
			if !seen[o.Token] {
				seen[o.Token] = true
				unique = append(unique, o.Token)
			}
			toks = append(toks, o.Token)
		}

		var line db.Line
		ok := false
		if full {
			if inBatch {
				line, ok = batched[text]
			} else if line, ok, err = lc.Resolve(ctx, text); err != nil {
				return nil, err
			}
			if !ok {
				rep.Untranslated++
			}
		}

		if ok {
			err = ix.Record(ctx, line.ID, observations[i])
		} else {
			err = ix.EnsureTokens(ctx, toks)
		}
		if err != nil {
			return nil, err
		}
		if p.OnProgress != nil {
			p.OnProgress(i+1, len(lines))
		}
	}
	return unique, nil
}

func cleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func diff(a, b db.Counts) db.Counts {
	return db.Counts{
		Tokens:            a.Tokens - b.Tokens,
		SeenForms:         a.SeenForms - b.SeenForms,
		Lines:             a.Lines - b.Lines,
		Examples:          a.Examples - b.Examples,
		DictionaryEntries: a.DictionaryEntries - b.DictionaryEntries,
		UnresolvedTokens:  a.UnresolvedTokens - b.UnresolvedTokens,
	}
}
