package vocab

import (
	"context"
	"errors"
	"fmt"

	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/dictionary"
	"github.com/japaniel/tango/pkg/gate"
	"github.com/japaniel/tango/pkg/logger"
)

// Report summarizes one TokenCache.Resolve call.
type Report struct {
	// Cached tokens already had a dictionary entry or unresolved record.
	Cached int
	// Resolved tokens got a new dictionary entry.
	Resolved int
	// Unresolved tokens had no dictionary candidates and were flagged.
	Unresolved int
	// Failed lookups wrote nothing and will be retried next run.
	Failed int
}

// TokenCache looks each token up in the dictionary exactly once, ever.
type TokenCache struct {
	store  db.DBExecutor
	lookup dictionary.Lookup
	gate   *gate.Gate
	log    *logger.Logger

	// OnProgress, if set, is called after every novel token.
	OnProgress func(done, total int)
}

func NewTokenCache(store db.DBExecutor, lookup dictionary.Lookup, g *gate.Gate, log *logger.Logger) *TokenCache {
	if log == nil {
		log = logger.Nop()
	}
	return &TokenCache{store: store, lookup: lookup, gate: g, log: log}
}

// Resolve ensures every token has a dictionary entry or an unresolved
// record. Tokens that already have either are never looked up again. Lookup
// failures are logged and counted; only store failures and cancellation
// abort the call.
func (c *TokenCache) Resolve(ctx context.Context, tokens []string) (Report, error) {
	var rep Report

	unique := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}

	known, err := db.ResolvedTokens(ctx, c.store, unique)
	if err != nil {
		return rep, fmt.Errorf("check cached tokens: %w", err)
	}

	var novel []string
	for _, t := range unique {
		if known[t] {
			rep.Cached++
			continue
		}
		novel = append(novel, t)
	}
	c.log.Debug("token partition", "cached", rep.Cached, "novel", len(novel))

	for i, tok := range novel {
		if err := c.resolveOne(ctx, tok, &rep); err != nil {
			return rep, err
		}
		if c.OnProgress != nil {
			c.OnProgress(i+1, len(novel))
		}
	}
	return rep, nil
}

func (c *TokenCache) resolveOne(ctx context.Context, tok string, rep *Report) error {
	var candidates []dictionary.Candidate
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		candidates, err = c.lookup.Lookup(ctx, tok)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep.Failed++
		if errors.Is(err, gate.ErrOpen) {
			c.log.Debug("dictionary lookup skipped, breaker open", "token", tok)
		} else {
			c.log.Warn("dictionary lookup failed", "token", tok, "error", err)
		}
		return nil
	}

	if len(candidates) == 0 {
		created, err := db.InsertUnresolvedToken(ctx, c.store, tok)
		if err != nil {
			return fmt.Errorf("store unresolved token: %w", err)
		}
		if created {
			rep.Unresolved++
		} else {
			rep.Cached++
		}
		return nil
	}

	top := candidates[0]
	best, err := top.JSON()
	if err != nil {
		rep.Failed++
		c.log.Error("encode dictionary match", "token", tok, "error", err)
		return nil
	}
	created, err := db.InsertDictionaryEntry(ctx, c.store, db.DictionaryEntry{
		Token:           tok,
		BestMatch:       best,
		MultipleResults: len(candidates) > 1,
		DirectMatch:     top.Identity == tok,
	})
	if err != nil {
		return fmt.Errorf("store dictionary entry: %w", err)
	}
	if created {
		rep.Resolved++
	} else {
		rep.Cached++
	}
	return nil
}
