// Package vocab caches the results of the two external services: line
// translations and token dictionary lookups. Anything already in the store is
// answered from the store and never fetched again.
package vocab

import (
	"context"
	"fmt"
	"strings"

	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/gate"
	"github.com/japaniel/tango/pkg/logger"
	"github.com/japaniel/tango/pkg/translate"
)

// LineStats counts how line translations were obtained.
type LineStats struct {
	Cached     int
	Translated int
	Failed     int
}

// LineCache returns a translation for every source line, translating each
// distinct text at most once across runs.
type LineCache struct {
	store      db.DBExecutor
	translator translate.Translator
	gate       *gate.Gate
	batchSize  int
	log        *logger.Logger
	stats      LineStats
}

// NewLineCache wires a cache. batchSize bounds the number of lines sent in
// one ResolveBatch call.
func NewLineCache(store db.DBExecutor, tr translate.Translator, g *gate.Gate, batchSize int, log *logger.Logger) *LineCache {
	if log == nil {
		log = logger.Nop()
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &LineCache{store: store, translator: tr, gate: g, batchSize: batchSize, log: log}
}

// Stats returns the counters accumulated so far.
func (c *LineCache) Stats() LineStats { return c.stats }

// Resolve returns the stored line for text, translating and storing it first
// if needed. ok is false when the translation failed; the failure is logged
// and nothing is written, so the next run tries again. Only store failures
// and cancellation are returned as errors.
func (c *LineCache) Resolve(ctx context.Context, text string) (db.Line, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return db.Line{}, false, nil
	}

	line, ok, err := db.GetLineBySource(ctx, c.store, text)
	if err != nil {
		return db.Line{}, false, fmt.Errorf("lookup line: %w", err)
	}
	if ok {
		c.stats.Cached++
		return line, true, nil
	}

	var translation string
	err = c.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		translation, err = c.translator.Translate(ctx, text)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return db.Line{}, false, ctx.Err()
		}
		c.stats.Failed++
		c.log.Warn("translation failed", "line", text, "error", err)
		return db.Line{}, false, nil
	}
	if strings.TrimSpace(translation) == "" {
		c.stats.Failed++
		c.log.Error("empty translation", "line", text)
		return db.Line{}, false, nil
	}

	line, err = db.CreateOrGetLine(ctx, c.store, text, translation)
	if err != nil {
		return db.Line{}, false, fmt.Errorf("store line: %w", err)
	}
	c.stats.Translated++
	return line, true, nil
}

// ResolveBatch resolves many lines at once. Cached lines are read with one
// query per chunk of texts; the rest are translated batchSize at a time, one
// gated call per chunk. The result is keyed by trimmed source text; texts
// whose chunk failed are missing from it.
func (c *LineCache) ResolveBatch(ctx context.Context, texts []string) (map[string]db.Line, error) {
	var unique []string
	seen := make(map[string]bool, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}

	out, err := db.GetLinesBySource(ctx, c.store, unique)
	if err != nil {
		return nil, fmt.Errorf("lookup lines: %w", err)
	}
	c.stats.Cached += len(out)

	var missing []string
	for _, t := range unique {
		if _, ok := out[t]; !ok {
			missing = append(missing, t)
		}
	}

	for start := 0; start < len(missing); start += c.batchSize {
		end := min(start+c.batchSize, len(missing))
		chunk := missing[start:end]

		var translations []string
		err := c.gate.Do(ctx, func(ctx context.Context) error {
			var err error
			translations, err = c.translator.TranslateBatch(ctx, chunk)
			return err
		})
		if err == nil && len(translations) != len(chunk) {
			err = fmt.Errorf("%w: got %d translations for %d lines", translate.ErrMalformedResponse, len(translations), len(chunk))
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.stats.Failed += len(chunk)
			c.log.Warn("batch translation failed", "lines", len(chunk), "error", err)
			continue
		}

		for i, src := range chunk {
			if strings.TrimSpace(translations[i]) == "" {
				c.stats.Failed++
				c.log.Error("empty translation", "line", src)
				continue
			}
			line, err := db.CreateOrGetLine(ctx, c.store, src, translations[i])
			if err != nil {
				return out, fmt.Errorf("store line: %w", err)
			}
			out[src] = line
			c.stats.Translated++
		}
	}
	return out, nil
}
