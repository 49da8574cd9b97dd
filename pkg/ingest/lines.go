package ingest

import (
	"context"
	"fmt"

	"github.com/japaniel/tango/pkg/tokenize"
)

// LineTokenizer analyzes lines on a worker pool. Analysis is local and pure,
// so it is the only stage of a run that fans out.
type LineTokenizer struct {
	Analyzer tokenize.Tokenizer
	Workers  int

	// PoolFactory allows tests to inject custom pools.
	PoolFactory func(workers, queue int) Pool
}

// Tokenize returns the tokens of every line, indexed like lines.
func (lt *LineTokenizer) Tokenize(ctx context.Context, lines []string) ([][]tokenize.Token, error) {
	workers := lt.Workers
	if workers <= 0 {
		workers = 1
	}
	var pool Pool
	if lt.PoolFactory != nil {
		pool = lt.PoolFactory(workers, workers*2)
	} else {
		pool = NewWorkerPool(workers, workers*2)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pool.Start(ctx)

	// Each job owns one slot, so no locking is needed.
	out := make([][]tokenize.Token, len(lines))
	for i := range lines {
		err := pool.Submit(ctx, func(ctx context.Context) error {
			toks, err := lt.Analyzer.Analyze(lines[i])
			if err != nil {
				cancel()
				return fmt.Errorf("tokenize line %d: %w", i+1, err)
			}
			out[i] = toks
			return nil
		})
		if err != nil {
			pool.Close()
			if perr := pool.Err(); perr != nil {
				return nil, perr
			}
			return nil, err
		}
	}
	pool.Close()

	if err := pool.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
