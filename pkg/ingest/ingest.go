// Package ingest links vocabulary to the lines it was seen in.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/logger"
	"github.com/japaniel/tango/pkg/normalize"
)

// Index is the example index. Each recorded line becomes one write in the
// batch writer, so a line's tokens, seen forms and examples are committed
// together or not at all.
type Index struct {
	writer *BatchWriter
	log    *logger.Logger
}

// NewIndex returns an index committing batchSize lines per transaction. The
// caller must Close it to flush.
func NewIndex(conn *sql.DB, batchSize int, log *logger.Logger) *Index {
	if log == nil {
		log = logger.Nop()
	}
	ix := &Index{
		writer: NewBatchWriter(conn, batchSize, 100*time.Millisecond),
		log:    log,
	}
	ix.writer.OnError = func(err error) {
		ix.log.Error("example index batch failed", "error", err)
	}
	return ix
}

// Record links every observation to the line: insert-if-absent Token,
// insert-if-absent SeenForm, insert-if-absent Example.
func (ix *Index) Record(ctx context.Context, lineID int64, observations []normalize.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(observations) == 0 {
		return nil
	}
	obs := append([]normalize.Observation(nil), observations...)
	return ix.writer.Submit(func(ctx context.Context, tx *sql.Tx) error {
		for _, o := range obs {
			if err := recordObservation(ctx, tx, lineID, o); err != nil {
				return fmt.Errorf("line %d: %w", lineID, err)
			}
		}
		return nil
	})
}

func recordObservation(ctx context.Context, tx db.DBExecutor, lineID int64, o normalize.Observation) error {
	if _, err := db.CreateOrGetToken(ctx, tx, o.Token); err != nil {
		return fmt.Errorf("token %s: %w", o.Token, err)
	}
	sfID, err := db.CreateOrGetSeenForm(ctx, tx, SeenForm(o))
	if err != nil {
		return fmt.Errorf("seen form %s/%s: %w", o.Token, o.Surface, err)
	}
	if _, err := db.LinkExample(ctx, tx, o.Token, sfID, lineID); err != nil {
		return fmt.Errorf("example %s: %w", o.Token, err)
	}
	return nil
}

// EnsureTokens records Token rows only. Used when examples are not indexed,
// or when a line's translation is not available yet.
func (ix *Index) EnsureTokens(ctx context.Context, tokens []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	toks := append([]string(nil), tokens...)
	return ix.writer.Submit(func(ctx context.Context, tx *sql.Tx) error {
		for _, t := range toks {
			if _, err := db.CreateOrGetToken(ctx, tx, t); err != nil {
				return fmt.Errorf("token %s: %w", t, err)
			}
		}
		return nil
	})
}

// Close commits pending writes and returns the first failure seen.
func (ix *Index) Close() error {
	return ix.writer.Close()
}

// SeenForm converts an observation to its store row.
func SeenForm(o normalize.Observation) db.SeenForm {
	return db.SeenForm{
		Token:           o.Token,
		Surface:         o.Surface,
		POS:             o.POS,
		POS1:            o.POS1,
		POS2:            o.POS2,
		POS3:            o.POS3,
		ConjugationType: o.ConjugationType,
		ConjugationForm: o.ConjugationForm,
		Reading:         o.Reading,
		Pronunciation:   o.Pronunciation,
	}
}
