package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/japaniel/tango/pkg/tokenize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitAnalyzer yields one token per space-separated word.
type splitAnalyzer struct {
	calls atomic.Int32
	fail  string
}

func (s *splitAnalyzer) Analyze(text string) ([]tokenize.Token, error) {
	s.calls.Add(1)
	if s.fail != "" && text == s.fail {
		return nil, errors.New("analyzer broke")
	}
	var out []tokenize.Token
	for _, w := range strings.Fields(text) {
		out = append(out, tokenize.Token{Surface: w, BaseForm: w, POS: "名詞"})
	}
	return out, nil
}

func TestLineTokenizerKeepsInputOrder(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf("w%d x%d", i, i))
	}
	an := &splitAnalyzer{}
	lt := &LineTokenizer{Analyzer: an, Workers: 8}

	got, err := lt.Tokenize(context.Background(), lines)
	require.NoError(t, err)
	require.Len(t, got, len(lines))
	for i, toks := range got {
		require.Len(t, toks, 2)
		assert.Equal(t, fmt.Sprintf("w%d", i), toks[0].Surface)
	}
	assert.EqualValues(t, len(lines), an.calls.Load())
}

func TestLineTokenizerPropagatesAnalyzerError(t *testing.T) {
	lt := &LineTokenizer{Analyzer: &splitAnalyzer{fail: "bad"}, Workers: 2}
	_, err := lt.Tokenize(context.Background(), []string{"a", "bad", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLineTokenizerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lt := &LineTokenizer{Analyzer: &splitAnalyzer{}, Workers: 2}
	_, err := lt.Tokenize(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
}

// failingPool always returns an error on Submit to simulate producer error.
type failingPool struct{ closed bool }

func (f *failingPool) Start(ctx context.Context) {}
func (f *failingPool) Submit(ctx context.Context, job Job) error {
	return errors.New("submit failed")
}
func (f *failingPool) Close()     { f.closed = true }
func (f *failingPool) Err() error { return nil }

func TestLineTokenizerHandlesSubmitError(t *testing.T) {
	pool := &failingPool{}
	lt := &LineTokenizer{
		Analyzer:    &splitAnalyzer{},
		Workers:     2,
		PoolFactory: func(workers, queue int) Pool { return pool },
	}

	done := make(chan error, 1)
	go func() {
		_, err := lt.Tokenize(context.Background(), []string{"a", "b"})
		done <- err
	}()

	select {
	case err := <-done:
		assert.EqualError(t, err, "submit failed")
		assert.True(t, pool.closed)
	case <-time.After(2 * time.Second):
		t.Fatal("Tokenize hung after submit error")
	}
}
