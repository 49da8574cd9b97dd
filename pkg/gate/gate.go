// Package gate serializes and throttles calls to one external service.
//
// Every call waits until at least the configured delay has passed since the
// previous call returned, never overlaps another call through the same gate,
// and runs inside a circuit breaker so a dead service fails fast instead of
// stalling the whole batch. Failed calls are not retried in-process.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/japaniel/tango/pkg/logger"
)

// ErrOpen is returned while the breaker refuses calls.
var ErrOpen = gobreaker.ErrOpenState

// Settings configure a Gate.
type Settings struct {
	Name string
	// Delay is the minimum pause between the end of one call and the start
	// of the next.
	Delay time.Duration
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Gate is a single-flight, rate-limited, circuit-broken call path.
type Gate struct {
	mu    sync.Mutex
	delay time.Duration
	last  time.Time // end of the previous call
	cb    *gobreaker.CircuitBreaker
	log   *logger.Logger
	calls int
}

// New builds a gate for one service.
func New(s Settings, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	g := &Gate{
		delay: s.Delay,
		log:   log.With("service", s.Name),
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    s.Name,
		Timeout: s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller giving up, not the service failing.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return g
}

// Calls returns how many calls actually reached the service.
func (g *Gate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Do runs fn once the gate allows it. Calls through the same gate never
// overlap. The error is fn's error, ErrOpen while the breaker is open, or the
// context error if ctx ends while waiting.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.wait(ctx); err != nil {
		return err
	}

	_, err := g.cb.Execute(func() (interface{}, error) {
		g.calls++
		err := fn(ctx)
		g.last = time.Now()
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// wait blocks until delay has passed since the previous call returned.
func (g *Gate) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.last.IsZero() || g.delay <= 0 {
		return nil
	}
	remaining := g.delay - time.Since(g.last)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
