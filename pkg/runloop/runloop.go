// Package runloop drives a periodic control tick and funnels commands from
// other goroutines onto the tick goroutine, so the controlled object only
// ever sees one caller.
package runloop

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// MinPeriod is the fastest tick we accept (200Hz).
const MinPeriod = 5 * time.Millisecond

var ErrStopped = errors.New("run loop stopped")

type Tickable interface {
	Tick()
}

type Loop struct {
	target Tickable
	period time.Duration
	clock  clock.Clock
	logger *zap.SugaredLogger

	afterTick []func()
	onStop    []func()

	commands chan func()
	stopped  chan struct{}

	ticks    atomic.Uint64
	overruns atomic.Uint64
}

type Option func(*Loop)

func WithClock(clk clock.Clock) Option {
	return func(l *Loop) { l.clock = clk }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithAfterTick registers an observer run on the loop goroutine straight
// after every tick.
func WithAfterTick(f func()) Option {
	return func(l *Loop) { l.afterTick = append(l.afterTick, f) }
}

// WithOnStop registers cleanup run on the loop goroutine when Run exits.
func WithOnStop(f func()) Option {
	return func(l *Loop) { l.onStop = append(l.onStop, f) }
}

func New(target Tickable, period time.Duration, opts ...Option) (*Loop, error) {
	if target == nil {
		return nil, errors.New("run loop needs a target")
	}
	if period <= 0 {
		return nil, errors.Errorf("tick period must be positive, got %v", period)
	}
	if period < MinPeriod {
		return nil, errors.Errorf("tick period %v is faster than the %v limit", period, MinPeriod)
	}
	l := &Loop{
		target:   target,
		period:   period,
		clock:    clock.New(),
		logger:   zap.NewNop().Sugar(),
		commands: make(chan func()),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *Loop) Period() time.Duration {
	return l.period
}

// Run ticks the target every period until ctx is cancelled. Commands queued
// with Do run between ticks.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	defer func() {
		for _, f := range l.onStop {
			f()
		}
	}()

	ticker := l.clock.Ticker(l.period)
	defer ticker.Stop()

	l.logger.Infow("Run loop: started", "period", l.period)
	for {
		select {
		case <-ctx.Done():
			l.logger.Infow("Run loop: stopped", "ticks", l.Ticks(), "overruns", l.Overruns())
			return ctx.Err()
		case f := <-l.commands:
			f()
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	start := l.clock.Now()
	l.target.Tick()
	for _, f := range l.afterTick {
		f()
	}
	l.ticks.Inc()
	if took := l.clock.Since(start); took > l.period {
		n := l.overruns.Inc()
		l.logger.Warnw("Run loop: tick overran", "took", took, "period", l.period, "overruns", n)
	}
}

// Do runs f on the loop goroutine and waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		f()
	}
	select {
	case l.commands <- wrapped:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

func (l *Loop) Overruns() uint64 {
	return l.overruns.Load()
}
