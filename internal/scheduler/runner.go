// Package scheduler runs units of work on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lognexus/internal/logger"
)

// Task is a unit of work executed once per tick.
type Task func(ctx context.Context) error

// Observer receives the outcome of every tick, e.g. for metrics and
// readiness.
type Observer func(name string, duration time.Duration, err error)

// Config configures a Runner.
type Config struct {
	Name     string
	Interval time.Duration
	// InitialDelay is waited before the first invocation.
	InitialDelay time.Duration
	// RunImmediately skips the interval wait before the first invocation.
	// InitialDelay still applies.
	RunImmediately bool
}

// Runner invokes a Task until its context is cancelled. Errors and panics
// from the task are logged and the runner keeps going. The interval is
// measured from the end of the previous invocation.
type Runner struct {
	cfg       Config
	task      Task
	log       *logger.Logger
	observers []Observer
}

// New creates a runner. A non-positive interval defaults to one minute.
func New(cfg Config, task Task) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = "runner"
	}
	return &Runner{
		cfg:  cfg,
		task: task,
		log:  logger.WithPrefix(cfg.Name),
	}
}

// Name returns the runner name.
func (r *Runner) Name() string {
	return r.cfg.Name
}

// Interval returns the configured interval.
func (r *Runner) Interval() time.Duration {
	return r.cfg.Interval
}

// FirstTickDelay returns the wait between Run and the first invocation.
func (r *Runner) FirstTickDelay() time.Duration {
	if r.cfg.RunImmediately {
		return r.cfg.InitialDelay
	}
	return r.cfg.InitialDelay + r.cfg.Interval
}

// Observe adds an observer called after every completed tick. Observers
// must be added before Run.
func (r *Runner) Observe(fn Observer) *Runner {
	r.observers = append(r.observers, fn)
	return r
}

// Run blocks until ctx is cancelled. It always returns nil: cancellation is
// a clean stop, not an error.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Infof("started, interval=%v initial_delay=%v", r.cfg.Interval, r.cfg.InitialDelay)
	defer r.log.Infof("stopped")

	if r.cfg.InitialDelay > 0 && !sleep(ctx, r.cfg.InitialDelay) {
		return nil
	}
	if !r.cfg.RunImmediately && !sleep(ctx, r.cfg.Interval) {
		return nil
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		r.tick(ctx)
		if !sleep(ctx, r.cfg.Interval) {
			return nil
		}
	}
}

// RunOnce invokes the task a single time with the runner's error handling.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.invoke(ctx)
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	err := r.invoke(ctx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		r.log.Debugf("tick completed in %v", elapsed)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancelled mid-run; Run exits on the next check.
		r.log.Debugf("tick cancelled after %v", elapsed)
		return
	default:
		r.log.Errorf("tick failed after %v: %v", elapsed, err)
	}

	for _, observe := range r.observers {
		observe(r.cfg.Name, elapsed, err)
	}
}

func (r *Runner) invoke(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return r.task(ctx)
}

// sleep waits for d and reports false when ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RunAll runs every runner concurrently and returns once all have stopped.
func RunAll(ctx context.Context, runners ...*Runner) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(gCtx)
		})
	}
	return g.Wait()
}
