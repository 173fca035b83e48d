// Package dispatch runs fire-and-forget side effects (pushes, notifications,
// enrichment) with bounded concurrency, reporting failures on a channel
// instead of dropping them silently.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrSaturated is reported when a task is rejected because every slot is
// busy.
var ErrSaturated = errors.New("dispatch: saturated")

// Failure describes a task that failed or was dropped.
type Failure struct {
	Task string
	Err  error
	At   time.Time
}

// Config controls the dispatcher.
type Config struct {
	MaxConcurrent int64
	TaskTimeout   time.Duration
	FailureBuffer int
}

// DefaultConfig returns sensible dispatcher limits.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 64, TaskTimeout: 10 * time.Second, FailureBuffer: 256}
}

// Dispatcher runs tasks on their own goroutines. Go never blocks: when all
// slots are taken the task is dropped and reported.
type Dispatcher struct {
	sem      *semaphore.Weighted
	timeout  time.Duration
	failures chan Failure
	base     context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	lost atomic.Int64
}

// New creates a Dispatcher.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.FailureBuffer <= 0 {
		cfg.FailureBuffer = def.FailureBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		timeout:  cfg.TaskTimeout,
		failures: make(chan Failure, cfg.FailureBuffer),
		base:     base,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "dispatch")),
	}
}

// Go schedules fn and reports whether it was accepted. fn receives a context
// detached from the caller with the task timeout applied.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	if !d.sem.TryAcquire(1) {
		d.report(name, ErrSaturated)
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(d.base, d.timeout)
		defer cancel()

		if err := run(ctx, fn); err != nil {
			d.report(name, err)
		}
	}()
	return true
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (d *Dispatcher) report(task string, err error) {
	f := Failure{Task: task, Err: err, At: time.Now().UTC()}
	select {
	case d.failures <- f:
	default:
		d.lost.Add(1)
		d.logger.Warn("dispatch: failure channel full",
			slog.String("task", task),
			slog.String("error", err.Error()),
		)
	}
}

// Failures returns the failure channel. It is closed by Close.
func (d *Dispatcher) Failures() <-chan Failure { return d.failures }

// Lost returns how many failures could not be queued.
func (d *Dispatcher) Lost() int64 { return d.lost.Load() }

// Wait blocks until every accepted task has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close stops accepting tasks, waits up to ctx for running ones, then
// cancels them and closes the failure channel.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		err = fmt.Errorf("dispatch: close: %w", ctx.Err())
	}
	d.cancel()
	close(d.failures)
	return err
}
