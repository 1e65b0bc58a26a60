// Package batch accumulates items and hands them to a purge handler in
// batches, when a size limit is reached, after an idle period, or when the
// accumulator is closed.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow/observability"
)

// Trigger names what caused a purge.
type Trigger string

const (
	TriggerCapacity Trigger = "capacity"
	TriggerIdle     Trigger = "idle"
	TriggerManual   Trigger = "manual"
	TriggerClose    Trigger = "close"
)

var (
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("batch: accumulator closed")

	// ErrInvalidConfig is wrapped by New for unusable configurations.
	ErrInvalidConfig = errors.New("batch: invalid config")
)

// Config configures an Accumulator.
type Config[T any] struct {
	// MaxSize purges synchronously inside the Append that reaches it.
	MaxSize int

	// IdleTimeout purges once no Append has happened for this long.
	// Every Append restarts the countdown, and a failed purge starts it
	// again so retained items are retried. Zero disables it.
	IdleTimeout time.Duration

	// OnPurge receives the buffered items in append order. It runs with the
	// accumulator locked and must not call back into it. On error the items
	// stay buffered.
	OnPurge func(ctx context.Context, items []T) error

	// OnAppend runs before an item is stored. An error rejects the item.
	OnAppend func(ctx context.Context, item T) (T, error)

	// ReplaceOnAppend stores the value returned by OnAppend instead of the
	// original item.
	ReplaceOnAppend bool

	// OnError receives failures of idle purges, which have no caller.
	OnError func(err error)

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
}

// Accumulator buffers items of type T. It is safe for concurrent use.
type Accumulator[T any] struct {
	cfg Config[T]

	mu         sync.Mutex
	items      []T
	timer      *time.Timer
	generation uint64
	closed     bool
}

// New validates cfg and returns an empty Accumulator.
func New[T any](cfg Config[T]) (*Accumulator[T], error) {
	if cfg.MaxSize < 1 {
		return nil, fmt.Errorf("%w: MaxSize must be at least 1, got %d", ErrInvalidConfig, cfg.MaxSize)
	}
	if cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("%w: negative IdleTimeout", ErrInvalidConfig)
	}
	if cfg.OnPurge == nil {
		return nil, fmt.Errorf("%w: OnPurge is required", ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Accumulator[T]{cfg: cfg}, nil
}

// With runs fn with a new Accumulator and closes it afterwards, purging any
// remainder even if fn fails or panics.
func With[T any](ctx context.Context, cfg Config[T], fn func(*Accumulator[T]) error) (err error) {
	acc, err := New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := acc.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(acc)
}

// Append stores item. Reaching MaxSize purges before Append returns and
// reports the purge error, if any.
func (a *Accumulator[T]) Append(ctx context.Context, item T) error {
	if a.cfg.OnAppend != nil {
		result, err := a.cfg.OnAppend(ctx, item)
		if err != nil {
			return fmt.Errorf("on append: %w", err)
		}
		if a.cfg.ReplaceOnAppend {
			item = result
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	a.items = append(a.items, item)
	if len(a.items) >= a.cfg.MaxSize {
		return a.purgeLocked(ctx, TriggerCapacity)
	}
	if a.cfg.IdleTimeout > 0 {
		a.resetTimerLocked()
	}
	return nil
}

// Purge hands buffered items to OnPurge now. It does nothing when empty.
func (a *Accumulator[T]) Purge(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.purgeLocked(ctx, TriggerManual)
}

// Close purges the remainder and rejects further appends. Closing twice is
// a no-op.
func (a *Accumulator[T]) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	err := a.purgeLocked(ctx, TriggerClose)
	a.closed = true
	return err
}

// Len returns the number of buffered items.
func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

func (a *Accumulator[T]) resetTimerLocked() {
	a.stopTimerLocked()
	gen := a.generation
	a.timer = time.AfterFunc(a.cfg.IdleTimeout, func() {
		a.fire(gen)
	})
}

// stopTimerLocked cancels the pending idle purge. Bumping the generation
// also disarms a timer whose callback is already waiting on the lock.
func (a *Accumulator[T]) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.generation++
}

func (a *Accumulator[T]) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.generation || a.closed {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	err := a.purgeLocked(context.Background(), TriggerIdle)
	a.mu.Unlock()

	if err != nil && a.cfg.OnError != nil {
		a.cfg.OnError(err)
	}
}

func (a *Accumulator[T]) purgeLocked(ctx context.Context, trigger Trigger) error {
	a.stopTimerLocked()
	if len(a.items) == 0 {
		return nil
	}

	size := len(a.items)
	if err := a.cfg.OnPurge(ctx, a.items); err != nil {
		observability.LogPurgeError(a.cfg.Logger, string(trigger), size, err)
		a.cfg.Metrics.RecordPurge(ctx, string(trigger), size, err)
		if a.cfg.IdleTimeout > 0 && trigger != TriggerClose {
			a.resetTimerLocked()
		}
		return &PurgeError{Trigger: trigger, Size: size, Err: err}
	}

	a.items = nil
	observability.LogPurge(a.cfg.Logger, string(trigger), size)
	a.cfg.Metrics.RecordPurge(ctx, string(trigger), size, nil)
	return nil
}

// PurgeError reports a failed OnPurge. The items it names are still
// buffered.
type PurgeError struct {
	Trigger Trigger
	Size    int
	Err     error
}

// Error implements the error interface.
func (e *PurgeError) Error() string {
	return fmt.Sprintf("batch: %s purge of %d items failed: %v", e.Trigger, e.Size, e.Err)
}

// Unwrap returns the OnPurge error.
func (e *PurgeError) Unwrap() error {
	return e.Err
}
