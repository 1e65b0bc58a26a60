// Package deferred implements a per-key debounced call queue.
//
// Scheduling a call for a key cancels the call already pending for that key
// and starts a new countdown. When a countdown ends the call is removed from
// the queue and run exactly once. A burst of updates for the same subject
// therefore results in a single run carrying the latest arguments.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrStopped is returned by Schedule after Stop.
var ErrStopped = errors.New("deferred: queue stopped")

// Call is a unit of deferred work.
type Call struct {
	// Key coalesces calls: a new call replaces the pending one with the same key.
	Key string

	// InstanceID names the process that scheduled the call.
	InstanceID string

	// Target describes what the call delivers to, for logs.
	Target string

	// Wait is the delay before the call runs.
	Wait time.Duration

	Fn func(ctx context.Context) error
}

type entry struct {
	call  Call
	timer *time.Timer
	seq   uint64
}

// Queue holds pending calls. It is safe for concurrent use.
type Queue struct {
	logger  *slog.Logger
	onError func(Call, error)
	baseCtx context.Context

	mu      sync.Mutex
	pending map[string]*entry
	seq     uint64
	stopped bool
	running sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger for failed calls.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithErrorHandler receives errors returned by timer-fired calls.
func WithErrorHandler(fn func(Call, error)) Option {
	return func(q *Queue) {
		q.onError = fn
	}
}

// WithBaseContext sets the context passed to timer-fired calls.
func WithBaseContext(ctx context.Context) Option {
	return func(q *Queue) {
		q.baseCtx = ctx
	}
}

// New creates an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		logger:  slog.Default(),
		baseCtx: context.Background(),
		pending: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Schedule queues call, replacing any call pending under the same key.
func (q *Queue) Schedule(call Call) error {
	if call.Fn == nil {
		return fmt.Errorf("deferred: call %q has no function", call.Key)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}
	if old, ok := q.pending[call.Key]; ok {
		old.timer.Stop()
	}

	q.seq++
	e := &entry{call: call, seq: q.seq}
	key, seq := call.Key, q.seq
	e.timer = time.AfterFunc(call.Wait, func() {
		q.fire(key, seq)
	})
	q.pending[call.Key] = e
	return nil
}

func (q *Queue) fire(key string, seq uint64) {
	q.mu.Lock()
	e, ok := q.pending[key]
	if !ok || e.seq != seq || q.stopped {
		q.mu.Unlock()
		return
	}
	delete(q.pending, key)
	q.running.Add(1)
	q.mu.Unlock()

	defer q.running.Done()
	if err := q.run(q.baseCtx, e.call); err != nil && q.onError != nil {
		q.onError(e.call, err)
	}
}

func (q *Queue) run(ctx context.Context, call Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deferred call %q panicked: %v", call.Key, r)
		}
		if err != nil && q.logger != nil {
			q.logger.Error("deferred call failed",
				slog.String("key", call.Key),
				slog.String("target", call.Target),
				slog.String("instance_id", call.InstanceID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return call.Fn(ctx)
}

// Flush runs every pending call now, in key order, and returns their
// joined errors. Each call leaves the queue only when it is about to run, so
// calls not reached before ctx ends stay pending on their original timers.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	keys := make([]string, 0, len(q.pending))
	for key := range q.pending {
		keys = append(keys, key)
	}
	q.mu.Unlock()
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		call, ok := q.take(key)
		if !ok {
			continue
		}
		if err := q.run(ctx, call); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", call.Key, err))
		}
	}
	return errors.Join(errs...)
}

// take removes the call pending under key and stops its timer.
func (q *Queue) take(key string) (Call, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.pending[key]
	if !ok {
		return Call{}, false
	}
	e.timer.Stop()
	delete(q.pending, key)
	return e.call, true
}

// Stop drops all pending calls, rejects new ones and waits for calls that
// are already running.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	for key, e := range q.pending {
		e.timer.Stop()
		delete(q.pending, key)
	}
	q.mu.Unlock()

	q.running.Wait()
}

// Pending returns the number of queued calls.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
