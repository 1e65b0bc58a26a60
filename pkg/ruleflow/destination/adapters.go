package destination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow/batch"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/config"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/observability"
)

// Built-in adapter paths.
const (
	LogAdapterPath   = "ruleflow.LogAdapter"
	BatchAdapterPath = "ruleflow.BatchAdapter"
)

// LogAdapter writes each delivery as one JSON line. It is meant for dry runs.
//
// Destination config:
//
//	label: string   prefix written before each line (default: destination id)
//	events: bool    include the events (default: false)
type LogAdapter struct {
	mu     *sync.Mutex
	w      io.Writer
	label  string
	events bool
	debug  bool
}

// NewLogAdapterFactory returns a Factory writing to w. Adapters built by the
// factory share one lock so lines never interleave.
func NewLogAdapterFactory(w io.Writer) Factory {
	mu := &sync.Mutex{}
	return func(debug bool, _ *Resource, dest *Destination) (Adapter, error) {
		cfg := config.NewValues(dest.Config)
		return &LogAdapter{
			mu:     mu,
			w:      w,
			label:  cfg.String("label", dest.ID),
			events: cfg.Bool("events", false),
			debug:  debug,
		}, nil
	}
}

// ProfileScoped reports true.
func (a *LogAdapter) ProfileScoped() bool { return true }

// Run writes the delivery.
func (a *LogAdapter) Run(_ context.Context, d Delivery) error {
	line := map[string]any{
		"payload":       d.Payload,
		"profile_delta": d.ProfileDelta,
	}
	if d.Profile != nil {
		line["profile_id"] = d.Profile.ID
	}
	if a.events {
		line["events"] = d.Events
	}
	if a.debug {
		line["debug"] = true
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = fmt.Fprintf(a.w, "%s %s\n", a.label, data)
	return err
}

// BatchFlushFunc receives the buffered deliveries of one destination.
type BatchFlushFunc func(ctx context.Context, dest Destination, deliveries []Delivery) error

// BatchSink buffers deliveries per destination in a batch.Accumulator and
// hands them to a flush function in bulk. Its Factory builds adapters that
// append to the destination's accumulator.
//
// Destination config:
//
//	batch.max_size: int          purge when this many deliveries are buffered
//	batch.idle_timeout: duration purge after this long without deliveries
type BatchSink struct {
	flush       BatchFlushFunc
	maxSize     int
	idleTimeout time.Duration
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	onError     func(error)

	mu     sync.Mutex
	accs   map[string]*batch.Accumulator[Delivery]
	closed bool
}

// BatchOption configures a BatchSink.
type BatchOption func(*BatchSink)

// WithBatchDefaults sets the size and idle timeout used when a destination
// does not configure its own.
func WithBatchDefaults(maxSize int, idle time.Duration) BatchOption {
	return func(s *BatchSink) {
		s.maxSize, s.idleTimeout = maxSize, idle
	}
}

// WithBatchLogger sets the logger passed to each accumulator.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(s *BatchSink) { s.logger = logger }
}

// WithBatchMetrics sets the metrics recorder passed to each accumulator.
func WithBatchMetrics(m observability.MetricsRecorder) BatchOption {
	return func(s *BatchSink) { s.metrics = m }
}

// WithBatchErrorHandler receives failed idle purges.
func WithBatchErrorHandler(fn func(error)) BatchOption {
	return func(s *BatchSink) { s.onError = fn }
}

// NewBatchSink creates a BatchSink. Defaults: 100 deliveries, 5s idle.
func NewBatchSink(flush BatchFlushFunc, opts ...BatchOption) *BatchSink {
	s := &BatchSink{
		flush:       flush,
		maxSize:     100,
		idleTimeout: 5 * time.Second,
		accs:        make(map[string]*batch.Accumulator[Delivery]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Factory returns the Factory to register under BatchAdapterPath.
func (s *BatchSink) Factory() Factory {
	return func(_ bool, _ *Resource, dest *Destination) (Adapter, error) {
		acc, err := s.accumulator(dest)
		if err != nil {
			return nil, err
		}
		return &batchAdapter{acc: acc}, nil
	}
}

func (s *BatchSink) accumulator(dest *Destination) (*batch.Accumulator[Delivery], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, batch.ErrClosed
	}
	if acc, ok := s.accs[dest.ID]; ok {
		return acc, nil
	}

	cfg := config.NewValues(dest.Config)
	target := *dest
	acc, err := batch.New(batch.Config[Delivery]{
		MaxSize:     cfg.Int("batch.max_size", s.maxSize),
		IdleTimeout: cfg.Duration("batch.idle_timeout", s.idleTimeout),
		OnPurge: func(ctx context.Context, items []Delivery) error {
			return s.flush(ctx, target, items)
		},
		OnError: s.onError,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("destination %s: %w", dest.ID, err)
	}
	s.accs[dest.ID] = acc
	return acc, nil
}

// Flush purges every accumulator now.
func (s *BatchSink) Flush(ctx context.Context) error {
	var errs []error
	for _, acc := range s.snapshot() {
		errs = append(errs, acc.Purge(ctx))
	}
	return errors.Join(errs...)
}

// Close purges and closes every accumulator. Later deliveries fail.
func (s *BatchSink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, acc := range s.snapshot() {
		errs = append(errs, acc.Close(ctx))
	}
	return errors.Join(errs...)
}

// Pending returns the number of buffered deliveries across destinations.
func (s *BatchSink) Pending() int {
	n := 0
	for _, acc := range s.snapshot() {
		n += acc.Len()
	}
	return n
}

func (s *BatchSink) snapshot() []*batch.Accumulator[Delivery] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*batch.Accumulator[Delivery], 0, len(s.accs))
	for _, acc := range s.accs {
		out = append(out, acc)
	}
	return out
}

type batchAdapter struct {
	acc *batch.Accumulator[Delivery]
}

func (a *batchAdapter) ProfileScoped() bool { return true }

func (a *batchAdapter) Run(ctx context.Context, d Delivery) error {
	return a.acc.Append(ctx, d)
}
