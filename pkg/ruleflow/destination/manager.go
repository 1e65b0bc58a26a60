package destination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/condition"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/deferred"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/notation"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/observability"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/template"
)

// ResourceStore loads resources by id.
type ResourceStore interface {
	LoadResource(ctx context.Context, id string) (*Resource, error)
}

// ConditionEvaluator decides whether a destination receives data.
// *condition.Evaluator satisfies it.
type ConditionEvaluator interface {
	Evaluate(expr string, r notation.Resolver) (bool, error)
}

// Reshaper builds the outbound payload from a mapping.
// *template.Reshaper satisfies it.
type Reshaper interface {
	Reshape(mapping map[string]any, r notation.Resolver) (map[string]any, error)
}

// Deferrer runs calls later, replacing pending calls with the same key.
// *deferred.Queue satisfies it.
type Deferrer interface {
	Schedule(call deferred.Call) error
}

// ErrNilRegistry and ErrNilResources are returned by NewManager.
var (
	ErrNilRegistry  = errors.New("destination: registry cannot be nil")
	ErrNilResources = errors.New("destination: resource store cannot be nil")
)

// Manager sends data to destinations.
type Manager struct {
	registry   *Registry
	resources  ResourceStore
	conditions ConditionEvaluator
	reshaper   Reshaper
	deferrer   Deferrer
	ownQueue   *deferred.Queue

	postpone       time.Duration
	instanceID     string
	perDestination bool

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures a Manager.
type Option func(*Manager)

// WithConditionEvaluator replaces the default condition evaluator.
func WithConditionEvaluator(e ConditionEvaluator) Option {
	return func(m *Manager) { m.conditions = e }
}

// WithReshaper replaces the default template reshaper.
func WithReshaper(r Reshaper) Option {
	return func(m *Manager) { m.reshaper = r }
}

// WithPostpone defers every delivery by d. Zero delivers synchronously.
func WithPostpone(d time.Duration) Option {
	return func(m *Manager) { m.postpone = d }
}

// WithDeferrer sets the queue for postponed deliveries. Without one, a
// Manager that postpones creates its own deferred.Queue, stopped by Close.
func WithDeferrer(d Deferrer) Option {
	return func(m *Manager) { m.deferrer = d }
}

// WithInstanceID names this process on deferred calls.
func WithInstanceID(id string) Option {
	return func(m *Manager) { m.instanceID = id }
}

// WithPerDestinationCondition makes a false condition skip only its own
// destination. By default a false condition ends the whole Send.
func WithPerDestinationCondition(enabled bool) Option {
	return func(m *Manager) { m.perDestination = enabled }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r observability.MetricsRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithSpanManager sets the tracer.
func WithSpanManager(s observability.SpanManager) Option {
	return func(m *Manager) {
		if s != nil {
			m.spans = s
		}
	}
}

// NewManager creates a Manager.
func NewManager(registry *Registry, resources ResourceStore, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if resources == nil {
		return nil, ErrNilResources
	}
	m := &Manager{
		registry:   registry,
		resources:  resources,
		conditions: condition.New(),
		reshaper:   template.New(),
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.postpone < 0 {
		return nil, fmt.Errorf("destination: negative postpone %v", m.postpone)
	}
	if m.postpone > 0 && m.deferrer == nil {
		m.ownQueue = deferred.New(deferred.WithLogger(m.logger))
		m.deferrer = m.ownQueue
	}
	return m, nil
}

// Close stops the Manager's own deferred queue, dropping pending deliveries.
// Flush it first through Queue to deliver them.
func (m *Manager) Close() {
	if m.ownQueue != nil {
		m.ownQueue.Stop()
	}
}

// Queue returns the Manager's own deferred queue, or nil.
func (m *Manager) Queue() *deferred.Queue {
	return m.ownQueue
}

// Send delivers to each enabled destination in order.
//
// A disabled resource or an unresolvable adapter stops the call with a
// *ResourceDisabledError or *AdapterResolutionError. A false condition stops
// the call without error unless WithPerDestinationCondition is set.
func (m *Manager) Send(
	ctx context.Context,
	scope Scope,
	destinations []Destination,
	profileID string,
	events []ruleflow.Event,
	profileDelta map[string]any,
	debug bool,
) error {
	var accessor *notation.Accessor
	read := func() (*notation.Accessor, error) {
		if accessor != nil {
			return accessor, nil
		}
		a, err := notation.NewAccessor(notation.Sources{
			Profile: scope.Profile,
			Session: scope.Session,
			Payload: scope.Payload,
			Event:   scope.Event,
			Flow:    scope.Flow,
			Memory:  scope.Memory,
		})
		if err != nil {
			return nil, fmt.Errorf("destination: build read context: %w", err)
		}
		accessor = a
		return a, nil
	}

	delivery := Delivery{
		ProfileDelta: profileDelta,
		Profile:      scope.Profile,
		Session:      scope.Session,
		Events:       events,
	}

	for i := range destinations {
		dest := &destinations[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if !dest.Enabled {
			m.metrics.RecordDelivery(ctx, dest.ID, observability.DeliverySkipped, 0)
			continue
		}
		stop, err := m.send(ctx, dest, read, delivery, profileID, debug)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (m *Manager) send(
	ctx context.Context,
	dest *Destination,
	read func() (*notation.Accessor, error),
	delivery Delivery,
	profileID string,
	debug bool,
) (stop bool, err error) {
	start := time.Now()
	ctx, span := m.spans.StartDeliverySpan(ctx, dest.ID)
	outcome := observability.DeliverySent
	defer func() {
		if err != nil {
			outcome = observability.DeliveryFailed
		}
		m.metrics.RecordDelivery(ctx, dest.ID, outcome, time.Since(start))
		m.spans.EndSpanWithError(span, err)
	}()

	factory, err := m.registry.Resolve(dest.Adapter)
	if err != nil {
		return true, err
	}

	res, err := m.resources.LoadResource(ctx, dest.Resource.ID)
	if err != nil {
		return true, fmt.Errorf("destination %s: load resource %s: %w", dest.ID, dest.Resource.ID, err)
	}
	if !res.Enabled {
		return true, &ResourceDisabledError{ResourceID: res.ID, ResourceName: res.Name}
	}

	adapter, err := factory(debug, res, dest)
	if err != nil {
		return true, &AdapterResolutionError{Path: dest.Adapter, Err: err}
	}

	scoped, ok := adapter.(ProfileScoped)
	if !ok || !scoped.ProfileScoped() {
		outcome = observability.DeliverySkipped
		return false, nil
	}

	acc, err := read()
	if err != nil {
		return true, err
	}

	if dest.Condition != "" {
		pass, err := m.conditions.Evaluate(dest.Condition, acc)
		if err != nil {
			return true, &ConditionEvaluationError{DestinationID: dest.ID, Condition: dest.Condition, Err: err}
		}
		if !pass {
			observability.LogConditionNotMet(m.logger, dest.Name)
			outcome = observability.DeliveryConditionFalse
			return !m.perDestination, nil
		}
	}

	payload, err := m.reshaper.Reshape(dest.Mapping, acc)
	if err != nil {
		return true, &ReshapeError{DestinationID: dest.ID, Err: err}
	}
	delivery.Payload = payload

	if m.postpone > 0 {
		key := profileID + ":" + dest.ID
		err := m.deferrer.Schedule(deferred.Call{
			Key:        key,
			InstanceID: m.instanceID,
			Target:     dest.Adapter,
			Wait:       m.postpone,
			Fn: func(ctx context.Context) error {
				return adapter.Run(ctx, delivery)
			},
		})
		if err != nil {
			return true, fmt.Errorf("destination %s: defer delivery: %w", dest.ID, err)
		}
		observability.LogDeliveryDeferred(m.logger, dest.Name, key, m.postpone)
		outcome = observability.DeliveryDeferred
		return false, nil
	}

	if err := adapter.Run(ctx, delivery); err != nil {
		return true, &DeliveryError{DestinationID: dest.ID, Err: err}
	}
	return false, nil
}
