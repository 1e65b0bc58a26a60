package destination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/deferred"
)

type memResources map[string]*Resource

func (m memResources) LoadResource(_ context.Context, id string) (*Resource, error) {
	r, ok := m[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return r, nil
}

// recorder collects deliveries per destination id.
type recorder struct {
	mu    sync.Mutex
	runs  map[string][]Delivery
	debug map[string]bool
	fail  error
}

func newRecorder() *recorder {
	return &recorder{runs: map[string][]Delivery{}, debug: map[string]bool{}}
}

func (r *recorder) factory(scoped bool) Factory {
	return func(debug bool, _ *Resource, dest *Destination) (Adapter, error) {
		r.mu.Lock()
		r.debug[dest.ID] = debug
		r.mu.Unlock()
		return &recAdapter{r: r, id: dest.ID, scoped: scoped}, nil
	}
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs[id])
}

func (r *recorder) last(id string) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs := r.runs[id]
	return runs[len(runs)-1]
}

type recAdapter struct {
	r      *recorder
	id     string
	scoped bool
}

func (a *recAdapter) ProfileScoped() bool { return a.scoped }

func (a *recAdapter) Run(_ context.Context, d Delivery) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	if a.r.fail != nil {
		return a.r.fail
	}
	a.r.runs[a.id] = append(a.r.runs[a.id], d)
	return nil
}

func testScope() Scope {
	return Scope{
		Profile: &ruleflow.Profile{ID: "p1", Traits: map[string]any{
			"email": "ada@example.com",
			"name":  "Ada",
			"vip":   true,
		}},
		Session: &ruleflow.Session{ID: "s1", Context: map[string]any{"browser": "firefox"}},
		Event:   &ruleflow.Event{ID: "e1", Type: "purchase", Properties: map[string]any{"total": 42.5}},
		Memory:  map[string]any{"step": "checkout"},
	}
}

func dest(id, resource string) Destination {
	return Destination{
		ID:       id,
		Name:     "dest " + id,
		Enabled:  true,
		Resource: ResourceRef{ID: resource},
		Adapter:  "test.Recorder",
		Mapping:  map[string]any{"email": "profile@traits.email"},
	}
}

func newTestManager(t *testing.T, rec *recorder, resources memResources, opts ...Option) *Manager {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister("test.Recorder", rec.factory(true))
	reg.MustRegister("test.EventOnly", rec.factory(false))
	m, err := NewManager(reg, resources, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, memResources{})
	assert.ErrorIs(t, err, ErrNilRegistry)

	_, err = NewManager(NewRegistry(), nil)
	assert.ErrorIs(t, err, ErrNilResources)

	_, err = NewManager(NewRegistry(), memResources{}, WithPostpone(-time.Second))
	assert.Error(t, err)
}

func TestSend_DisabledResourceFailsFast(t *testing.T) {
	rec := newRecorder()
	resources := memResources{
		"r0": {ID: "r0", Name: "CRM", Enabled: true},
		"r1": {ID: "r1", Name: "Mailer", Enabled: false},
		"r2": {ID: "r2", Name: "Warehouse", Enabled: true},
	}
	m := newTestManager(t, rec, resources)

	err := m.Send(context.Background(), testScope(),
		[]Destination{dest("d0", "r0"), dest("d1", "r1"), dest("d2", "r2")},
		"p1", nil, nil, false)

	var rde *ResourceDisabledError
	require.ErrorAs(t, err, &rde)
	assert.Equal(t, "r1", rde.ResourceID)
	assert.Contains(t, err.Error(), "Mailer")

	assert.Equal(t, 1, rec.count("d0"))
	assert.Zero(t, rec.count("d1"))
	assert.Zero(t, rec.count("d2"))
}

func TestSend_DisabledDestinationSkipped(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}})

	off := dest("off", "r")
	off.Enabled = false
	off.Adapter = "broken"

	require.NoError(t, m.Send(context.Background(), testScope(),
		[]Destination{off, dest("on", "r")}, "p1", nil, nil, false))
	assert.Zero(t, rec.count("off"))
	assert.Equal(t, 1, rec.count("on"))
}

func TestSend_AdapterResolution(t *testing.T) {
	tests := []struct {
		name    string
		adapter string
		want    error
	}{
		{"single segment", "Recorder", ErrMalformedPath},
		{"empty", "", ErrMalformedPath},
		{"unregistered", "crm.Unknown", ErrUnknownAdapter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}})

			bad := dest("bad", "r")
			bad.Adapter = tt.adapter
			err := m.Send(context.Background(), testScope(),
				[]Destination{bad, dest("after", "r")}, "p1", nil, nil, false)

			var are *AdapterResolutionError
			require.ErrorAs(t, err, &are)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, rec.count("after"))
		})
	}
}

func TestSend_MissingResource(t *testing.T) {
	m := newTestManager(t, newRecorder(), memResources{})
	err := m.Send(context.Background(), testScope(), []Destination{dest("d", "nope")}, "p1", nil, nil, false)
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestSend_ConditionFalseAbortsRemaining(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}})

	gated := dest("gated", "r")
	gated.Condition = "profile@traits.vip == false"

	err := m.Send(context.Background(), testScope(),
		[]Destination{dest("first", "r"), gated, dest("last", "r")}, "p1", nil, nil, false)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count("first"))
	assert.Zero(t, rec.count("gated"))
	assert.Zero(t, rec.count("last"), "a false condition ends the whole send")
}

func TestSend_PerDestinationCondition(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}}, WithPerDestinationCondition(true))

	gated := dest("gated", "r")
	gated.Condition = "profile@traits.vip == false"
	open := dest("open", "r")
	open.Condition = "profile@traits.vip == true and memory@step == checkout"

	require.NoError(t, m.Send(context.Background(), testScope(),
		[]Destination{gated, open, dest("last", "r")}, "p1", nil, nil, false))

	assert.Zero(t, rec.count("gated"))
	assert.Equal(t, 1, rec.count("open"))
	assert.Equal(t, 1, rec.count("last"))
}

func TestSend_ConditionError(t *testing.T) {
	m := newTestManager(t, newRecorder(), memResources{"r": {ID: "r", Enabled: true}})

	bad := dest("bad", "r")
	bad.Condition = "profile@traits.vip =="
	err := m.Send(context.Background(), testScope(), []Destination{bad}, "p1", nil, nil, false)

	var cee *ConditionEvaluationError
	require.ErrorAs(t, err, &cee)
	assert.Equal(t, "bad", cee.DestinationID)
}

func TestSend_NonProfileScopedAdapterNotRun(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}})

	ev := dest("events", "r")
	ev.Adapter = "test.EventOnly"
	ev.Condition = "this is not evaluated"

	require.NoError(t, m.Send(context.Background(), testScope(),
		[]Destination{ev, dest("profile", "r")}, "p1", nil, nil, false))
	assert.Zero(t, rec.count("events"))
	assert.Equal(t, 1, rec.count("profile"))
}

func TestSend_MappingShapesPayload(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}})

	d := dest("crm", "r")
	d.Mapping = map[string]any{
		"email":    "profile@traits.email",
		"greeting": "Hi ${profile@traits.name}",
		"total":    "event@properties.total",
		"browser":  "session@context.browser",
		"missing":  "profile@traits.nope",
		"static":   "plain text",
	}
	scope := testScope()
	events := []ruleflow.Event{*scope.Event}
	delta := map[string]any{"traits.vip": true}

	require.NoError(t, m.Send(context.Background(), scope, []Destination{d}, "p1", events, delta, true))

	got := rec.last("crm")
	keys := make([]string, 0, len(got.Payload))
	for k := range got.Payload {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"email", "greeting", "total", "browser", "missing", "static"}, keys)
	assert.Equal(t, "ada@example.com", got.Payload["email"])
	assert.Equal(t, "Hi Ada", got.Payload["greeting"])
	assert.Equal(t, 42.5, got.Payload["total"])
	assert.Equal(t, "firefox", got.Payload["browser"])
	assert.Nil(t, got.Payload["missing"])
	assert.Equal(t, "plain text", got.Payload["static"])

	assert.Equal(t, delta, got.ProfileDelta)
	assert.Same(t, scope.Profile, got.Profile)
	assert.Same(t, scope.Session, got.Session)
	assert.Equal(t, events, got.Events)
	assert.True(t, rec.debug["crm"])
}

func TestSend_AdapterErrorStops(t *testing.T) {
	rec := newRecorder()
	rec.fail = errors.New("503")
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}})

	err := m.Send(context.Background(), testScope(), []Destination{dest("d", "r")}, "p1", nil, nil, false)
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "d", de.DestinationID)
}

func TestSend_CancelledContext(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Send(ctx, testScope(), []Destination{dest("d", "r")}, "p1", nil, nil, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rec.count("d"))
}

// captureDeferrer records scheduled calls instead of running them.
type captureDeferrer struct {
	mu    sync.Mutex
	calls []deferred.Call
}

func (c *captureDeferrer) Schedule(call deferred.Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return nil
}

func TestSend_Postponed(t *testing.T) {
	rec := newRecorder()
	def := &captureDeferrer{}
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}},
		WithPostpone(30*time.Second),
		WithDeferrer(def),
		WithInstanceID("node-1"),
	)

	require.NoError(t, m.Send(context.Background(), testScope(),
		[]Destination{dest("crm", "r"), dest("mail", "r")}, "p1", nil, nil, false))

	assert.Zero(t, rec.count("crm"), "postponed deliveries do not run inline")
	require.Len(t, def.calls, 2)
	assert.Equal(t, "p1:crm", def.calls[0].Key)
	assert.Equal(t, "p1:mail", def.calls[1].Key)
	assert.Equal(t, "node-1", def.calls[0].InstanceID)
	assert.Equal(t, 30*time.Second, def.calls[0].Wait)
	assert.Equal(t, "test.Recorder", def.calls[0].Target)

	require.NoError(t, def.calls[0].Fn(context.Background()))
	assert.Equal(t, "ada@example.com", rec.last("crm").Payload["email"])
}

// Postponed sends coalesce per profile and destination: repeated sends for
// one pair keep only the latest, other pairs queue separately.
func TestSend_PostponedCoalescesPerProfileAndDestination(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, rec, memResources{"r": {ID: "r", Enabled: true}},
		WithPostpone(time.Hour))
	require.NotNil(t, m.Queue())

	scope := testScope()
	for i := 0; i < 3; i++ {
		scope.Memory = map[string]any{"n": i}
		d := dest("crm", "r")
		d.Mapping = map[string]any{"n": "memory@n"}
		require.NoError(t, m.Send(context.Background(), scope, []Destination{d}, "p1", nil, nil, false))
	}
	assert.Equal(t, 1, m.Queue().Pending())

	other := dest("erp", "r")
	require.NoError(t, m.Send(context.Background(), scope, []Destination{other}, "p1", nil, nil, false))
	require.NoError(t, m.Send(context.Background(), scope, []Destination{dest("crm", "r")}, "p2", nil, nil, false))
	assert.Equal(t, 3, m.Queue().Pending())

	require.NoError(t, m.Queue().Flush(context.Background()))
	assert.Equal(t, 2, rec.count("crm"))
	assert.Equal(t, 1, rec.count("erp"))
	assert.Equal(t, float64(2), rec.runs["crm"][0].Payload["n"], "latest p1 send wins")
}
