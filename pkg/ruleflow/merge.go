package ruleflow

import (
	"reflect"
	"sync/atomic"
)

// Clock is a monotonic logical clock. Each Next call returns a stamp
// greater than every stamp returned before it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at zero.
func NewClock() *Clock {
	return &Clock{}
}

// Next advances the clock and returns the new stamp.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last stamp without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// clone deep-copies a profile or session. Nested maps and slices are
// copied and every other value keeps its dynamic type, so an int trait
// stays an int.
func clone[T Profile | Session](v *T) *T {
	if v == nil {
		return nil
	}
	switch x := any(v).(type) {
	case *Profile:
		return any(&Profile{ID: x.ID, Traits: copyMap(x.Traits), Consents: copyMap(x.Consents)}).(*T)
	case *Session:
		return any(&Session{ID: x.ID, Context: copyMap(x.Context)}).(*T)
	}
	c := *v
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		if x == nil {
			return x
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// fieldMerger applies per-task deltas to one profile and session. A delta
// is what a task changed relative to the profile and session as they were
// before any task was spawned. Each written field remembers the stamp of
// its writer and only a later stamp may overwrite it.
type fieldMerger struct {
	baseProfile *Profile
	baseSession *Session

	profile *Profile
	session *Session

	versions map[string]int64
}

func newFieldMerger(profile *Profile, session *Session) *fieldMerger {
	return &fieldMerger{
		baseProfile: clone(profile),
		baseSession: clone(session),
		profile:     clone(profile),
		session:     clone(session),
		versions:    make(map[string]int64),
	}
}

func (m *fieldMerger) apply(stamp int64, res *WorkflowResult) {
	if res.Profile != nil {
		after := clone(res.Profile)
		if m.profile == nil {
			m.profile = &Profile{ID: after.ID}
		}
		var traits, consents map[string]any
		if m.baseProfile != nil {
			traits, consents = m.baseProfile.Traits, m.baseProfile.Consents
		}
		m.mergeMap(stamp, "profile.traits", &m.profile.Traits, traits, after.Traits)
		m.mergeMap(stamp, "profile.consents", &m.profile.Consents, consents, after.Consents)
	}
	if res.Session != nil {
		after := clone(res.Session)
		if m.session == nil {
			m.session = &Session{ID: after.ID}
		}
		var sctx map[string]any
		if m.baseSession != nil {
			sctx = m.baseSession.Context
		}
		m.mergeMap(stamp, "session.context", &m.session.Context, sctx, after.Context)
	}
}

func (m *fieldMerger) mergeMap(stamp int64, prefix string, dst *map[string]any, before, after map[string]any) {
	for k, v := range after {
		if old, ok := before[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		if !m.claim(prefix+"."+k, stamp) {
			continue
		}
		if *dst == nil {
			*dst = make(map[string]any)
		}
		(*dst)[k] = v
	}
	for k := range before {
		if _, ok := after[k]; ok {
			continue
		}
		if m.claim(prefix+"."+k, stamp) && *dst != nil {
			delete(*dst, k)
		}
	}
}

func (m *fieldMerger) claim(field string, stamp int64) bool {
	if v, ok := m.versions[field]; ok && v > stamp {
		return false
	}
	m.versions[field] = stamp
	return true
}
