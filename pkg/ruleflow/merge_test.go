package ruleflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())

	var wg sync.WaitGroup
	seen := make(chan int64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int64]bool{}
	for s := range seen {
		unique[s] = true
	}
	assert.Len(t, unique, 100)
	assert.Equal(t, int64(100), c.Current())
}

func TestClone(t *testing.T) {
	p := &Profile{ID: "p1", Traits: map[string]any{"tags": []any{"a"}}}
	c := clone(p)
	require.NotSame(t, p, c)

	c.Traits["tags"] = []any{"b"}
	assert.Equal(t, []any{"a"}, p.Traits["tags"])

	assert.Nil(t, clone[Profile](nil))
}

func TestClone_KeepsValueTypes(t *testing.T) {
	p := &Profile{ID: "p1", Traits: map[string]any{
		"visits": 3,
		"score":  int64(7),
		"nested": map[string]any{"count": 2},
	}}
	c := clone(p)
	assert.Equal(t, 3, c.Traits["visits"])
	assert.Equal(t, int64(7), c.Traits["score"])
	assert.Equal(t, map[string]any{"count": 2}, c.Traits["nested"])

	c.Traits["nested"].(map[string]any)["count"] = 5
	assert.Equal(t, 2, p.Traits["nested"].(map[string]any)["count"])

	s := clone(&Session{ID: "s1", Context: map[string]any{"n": 1}})
	assert.Equal(t, 1, s.Context["n"])
}

func TestFieldMerger_IntTraitsStayInts(t *testing.T) {
	base := &Profile{ID: "p1", Traits: map[string]any{"visits": 1}}
	m := newFieldMerger(base, nil)

	m.apply(1, &WorkflowResult{Profile: &Profile{ID: "p1", Traits: map[string]any{"visits": 2}}})
	assert.Equal(t, 2, m.profile.Traits["visits"])
}

func TestFieldMerger(t *testing.T) {
	base := &Profile{ID: "p1", Traits: map[string]any{"name": "ada", "tier": "bronze", "old": true}}
	m := newFieldMerger(base, nil)

	// Stamp 2 removes "old" and sets tier.
	m.apply(2, &WorkflowResult{Profile: &Profile{ID: "p1", Traits: map[string]any{"name": "ada", "tier": "gold"}}})
	// Stamp 1 is older: its tier write loses, its new field lands.
	m.apply(1, &WorkflowResult{Profile: &Profile{ID: "p1", Traits: map[string]any{"name": "ada", "tier": "silver", "old": true, "city": "Oslo"}}})

	assert.Equal(t, map[string]any{"name": "ada", "tier": "gold", "city": "Oslo"}, m.profile.Traits)
	assert.Nil(t, m.session)
}

func TestFieldMerger_NewProfileAndSession(t *testing.T) {
	m := newFieldMerger(nil, nil)
	m.apply(1, &WorkflowResult{
		Profile: &Profile{ID: "new", Traits: map[string]any{"a": "x"}},
		Session: &Session{ID: "s1", Context: map[string]any{"page": "/"}},
	})

	require.NotNil(t, m.profile)
	assert.Equal(t, "new", m.profile.ID)
	assert.Equal(t, "x", m.profile.Traits["a"])
	require.NotNil(t, m.session)
	assert.Equal(t, "/", m.session.Context["page"])
}

func TestMergePolicyNames(t *testing.T) {
	assert.Equal(t, MergeFields, ParseMergePolicy("fields"))
	assert.Equal(t, MergeLastResult, ParseMergePolicy("last"))
	assert.Equal(t, MergeLastResult, ParseMergePolicy(""))
	assert.Equal(t, "fields", MergeFields.String())
	assert.Equal(t, "last", MergeLastResult.String())
}
