package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/destination"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/store"
)

var catalogs = map[string]func(t *testing.T) store.Catalog{
	"memory": func(*testing.T) store.Catalog { return store.NewMemoryStore() },
	"sqlite": func(t *testing.T) store.Catalog {
		s, err := store.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return s
	},
}

func TestCatalog_FlowRoundTrip(t *testing.T) {
	for name, open := range catalogs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			flow := &ruleflow.Flow{
				ID:         "f1",
				Name:       "Welcome",
				Definition: map[string]any{"nodes": []any{"start"}},
			}
			require.NoError(t, s.PutFlow(ctx, flow))

			got, err := s.LoadFlow(ctx, "f1")
			require.NoError(t, err)
			assert.Equal(t, "Welcome", got.Name)
			assert.Equal(t, []any{"start"}, got.Definition["nodes"])

			// Stored values are detached from the caller.
			got.Name = "changed"
			again, err := s.LoadFlow(ctx, "f1")
			require.NoError(t, err)
			assert.Equal(t, "Welcome", again.Name)
		})
	}
}

func TestCatalog_Upsert(t *testing.T) {
	for name, open := range catalogs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			require.NoError(t, s.PutResource(ctx, &destination.Resource{ID: "r1", Name: "crm", Enabled: true}))
			require.NoError(t, s.PutResource(ctx, &destination.Resource{ID: "r1", Name: "crm", Enabled: false}))

			got, err := s.LoadResource(ctx, "r1")
			require.NoError(t, err)
			assert.False(t, got.Enabled)
		})
	}
}

func TestCatalog_NotFound(t *testing.T) {
	for name, open := range catalogs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			_, err := s.LoadFlow(ctx, "missing")
			assert.ErrorIs(t, err, store.ErrNotFound)
			assert.Contains(t, err.Error(), "missing")

			_, err = s.LoadResource(ctx, "missing")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestCatalog_MissingID(t *testing.T) {
	for name, open := range catalogs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			assert.ErrorIs(t, s.PutFlow(ctx, &ruleflow.Flow{Name: "x"}), store.ErrMissingID)
			assert.ErrorIs(t, s.PutFlow(ctx, nil), store.ErrMissingID)
			assert.ErrorIs(t, s.PutResource(ctx, &destination.Resource{}), store.ErrMissingID)
		})
	}
}

func TestCatalog_Closed(t *testing.T) {
	for name, open := range catalogs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			assert.NoError(t, s.Close())
			assert.NoError(t, s.Close())

			assert.ErrorIs(t, s.PutFlow(ctx, &ruleflow.Flow{ID: "f1"}), store.ErrStoreClosed)
			_, err := s.LoadFlow(ctx, "f1")
			assert.ErrorIs(t, err, store.ErrStoreClosed)
			_, err = s.LoadResource(ctx, "r1")
			assert.ErrorIs(t, err, store.ErrStoreClosed)
		})
	}
}

func TestCatalog_Concurrent(t *testing.T) {
	for name, open := range catalogs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			const workers = 20
			var wg sync.WaitGroup
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("f%d", i%5)
					for j := 0; j < 10; j++ {
						if j%2 == 0 {
							_ = s.PutFlow(ctx, &ruleflow.Flow{ID: id, Name: id})
						} else {
							_, _ = s.LoadFlow(ctx, id)
						}
					}
				}(i)
			}
			wg.Wait()

			for i := 0; i < 5; i++ {
				id := fmt.Sprintf("f%d", i)
				got, err := s.LoadFlow(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, id, got.Name)
			}
		})
	}
}

func TestCatalog_ServesOrchestrator(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.PutFlow(ctx, &ruleflow.Flow{ID: "f1", Name: "Welcome"}))

	o, err := ruleflow.New(s, ruleflow.WorkflowInvokerFunc(
		func(_ context.Context, req ruleflow.WorkflowRequest) (*ruleflow.WorkflowResult, error) {
			return &ruleflow.WorkflowResult{FlowResponse: map[string]any{"flow": req.Flow.Name}}, nil
		},
	))
	require.NoError(t, err)

	res, err := o.Invoke(ctx, ruleflow.InvokeRequest{
		Events: []ruleflow.EventRules{{
			Event: ruleflow.Event{ID: "e1", Type: "page-view"},
			Rules: []ruleflow.RawRule{
				{"name": "r1", "flow": map[string]any{"id": "f1"}},
				{"name": "r2", "flow": map[string]any{"id": "nope"}},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"flow": "Welcome"}}, res.FlowResponses)
	assert.True(t, res.Diagnostics["page-view"]["r2"].Failed())
}
