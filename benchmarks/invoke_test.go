package benchmarks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// BenchmarkInvoke_1Rule dispatches one event with one rule.
func BenchmarkInvoke_1Rule(b *testing.B) {
	benchmarkInvoke(b, 1, ruleflow.MergeLastResult)
}

// BenchmarkInvoke_10Rules dispatches one event with 10 rules.
func BenchmarkInvoke_10Rules(b *testing.B) {
	benchmarkInvoke(b, 10, ruleflow.MergeLastResult)
}

// BenchmarkInvoke_100Rules dispatches one event with 100 rules.
func BenchmarkInvoke_100Rules(b *testing.B) {
	benchmarkInvoke(b, 100, ruleflow.MergeLastResult)
}

// BenchmarkInvoke_10Rules_FieldMerge adds per-task cloning and field merging.
func BenchmarkInvoke_10Rules_FieldMerge(b *testing.B) {
	benchmarkInvoke(b, 10, ruleflow.MergeFields)
}

func benchmarkInvoke(b *testing.B, rules int, policy ruleflow.MergePolicy) {
	o := mustOrchestrator(policy)
	req := buildRequest(rules)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = o.Invoke(ctx, req)
	}
}

// Helper functions

func mustOrchestrator(policy ruleflow.MergePolicy) *ruleflow.Orchestrator {
	loader := ruleflow.FlowLoaderFunc(func(_ context.Context, id string) (*ruleflow.Flow, error) {
		return &ruleflow.Flow{ID: id, Name: id}, nil
	})
	invoker := ruleflow.WorkflowInvokerFunc(func(_ context.Context, req ruleflow.WorkflowRequest) (*ruleflow.WorkflowResult, error) {
		return &ruleflow.WorkflowResult{
			Profile:      req.Profile,
			Session:      req.Session,
			Event:        req.Event,
			FlowResponse: map[string]any{"flow": req.Flow.ID},
		}, nil
	})
	o, err := ruleflow.New(loader, invoker,
		ruleflow.WithLogger(quietLogger),
		ruleflow.WithMergePolicy(policy),
	)
	if err != nil {
		panic(err)
	}
	return o
}

func buildRequest(rules int) ruleflow.InvokeRequest {
	raw := make([]ruleflow.RawRule, rules)
	for i := range raw {
		raw[i] = ruleflow.RawRule{
			"name": fmt.Sprintf("rule-%d", i),
			"flow": map[string]any{"id": fmt.Sprintf("flow-%d", i)},
		}
	}
	return ruleflow.InvokeRequest{
		Events: []ruleflow.EventRules{{
			Event: ruleflow.Event{ID: "e1", Type: "page-view"},
			Rules: raw,
		}},
		Profile: &ruleflow.Profile{ID: "p1", Traits: map[string]any{"tier": "gold"}},
		Session: &ruleflow.Session{ID: "s1", Context: map[string]any{"page": "/"}},
	}
}
