package ruleflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// recordingHandler captures log records for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// messages returns the messages logged at level.
func (h *recordingHandler) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}

func newRecordingLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{}
	return slog.New(h), h
}

// catalog is an in-memory FlowLoader.
func catalog(flows ...*Flow) FlowLoader {
	byID := make(map[string]*Flow, len(flows))
	for _, f := range flows {
		byID[f.ID] = f
	}
	return FlowLoaderFunc(func(_ context.Context, id string) (*Flow, error) {
		f, ok := byID[id]
		if !ok {
			return nil, errors.New("no such flow " + id)
		}
		return f, nil
	})
}

// recordingInvoker runs fn and remembers every request.
type recordingInvoker struct {
	mu    sync.Mutex
	calls []WorkflowRequest
	fn    func(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error)
}

func (r *recordingInvoker) Invoke(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	if r.fn == nil {
		return echo(req), nil
	}
	return r.fn(ctx, req)
}

func (r *recordingInvoker) requests() []WorkflowRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkflowRequest, len(r.calls))
	copy(out, r.calls)
	return out
}

// echo returns the request's state unchanged with the flow id as response.
func echo(req WorkflowRequest) *WorkflowResult {
	return &WorkflowResult{
		Profile:      req.Profile,
		Session:      req.Session,
		Event:        req.Event,
		FlowResponse: map[string]any{"flow": req.Flow.ID},
	}
}

func rule(name, flowID string) RawRule {
	return RawRule{"id": name + "-id", "name": name, "enabled": true, "flow": map[string]any{"id": flowID, "name": flowID}}
}
