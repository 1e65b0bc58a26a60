package ruleflow

import "context"

// FlowLoader loads a flow definition by id.
type FlowLoader interface {
	LoadFlow(ctx context.Context, id string) (*Flow, error)
}

// WorkflowInvoker runs one flow for one event. Implementations may mutate
// and return the profile and session they are given.
type WorkflowInvoker interface {
	Invoke(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error)
}

// FlowLoaderFunc adapts a function to FlowLoader.
type FlowLoaderFunc func(ctx context.Context, id string) (*Flow, error)

// LoadFlow calls f.
func (f FlowLoaderFunc) LoadFlow(ctx context.Context, id string) (*Flow, error) {
	return f(ctx, id)
}

// WorkflowInvokerFunc adapts a function to WorkflowInvoker.
type WorkflowInvokerFunc func(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error)

// Invoke calls f.
func (f WorkflowInvokerFunc) Invoke(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error) {
	return f(ctx, req)
}
