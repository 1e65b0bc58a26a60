package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/config"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/notation"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/template"
)

// dryRunInvoker runs a flow by reading its definition instead of executing
// nodes:
//
//	fail: string      return this error
//	response: map     reshaped into the flow response
//	traits: map       reshaped and merged into the profile traits
//	session: map      reshaped and merged into the session context
type dryRunInvoker struct {
	reshaper *template.Reshaper
}

func newDryRunInvoker() *dryRunInvoker {
	return &dryRunInvoker{reshaper: template.New()}
}

func (d *dryRunInvoker) Invoke(ctx context.Context, req ruleflow.WorkflowRequest) (*ruleflow.WorkflowResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def := config.NewValues(req.Flow.Definition)
	if msg := def.String("fail", ""); msg != "" {
		return nil, errors.New(msg)
	}

	acc, err := notation.NewAccessor(notation.Sources{
		Profile: req.Profile,
		Session: req.Session,
		Event:   req.Event,
		Flow:    req.Flow,
	})
	if err != nil {
		return nil, err
	}

	response, err := d.reshaper.Reshape(def.Sub("response").Raw(), acc)
	if err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}

	// Requests may share the profile and session with other tasks.
	profile := req.Profile
	if traits := def.Sub("traits").Raw(); profile != nil && len(traits) > 0 {
		updates, err := d.reshaper.Reshape(traits, acc)
		if err != nil {
			return nil, fmt.Errorf("traits: %w", err)
		}
		next := *profile
		next.Traits = maps.Clone(profile.Traits)
		if next.Traits == nil {
			next.Traits = make(map[string]any, len(updates))
		}
		maps.Copy(next.Traits, updates)
		profile = &next
	}

	session := req.Session
	if sctx := def.Sub("session").Raw(); session != nil && len(sctx) > 0 {
		updates, err := d.reshaper.Reshape(sctx, acc)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		next := *session
		next.Context = maps.Clone(session.Context)
		if next.Context == nil {
			next.Context = make(map[string]any, len(updates))
		}
		maps.Copy(next.Context, updates)
		session = &next
	}

	result := &ruleflow.WorkflowResult{
		Profile:      profile,
		Session:      session,
		Event:        req.Event,
		FlowResponse: response,
		Logs: []ruleflow.WorkflowLog{{
			NodeID:   "dry-run",
			Module:   "ruleflow.cli",
			Severity: ruleflow.SeverityInfo,
			Message:  fmt.Sprintf("flow %s ran in dry-run mode", req.Flow.ID),
		}},
	}
	if req.Debug {
		result.Diagnostic.Debug = map[string]any{"definition": req.Flow.Definition}
	}
	return result, nil
}
