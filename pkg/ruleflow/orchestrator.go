package ruleflow

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow/observability"
)

// consoleModule is the module name on entries the orchestrator writes itself.
const consoleModule = "ruleflow.orchestrator"

// Orchestrator dispatches events to the workflows their rules point at.
// It is safe for concurrent use; each Invoke call has its own state.
type Orchestrator struct {
	loader  FlowLoader
	invoker WorkflowInvoker
	cfg     orchestratorConfig
}

// New creates an Orchestrator.
func New(loader FlowLoader, invoker WorkflowInvoker, opts ...Option) (*Orchestrator, error) {
	if loader == nil {
		return nil, ErrNilLoader
	}
	if invoker == nil {
		return nil, ErrNilInvoker
	}
	cfg := defaultOrchestratorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{loader: loader, invoker: invoker, cfg: cfg}, nil
}

type task struct {
	eventType string
	ruleKey   string
	flow      *Flow
	event     Event
	done      chan taskOutcome
}

type taskOutcome struct {
	result *WorkflowResult
	err    error
	stamp  int64
}

// invocation is the state of one Invoke call.
type invocation struct {
	req     InvokeRequest
	result  *Result
	groups  map[string][]*task
	spawned int
	pending int
	clock   *Clock
	merger  *fieldMerger
}

func (inv *invocation) profileID() string {
	if inv.req.Profile == nil {
		return ""
	}
	return inv.req.Profile.ID
}

func (inv *invocation) add(t *task) {
	if _, ok := inv.groups[t.eventType]; !ok {
		inv.result.EventTypes = append(inv.result.EventTypes, t.eventType)
	}
	inv.groups[t.eventType] = append(inv.groups[t.eventType], t)
	inv.spawned++
	inv.pending++
}

// Invoke runs every rule of every event, spawning one task per dispatched
// rule, then aggregates the tasks grouped by event type in first-spawn
// order and in spawn order within a group.
//
// Rule and task failures are recorded as diagnostics and console entries and
// never fail the call. Invoke returns an error only when ctx ends, together
// with whatever was aggregated so far.
func (o *Orchestrator) Invoke(ctx context.Context, req InvokeRequest) (res *Result, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	elapsed := observability.TimedOperation()
	start := time.Now()
	ctx, span := o.cfg.spans.StartInvokeSpan(ctx, len(req.Events))
	observability.LogInvokeStart(o.cfg.logger, len(req.Events))

	inv := o.newInvocation(req)
	defer func() {
		o.cfg.spans.EndSpanWithError(span, err)
		o.cfg.metrics.RecordInvoke(ctx, inv.spawned, time.Since(start), err)
		observability.LogInvokeComplete(o.cfg.logger, inv.spawned, elapsed())
	}()

	for _, er := range req.Events {
		if cerr := ctx.Err(); cerr != nil {
			return inv.result, &CancellationError{Stage: "dispatch", Pending: inv.pending, Cause: cerr}
		}
		o.dispatch(ctx, inv, er)
	}

	if err := o.aggregate(ctx, inv); err != nil {
		return inv.result, err
	}
	return inv.result, nil
}

func (o *Orchestrator) newInvocation(req InvokeRequest) *invocation {
	console := req.Console
	if console == nil {
		console = NewConsole()
		req.Console = console
	}
	inv := &invocation{
		req: req,
		result: &Result{
			Diagnostics:      make(Diagnostics),
			PostInvokeEvents: make(map[string]Event),
			InvokedRules:     make(map[string][]string),
			Profile:          req.Profile,
			Session:          req.Session,
			Console:          console,
		},
		groups: make(map[string][]*task),
		clock:  NewClock(),
	}
	if o.cfg.merge == MergeFields {
		inv.merger = newFieldMerger(req.Profile, req.Session)
	}
	return inv
}

func (o *Orchestrator) dispatch(ctx context.Context, inv *invocation, er EventRules) {
	ev := er.Event
	if ev.Invalid {
		return
	}
	if len(er.Rules) == 0 {
		observability.LogNoRules(o.cfg.logger, ev.Type)
		return
	}
	logger := observability.EnrichLogger(o.cfg.logger, ev.ID, "")
	for _, raw := range er.Rules {
		o.dispatchRule(ctx, inv, logger, ev, raw)
	}
}

func (o *Orchestrator) dispatchRule(ctx context.Context, inv *invocation, logger *slog.Logger, ev Event, raw RawRule) {
	if raw == nil {
		err := &RoutingError{EventID: ev.ID}
		observability.LogRuleError(logger, ev.ID, err)
		o.cfg.metrics.RecordRule(ctx, observability.RuleDangling)
		inv.req.Console.Append(LogEntry{
			Time:      o.cfg.now(),
			Origin:    OriginRule,
			EventID:   ev.ID,
			ProfileID: inv.profileID(),
			Module:    consoleModule,
			Severity:  SeverityError,
			Message:   err.Error(),
		})
		return
	}

	if _, ok := raw["name"]; ok {
		inv.result.InvokedRules[ev.ID] = append(inv.result.InvokedRules[ev.ID], rawString(raw, "name"))
	}

	rule, err := DecodeRule(raw)
	if err != nil {
		observability.LogRuleError(logger, ev.ID, err)
		o.cfg.metrics.RecordRule(ctx, observability.RuleInvalid)
		inv.req.Console.Append(LogEntry{
			Time:      o.cfg.now(),
			Origin:    OriginRule,
			EventID:   ev.ID,
			ProfileID: inv.profileID(),
			Module:    consoleModule,
			Severity:  SeverityError,
			Message:   err.Error(),
			Traceback: traceback(err),
		})
		return
	}

	if o.cfg.enforceConsents && inv.req.Profile != nil &&
		!rule.ConsentsSatisfied(inv.req.Profile.ConsentIDs()) {
		observability.LogConsentDenied(logger, rule.Name, inv.req.Profile.ID)
		o.cfg.metrics.RecordRule(ctx, observability.RuleConsentDenied)
		o.cfg.spans.AddSpanEvent(ctx, "rule.skipped",
			attribute.String("rule", rule.Name),
			attribute.String("reason", ErrConsentDenied.Error()),
		)
		return
	}

	if rule.Flow.ID != "" {
		inv.result.InvokedFlows = append(inv.result.InvokedFlows, rule.Flow.ID)
	}

	if !rule.Enabled {
		observability.LogRuleDisabled(logger, rule.Name)
		o.cfg.metrics.RecordRule(ctx, observability.RuleDisabled)
		return
	}

	key := rule.Name
	if o.cfg.keyByRuleID && rule.ID != "" {
		key = rule.ID
	}

	flow, err := o.loader.LoadFlow(ctx, rule.Flow.ID)
	if err == nil && flow == nil {
		err = ErrFlowNotFound
	}
	if err != nil {
		observability.LogRuleError(logger, ev.ID, &FlowLoadError{FlowID: rule.Flow.ID, Err: err})
		o.cfg.metrics.RecordRule(ctx, observability.RuleFlowLoadFailed)
		inv.result.Diagnostics.put(ev.Type, key, Diagnostic{
			Timestamp: o.cfg.now(),
			FlowID:    rule.Flow.ID,
			FlowName:  rule.Flow.Name,
			EventID:   ev.ID,
			Errors:    []DiagnosticError{{Message: err.Error()}},
		})
		return
	}

	debugFlag := false
	if src := inv.req.Tracker.Source.ID; src != "" {
		if src != ev.Source.ID {
			observability.LogSourceMismatch(logger, rule.Name, ev.Source.ID, src)
			o.cfg.metrics.RecordRule(ctx, observability.RuleSourceMismatch)
			skip := &SourceMismatchError{FlowID: flow.ID, EventSource: ev.Source.ID, TrackerSource: src}
			o.cfg.spans.AddSpanEvent(ctx, "rule.skipped",
				attribute.String("rule", rule.Name),
				attribute.String("reason", skip.Error()),
			)
			return
		}
		debugFlag = inv.req.Tracker.Debug
	}

	profile, session := inv.req.Profile, inv.req.Session
	if o.cfg.merge == MergeFields {
		profile, session = clone(profile), clone(session)
	}
	t := &task{
		eventType: ev.Type,
		ruleKey:   key,
		flow:      flow,
		event:     ev,
		done:      make(chan taskOutcome, 1),
	}
	inv.add(t)
	o.cfg.metrics.RecordRule(ctx, observability.RuleDispatched)

	go o.run(ctx, inv.clock, t, WorkflowRequest{
		Flow:    flow,
		Event:   ev,
		Profile: profile,
		Session: session,
		UX:      inv.req.UX,
		Debug:   debugFlag,
	})
}

// run executes one task. It always delivers exactly one outcome.
func (o *Orchestrator) run(ctx context.Context, clock *Clock, t *task, req WorkflowRequest) {
	start := time.Now()
	ctx, span := o.cfg.spans.StartTaskSpan(ctx, t.flow.ID, t.event.ID)

	var out taskOutcome
	defer func() {
		if r := recover(); r != nil {
			out = taskOutcome{err: &PanicError{
				FlowID: t.flow.ID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}}
		}
		out.stamp = clock.Next()
		o.cfg.spans.EndSpanWithError(span, out.err)
		o.cfg.metrics.RecordTask(ctx, t.flow.ID, time.Since(start), out.err)
		t.done <- out
	}()

	res, err := o.invoker.Invoke(ctx, req)
	if err == nil && res == nil {
		err = ErrEmptyResult
	}
	out = taskOutcome{result: res, err: err}
}

func (o *Orchestrator) aggregate(ctx context.Context, inv *invocation) error {
	for _, eventType := range inv.result.EventTypes {
		for _, t := range inv.groups[eventType] {
			var out taskOutcome
			select {
			case out = <-t.done:
			case <-ctx.Done():
				return &CancellationError{Stage: "aggregate", Pending: inv.pending, Cause: ctx.Err()}
			}
			inv.pending--

			if out.err != nil {
				o.recordFailure(inv, t, out.err)
				continue
			}
			o.recordSuccess(inv, t, out)
		}
	}
	return nil
}

func (o *Orchestrator) recordSuccess(inv *invocation, t *task, out taskOutcome) {
	res := out.result

	if inv.merger != nil {
		inv.merger.apply(out.stamp, res)
		inv.result.Profile, inv.result.Session = inv.merger.profile, inv.merger.session
	} else {
		if res.Profile != nil {
			inv.result.Profile = res.Profile
		}
		if res.Session != nil {
			inv.result.Session = res.Session
		}
	}

	if len(res.Logs) > 0 {
		entries := make([]LogEntry, 0, len(res.Logs))
		for _, l := range res.Logs {
			profileID := l.ProfileID
			if profileID == "" {
				profileID = inv.profileID()
			}
			entries = append(entries, LogEntry{
				Time:      o.cfg.now(),
				Origin:    OriginNode,
				EventID:   t.event.ID,
				FlowID:    t.flow.ID,
				NodeID:    l.NodeID,
				ProfileID: profileID,
				Module:    l.Module,
				Severity:  l.Severity,
				Message:   l.Message,
				Traceback: l.Traceback,
			})
		}
		inv.req.Console.Append(entries...)
	}

	inv.result.FlowResponses = append(inv.result.FlowResponses, res.FlowResponse)

	ev := res.Event
	if ev.ID == "" {
		ev = t.event
	}
	inv.result.PostInvokeEvents[ev.ID] = ev

	diag := res.Diagnostic
	if diag.Timestamp.IsZero() {
		diag.Timestamp = o.cfg.now()
	}
	if diag.FlowID == "" {
		diag.FlowID, diag.FlowName = t.flow.ID, t.flow.Name
	}
	if diag.EventID == "" {
		diag.EventID = t.event.ID
	}
	inv.result.Diagnostics.put(t.eventType, t.ruleKey, diag)
}

func (o *Orchestrator) recordFailure(inv *invocation, t *task, err error) {
	werr := &WorkflowExecutionError{FlowID: t.flow.ID, EventID: t.event.ID, Err: err}
	observability.LogTaskError(observability.EnrichLogger(o.cfg.logger, t.event.ID, t.flow.ID), t.flow.ID, werr)

	tb := traceback(err)
	now := o.cfg.now()
	inv.req.Console.Append(LogEntry{
		Time:      now,
		Origin:    OriginWorkflow,
		EventID:   t.event.ID,
		FlowID:    t.flow.ID,
		ProfileID: inv.profileID(),
		Module:    consoleModule,
		Severity:  SeverityError,
		Message:   err.Error(),
		Traceback: tb,
	})
	inv.result.Diagnostics.put(t.eventType, t.ruleKey, Diagnostic{
		Timestamp: now,
		FlowID:    t.flow.ID,
		FlowName:  t.flow.Name,
		EventID:   t.event.ID,
		Errors:    []DiagnosticError{{Message: werr.Error(), Traceback: tb}},
	})
}
