package ruleflow

import (
	"time"
)

// Entity is a reference to another object by id and display name.
type Entity struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Event is an incoming customer event, already matched to its rules.
type Event struct {
	ID     string `json:"id" yaml:"id"`
	Type   string `json:"type" yaml:"type"`
	Source Entity `json:"source" yaml:"source"`

	// Invalid events are skipped without running any rule.
	Invalid bool `json:"invalid,omitempty" yaml:"invalid,omitempty"`

	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Context    map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	Time       time.Time      `json:"time,omitempty" yaml:"time,omitempty"`
}

// Flow is a workflow definition. Definition is opaque to ruleflow and only
// meaningful to the WorkflowInvoker.
type Flow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Definition  map[string]any `json:"definition,omitempty" yaml:"definition,omitempty"`
}

// Profile is the customer profile an event belongs to.
type Profile struct {
	ID     string         `json:"id" yaml:"id"`
	Traits map[string]any `json:"traits,omitempty" yaml:"traits,omitempty"`

	// Consents maps granted consent ids to their details.
	Consents map[string]any `json:"consents,omitempty" yaml:"consents,omitempty"`
}

// ConsentIDs returns the set of granted consent ids.
func (p *Profile) ConsentIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(p.Consents))
	for id := range p.Consents {
		ids[id] = struct{}{}
	}
	return ids
}

// Session is the visit the event was tracked in.
type Session struct {
	ID      string         `json:"id" yaml:"id"`
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

// TrackerPayload carries the ingestion request's source and debug flag.
// A non-empty Source.ID restricts dispatch to events from that source.
type TrackerPayload struct {
	Source Entity `json:"source" yaml:"source"`
	Debug  bool   `json:"debug" yaml:"debug"`
}

// RawRule is an undecoded routing rule. A nil RawRule is a dangling
// reference to a rule that no longer exists.
type RawRule map[string]any

// EventRules pairs an event with the rules that matched its type.
type EventRules struct {
	Rules []RawRule
	Event Event
}

// DiagnosticError is one error recorded in a Diagnostic.
type DiagnosticError struct {
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// Diagnostic records one rule-to-flow invocation attempt.
type Diagnostic struct {
	Timestamp time.Time         `json:"timestamp"`
	FlowID    string            `json:"flow_id"`
	FlowName  string            `json:"flow_name"`
	EventID   string            `json:"event_id"`
	Errors    []DiagnosticError `json:"errors,omitempty"`

	// Debug is the workflow's own debug payload, if any.
	Debug any `json:"debug,omitempty"`
}

// Failed reports whether the diagnostic carries errors.
func (d Diagnostic) Failed() bool {
	return len(d.Errors) > 0
}

// Diagnostics maps event type to rule key to the latest diagnostic.
// The rule key is the rule name unless the orchestrator keys by rule id.
type Diagnostics map[string]map[string]Diagnostic

func (d Diagnostics) put(eventType, ruleKey string, diag Diagnostic) {
	byRule, ok := d[eventType]
	if !ok {
		byRule = make(map[string]Diagnostic)
		d[eventType] = byRule
	}
	byRule[ruleKey] = diag
}

// Count returns the number of diagnostics across event types.
func (d Diagnostics) Count() int {
	n := 0
	for _, byRule := range d {
		n += len(byRule)
	}
	return n
}

// WorkflowLog is a log line produced by a node inside a workflow.
type WorkflowLog struct {
	NodeID    string   `json:"node_id,omitempty"`
	ProfileID string   `json:"profile_id,omitempty"`
	Module    string   `json:"module,omitempty"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Traceback string   `json:"traceback,omitempty"`
}

// WorkflowRequest is what the orchestrator hands to a WorkflowInvoker.
type WorkflowRequest struct {
	Flow    *Flow
	Event   Event
	Profile *Profile
	Session *Session
	UX      []any
	Debug   bool
}

// WorkflowResult is what a WorkflowInvoker returns.
type WorkflowResult struct {
	Profile      *Profile
	Session      *Session
	Event        Event
	FlowResponse map[string]any
	Diagnostic   Diagnostic
	Logs         []WorkflowLog
}

// InvokeRequest is the input to Orchestrator.Invoke.
type InvokeRequest struct {
	Events  []EventRules
	Session *Session
	// Profile is nil for profile-less events.
	Profile *Profile
	UX      []any
	Tracker TrackerPayload
	// Console collects user-visible log entries. A nil Console is replaced
	// with a new one, available on the Result.
	Console *Console
}

// Result is the output of Orchestrator.Invoke.
type Result struct {
	Diagnostics Diagnostics

	// EventTypes lists event types with at least one spawned task, in
	// first-spawn order.
	EventTypes []string

	// PostInvokeEvents holds the events returned by workflows, by id.
	PostInvokeEvents map[string]Event

	// InvokedRules lists rule names per event id.
	InvokedRules map[string][]string

	// InvokedFlows lists flow ids of rules that passed validation and
	// consent checks, including disabled ones.
	InvokedFlows []string

	// FlowResponses are the workflow responses in aggregation order.
	FlowResponses []map[string]any

	Profile *Profile
	Session *Session
	Console *Console
}
