/*
Package ruleflow dispatches customer events to workflows.

An Orchestrator receives events paired with the routing rules that matched
their type. For every rule it checks that the rule exists, decodes and
validates it, applies consent and enablement filters, loads the referenced
flow and applies the tracker's source filter. Each surviving rule spawns a
concurrent workflow task through a WorkflowInvoker.

All tasks are spawned before any is awaited. Tasks are then aggregated in a
fixed order: grouped by event type in the order the types were first seen,
and in spawn order within a group.

# Basic Usage

	orch, err := ruleflow.New(store, invoker,
	    ruleflow.WithConsentEnforcement(true),
	    ruleflow.WithLogger(logger),
	)
	if err != nil {
	    return err
	}

	res, err := orch.Invoke(ctx, ruleflow.InvokeRequest{
	    Events:  []ruleflow.EventRules{{Event: ev, Rules: rules}},
	    Profile: profile,
	    Session: session,
	    Tracker: ruleflow.TrackerPayload{Source: ruleflow.Entity{ID: "web"}},
	})

# Failures

A missing or malformed rule, a flow that cannot be loaded and a failing
workflow are all local to their rule. They become console entries and
diagnostics on the Result and never fail the call. Invoke returns an error
only when its context ends.

# Profile and Session

With the default MergeLastResult policy every task receives the same profile
and session and the Result carries whichever task result was aggregated
last. MergeFields hands each task a private copy and merges the fields each
task changed, resolving conflicts by task completion order.

# Subpackages

  - batch: bounded, idle-timeout batch accumulator
  - destination: fan-out of profile changes to external destinations
  - deferred: per-key debounced call queue for postponed deliveries
  - condition, template, notation: destination conditions and payload mapping
  - store: flow and resource catalog (memory and SQLite)
  - config, observability: settings, logging, metrics and tracing
*/
package ruleflow
