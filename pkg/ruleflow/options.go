package ruleflow

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow/observability"
)

// MergePolicy decides how task results update the shared profile and session.
type MergePolicy int

const (
	// MergeLastResult adopts each successful result's profile and session in
	// aggregation order, so the last one aggregated wins. Every task receives
	// the same profile and session pointers.
	MergeLastResult MergePolicy = iota

	// MergeFields gives each task a private copy and merges the fields each
	// task changed. Conflicting writes to one field resolve to the task that
	// finished last.
	MergeFields
)

// String returns the policy name used in configuration.
func (p MergePolicy) String() string {
	switch p {
	case MergeFields:
		return "fields"
	default:
		return "last"
	}
}

// ParseMergePolicy maps a configuration name to a MergePolicy.
func ParseMergePolicy(name string) MergePolicy {
	if name == "fields" {
		return MergeFields
	}
	return MergeLastResult
}

type orchestratorConfig struct {
	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
	enforceConsents bool
	keyByRuleID     bool
	merge           MergePolicy
	now             func() time.Time
}

func defaultOrchestratorConfig() orchestratorConfig {
	return orchestratorConfig{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		merge:   MergeLastResult,
		now:     time.Now,
	}
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

// WithLogger sets the process logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *orchestratorConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: no metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *orchestratorConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the tracer. Default: no spans.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *orchestratorConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithConsentEnforcement skips rules whose required consents the profile
// has not granted. Profile-less events are never filtered.
func WithConsentEnforcement(enabled bool) Option {
	return func(c *orchestratorConfig) {
		c.enforceConsents = enabled
	}
}

// WithDiagnosticsByRuleID keys diagnostics by rule id instead of rule name,
// so distinct rules sharing a name do not overwrite each other. Rules
// without an id fall back to their name.
func WithDiagnosticsByRuleID(enabled bool) Option {
	return func(c *orchestratorConfig) {
		c.keyByRuleID = enabled
	}
}

// WithMergePolicy sets how task results update profile and session.
// Default: MergeLastResult.
func WithMergePolicy(p MergePolicy) Option {
	return func(c *orchestratorConfig) {
		c.merge = p
	}
}

// WithClock sets the time source for diagnostics and log entries.
func WithClock(now func() time.Time) Option {
	return func(c *orchestratorConfig) {
		if now != nil {
			c.now = now
		}
	}
}
