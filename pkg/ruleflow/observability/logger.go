// Package observability provides logging helpers, metrics and tracing for
// ruleflow.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event and flow context to a logger.
func EnrichLogger(logger *slog.Logger, eventID, flowID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("flow_id", flowID),
	)
}

// LogInvokeStart logs the start of an orchestrator call.
func LogInvokeStart(logger *slog.Logger, eventCount int) {
	if logger == nil {
		return
	}
	logger.Debug("invoke starting",
		slog.Int("events", eventCount),
	)
}

// LogInvokeComplete logs the end of an orchestrator call.
func LogInvokeComplete(logger *slog.Logger, taskCount int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("invoke completed",
		slog.Int("tasks", taskCount),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNoRules logs an event type that matched no routing rules.
func LogNoRules(logger *slog.Logger, eventType string) {
	if logger == nil {
		return
	}
	logger.Debug("no routing rules for event type",
		slog.String("event_type", eventType),
	)
}

// LogRuleDisabled logs a rule skipped because it is disabled.
func LogRuleDisabled(logger *slog.Logger, ruleName string) {
	if logger == nil {
		return
	}
	logger.Info("rule disabled, skipped",
		slog.String("rule", ruleName),
	)
}

// LogSourceMismatch logs a rule skipped because the event source differs from the tracker source.
func LogSourceMismatch(logger *slog.Logger, ruleName, eventSource, trackerSource string) {
	if logger == nil {
		return
	}
	logger.Warn("event source does not match tracker source",
		slog.String("rule", ruleName),
		slog.String("event_source", eventSource),
		slog.String("tracker_source", trackerSource),
	)
}

// LogConsentDenied logs a rule filtered out by missing profile consents.
func LogConsentDenied(logger *slog.Logger, ruleName, profileID string) {
	if logger == nil {
		return
	}
	logger.Debug("rule requires consents the profile has not granted",
		slog.String("rule", ruleName),
		slog.String("profile_id", profileID),
	)
}

// LogRuleError logs a dangling or malformed rule.
func LogRuleError(logger *slog.Logger, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("rule skipped",
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogTaskError logs a workflow task that failed.
func LogTaskError(logger *slog.Logger, flowID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("workflow task failed",
		slog.String("flow_id", flowID),
		slog.String("error", err.Error()),
	)
}

// LogConditionNotMet logs a destination whose condition evaluated false.
func LogConditionNotMet(logger *slog.Logger, destination string) {
	if logger == nil {
		return
	}
	logger.Info("condition not met, data was not sent to destination",
		slog.String("destination", destination),
	)
}

// LogDeliveryDeferred logs a delivery handed to the deferred queue.
func LogDeliveryDeferred(logger *slog.Logger, destination, key string, wait time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("delivery deferred",
		slog.String("destination", destination),
		slog.String("key", key),
		slog.Duration("wait", wait),
	)
}

// LogPurge logs a batch purge.
func LogPurge(logger *slog.Logger, trigger string, size int) {
	if logger == nil {
		return
	}
	logger.Debug("batch purged",
		slog.String("trigger", trigger),
		slog.Int("size", size),
	)
}

// LogPurgeError logs a failed batch purge. Items stay buffered.
func LogPurgeError(logger *slog.Logger, trigger string, size int, err error) {
	if logger == nil {
		return
	}
	logger.Error("batch purge failed",
		slog.String("trigger", trigger),
		slog.Int("size", size),
		slog.String("error", err.Error()),
	)
}

// TimedOperation returns a function reporting elapsed milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
