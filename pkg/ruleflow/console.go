package ruleflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Origin names the layer that produced a LogEntry.
type Origin string

// LogEntry origins.
const (
	OriginRule     Origin = "rule"
	OriginNode     Origin = "node"
	OriginWorkflow Origin = "workflow"
)

// Severity is the level of a LogEntry.
type Severity string

// LogEntry severities.
const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is one user-visible record of what happened during an Invoke.
// Entries are never mutated after they are appended.
type LogEntry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Origin    Origin    `json:"origin"`
	EventID   string    `json:"event_id,omitempty"`
	FlowID    string    `json:"flow_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	ProfileID string    `json:"profile_id,omitempty"`
	Module    string    `json:"module,omitempty"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Traceback string    `json:"traceback,omitempty"`
}

// Console is a caller-owned, append-only collection of LogEntry values.
// It is safe for concurrent use.
type Console struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewConsole creates an empty Console.
func NewConsole() *Console {
	return &Console{}
}

// Append adds entries, filling in a missing ID or Time.
func (c *Console) Append(entries ...LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		c.entries = append(c.entries, e)
	}
}

// Entries returns a copy of the entries in append order.
func (c *Console) Entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *Console) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Filter returns the entries with the given severity.
func (c *Console) Filter(severity Severity) []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []LogEntry
	for _, e := range c.entries {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}
