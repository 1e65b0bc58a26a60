// Package store keeps the flow and resource catalog that the orchestrator
// and the destination fan-out read from.
//
// Two implementations are provided: MemoryStore for tests and dry runs and
// SQLiteStore for a single-process catalog on disk. Both satisfy
// ruleflow.FlowLoader and destination.ResourceStore.
package store

import (
	"context"
	"errors"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/destination"
)

var (
	// ErrNotFound is returned when a flow or resource does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store: closed")

	// ErrMissingID is returned when putting an entity without an id.
	ErrMissingID = errors.New("store: id is required")
)

// Catalog is a flow and resource store.
type Catalog interface {
	ruleflow.FlowLoader
	destination.ResourceStore

	PutFlow(ctx context.Context, flow *ruleflow.Flow) error
	PutResource(ctx context.Context, res *destination.Resource) error
	Close() error
}

var (
	_ Catalog = (*MemoryStore)(nil)
	_ Catalog = (*SQLiteStore)(nil)
)
