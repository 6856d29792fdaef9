// Package runstore implements the Run Store (C2): the canonical
// run-id -> run.Run map, with transition-serialized mutation and reads
// that return copies.
//
// The interface and locking discipline (serialize writes per run-id,
// defensively copy on read/write) follow the
// teacher's runtime/agent/run.Store plus runtime/agent/run/inmem.Store,
// generalized from upsert-a-flat-record to append-only transition
// history plus iteration records.
package runstore

import (
	"context"
	"errors"

	"github.com/agentgate/core/fsm"
	"github.com/agentgate/core/run"
)

// ErrNotFound indicates no run exists for the given id.
var ErrNotFound = errors.New("runstore: run not found")

// Store persists Run records and their append-only iteration history.
type Store interface {
	Create(ctx context.Context, r *run.Run) error
	Get(ctx context.Context, runID string) (*run.Run, error)

	// UpdateWithTransition atomically applies the fsm transition for evt,
	// appends a TransitionRecord, and persists the result. metadata is
	// attached to the TransitionRecord (e.g. the error that triggered a
	// SYSTEM_ERROR event). Returns *fsm.IllegalTransition unmodified if
	// the transition is not legal from the run's current state; the
	// stored run is left untouched in that case.
	UpdateWithTransition(ctx context.Context, runID string, evt fsm.Event, metadata map[string]any) (*run.Run, error)

	AppendIteration(ctx context.Context, runID string, iter run.Iteration) error

	ListActive(ctx context.Context) ([]*run.Run, error)
	ListByWorkOrder(ctx context.Context, workOrderID string) ([]*run.Run, error)
}

// Validate performs Run Store startup storage validation over the
// records ListActive returns: each must have a non-empty ID and
// WorkOrderID. Terminal records are not checked. corrupted lists the
// run IDs that failed the check; when failOnCorrupt is true a non-empty
// corrupted list is itself returned as an error.
func Validate(ctx context.Context, s Store, failOnCorrupt bool) (corrupted []string, err error) {
	if err := fsm.Validate(); err != nil {
		return nil, err
	}
	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range active {
		if r.ID == "" || r.WorkOrderID == "" {
			corrupted = append(corrupted, r.ID)
		}
	}
	if failOnCorrupt && len(corrupted) > 0 {
		return corrupted, errors.New("runstore: startup validation found corrupted records")
	}
	return corrupted, nil
}
