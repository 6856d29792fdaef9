// Package inmem provides an in-memory runstore.Store for tests and
// local development. Records do not survive process restart; use
// runstore/mongo for durability. Grounded on runtime/agent/run/inmem.Store's
// mutex-guarded map and defensive-copy-on-read/write discipline.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/agentgate/core/fsm"
	"github.com/agentgate/core/run"
	"github.com/agentgate/core/runstore"
)

// Store implements runstore.Store with no durability.
type Store struct {
	mu         sync.RWMutex
	runs       map[string]*run.Run
	iterations map[string][]run.Iteration
	// perRun serializes UpdateWithTransition/AppendIteration calls for a
	// single run-id, matching the "no write race for the same run-id"
	// contract.
	perRun map[string]*sync.Mutex
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		runs:       make(map[string]*run.Run),
		iterations: make(map[string][]run.Iteration),
		perRun:     make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.perRun[runID]
	if !ok {
		m = &sync.Mutex{}
		s.perRun[runID] = m
	}
	return m
}

func (s *Store) Create(_ context.Context, r *run.Run) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	copied := *r
	s.mu.Lock()
	s.runs[r.ID] = &copied
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(_ context.Context, runID string) (*run.Run, error) {
	s.mu.RLock()
	r, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, runstore.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *Store) UpdateWithTransition(_ context.Context, runID string, evt fsm.Event, metadata map[string]any) (*run.Run, error) {
	lock := s.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existing, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, runstore.ErrNotFound
	}

	to, err := fsm.Apply(existing.State, evt)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.State = to
	updated.UpdatedAt = time.Now()
	if evt == fsm.EventFeedbackGenerated {
		updated.Iteration++
	}
	if to.Terminal() {
		if result, ok := run.ResultForTransition(evt); ok {
			updated.Result = result
		}
	}
	updated.History = append(append([]run.TransitionRecord{}, existing.History...), run.TransitionRecord{
		Event:    evt,
		To:       to,
		At:       updated.UpdatedAt,
		Metadata: metadata,
	})

	s.mu.Lock()
	s.runs[runID] = &updated
	s.mu.Unlock()

	copied := updated
	return &copied, nil
}

func (s *Store) AppendIteration(_ context.Context, runID string, iter run.Iteration) error {
	lock := s.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[runID]
	if !ok {
		return runstore.ErrNotFound
	}
	updated := *existing
	updated.Iteration = iter.Index
	updated.UpdatedAt = time.Now()
	s.runs[runID] = &updated
	s.iterations[runID] = append(s.iterations[runID], iter)
	return nil
}

// Iterations returns the append-only iteration history for runID.
func (s *Store) Iterations(runID string) []run.Iteration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]run.Iteration{}, s.iterations[runID]...)
}

func (s *Store) ListActive(_ context.Context) ([]*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*run.Run
	for _, r := range s.runs {
		if r.Terminal() {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

func (s *Store) ListByWorkOrder(_ context.Context, workOrderID string) ([]*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*run.Run
	for _, r := range s.runs {
		if r.WorkOrderID != workOrderID {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

// Reset clears all stored runs. Test-only; not part of runstore.Store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = make(map[string]*run.Run)
	s.perRun = make(map[string]*sync.Mutex)
}
