package telemetry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// RunSet owns the runs of one process: at most one active run, plus every
// completed run in completion order. Runs are never removed.
type RunSet struct {
	observers []Observer

	mu        sync.RWMutex
	active    *Run
	completed []*Run
}

// NewRunSet creates an empty set whose runs report to observers.
func NewRunSet(observers ...Observer) *RunSet {
	return &RunSet{observers: observers}
}

// NewRun creates a run and makes it the active one.
func (s *RunSet) NewRun(meta Meta) *Run {
	r := newRun(uuid.NewString(), meta, s.observers, s.complete)
	s.mu.Lock()
	s.active = r
	s.mu.Unlock()
	return r
}

func (s *RunSet) complete(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, r)
	if s.active == r {
		s.active = nil
	}
}

// Active returns the run currently collecting events, or nil.
func (s *RunSet) Active() *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Completed returns the finalized runs in completion order.
func (s *RunSet) Completed() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Run{}, s.completed...)
}

// All returns completed runs followed by the active run, if any.
func (s *RunSet) All() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]*Run{}, s.completed...)
	if s.active != nil {
		out = append(out, s.active)
	}
	return out
}

// Get looks a run up by ID.
func (s *RunSet) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active != nil && s.active.ID == id {
		return s.active, nil
	}
	for _, r := range s.completed {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrRunNotFound
}
