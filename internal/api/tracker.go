package api

import (
	"context"
	"sync/atomic"

	"github.com/dgnsrekt/activeprobe/internal/cdp"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

// Tracker implements Service over a RunSet and the most recent session.
type Tracker struct {
	runs    *telemetry.RunSet
	session atomic.Pointer[cdp.Session]
}

// NewTracker returns a tracker reading runs.
func NewTracker(runs *telemetry.RunSet) *Tracker {
	return &Tracker{runs: runs}
}

// SetSession records the session of the test being run.
func (t *Tracker) SetSession(s *cdp.Session) { t.session.Store(s) }

func (t *Tracker) ListRuns(_ context.Context) []telemetry.Report {
	all := t.runs.All()
	out := make([]telemetry.Report, 0, len(all))
	for _, r := range all {
		out = append(out, r.Report(false))
	}
	return out
}

func (t *Tracker) GetRun(_ context.Context, id string, withEvents bool) (telemetry.Report, error) {
	r, err := t.runs.Get(id)
	if err != nil {
		return telemetry.Report{}, err
	}
	return r.Report(withEvents), nil
}

func (t *Tracker) ActiveRun(_ context.Context, withEvents bool) (telemetry.Report, error) {
	r := t.runs.Active()
	if r == nil {
		return telemetry.Report{}, telemetry.ErrRunNotFound
	}
	return r.Report(withEvents), nil
}

func (t *Tracker) SessionStatus(_ context.Context) SessionStatus {
	s := t.session.Load()
	if s == nil {
		return SessionStatus{State: "none"}
	}
	st := SessionStatus{
		Connected: s.State() == cdp.StateConnected,
		State:     s.State().String(),
		WSURL:     s.URL(),
	}
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}
