package telemetry

import (
	"log/slog"
	"sync"
	"time"
)

// Meta describes what a run is testing.
type Meta struct {
	Name       string `json:"name,omitempty"`
	Technology string `json:"technology"`
	VideoURL   string `json:"video_url,omitempty"`
	PageURL    string `json:"page_url"`
}

// Observer is notified as a run records events and when it is finalized.
type Observer interface {
	EventRecorded(run *Run, ev ProbeEvent)
	RunFinalized(run *Run)
}

// Run accumulates the probe events of one test and derives its metrics.
//
// Extract and Finalize are called from the session's handler goroutine; the
// mutex only guards against concurrent readers such as the status API.
type Run struct {
	ID        string
	Meta      Meta
	StartedAt time.Time

	mu            sync.Mutex
	events        []ProbeEvent
	videoDuration int64
	finalized     bool
	finishedAt    time.Time
	metrics       Metrics
	err           error
	done          chan struct{}

	observers  []Observer
	onFinalize func(*Run)
}

func newRun(id string, meta Meta, observers []Observer, onFinalize func(*Run)) *Run {
	return &Run{
		ID:         id,
		Meta:       meta,
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
		observers:  observers,
		onFinalize: onFinalize,
	}
}

// Extract applies one decoded probe message. A finished message triggers
// metric computation and returns its error.
func (r *Run) Extract(msg Message) error {
	switch {
	case recordable(msg.Event):
		ev := ProbeEvent{Type: msg.Event, Timestamp: msg.Timestamp, Data: msg.Data}
		r.mu.Lock()
		if r.finalized {
			r.mu.Unlock()
			slog.Debug("Ignoring event after run finished", "run_id", r.ID, "event", msg.Event)
			return nil
		}
		r.events = append(r.events, ev)
		r.mu.Unlock()
		for _, o := range r.observers {
			o.EventRecorded(r, ev)
		}
	case msg.Event == EventVideoDuration:
		r.mu.Lock()
		r.videoDuration = coerceInt(msg.Data)
		r.mu.Unlock()
	case msg.Event == EventFinished:
		_, err := r.Finalize()
		return err
	default:
		slog.Debug("Ignoring unknown probe event", "run_id", r.ID, "event", msg.Event)
	}
	return nil
}

// Finalize computes the metrics. Only the first call computes; later calls
// return the stored outcome.
func (r *Run) Finalize() (Metrics, error) {
	r.mu.Lock()
	if r.finalized {
		m, err := r.metrics, r.err
		r.mu.Unlock()
		return m, err
	}

	slog.Info("Probing finished, calculating results", "run_id", r.ID, "events", len(r.events))
	m, err := computeMetrics(r.events, r.videoDuration)
	r.metrics, r.err = m, err
	r.finalized = true
	r.finishedAt = time.Now()
	close(r.done)
	r.mu.Unlock()

	if err != nil {
		slog.Warn("Startup metrics unavailable", "run_id", r.ID, "error", err)
	}
	if r.onFinalize != nil {
		r.onFinalize(r)
	}
	for _, o := range r.observers {
		o.RunFinalized(r)
	}
	return m, err
}

// Done is closed when the run has been finalized.
func (r *Run) Done() <-chan struct{} { return r.done }

// Finished reports whether metrics have been computed.
func (r *Run) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// Err returns the metric computation error, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Metrics returns the derived metrics and whether they have been computed.
func (r *Run) Metrics() (Metrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics, r.finalized
}

// Events returns a copy of the recorded event log.
func (r *Run) Events() []ProbeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProbeEvent{}, r.events...)
}

// VideoDuration returns the last reported video duration.
func (r *Run) VideoDuration() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videoDuration
}

// Report is a point-in-time snapshot of a run for output.
type Report struct {
	ID         string       `json:"id"`
	Meta       Meta         `json:"meta"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Finished   bool         `json:"finished"`
	EventCount int          `json:"event_count"`
	Events     []ProbeEvent `json:"events,omitempty"`
	Metrics    *Metrics     `json:"metrics,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Report snapshots the run. Events are included only when withEvents is set.
func (r *Run) Report(withEvents bool) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{
		ID:         r.ID,
		Meta:       r.Meta,
		StartedAt:  r.StartedAt,
		Finished:   r.finalized,
		EventCount: len(r.events),
	}
	if withEvents {
		rep.Events = append([]ProbeEvent{}, r.events...)
	}
	if r.finalized {
		finishedAt := r.finishedAt
		m := r.metrics
		rep.FinishedAt = &finishedAt
		rep.Metrics = &m
	}
	if r.err != nil {
		rep.Error = r.err.Error()
	}
	return rep
}
