package trace

import (
	"encoding/json"
	"time"

	"github.com/dgnsrekt/activeprobe/internal/cdp"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

// FrameRecord is one traced protocol frame. Frames that are valid JSON are
// embedded as-is, anything else is kept as text.
type FrameRecord struct {
	Time      time.Time       `json:"time"`
	Direction cdp.Direction   `json:"direction"`
	Frame     json.RawMessage `json:"frame,omitempty"`
	Raw       string          `json:"raw,omitempty"`
}

// FrameTracer writes every sent and received frame of a session.
type FrameTracer struct {
	w *Writer
}

// NewFrameTracer traces into baseDir/<date>/frames/<name>.jsonl.
func NewFrameTracer(baseDir, name string, maxSizeMB int) *FrameTracer {
	return &FrameTracer{w: NewWriter(baseDir, "frames", name, 4096, maxSizeMB)}
}

// TraceFrame implements cdp.Tracer.
func (t *FrameTracer) TraceFrame(dir cdp.Direction, frame []byte) {
	rec := FrameRecord{Time: time.Now().UTC(), Direction: dir}
	if json.Valid(frame) {
		rec.Frame = append(json.RawMessage(nil), frame...)
	} else {
		rec.Raw = string(frame)
	}
	_ = t.w.Write(rec)
}

// Close flushes the trace.
func (t *FrameTracer) Close() error { return t.w.Close() }

// EventRecord is one probe event, or the finalize marker of a run, in the
// event trace.
type EventRecord struct {
	Time      time.Time             `json:"time"`
	RunID     string                `json:"run_id"`
	Event     *telemetry.ProbeEvent `json:"event,omitempty"`
	Finalized bool                  `json:"finalized,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// EventRecorder writes the recorded probe events of every run and marks
// where each run was finalized. It implements telemetry.Observer.
type EventRecorder struct {
	w *Writer
}

// NewEventRecorder records into baseDir/<date>/events/<name>.jsonl.
func NewEventRecorder(baseDir, name string, maxSizeMB int) *EventRecorder {
	return &EventRecorder{w: NewWriter(baseDir, "events", name, 1024, maxSizeMB)}
}

func (r *EventRecorder) EventRecorded(run *telemetry.Run, ev telemetry.ProbeEvent) {
	_ = r.w.Write(EventRecord{Time: time.Now().UTC(), RunID: run.ID, Event: &ev})
}

func (r *EventRecorder) RunFinalized(run *telemetry.Run) {
	rec := EventRecord{Time: time.Now().UTC(), RunID: run.ID, Finalized: true}
	if err := run.Err(); err != nil {
		rec.Error = err.Error()
	}
	_ = r.w.Write(rec)
}

// Close flushes the recorder.
func (r *EventRecorder) Close() error { return r.w.Close() }
