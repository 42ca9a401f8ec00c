package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

// EventRunFinished is the stream event emitted when a run's metrics are ready.
const EventRunFinished = "runFinished"

type eventPayload struct {
	RunID string               `json:"run_id"`
	Event telemetry.ProbeEvent `json:"event"`
}

// Publisher forwards run activity to a Broker. It implements
// telemetry.Observer.
type Publisher struct {
	broker *Broker
}

// NewPublisher returns a publisher for broker.
func NewPublisher(broker *Broker) *Publisher {
	return &Publisher{broker: broker}
}

func (p *Publisher) EventRecorded(run *telemetry.Run, ev telemetry.ProbeEvent) {
	p.publish(ev.Type, run.ID, eventPayload{RunID: run.ID, Event: ev})
}

func (p *Publisher) RunFinalized(run *telemetry.Run) {
	p.publish(EventRunFinished, run.ID, run.Report(false))
}

func (p *Publisher) publish(typ, runID string, v any) {
	if p.broker.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Could not encode stream event", "type", typ, "error", err)
		return
	}
	p.broker.Publish(Event{Type: typ, RunID: runID, Payload: string(data)})
}
