package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingTelemetryEvent reports that a metric could not be derived because
// an event it correlates was never recorded.
var ErrMissingTelemetryEvent = errors.New("missing telemetry event")

// MissingEventError names the events a computation needed but did not find.
type MissingEventError struct {
	Events []string
}

func (e *MissingEventError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingTelemetryEvent, strings.Join(e.Events, ", "))
}

func (e *MissingEventError) Is(target error) bool { return target == ErrMissingTelemetryEvent }

// StallingEpisode is an interval between a stalling report and the next
// playing report.
type StallingEpisode struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// QualitySwitch is a reported playback quality level.
type QualitySwitch struct {
	Timestamp float64 `json:"timestamp"`
	Level     any     `json:"level"`
}

// Metrics are derived once per run. Startup fields are nil when the events
// they need are missing.
type Metrics struct {
	PlayerLoadTime          *float64          `json:"player_load_time_ms,omitempty"`
	StartupDelay            *float64          `json:"startup_delay_ms,omitempty"`
	VideoDuration           int64             `json:"video_duration_s"`
	StallingEpisodes        []StallingEpisode `json:"stalling_episodes"`
	TotalStallingDuration   float64           `json:"total_stalling_duration_ms"`
	AverageStallingDuration float64           `json:"average_stalling_duration_ms"`
	QualitySwitches         []QualitySwitch   `json:"quality_switches"`
}

// StallingCount returns the number of closed stalling episodes.
func (m Metrics) StallingCount() int { return len(m.StallingEpisodes) }

// QualityTimeline returns the quality switches as parallel timestamp and
// level slices.
func (m Metrics) QualityTimeline() ([]float64, []any) {
	times := make([]float64, len(m.QualitySwitches))
	levels := make([]any, len(m.QualitySwitches))
	for i, q := range m.QualitySwitches {
		times[i] = q.Timestamp
		levels[i] = q.Level
	}
	return times, levels
}

// computeMetrics runs the derivation pipeline in order: startup, stalling,
// quality switches. A startup failure is returned but does not stop the
// later stages.
func computeMetrics(events []ProbeEvent, videoDuration int64) (Metrics, error) {
	m := Metrics{VideoDuration: videoDuration}

	loadTime, startupDelay, err := startupMetrics(events)
	if err == nil {
		m.PlayerLoadTime = &loadTime
		m.StartupDelay = &startupDelay
	}

	var d StallDetector
	for _, ev := range events {
		d.Observe(ev)
	}
	m.StallingEpisodes = d.Episodes()
	m.TotalStallingDuration = d.Total()
	m.AverageStallingDuration = d.Average()

	m.QualitySwitches = qualitySwitches(events)
	return m, err
}

func startupMetrics(events []ProbeEvent) (loadTime, startupDelay float64, err error) {
	pageLoaded, okPage := firstEvent(events, EventPageLoaded, "")
	playerReady, okReady := firstEvent(events, EventPlayerReady, "")
	playing, okPlaying := firstEvent(events, EventPlayerStateChange, StatePlaying)

	var missing []string
	if !okPage {
		missing = append(missing, EventPageLoaded)
	}
	if !okReady {
		missing = append(missing, EventPlayerReady)
	}
	if !okPlaying {
		missing = append(missing, EventPlayerStateChange+"("+StatePlaying+")")
	}
	if len(missing) > 0 {
		return 0, 0, &MissingEventError{Events: missing}
	}

	return playerReady.Timestamp - pageLoaded.Timestamp, playing.Timestamp - playerReady.Timestamp, nil
}

// firstEvent finds the first event of the given type, additionally matching
// string data when data is non-empty.
func firstEvent(events []ProbeEvent, typ, data string) (ProbeEvent, bool) {
	for _, ev := range events {
		if ev.Type != typ {
			continue
		}
		if data != "" {
			if s, ok := ev.DataString(); !ok || s != data {
				continue
			}
		}
		return ev, true
	}
	return ProbeEvent{}, false
}

func qualitySwitches(events []ProbeEvent) []QualitySwitch {
	out := []QualitySwitch{}
	for _, ev := range events {
		if ev.Type == EventPlayerQualityChange {
			out = append(out, QualitySwitch{Timestamp: ev.Timestamp, Level: ev.Data})
		}
	}
	return out
}

// StallDetector is the two-state machine over playerStateChange events.
// Only "stalling" and "playing" observations affect it; consecutive stalling
// reports coalesce into one episode.
type StallDetector struct {
	stalling bool
	start    float64
	episodes []StallingEpisode
	total    float64
	average  float64
}

// Observe feeds one event and returns the episode it closed, if any.
func (d *StallDetector) Observe(ev ProbeEvent) (StallingEpisode, bool) {
	if ev.Type != EventPlayerStateChange {
		return StallingEpisode{}, false
	}
	state, _ := ev.DataString()

	switch state {
	case StateStalling:
		if !d.stalling {
			d.stalling = true
			d.start = ev.Timestamp
		}
	case StatePlaying:
		if d.stalling {
			d.stalling = false
			ep := StallingEpisode{Start: d.start, Duration: ev.Timestamp - d.start}
			d.episodes = append(d.episodes, ep)
			d.total += ep.Duration
			d.average = d.total / float64(len(d.episodes))
			return ep, true
		}
	}
	return StallingEpisode{}, false
}

// Stalling reports whether an episode is open.
func (d *StallDetector) Stalling() bool { return d.stalling }

// Episodes returns the closed episodes in order.
func (d *StallDetector) Episodes() []StallingEpisode {
	return append([]StallingEpisode{}, d.episodes...)
}

// Total is the summed duration of closed episodes.
func (d *StallDetector) Total() float64 { return d.total }

// Average is the running mean of closed episode durations.
func (d *StallDetector) Average() float64 { return d.average }
