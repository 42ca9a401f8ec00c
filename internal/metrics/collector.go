// Package metrics exposes session traffic and playback QoE as Prometheus
// metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

const namespace = "activeprobe"

// Run outcomes used as the runs_completed label.
const (
	OutcomeComplete   = "complete"
	OutcomeIncomplete = "incomplete"
)

var msBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Collector implements cdp.Observer and telemetry.Observer. Each collector
// owns its registry so tests and multiple instances do not collide.
type Collector struct {
	reg *prometheus.Registry

	framesReceived    *prometheus.CounterVec
	commandsSent      *prometheus.CounterVec
	commandsTimedOut  *prometheus.CounterVec
	probeEvents       *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	stalling          prometheus.Gauge
	startupDelay      prometheus.Histogram
	playerLoadTime    prometheus.Histogram
	stallingDuration  prometheus.Histogram
	stallingEpisodes  prometheus.Histogram
	qualitySwitches   prometheus.Histogram
	lastStartupDelay  prometheus.Gauge
	lastVideoDuration prometheus.Gauge
}

// NewCollector registers all metrics on a fresh registry, together with the
// Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cdp", Name: "frames_received_total",
			Help: "Inbound protocol frames by kind (result, event, error, malformed)",
		}, []string{"kind"}),
		commandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cdp", Name: "commands_sent_total",
			Help: "Commands written to the session by method",
		}, []string{"method"}),
		commandsTimedOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cdp", Name: "commands_timed_out_total",
			Help: "Commands whose result never arrived, by method",
		}, []string{"method"}),
		probeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "probe", Name: "events_total",
			Help: "Recorded probe events by type",
		}, []string{"type"}),
		runsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_completed_total",
			Help: "Finalized runs by outcome",
		}, []string{"outcome"}),
		stalling: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "probe", Name: "stalling",
			Help: "1 while the active run is in a stalling episode",
		}),
		startupDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "startup_delay_ms",
			Help:    "Time from player ready to first playing state",
			Buckets: msBuckets,
		}),
		playerLoadTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "player_load_time_ms",
			Help:    "Time from page load to player ready",
			Buckets: msBuckets,
		}),
		stallingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stalling_duration_ms",
			Help:    "Duration of each closed stalling episode",
			Buckets: msBuckets,
		}),
		stallingEpisodes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stalling_episodes_per_run",
			Help:    "Stalling episodes per finalized run",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		qualitySwitches: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "quality_switches_per_run",
			Help:    "Quality switches per finalized run",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		lastStartupDelay: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_startup_delay_ms",
			Help: "Startup delay of the most recent run with complete startup events",
		}),
		lastVideoDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_video_duration_seconds",
			Help: "Video duration reported by the most recent run",
		}),
	}
}

// Registry returns the registry the collector's metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

func (c *Collector) CommandSent(method string) {
	c.commandsSent.WithLabelValues(method).Inc()
}

func (c *Collector) CommandTimedOut(method string) {
	c.commandsTimedOut.WithLabelValues(method).Inc()
}

func (c *Collector) FrameReceived(kind string) {
	c.framesReceived.WithLabelValues(kind).Inc()
}

func (c *Collector) EventRecorded(_ *telemetry.Run, ev telemetry.ProbeEvent) {
	c.probeEvents.WithLabelValues(ev.Type).Inc()
	if ev.Type != telemetry.EventPlayerStateChange {
		return
	}
	switch state, _ := ev.DataString(); state {
	case telemetry.StateStalling:
		c.stalling.Set(1)
	case telemetry.StatePlaying:
		c.stalling.Set(0)
	}
}

func (c *Collector) RunFinalized(run *telemetry.Run) {
	c.stalling.Set(0)
	m, _ := run.Metrics()

	outcome := OutcomeComplete
	if errors.Is(run.Err(), telemetry.ErrMissingTelemetryEvent) {
		outcome = OutcomeIncomplete
	}
	c.runsCompleted.WithLabelValues(outcome).Inc()

	if m.StartupDelay != nil {
		c.startupDelay.Observe(*m.StartupDelay)
		c.lastStartupDelay.Set(*m.StartupDelay)
	}
	if m.PlayerLoadTime != nil {
		c.playerLoadTime.Observe(*m.PlayerLoadTime)
	}
	for _, ep := range m.StallingEpisodes {
		c.stallingDuration.Observe(ep.Duration)
	}
	c.stallingEpisodes.Observe(float64(m.StallingCount()))
	c.qualitySwitches.Observe(float64(len(m.QualitySwitches)))
	c.lastVideoDuration.Set(float64(m.VideoDuration))
}
