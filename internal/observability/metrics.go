// Package observability exposes the daemon's Prometheus metrics: session
// lifecycle counters, reconnect activity and the subsystem state gauge.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/avream/avreamd/internal/state"
)

// Metrics is the daemon metric set. A nil *Metrics is valid and records
// nothing, so components can run unmetered in tests.
type Metrics struct {
	registry *prometheus.Registry

	videoStarts          *prometheus.CounterVec
	videoStartFailures   prometheus.Counter
	videoStops           prometheus.Counter
	reconnectAttempts    prometheus.Counter
	reconnectExhaustions prometheus.Counter
	audioStarts          *prometheus.CounterVec
	audioStops           prometheus.Counter
	helperCalls          *prometheus.CounterVec
	subsystemState       *prometheus.GaugeVec
}

var subsystemStates = []state.SubsystemState{
	state.StateStopped,
	state.StateStarting,
	state.StateRunning,
	state.StateStopping,
	state.StateError,
}

// NewMetrics builds and registers the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		videoStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avreamd",
			Name:      "video_session_starts_total",
			Help:      "Video sessions started, by trigger.",
		}, []string{"trigger"}),
		videoStartFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avreamd",
			Name:      "video_session_start_failures_total",
			Help:      "Video session starts that failed.",
		}),
		videoStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avreamd",
			Name:      "video_session_stops_total",
			Help:      "Video sessions stopped.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avreamd",
			Name:      "reconnect_attempts_total",
			Help:      "Restart attempts made by the reconnect controller.",
		}),
		reconnectExhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avreamd",
			Name:      "reconnect_exhaustions_total",
			Help:      "Reconnect cycles that ran out of attempts.",
		}),
		audioStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avreamd",
			Name:      "audio_starts_total",
			Help:      "Audio bridge starts, by backend.",
		}, []string{"backend"}),
		audioStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avreamd",
			Name:      "audio_stops_total",
			Help:      "Audio bridge stops.",
		}),
		helperCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avreamd",
			Name:      "helper_calls_total",
			Help:      "Privileged helper invocations, by action and outcome.",
		}, []string{"action", "outcome"}),
		subsystemState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "avreamd",
			Name:      "subsystem_state",
			Help:      "Current subsystem state, 1 for the active state.",
		}, []string{"subsystem", "state"}),
	}

	registry.MustRegister(
		m.videoStarts,
		m.videoStartFailures,
		m.videoStops,
		m.reconnectAttempts,
		m.reconnectExhaustions,
		m.audioStarts,
		m.audioStops,
		m.helperCalls,
		m.subsystemState,
	)
	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// VideoStarted counts a session start; fromWatch marks reconnect restarts.
func (m *Metrics) VideoStarted(fromWatch bool) {
	if m == nil {
		return
	}
	trigger := "manual"
	if fromWatch {
		trigger = "reconnect"
	}
	m.videoStarts.WithLabelValues(trigger).Inc()
}

// VideoStartFailed counts a failed session start.
func (m *Metrics) VideoStartFailed() {
	if m == nil {
		return
	}
	m.videoStartFailures.Inc()
}

// VideoStopped counts a session stop.
func (m *Metrics) VideoStopped() {
	if m == nil {
		return
	}
	m.videoStops.Inc()
}

// ReconnectAttempt counts one restart attempt.
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// ReconnectExhausted counts a reconnect cycle giving up.
func (m *Metrics) ReconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectExhaustions.Inc()
}

// AudioStarted counts an audio bridge start on the named backend.
func (m *Metrics) AudioStarted(backend string) {
	if m == nil {
		return
	}
	m.audioStarts.WithLabelValues(backend).Inc()
}

// AudioStopped counts an audio bridge stop.
func (m *Metrics) AudioStopped() {
	if m == nil {
		return
	}
	m.audioStops.Inc()
}

// HelperCall counts a privileged helper invocation.
func (m *Metrics) HelperCall(action string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.helperCalls.WithLabelValues(action, outcome).Inc()
}

// ObserveStates refreshes the subsystem state gauge from a snapshot.
func (m *Metrics) ObserveStates(snap state.Snapshot) {
	if m == nil {
		return
	}
	for _, st := range subsystemStates {
		m.setState("video", st, snap.Video.State)
		m.setState("audio", st, snap.Audio.State)
	}
}

func (m *Metrics) setState(subsystem string, st, current state.SubsystemState) {
	value := 0.0
	if st == current {
		value = 1.0
	}
	m.subsystemState.WithLabelValues(subsystem, string(st)).Set(value)
}
