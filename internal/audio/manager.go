package audio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/logging"
	"github.com/avream/avreamd/internal/observability"
	"github.com/avream/avreamd/internal/state"
)

// Default bridge endpoint names; applications see the source as "AVream Mic".
const (
	DefaultSinkName   = "avream_sink"
	DefaultSourceName = "avream_mic"
)

// StartResult is the audio start answer.
type StartResult struct {
	State          string `json:"state"`
	AlreadyRunning bool   `json:"already_running"`
	Backend        string `json:"backend"`
}

// StopResult is the audio stop answer.
type StopResult struct {
	State          string `json:"state"`
	AlreadyStopped bool   `json:"already_stopped"`
}

// Manager is the audio subsystem facade: backend selection with fallback,
// the state machine edges and recovery-state persistence. One mutex
// serializes start and stop.
type Manager struct {
	store    *state.Store
	pipewire PipeWireProbe
	repo     *Repository
	pwBack   *PipeWireBackend
	aloop    *SndAloopBackend
	metrics  *observability.Metrics
	logger   *slog.Logger

	sinkName   string
	sourceName string

	mu            sync.Mutex
	activeBackend string
}

// NewManager builds the audio manager. Empty sink/source names fall back to
// the defaults.
func NewManager(
	store *state.Store,
	probe PipeWireProbe,
	pulse PulseControl,
	priv PrivilegeCaller,
	repo *Repository,
	metrics *observability.Metrics,
	sinkName, sourceName string,
) *Manager {
	if sinkName == "" {
		sinkName = DefaultSinkName
	}
	if sourceName == "" {
		sourceName = DefaultSourceName
	}
	return &Manager{
		store:         store,
		pipewire:      probe,
		repo:          repo,
		pwBack:        NewPipeWireBackend(probe, pulse, sinkName, sourceName),
		aloop:         NewSndAloopBackend(priv),
		metrics:       metrics,
		logger:        logging.ForService("audio-manager"),
		sinkName:      sinkName,
		sourceName:    sourceName,
		activeBackend: "none",
	}
}

// VirtualSinkName is where the android backend's playback lands.
func (m *Manager) VirtualSinkName() string { return m.sinkName }

// VirtualSourceName is the microphone applications record from.
func (m *Manager) VirtualSourceName() string { return m.sourceName }

// ActiveBackend names the running backend, "none" when stopped.
func (m *Manager) ActiveBackend() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeBackend
}

// Start brings the bridge up. A pipewire request silently falls back to
// snd_aloop when no PipeWire session answers; an already running bridge is
// reported, not rebuilt.
func (m *Manager) Start(ctx context.Context, backend string) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store.Snapshot().Audio.State == state.StateRunning {
		return StartResult{State: "RUNNING", AlreadyRunning: true, Backend: m.activeBackend}, nil
	}

	if _, err := m.store.TransitionAudio(state.StateStarting); err != nil {
		return StartResult{}, err
	}

	selected := backend
	if backend == "pipewire" {
		if !m.pipewire.Available() || !m.pipewire.Running() {
			selected = "snd_aloop"
		}
	}

	switch selected {
	case "pipewire":
		if removed := m.pwBack.CleanupStaleModules(); len(removed) > 0 {
			m.saveRecovery(map[string]any{"backend": "pipewire_cleanup", "removed_modules": removed})
		}
		payload, err := m.pwBack.Start(ctx, m.pipewireStillActive)
		if err != nil {
			return StartResult{}, err
		}
		m.saveRecovery(payload)
	case "snd_aloop":
		if err := m.aloop.Start(ctx); err != nil {
			return StartResult{}, err
		}
		m.saveRecovery(map[string]any{"backend": "snd_aloop", "modules": []any{}})
	default:
		return StartResult{}, errors.Newf("unsupported audio backend").
			Kind(errors.KindDependencyMissing).
			Component("audio-manager").
			Context("backend", selected).
			Build()
	}

	m.activeBackend = selected
	if _, err := m.store.TransitionAudio(state.StateRunning); err != nil {
		return StartResult{}, err
	}
	m.metrics.AudioStarted(selected)
	m.logger.Info("audio bridge running", "backend", selected)
	return StartResult{State: "RUNNING", Backend: selected}, nil
}

// pipewireStillActive keeps the background router alive only while the
// pipewire backend owns the bridge.
func (m *Manager) pipewireStillActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeBackend == "pipewire"
}

func (m *Manager) saveRecovery(data map[string]any) {
	if err := m.repo.Save(data); err != nil {
		m.logger.Warn("persisting audio recovery state failed", "error", err)
	}
}

// Stop tears the bridge down, dispatching on the persisted backend name so
// even a bridge built by a previous daemon run is cleaned up. Backend
// teardown is best-effort; the machine always reaches STOPPED.
func (m *Manager) Stop(ctx context.Context) (StopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store.Snapshot().Audio.State == state.StateStopped {
		return StopResult{State: "STOPPED", AlreadyStopped: true}, nil
	}

	if _, err := m.store.TransitionAudio(state.StateStopping); err != nil {
		return StopResult{}, err
	}

	recovery := m.repo.Load()
	backendName, _ := recovery["backend"].(string)
	switch backendName {
	case "pipewire", "pipewire_native", "pipewire_cleanup":
		m.pwBack.Stop(ctx, recovery)
	case "snd_aloop":
		m.aloop.Stop(ctx)
	}

	m.repo.Clear()
	m.activeBackend = "none"
	if _, err := m.store.TransitionAudio(state.StateStopped); err != nil {
		return StopResult{}, err
	}
	m.metrics.AudioStopped()
	return StopResult{State: "STOPPED"}, nil
}
