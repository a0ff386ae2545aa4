package video

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avream/avreamd/internal/android"
	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/logging"
	"github.com/avream/avreamd/internal/observability"
	"github.com/avream/avreamd/internal/state"
	"github.com/avream/avreamd/internal/supervisor"
)

// defaultSettleDelay is the pause between stopping the session and reloading
// the loopback module, so the backend's device handles are really gone.
const defaultSettleDelay = 2 * time.Second

// StartParams is a start request. Nil optionals keep the last-used value.
type StartParams struct {
	Serial         string
	CameraFacing   *string
	CameraRotation *int
	PreviewWindow  *bool
}

// StopReconnectResult reports a reconnect cancellation.
type StopReconnectResult struct {
	Stopped   bool            `json:"stopped"`
	Reconnect ReconnectStatus `json:"reconnect"`
}

// Manager is the video subsystem facade. One mutex serializes every
// operation, including restarts coming from the reconnect watcher.
type Manager struct {
	store      *state.Store
	supervisor *supervisor.Supervisor
	session    *Session
	reset      *ResetService
	reconnect  *ReconnectController
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu            sync.Mutex
	cameraFacing  string
	cameraRot     int
	previewWindow bool
	preset        string
	policy        ReconnectPolicy
	settleDelay   time.Duration
}

// Options carries the configured defaults for a new manager.
type Options struct {
	Preset        string
	CameraFacing  string
	PreviewWindow bool
	Policy        ReconnectPolicy
}

// NewManager wires the session, reset and reconnect services. audio may be
// nil to run video-only.
func NewManager(
	store *state.Store,
	sup *supervisor.Supervisor,
	backend SourceBackend,
	priv PrivilegeCaller,
	loopback LoopbackDevice,
	audio AudioBridge,
	metrics *observability.Metrics,
	opts Options,
) *Manager {
	facing := opts.CameraFacing
	if facing != "front" && facing != "back" {
		facing = "front"
	}
	preset := opts.Preset
	if preset == "" {
		preset = "balanced"
	}
	return &Manager{
		store:         store,
		supervisor:    sup,
		session:       NewSession(store, backend, sup, loopback.DevicePath(), audio),
		reset:         NewResetService(priv, loopback),
		reconnect:     NewReconnectController(store, sup, ProcName),
		metrics:       metrics,
		logger:        logging.ForService("video-manager"),
		cameraFacing:  facing,
		cameraRot:     0,
		previewWindow: opts.PreviewWindow,
		preset:        preset,
		policy:        opts.Policy.Normalized(),
	}
}

// ListSources returns adb-visible devices without touching the session.
func (m *Manager) ListSources(ctx context.Context) []android.Source {
	return m.session.ListSources(ctx)
}

// RuntimeStatus reports the live session, reconnect progress and log
// pointers for status queries.
func (m *Manager) RuntimeStatus() RuntimeStatus {
	var lastExit *int
	if code, ok := m.supervisor.LastExitCode(ProcName); ok {
		lastExit = &code
	}
	var activeProc *string
	if name := m.session.ActiveProcess(); name != "" {
		activeProc = &name
	}
	return RuntimeStatus{
		ActiveSource:  m.session.ActiveSource(),
		ActiveProcess: activeProc,
		LastExitCode:  lastExit,
		Reconnect:     m.reconnect.RuntimeStatus(),
		LogPointers: map[string]string{
			"video_android": m.supervisor.LatestLogPath(ProcName),
		},
	}
}

// Start begins a session with the given parameters, remembering camera
// options for later restarts, and arms the reconnect watcher.
func (m *Manager) Start(ctx context.Context, params StartParams) (StartResult, error) {
	return m.start(ctx, params, false)
}

func (m *Manager) start(ctx context.Context, params StartParams, fromWatch bool) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A watcher restart that lost the race against stop must not revive the
	// session the user just tore down.
	if fromWatch && ctx.Err() != nil {
		return StartResult{}, errors.New(ctx.Err()).
			Kind(errors.KindConflict).
			Component("video-manager").
			Context("reason", "reconnect canceled").
			Build()
	}

	facing := m.cameraFacing
	if params.CameraFacing != nil && (*params.CameraFacing == "front" || *params.CameraFacing == "back") {
		facing = *params.CameraFacing
	}
	rotation := m.cameraRot
	if params.CameraRotation != nil {
		switch *params.CameraRotation {
		case 0, 90, 180, 270:
			rotation = *params.CameraRotation
		}
	}
	window := m.previewWindow
	if params.PreviewWindow != nil {
		window = *params.PreviewWindow
	}

	m.reconnect.Configure(m.policy)
	if err := m.reset.EnsureReady(ctx); err != nil {
		return StartResult{}, err
	}

	result, err := m.session.Start(ctx, StartOptions{
		Serial:         params.Serial,
		CameraFacing:   facing,
		CameraRotation: rotation,
		PreviewWindow:  window,
		EnableAudio:    true,
		Preset:         m.preset,
	})
	if err != nil {
		m.metrics.VideoStartFailed()
		return StartResult{}, err
	}

	m.cameraFacing = facing
	m.cameraRot = rotation
	m.previewWindow = window

	if !result.AlreadyRunning {
		m.metrics.VideoStarted(fromWatch)
	}
	if !fromWatch {
		m.reconnect.StartWatch(m.restartFromWatch, m.onExhaustedRetries)
	}
	return result, nil
}

// restartFromWatch re-runs the start protocol with the last session's
// device pinned, on behalf of the reconnect watcher.
func (m *Manager) restartFromWatch(ctx context.Context) error {
	var serial string
	if src := m.session.ActiveSource(); src != nil {
		serial = src.Serial
	}
	m.metrics.ReconnectAttempt()
	_, err := m.start(ctx, StartParams{Serial: serial}, true)
	return err
}

func (m *Manager) onExhaustedRetries(exitCode, maxAttempts int) {
	m.metrics.ReconnectExhausted()
	m.store.SetVideoError("E_BACKEND_FAILED",
		"video backend exited and reconnect attempts exhausted",
		map[string]any{"returncode": exitCode, "attempts": maxAttempts})
}

// Stop ends the session, lets device handles settle and reloads the
// loopback module best-effort so the next consumer gets a fresh device.
func (m *Manager) Stop(ctx context.Context) (StopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnect.Cancel("idle")
	result, err := m.session.Stop(ctx)
	if err != nil {
		return StopResult{}, err
	}
	if !result.AlreadyStopped {
		m.metrics.VideoStopped()
		sleepCtx(ctx, m.settleDelayOrDefault())
		reload := m.reset.BestEffortReloadAfterStop(ctx)
		result.PostStopReset = &reload
	}
	return result, nil
}

func (m *Manager) settleDelayOrDefault() time.Duration {
	if m.settleDelay > 0 {
		return m.settleDelay
	}
	return defaultSettleDelay
}

// StopReconnect cancels a pending reconnect without touching the session.
func (m *Manager) StopReconnect() StopReconnectResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect.Cancel("stopped")
	return StopReconnectResult{Stopped: true, Reconnect: m.reconnect.RuntimeStatus()}
}

// Reset reloads the virtual camera device. A running session is torn down
// first; the state machine is forced along STOPPING to STOPPED so a later
// start finds clean ground.
func (m *Manager) Reset(ctx context.Context, force bool) (ResetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.supervisor.Running(ProcName) {
		m.reconnect.Cancel("idle")

		if m.store.Snapshot().Video.State != state.StateStopping {
			_, _ = m.store.TransitionVideo(state.StateStopping)
		}
		m.supervisor.Stop(ProcName, supervisor.DefaultGracefulTimeout, supervisor.DefaultKillTimeout)
		if m.store.Snapshot().Video.State != state.StateStopped {
			_, _ = m.store.TransitionVideo(state.StateStopped)
		}
		m.session.ClearActive()
	}

	return m.reset.Reset(ctx, force)
}
