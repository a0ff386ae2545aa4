package video

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avream/avreamd/internal/android"
	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/logging"
	"github.com/avream/avreamd/internal/state"
	"github.com/avream/avreamd/internal/supervisor"
)

// defaultProbeDelay is how long a freshly launched backend gets before we
// check whether it fell over at startup.
const defaultProbeDelay = 200 * time.Millisecond

// Session drives one android camera session through the state machine: the
// start protocol with its idempotency and resync rules, and the matching
// stop. It does not lock; the Manager serializes callers.
type Session struct {
	store      *state.Store
	backend    SourceBackend
	supervisor *supervisor.Supervisor
	sinkPath   string
	audio      AudioBridge
	logger     *slog.Logger
	probeDelay time.Duration

	mu           sync.Mutex
	activeSource *VideoSource
	activeProc   string
}

// NewSession builds a session service. audio may be nil.
func NewSession(store *state.Store, backend SourceBackend, sup *supervisor.Supervisor, sinkPath string, audio AudioBridge) *Session {
	return &Session{
		store:      store,
		backend:    backend,
		supervisor: sup,
		sinkPath:   sinkPath,
		audio:      audio,
		logger:     logging.ForService("video-session"),
		probeDelay: defaultProbeDelay,
	}
}

// ActiveSource returns a copy of the active source, nil when no session ran.
func (s *Session) ActiveSource() *VideoSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeSource == nil {
		return nil
	}
	src := *s.activeSource
	return &src
}

// ActiveProcess returns the supervisor slot of the live session, empty if none.
func (s *Session) ActiveProcess() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeProc
}

// ClearActive forgets the recorded source, used when the manager tears a
// session down outside the normal stop path.
func (s *Session) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSource = nil
	s.activeProc = ""
}

func (s *Session) setActive(src VideoSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSource = &src
	s.activeProc = ProcName
}

// ListSources proxies device discovery to the backend.
func (s *Session) ListSources(ctx context.Context) []android.Source {
	return s.backend.ListSources(ctx)
}

// Start runs the session start protocol. A session already live is reported
// as such instead of failing; a half-dead state (machine says RUNNING but
// the process is gone) is resynced to STOPPED first. On failure after the
// STARTING transition the state is left for the caller's policy: the
// reconnect controller pushes it back to RUNNING, an API start surfaces the
// error with the machine in STARTING or ERROR.
func (s *Session) Start(ctx context.Context, opts StartOptions) (StartResult, error) {
	current := s.store.Snapshot().Video.State
	running := s.supervisor.Running(ProcName)

	if (current == state.StateRunning || current == state.StateStarting) && running {
		return StartResult{State: "RUNNING", AlreadyRunning: true, Source: s.ActiveSource()}, nil
	}

	if current == state.StateStopping && running {
		return StartResult{}, errors.Newf("video is stopping; retry in a moment").
			Kind(errors.KindConflict).
			Component("video-session").
			Context("state", string(current)).
			Build()
	}

	if !running && (current == state.StateRunning || current == state.StateStarting) {
		_, _ = s.store.TransitionVideo(state.StateStopping)
		_, _ = s.store.TransitionVideo(state.StateStopped)
		s.ClearActive()
	}

	if _, err := s.store.TransitionVideo(state.StateStarting); err != nil {
		return StartResult{}, errors.New(err).
			Kind(errors.KindConflict).
			Component("video-session").
			Context("state", string(current)).
			Build()
	}

	source, err := s.backend.SelectDefaultSource(ctx, opts.Serial, "")
	if err != nil {
		return StartResult{}, err
	}

	command, err := s.backend.BuildStartCommand(android.StartOptions{
		Serial:         source.Serial,
		SinkPath:       s.sinkPath,
		Preset:         opts.Preset,
		CameraFacing:   opts.CameraFacing,
		CameraRotation: opts.CameraRotation,
		PreviewWindow:  opts.PreviewWindow,
		EnableAudio:    opts.EnableAudio,
	})
	if err != nil {
		return StartResult{}, err
	}

	managed, err := s.supervisor.Start(ProcName, command, nil)
	if err != nil {
		return StartResult{}, errors.New(err).
			Kind(errors.KindBackendFailed).
			Component("video-session").
			Context("command", command).
			Build()
	}

	// Give the backend a moment; an immediate exit means bad arguments or a
	// busy device, not a session.
	select {
	case <-time.After(s.probeDelay):
	case <-ctx.Done():
	}
	if code, exited := managed.ExitCode(); exited {
		s.store.SetVideoError("E_BACKEND_FAILED", "android backend exited immediately", map[string]any{
			"returncode": code,
			"command":    command,
		})
		return StartResult{}, errors.Newf("failed to start android backend").
			Kind(errors.KindBackendFailed).
			Component("video-session").
			Context("returncode", code).
			Context("log", s.supervisor.LatestLogPath(ProcName)).
			Build()
	}

	if _, err := s.store.TransitionVideo(state.StateRunning); err != nil {
		return StartResult{}, err
	}
	s.setActive(VideoSource{
		Type:           "android",
		Serial:         source.Serial,
		CameraFacing:   opts.CameraFacing,
		CameraRotation: opts.CameraRotation,
		PreviewWindow:  opts.PreviewWindow,
	})
	s.logger.Info("video session running",
		"serial", source.Serial,
		"facing", opts.CameraFacing,
		"rotation", opts.CameraRotation)

	result := StartResult{State: "RUNNING", Source: s.ActiveSource()}
	if s.audio != nil {
		audioResult := s.audio.Start(ctx, "pipewire")
		result.Audio = &audioResult
	}
	return result, nil
}

// Stop tears the session down. Stopping an already stopped session succeeds
// and says so. Audio teardown failure is folded into the result, never
// raised: video stop must always win.
func (s *Session) Stop(ctx context.Context) (StopResult, error) {
	current := s.store.Snapshot().Video.State
	running := s.supervisor.Running(ProcName)

	if current == state.StateStopped && !running {
		return StopResult{State: "STOPPED", AlreadyStopped: true}, nil
	}

	if current != state.StateStopping {
		if _, err := s.store.TransitionVideo(state.StateStopping); err != nil {
			return StopResult{}, err
		}
	}

	s.supervisor.Stop(ProcName, supervisor.DefaultGracefulTimeout, supervisor.DefaultKillTimeout)
	if _, err := s.store.TransitionVideo(state.StateStopped); err != nil {
		return StopResult{}, err
	}
	s.ClearActive()

	result := StopResult{State: "STOPPED"}
	if s.audio != nil {
		audioResult := s.audio.Stop(ctx)
		result.Audio = &audioResult
	}
	return result, nil
}
