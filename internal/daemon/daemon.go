// Package daemon assembles and runs the avreamd service: configuration,
// logging, the external-tool integrations, the video and audio managers and
// the unix-socket control API, torn down in reverse order on shutdown.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/avream/avreamd/internal/adb"
	"github.com/avream/avreamd/internal/android"
	"github.com/avream/avreamd/internal/api"
	"github.com/avream/avreamd/internal/audio"
	"github.com/avream/avreamd/internal/conf"
	"github.com/avream/avreamd/internal/logging"
	"github.com/avream/avreamd/internal/observability"
	"github.com/avream/avreamd/internal/pactl"
	"github.com/avream/avreamd/internal/pipewire"
	"github.com/avream/avreamd/internal/privilege"
	"github.com/avream/avreamd/internal/scrcpy"
	"github.com/avream/avreamd/internal/state"
	"github.com/avream/avreamd/internal/supervisor"
	"github.com/avream/avreamd/internal/v4l2"
	"github.com/avream/avreamd/internal/video"
)

// shutdownGrace bounds the stop work done after the run context ends.
const shutdownGrace = 10 * time.Second

// Daemon is the assembled service.
type Daemon struct {
	settings *conf.Settings
	paths    conf.Paths
	store    *state.Store
	sup      *supervisor.Supervisor
	video    *video.Manager
	audio    *audio.Manager
	server   *api.Server
	logger   *slog.Logger
}

// New builds the daemon from settings. socketOverride, when non-empty, wins
// over the configured socket path.
func New(settings *conf.Settings, socketOverride string) (*Daemon, error) {
	socket := socketOverride
	if socket == "" {
		socket = settings.Main.Socket
	}
	paths := conf.ResolvePaths(socket)
	if err := conf.EnsureDirectories(paths); err != nil {
		return nil, err
	}
	if err := conf.RemoveStaleSocket(paths); err != nil {
		return nil, err
	}

	logger := logging.ForService("daemon")
	store := state.NewStore()
	metrics := observability.NewMetrics()
	sup := supervisor.New(paths.LogDir)

	helperTimeout := time.Duration(settings.Helper.TimeoutS * float64(time.Second))
	priv := &meteredHelper{
		Client:  privilege.NewClient(settings.Helper.Bin, settings.Helper.Mode, helperTimeout),
		metrics: metrics,
	}
	loopback := v4l2.New(settings.Video.VideoNr, settings.Video.DeviceLabel)

	adbAdapter := adb.NewAdapter(settings.Video.AdbBin)
	scrcpyAdapter := scrcpy.NewAdapter(settings.Video.ScrcpyBin)
	backend := android.NewBackend(adbAdapter, scrcpyAdapter)

	audioMgr := audio.NewManager(
		store,
		pipewire.NewIntegration(),
		pactl.NewIntegration(),
		priv,
		audio.NewRepository(filepath.Join(paths.StateDir, "audio_state.json")),
		metrics,
		settings.Audio.SinkName,
		settings.Audio.SourceName,
	)

	videoMgr := video.NewManager(store, sup, backend, priv, loopback,
		&audioBridge{manager: audioMgr, backend: settings.Audio.Backend},
		metrics,
		video.Options{
			Preset:        settings.Video.Preset,
			CameraFacing:  settings.Video.CameraFacing,
			PreviewWindow: settings.Video.PreviewWindow,
			Policy: video.ReconnectPolicy{
				Enabled:     settings.Reconnect.Enabled,
				MaxAttempts: settings.Reconnect.MaxAttempts,
				BackoffMs:   settings.Reconnect.BackoffMs,
			},
		})

	server := api.New(store, videoMgr, audioMgr, adbAdapter, priv, metrics, paths.SocketPath)

	return &Daemon{
		settings: settings,
		paths:    paths,
		store:    store,
		sup:      sup,
		video:    videoMgr,
		audio:    audioMgr,
		server:   server,
		logger:   logger,
	}, nil
}

// SocketPath returns the control socket the daemon serves on.
func (d *Daemon) SocketPath() string { return d.paths.SocketPath }

// Run serves the control API until ctx is canceled or the server fails,
// then tears sessions and processes down within the shutdown grace period.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("daemon starting",
		"socket", d.paths.SocketPath,
		"log_dir", d.paths.LogDir,
		"state_dir", d.paths.StateDir)

	serverErr := make(chan error, 1)
	go func() {
		if err := d.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown requested")
	case err := <-serverErr:
		d.logger.Error("control API failed", "error", err)
		runErr = err
	}

	d.shutdown()
	return runErr
}

// shutdown stops the running sessions, the supervised processes and the
// API server. Failures are logged, not propagated; teardown always runs to
// the end.
func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if _, err := d.video.Stop(ctx); err != nil {
		d.logger.Warn("video stop during shutdown failed", "error", err)
	}
	if _, err := d.audio.Stop(ctx); err != nil {
		d.logger.Warn("audio stop during shutdown failed", "error", err)
	}
	d.sup.StopAll()

	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn("control API shutdown failed", "error", err)
	}
	d.logger.Info("daemon stopped")
}

// meteredHelper counts privileged helper calls per action and outcome.
// Diagnostics is promoted from the embedded client for status queries.
type meteredHelper struct {
	*privilege.Client
	metrics *observability.Metrics
}

func (h *meteredHelper) Call(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	out, err := h.Client.Call(ctx, action, params)
	h.metrics.HelperCall(action, err)
	return out, err
}

// audioBridge folds the audio manager into the video session contract:
// audio failures are reported in the result instead of failing the video
// operation. The configured default backend wins over the caller's
// suggestion.
type audioBridge struct {
	manager *audio.Manager
	backend string
}

func (b *audioBridge) Start(ctx context.Context, backend string) video.AudioBridgeResult {
	if b.backend != "" {
		backend = b.backend
	}
	result, err := b.manager.Start(ctx, backend)
	if err != nil {
		return video.AudioBridgeResult{State: "ERROR", Error: err.Error()}
	}
	return video.AudioBridgeResult{
		State:          result.State,
		AlreadyRunning: result.AlreadyRunning,
		Backend:        result.Backend,
	}
}

func (b *audioBridge) Stop(ctx context.Context) video.AudioBridgeResult {
	result, err := b.manager.Stop(ctx)
	if err != nil {
		return video.AudioBridgeResult{State: "ERROR", Error: err.Error()}
	}
	return video.AudioBridgeResult{
		State:          result.State,
		AlreadyStopped: result.AlreadyStopped,
	}
}
