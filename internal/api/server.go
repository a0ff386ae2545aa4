// Package api serves the local control API on a unix socket: subsystem
// status, video/audio lifecycle operations and android device management,
// every response wrapped in a request-id-carrying envelope.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avream/avreamd/internal/adb"
	"github.com/avream/avreamd/internal/android"
	"github.com/avream/avreamd/internal/audio"
	"github.com/avream/avreamd/internal/logging"
	"github.com/avream/avreamd/internal/observability"
	"github.com/avream/avreamd/internal/state"
	"github.com/avream/avreamd/internal/video"
)

// VideoService is the video manager surface the API consumes.
type VideoService interface {
	Start(ctx context.Context, params video.StartParams) (video.StartResult, error)
	Stop(ctx context.Context) (video.StopResult, error)
	Reset(ctx context.Context, force bool) (video.ResetResult, error)
	StopReconnect() video.StopReconnectResult
	ListSources(ctx context.Context) []android.Source
	RuntimeStatus() video.RuntimeStatus
}

// AudioService is the audio manager surface the API consumes.
type AudioService interface {
	Start(ctx context.Context, backend string) (audio.StartResult, error)
	Stop(ctx context.Context) (audio.StopResult, error)
}

// HelperInfo exposes privileged-helper diagnostics for status queries.
type HelperInfo interface {
	Diagnostics() map[string]any
}

// Server is the control API.
type Server struct {
	Echo *echo.Echo

	store      *state.Store
	video      VideoService
	audio      AudioService
	adb        *adb.Adapter
	helper     HelperInfo
	metrics    *observability.Metrics
	logger     *slog.Logger
	socketPath string
}

// New assembles the echo application with its middleware and routes.
func New(
	store *state.Store,
	videoSvc VideoService,
	audioSvc AudioService,
	adbAdapter *adb.Adapter,
	helper HelperInfo,
	metrics *observability.Metrics,
	socketPath string,
) *Server {
	s := &Server{
		Echo:       echo.New(),
		store:      store,
		video:      videoSvc,
		audio:      audioSvc,
		adb:        adbAdapter,
		helper:     helper,
		metrics:    metrics,
		logger:     logging.ForService("api"),
		socketPath: socketPath,
	}

	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.HTTPErrorHandler = s.httpErrorHandler
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.Echo.Use(s.requestLogger())

	s.registerRoutes()
	return s
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"path", v.URI,
				"status", v.Status,
				"elapsed_ms", v.Latency.Milliseconds(),
				"request_id", requestID(c),
			}
			if v.Error != nil {
				s.logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	})
}

func (s *Server) registerRoutes() {
	v1 := s.Echo.Group("/v1")
	v1.GET("/status", s.handleStatus)

	v1.POST("/video/start", s.handleVideoStart)
	v1.POST("/video/stop", s.handleVideoStop)
	v1.POST("/video/reset", s.handleVideoReset)
	v1.POST("/video/reconnect/stop", s.handleVideoStopReconnect)
	v1.GET("/video/sources", s.handleVideoSources)

	v1.POST("/audio/start", s.handleAudioStart)
	v1.POST("/audio/stop", s.handleAudioStop)

	v1.GET("/android/devices", s.handleAndroidDevices)
	v1.POST("/android/wifi/enable", s.handleAndroidWifiEnable)
	v1.POST("/android/wifi/setup", s.handleAndroidWifiSetup)
	v1.POST("/android/wifi/connect", s.handleAndroidWifiConnect)
	v1.POST("/android/wifi/disconnect", s.handleAndroidWifiDisconnect)

	s.Echo.GET("/healthz", s.handleHealthz)
	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
			s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start listens on the unix socket, restricted to the owning user, and
// serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return err
	}
	s.Echo.Listener = listener
	s.logger.Info("control API listening", "socket", s.socketPath)
	return s.Echo.Start("")
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

// shutdownTimeout bounds how long Shutdown waits by default.
const shutdownTimeout = 5 * time.Second

// Close shuts the server down with the default timeout.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}
