package api

import (
	"github.com/labstack/echo/v4"

	"github.com/avream/avreamd/internal/conf"
)

func (s *Server) handleStatus(c echo.Context) error {
	snapshot := s.store.Snapshot()
	s.metrics.ObserveStates(snapshot)

	return s.ok(c, map[string]any{
		"service": map[string]any{
			"app":         conf.AppName,
			"daemon":      conf.DaemonName,
			"api_version": conf.APIVersion,
			"socket_path": s.socketPath,
			"helper":      s.helper.Diagnostics(),
		},
		"video_runtime": s.video.RuntimeStatus(),
		"runtime":       snapshot,
	})
}
