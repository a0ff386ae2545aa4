package api

import (
	"github.com/labstack/echo/v4"

	"github.com/avream/avreamd/internal/video"
)

type videoStartRequest struct {
	Serial         string  `json:"serial"`
	CameraFacing   *string `json:"camera_facing"`
	CameraRotation *int    `json:"camera_rotation"`
	PreviewWindow  *bool   `json:"preview_window"`
}

type videoResetRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleVideoStart(c echo.Context) error {
	var req videoStartRequest
	if err := c.Bind(&req); err != nil {
		return validationError("request body must be a JSON object")
	}
	if req.CameraFacing != nil && *req.CameraFacing != "front" && *req.CameraFacing != "back" {
		return validationError("camera_facing must be 'front' or 'back'")
	}
	if req.CameraRotation != nil {
		switch *req.CameraRotation {
		case 0, 90, 180, 270:
		default:
			return validationError("camera_rotation must be one of: 0, 90, 180, 270")
		}
	}

	result, err := s.video.Start(c.Request().Context(), video.StartParams{
		Serial:         req.Serial,
		CameraFacing:   req.CameraFacing,
		CameraRotation: req.CameraRotation,
		PreviewWindow:  req.PreviewWindow,
	})
	if err != nil {
		return err
	}
	return s.ok(c, result)
}

func (s *Server) handleVideoStop(c echo.Context) error {
	result, err := s.video.Stop(c.Request().Context())
	if err != nil {
		return err
	}
	return s.ok(c, result)
}

func (s *Server) handleVideoReset(c echo.Context) error {
	var req videoResetRequest
	if err := c.Bind(&req); err != nil {
		return validationError("request body must be a JSON object")
	}
	result, err := s.video.Reset(c.Request().Context(), req.Force)
	if err != nil {
		return err
	}
	return s.ok(c, result)
}

func (s *Server) handleVideoStopReconnect(c echo.Context) error {
	return s.ok(c, s.video.StopReconnect())
}

func (s *Server) handleVideoSources(c echo.Context) error {
	sources := s.video.ListSources(c.Request().Context())
	return s.ok(c, map[string]any{"sources": sources})
}
