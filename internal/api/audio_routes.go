package api

import (
	"github.com/labstack/echo/v4"
)

type audioStartRequest struct {
	Backend string `json:"backend"`
}

func (s *Server) handleAudioStart(c echo.Context) error {
	req := audioStartRequest{Backend: "pipewire"}
	if err := c.Bind(&req); err != nil {
		return validationError("request body must be a JSON object")
	}
	if req.Backend == "" {
		req.Backend = "pipewire"
	}
	if req.Backend != "pipewire" && req.Backend != "snd_aloop" {
		return validationError("backend must be one of: pipewire, snd_aloop")
	}

	result, err := s.audio.Start(c.Request().Context(), req.Backend)
	if err != nil {
		return err
	}
	return s.ok(c, result)
}

func (s *Server) handleAudioStop(c echo.Context) error {
	result, err := s.audio.Stop(c.Request().Context())
	if err != nil {
		return err
	}
	return s.ok(c, result)
}
