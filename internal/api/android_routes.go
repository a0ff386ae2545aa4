package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/avream/avreamd/internal/adb"
	"github.com/avream/avreamd/internal/android"
	"github.com/avream/avreamd/internal/errors"
)

func (s *Server) requireAdb() error {
	if !s.adb.Available() {
		return errors.Newf("adb is missing").
			Kind(errors.KindDependencyMissing).
			Component("api").
			Context("tool", "adb").
			Context("package", "android-tools-adb").
			Build()
	}
	return nil
}

func (s *Server) handleAndroidDevices(c echo.Context) error {
	if err := s.requireAdb(); err != nil {
		return err
	}
	return s.ok(c, android.ScanDevices(c.Request().Context(), s.adb))
}

type wifiEnableRequest struct {
	Serial string `json:"serial"`
	Port   int    `json:"port"`
}

func (r *wifiEnableRequest) normalizePort() error {
	if r.Port == 0 {
		r.Port = 5555
	}
	if r.Port < 1 || r.Port > 65535 {
		return validationError("port must be an integer 1..65535")
	}
	return nil
}

func (s *Server) handleAndroidWifiEnable(c echo.Context) error {
	var req wifiEnableRequest
	if err := c.Bind(&req); err != nil {
		return validationError("request body must be a JSON object")
	}
	if req.Serial == "" {
		return validationError("serial is required")
	}
	if err := req.normalizePort(); err != nil {
		return err
	}
	if err := s.requireAdb(); err != nil {
		return err
	}

	result := s.adb.Tcpip(c.Request().Context(), req.Serial, req.Port)
	if result.ReturnCode != 0 {
		return errors.Newf("failed to enable adb tcpip mode").
			Kind(errors.KindBackendFailed).
			Component("api").
			Context("serial", req.Serial).
			Context("port", req.Port).
			Context("result", result).
			Build()
	}
	return s.ok(c, map[string]any{"serial": req.Serial, "port": req.Port, "result": result})
}

func (s *Server) handleAndroidWifiSetup(c echo.Context) error {
	var req wifiEnableRequest
	if err := c.Bind(&req); err != nil {
		return validationError("request body must be a JSON object")
	}
	if err := req.normalizePort(); err != nil {
		return err
	}
	if err := s.requireAdb(); err != nil {
		return err
	}

	result := s.adb.WifiSetup(c.Request().Context(), req.Serial, req.Port)
	if result.ReturnCode != 0 {
		return errors.Newf("failed to setup adb over Wi-Fi").
			Kind(errors.KindBackendFailed).
			Component("api").
			Context("serial", req.Serial).
			Context("port", req.Port).
			Context("result", result).
			Build()
	}
	return s.ok(c, map[string]any{
		"serial":   result.Serial,
		"ip":       result.IP,
		"port":     result.Port,
		"endpoint": result.Endpoint,
		"result":   result,
	})
}

type wifiEndpointRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleAndroidWifiConnect(c echo.Context) error {
	return s.endpointOp(c, "failed to connect adb endpoint", s.adb.Connect)
}

func (s *Server) handleAndroidWifiDisconnect(c echo.Context) error {
	return s.endpointOp(c, "failed to disconnect adb endpoint", s.adb.Disconnect)
}

func (s *Server) endpointOp(c echo.Context, failMessage string, op func(ctx context.Context, endpoint string) adb.Result) error {
	var req wifiEndpointRequest
	if err := c.Bind(&req); err != nil {
		return validationError("request body must be a JSON object")
	}
	if req.Endpoint == "" {
		return validationError("endpoint is required")
	}
	if err := s.requireAdb(); err != nil {
		return err
	}

	result := op(c.Request().Context(), req.Endpoint)
	if result.ReturnCode != 0 {
		return errors.Newf("%s", failMessage).
			Kind(errors.KindBackendFailed).
			Component("api").
			Context("endpoint", req.Endpoint).
			Context("result", result).
			Build()
	}
	return s.ok(c, map[string]any{
		"endpoint": adb.NormalizeEndpoint(req.Endpoint, 5555),
		"result":   result,
	})
}
