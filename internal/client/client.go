// Package client talks to a running daemon over its unix control socket.
// It is the transport layer for the CLI subcommands and decodes the API's
// response envelope into data payloads or typed errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/avream/avreamd/internal/conf"
)

// APIError is a failure reported by the daemon, decoded from the error
// envelope.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details"`
	Retryable  bool           `json:"retryable"`
	RequestID  string         `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type envelope struct {
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

// Client is an HTTP client pinned to the daemon's unix socket.
type Client struct {
	httpClient *http.Client
	socketPath string
}

// New returns a client for the daemon socket. All requests share one
// overall timeout so a wedged daemon cannot hang the CLI.
func New(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// SocketPath returns the socket this client dials.
func (c *Client) SocketPath() string { return c.socketPath }

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	// Host is a placeholder, the transport always dials the unix socket.
	url := "http://" + conf.DaemonName + path
	req, err := http.NewRequestWithContext(ctx, method, url, &reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s: %w", c.socketPath, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		env.Error.StatusCode = resp.StatusCode
		env.Error.RequestID = env.RequestID
		return nil, env.Error
	}
	if !env.OK {
		return nil, fmt.Errorf("daemon returned status %d without error body", resp.StatusCode)
	}
	return env.Data, nil
}

// Healthy reports whether the daemon answers its liveness probe.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+conf.DaemonName+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Status returns the full daemon status document.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/status", nil)
}

// VideoStartRequest parameterizes a video session start.
type VideoStartRequest struct {
	Serial         string  `json:"serial,omitempty"`
	CameraFacing   *string `json:"camera_facing,omitempty"`
	CameraRotation *int    `json:"camera_rotation,omitempty"`
	PreviewWindow  *bool   `json:"preview_window,omitempty"`
}

func (c *Client) VideoStart(ctx context.Context, req VideoStartRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/video/start", req)
}

func (c *Client) VideoStop(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/video/stop", struct{}{})
}

func (c *Client) VideoReset(ctx context.Context, force bool) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/video/reset", map[string]any{"force": force})
}

func (c *Client) VideoStopReconnect(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/video/reconnect/stop", struct{}{})
}

func (c *Client) VideoSources(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/video/sources", nil)
}

func (c *Client) AudioStart(ctx context.Context, backend string) (json.RawMessage, error) {
	body := map[string]any{}
	if backend != "" {
		body["backend"] = backend
	}
	return c.do(ctx, http.MethodPost, "/v1/audio/start", body)
}

func (c *Client) AudioStop(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/audio/stop", struct{}{})
}

func (c *Client) AndroidDevices(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/android/devices", nil)
}

func (c *Client) AndroidWifiEnable(ctx context.Context, serial string, port int) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/android/wifi/enable",
		map[string]any{"serial": serial, "port": port})
}

func (c *Client) AndroidWifiSetup(ctx context.Context, serial string, port int) (json.RawMessage, error) {
	body := map[string]any{"port": port}
	if serial != "" {
		body["serial"] = serial
	}
	return c.do(ctx, http.MethodPost, "/v1/android/wifi/setup", body)
}

func (c *Client) AndroidWifiConnect(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/android/wifi/connect",
		map[string]any{"endpoint": endpoint})
}

func (c *Client) AndroidWifiDisconnect(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/android/wifi/disconnect",
		map[string]any{"endpoint": endpoint})
}
