// Package video implements the android-camera session lifecycle: the
// start/stop protocol, the reconnect controller that revives crashed
// sessions, the virtual-device reset policy and the manager that serializes
// all of it behind one lock.
package video

import (
	"context"

	"github.com/avream/avreamd/internal/android"
)

// ProcName is the supervisor slot for the android camera process.
const ProcName = "video-android"

// SourceBackend is the device-discovery/launch collaborator contract.
// Implemented by android.Backend; faked in tests.
type SourceBackend interface {
	ListSources(ctx context.Context) []android.Source
	SelectDefaultSource(ctx context.Context, preferredSerial, preferredTransport string) (android.Source, error)
	BuildStartCommand(opts android.StartOptions) ([]string, error)
}

// PrivilegeCaller is the privileged-helper capability consumed by the
// device reset service.
type PrivilegeCaller interface {
	Call(ctx context.Context, action string, params map[string]any) (map[string]any, error)
}

// LoopbackDevice is the virtual camera surface the reset service manages.
// Satisfied by *v4l2.Loopback.
type LoopbackDevice interface {
	DevicePath() string
	DeviceBlockers() []int
	HelperParams() map[string]any
}

// AudioBridge couples the microphone bridge to the video session. Optional;
// a nil bridge means video runs without audio.
type AudioBridge interface {
	Start(ctx context.Context, backend string) AudioBridgeResult
	Stop(ctx context.Context) AudioBridgeResult
}

// AudioBridgeResult is the audio subsystem's answer folded into video
// results. Audio failure never fails the video operation; it is reported
// here instead.
type AudioBridgeResult struct {
	State          string `json:"state"`
	AlreadyRunning bool   `json:"already_running,omitempty"`
	AlreadyStopped bool   `json:"already_stopped,omitempty"`
	Backend        string `json:"backend,omitempty"`
	Error          string `json:"error,omitempty"`
}

// VideoSource describes the active android source.
type VideoSource struct {
	Type           string `json:"type"`
	Serial         string `json:"serial"`
	CameraFacing   string `json:"camera_facing"`
	CameraRotation int    `json:"camera_rotation"`
	PreviewWindow  bool   `json:"preview_window"`
}

// StartOptions parameterizes one session start.
type StartOptions struct {
	Serial         string
	CameraFacing   string
	CameraRotation int
	PreviewWindow  bool
	EnableAudio    bool
	Preset         string
}

// StartResult is the session/manager start answer.
type StartResult struct {
	State          string             `json:"state"`
	AlreadyRunning bool               `json:"already_running"`
	Source         *VideoSource       `json:"source"`
	Audio          *AudioBridgeResult `json:"audio,omitempty"`
}

// StopResult is the session/manager stop answer.
type StopResult struct {
	State          string             `json:"state"`
	AlreadyStopped bool               `json:"already_stopped"`
	Audio          *AudioBridgeResult `json:"audio,omitempty"`
	PostStopReset  *ReloadResult      `json:"post_stop_reset,omitempty"`
}

// ReconnectPolicy is the immutable reconnect configuration.
type ReconnectPolicy struct {
	Enabled     bool `json:"enabled"`
	MaxAttempts int  `json:"max_attempts"`
	BackoffMs   int  `json:"backoff_ms"`
}

// Normalized clamps the policy to its documented bounds. A disabled policy
// zeroes the other knobs.
func (p ReconnectPolicy) Normalized() ReconnectPolicy {
	if !p.Enabled {
		return ReconnectPolicy{}
	}
	out := ReconnectPolicy{Enabled: true, MaxAttempts: p.MaxAttempts, BackoffMs: p.BackoffMs}
	if out.MaxAttempts < 0 {
		out.MaxAttempts = 0
	}
	if out.MaxAttempts > 20 {
		out.MaxAttempts = 20
	}
	if out.BackoffMs < 100 {
		out.BackoffMs = 100
	}
	if out.BackoffMs > 60000 {
		out.BackoffMs = 60000
	}
	return out
}

// ReconnectStatus is the live progress of the reconnect controller,
// read-only to external callers.
type ReconnectStatus struct {
	Enabled       bool   `json:"enabled"`
	State         string `json:"state"`
	Attempt       int    `json:"attempt"`
	MaxAttempts   int    `json:"max_attempts"`
	BackoffMs     int    `json:"backoff_ms"`
	NextRetryInMs *int   `json:"next_retry_in_ms"`
	LastExitCode  *int   `json:"last_exit_code"`
}

func statusFromPolicy(policy ReconnectPolicy) ReconnectStatus {
	p := policy.Normalized()
	return ReconnectStatus{
		Enabled:     p.Enabled,
		State:       "idle",
		MaxAttempts: p.MaxAttempts,
		BackoffMs:   p.BackoffMs,
	}
}

// RuntimeStatus is the video manager's contribution to status queries.
type RuntimeStatus struct {
	ActiveSource  *VideoSource      `json:"active_source"`
	ActiveProcess *string           `json:"active_process"`
	LastExitCode  *int              `json:"last_exit_code"`
	Reconnect     ReconnectStatus   `json:"reconnect"`
	LogPointers   map[string]string `json:"log_pointers"`
}
