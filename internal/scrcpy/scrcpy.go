// Package scrcpy builds launch commands for bridging an Android camera into
// the v4l2 sink. scrcpy itself is a supervised external process; nothing
// here touches video data.
package scrcpy

import (
	"fmt"
	"os/exec"
)

// Preset bundles encoder settings for a latency/quality trade-off.
type Preset struct {
	VideoBitRate string
	MaxSize      int // 0 means unconstrained
	MaxFPS       int // 0 means unconstrained
	V4L2Buffer   int // milliseconds
}

// Presets are the supported launch profiles.
var Presets = map[string]Preset{
	"low_latency":  {VideoBitRate: "6M", MaxSize: 0, MaxFPS: 30, V4L2Buffer: 200},
	"balanced":     {VideoBitRate: "8M", MaxSize: 1080, MaxFPS: 0, V4L2Buffer: 400},
	"high_quality": {VideoBitRate: "12M", MaxSize: 1440, MaxFPS: 0, V4L2Buffer: 600},
}

// CameraOptions parameterizes one camera session command.
type CameraOptions struct {
	Serial         string
	SinkPath       string
	Preset         string
	CameraFacing   string // front or back; empty leaves the device default
	CameraRotation int    // 0/90/180/270; other values are ignored
	PreviewWindow  bool
	EnableAudio    bool
	ExtraArgs      []string
}

// Adapter locates the scrcpy binary and builds argv for camera sessions.
type Adapter struct {
	Bin string
}

// NewAdapter locates scrcpy, honoring an explicit path over PATH lookup.
func NewAdapter(bin string) *Adapter {
	if bin == "" {
		if found, err := exec.LookPath("scrcpy"); err == nil {
			bin = found
		}
	}
	return &Adapter{Bin: bin}
}

// Available reports whether a scrcpy binary was found.
func (a *Adapter) Available() bool { return a.Bin != "" }

// CameraCommand returns the argv for one android-camera-to-v4l2 session.
func (a *Adapter) CameraCommand(opts CameraOptions) ([]string, error) {
	if a.Bin == "" {
		return nil, fmt.Errorf("scrcpy not found")
	}

	cmd := []string{
		a.Bin,
		"-s", opts.Serial,
		"--video-source=camera",
		"--v4l2-sink=" + opts.SinkPath,
	}

	if opts.PreviewWindow {
		cmd = append(cmd,
			"--window-title=AVream Preview",
			"--window-width=640",
			"--window-height=360",
			"--no-control",
		)
	} else {
		cmd = append(cmd, "--no-window")
	}

	if opts.CameraFacing == "front" || opts.CameraFacing == "back" {
		cmd = append(cmd, "--camera-facing="+opts.CameraFacing)
	}

	switch opts.CameraRotation {
	case 0, 90, 180, 270:
		cmd = append(cmd, fmt.Sprintf("--capture-orientation=%d", opts.CameraRotation))
	}

	cmd = append(cmd, "--camera-ar=16:9")

	if opts.EnableAudio {
		cmd = append(cmd, "--audio-source=mic")
	} else {
		cmd = append(cmd, "--no-audio")
	}

	preset, ok := Presets[opts.Preset]
	if !ok {
		preset = Presets["balanced"]
	}
	cmd = append(cmd, "--video-bit-rate="+preset.VideoBitRate)
	if preset.MaxSize > 0 {
		cmd = append(cmd, fmt.Sprintf("--max-size=%d", preset.MaxSize))
	}
	if preset.MaxFPS > 0 {
		cmd = append(cmd, fmt.Sprintf("--max-fps=%d", preset.MaxFPS))
	}
	cmd = append(cmd, fmt.Sprintf("--v4l2-buffer=%d", preset.V4L2Buffer))

	cmd = append(cmd, opts.ExtraArgs...)
	return cmd, nil
}
