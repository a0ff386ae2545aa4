package scrcpy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCameraCommandHeadless(t *testing.T) {
	t.Parallel()
	a := &Adapter{Bin: "/usr/bin/scrcpy"}

	cmd, err := a.CameraCommand(CameraOptions{
		Serial:         "ABC123",
		SinkPath:       "/dev/video10",
		Preset:         "balanced",
		CameraFacing:   "back",
		CameraRotation: 90,
		EnableAudio:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/usr/bin/scrcpy", "-s", "ABC123"}, cmd[:3])
	assert.Contains(t, cmd, "--video-source=camera")
	assert.Contains(t, cmd, "--v4l2-sink=/dev/video10")
	assert.Contains(t, cmd, "--no-window")
	assert.Contains(t, cmd, "--camera-facing=back")
	assert.Contains(t, cmd, "--capture-orientation=90")
	assert.Contains(t, cmd, "--audio-source=mic")
	assert.Contains(t, cmd, "--video-bit-rate=8M")
	assert.Contains(t, cmd, "--max-size=1080")
	assert.Contains(t, cmd, "--v4l2-buffer=400")
	assert.NotContains(t, cmd, "--max-fps=0")
}

func TestCameraCommandPreviewWindow(t *testing.T) {
	t.Parallel()
	a := &Adapter{Bin: "/usr/bin/scrcpy"}

	cmd, err := a.CameraCommand(CameraOptions{
		Serial:        "ABC123",
		SinkPath:      "/dev/video10",
		Preset:        "low_latency",
		PreviewWindow: true,
	})
	require.NoError(t, err)

	assert.Contains(t, cmd, "--window-title=AVream Preview")
	assert.Contains(t, cmd, "--no-control")
	assert.NotContains(t, cmd, "--no-window")
	assert.Contains(t, cmd, "--no-audio")
	assert.Contains(t, cmd, "--max-fps=30")
	assert.NotContains(t, cmd, "--max-size=0")
}

func TestCameraCommandUnknownPresetFallsBackToBalanced(t *testing.T) {
	t.Parallel()
	a := &Adapter{Bin: "/usr/bin/scrcpy"}

	cmd, err := a.CameraCommand(CameraOptions{Serial: "X", SinkPath: "/dev/video10", Preset: "nope"})
	require.NoError(t, err)
	assert.Contains(t, cmd, "--video-bit-rate=8M")
}

func TestCameraCommandMissingBinary(t *testing.T) {
	t.Parallel()
	a := &Adapter{Bin: ""}

	_, err := a.CameraCommand(CameraOptions{Serial: "X", SinkPath: "/dev/video10"})
	require.Error(t, err)
	assert.False(t, a.Available())
}

func TestCameraCommandInvalidRotationOmitted(t *testing.T) {
	t.Parallel()
	a := &Adapter{Bin: "/usr/bin/scrcpy"}

	cmd, err := a.CameraCommand(CameraOptions{Serial: "X", SinkPath: "/dev/video10", CameraRotation: 45})
	require.NoError(t, err)
	for _, arg := range cmd {
		assert.NotContains(t, arg, "--capture-orientation")
	}
}
