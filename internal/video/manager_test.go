package video

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/state"
)

func TestStartRunsSession(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	result, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	assert.Equal(t, "RUNNING", result.State)
	assert.False(t, result.AlreadyRunning)
	require.NotNil(t, result.Source)
	assert.Equal(t, "PHONE01", result.Source.Serial)
	assert.Equal(t, state.StateRunning, rig.store.Snapshot().Video.State)
	assert.True(t, rig.supervisor.Running(ProcName))
	assert.Equal(t, []string{"v4l2.status"}, rig.priv.callList())

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)
	opID := rig.store.Snapshot().Video.OperationID

	result, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	assert.True(t, result.AlreadyRunning)
	assert.Equal(t, "RUNNING", result.State)
	assert.Equal(t, opID, rig.store.Snapshot().Video.OperationID,
		"idempotent start must not burn an operation id")

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)
}

func TestStartResyncsWhenProcessDiedOutOfBand(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	// The machine believes a session runs but no process exists, as after a
	// crash the watcher never saw.
	_, err := rig.store.TransitionVideo(state.StateStarting)
	require.NoError(t, err)
	_, err = rig.store.TransitionVideo(state.StateRunning)
	require.NoError(t, err)

	result, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	assert.False(t, result.AlreadyRunning)
	assert.Equal(t, state.StateRunning, rig.store.Snapshot().Video.State)
	assert.True(t, rig.supervisor.Running(ProcName))

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)
}

func TestStartFailsWhenBackendExitsImmediately(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sh", "-c", "exit 7"))

	_, err := rig.manager.Start(context.Background(), StartParams{})
	require.Error(t, err)
	assert.Equal(t, errors.KindBackendFailed, errors.KindOf(err))

	snap := rig.store.Snapshot()
	assert.Equal(t, state.StateError, snap.Video.State)
	require.NotNil(t, snap.Video.LastError)
	assert.Equal(t, "E_BACKEND_FAILED", snap.Video.LastError.Code)
	assert.Equal(t, 7, snap.Video.LastError.Details["returncode"])
}

func TestStartRemembersCameraOptions(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	facing := "back"
	rotation := 90
	_, err := rig.manager.Start(ctx, StartParams{CameraFacing: &facing, CameraRotation: &rotation})
	require.NoError(t, err)
	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)

	// Restart with no overrides keeps the previous camera options; invalid
	// values fall back to them too.
	badFacing := "sideways"
	result, err := rig.manager.Start(ctx, StartParams{CameraFacing: &badFacing})
	require.NoError(t, err)
	require.NotNil(t, result.Source)
	assert.Equal(t, "back", result.Source.CameraFacing)
	assert.Equal(t, 90, result.Source.CameraRotation)

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))

	result, err := rig.manager.Stop(context.Background())
	require.NoError(t, err)

	assert.True(t, result.AlreadyStopped)
	assert.Equal(t, "STOPPED", result.State)
	assert.Nil(t, result.PostStopReset)
	assert.Empty(t, rig.priv.callList(), "idempotent stop must not touch the helper")
}

func TestStopReloadsDeviceAfterSettle(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	result, err := rig.manager.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, "STOPPED", result.State)
	assert.False(t, result.AlreadyStopped)
	require.NotNil(t, result.PostStopReset)
	assert.True(t, result.PostStopReset.OK)
	assert.Equal(t, 1, rig.priv.callCount("v4l2.reload"))
	assert.Equal(t, state.StateStopped, rig.store.Snapshot().Video.State)
	assert.False(t, rig.supervisor.Running(ProcName))
}

func TestStopReloadsDeviceEvenWhileBusy(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)
	rig.loopback.blockers = []int{4242}

	result, err := rig.manager.Stop(ctx)
	require.NoError(t, err)

	require.NotNil(t, result.PostStopReset)
	assert.True(t, result.PostStopReset.OK)
	assert.Equal(t, 1, rig.priv.callCount("v4l2.reload"))
	assert.Equal(t, true, rig.priv.lastParams("v4l2.reload")["always_reload"])
}

func TestResetSurfacesEnrichedBusyError(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	rig.loopback.blockers = []int{314, 159}
	rig.priv.fail = map[string]error{"v4l2.reload": errors.Newf("module in use").
		Kind(errors.KindBusyDevice).
		Component("privilege-client").
		Build()}

	_, err := rig.manager.Reset(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, errors.KindBusyDevice, errors.KindOf(err))
	assert.Equal(t, 1, rig.priv.callCount("v4l2.reload"))

	appErr := errors.AsAppError(err)
	require.NotNil(t, appErr)
	details := appErr.DetailMap()
	assert.Equal(t, []any{314, 159}, details["blocker_pids"])
	assert.Contains(t, details["hint"], "force=true")
}

func TestResetForwardsForceToHelper(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))

	result, err := rig.manager.Reset(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, result.Reloaded)
	assert.True(t, result.Forced)
	assert.Equal(t, "/dev/video10", result.Device)
	assert.Equal(t, 1, rig.priv.callCount("v4l2.reload"))
	assert.Equal(t, true, rig.priv.lastParams("v4l2.reload")["force"])
}

func TestResetTearsDownRunningSession(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	result, err := rig.manager.Reset(ctx, false)
	require.NoError(t, err)

	assert.True(t, result.Reloaded)
	assert.False(t, rig.supervisor.Running(ProcName))
	assert.Equal(t, state.StateStopped, rig.store.Snapshot().Video.State)
	assert.Nil(t, rig.manager.RuntimeStatus().ActiveSource)
}

func TestStopReconnectParksWatcher(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	result := rig.manager.StopReconnect()
	assert.True(t, result.Stopped)
	assert.Equal(t, "stopped", result.Reconnect.State)
	assert.Zero(t, result.Reconnect.Attempt)

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)
}

func TestRuntimeStatusTracksSessionLifecycle(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	status := rig.manager.RuntimeStatus()
	assert.Nil(t, status.ActiveSource)
	assert.Nil(t, status.ActiveProcess)
	assert.Nil(t, status.LastExitCode)

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	status = rig.manager.RuntimeStatus()
	require.NotNil(t, status.ActiveSource)
	assert.Equal(t, "PHONE01", status.ActiveSource.Serial)
	require.NotNil(t, status.ActiveProcess)
	assert.Equal(t, ProcName, *status.ActiveProcess)
	assert.Contains(t, status.LogPointers["video_android"], ProcName+".log")

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)

	status = rig.manager.RuntimeStatus()
	assert.Nil(t, status.ActiveSource)
	require.NotNil(t, status.LastExitCode)
}

func TestReconnectRestartsCrashedSession(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)
	firstPID := rig.supervisor.Get(ProcName).PID()

	require.NoError(t, syscall.Kill(firstPID, syscall.SIGKILL))

	// Wait for the replacement session to finish starting, not just for the
	// replacement process to appear: the PID shows up while the machine is
	// still in STARTING, inside the startup probe window.
	require.Eventually(t, func() bool {
		managed := rig.supervisor.Get(ProcName)
		return managed != nil && managed.PID() != firstPID &&
			rig.store.Snapshot().Video.State == state.StateRunning
	}, 5*time.Second, 20*time.Millisecond, "watcher should restart the session")

	assert.Equal(t, state.StateRunning, rig.store.Snapshot().Video.State)
	assert.GreaterOrEqual(t, rig.backend.selectCallCount(), 2)

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)
}

func TestReconnectExhaustionRecordsTerminalError(t *testing.T) {
	backend := newFakeBackend("sleep", "5")
	backend.failAfter = 1 // device vanishes after the initial start
	rig := newTestRig(t, backend)
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(rig.supervisor.Get(ProcName).PID(), syscall.SIGKILL))

	require.Eventually(t, func() bool {
		return rig.store.Snapshot().Video.State == state.StateError
	}, 5*time.Second, 20*time.Millisecond, "exhausted reconnect should end in ERROR")

	snap := rig.store.Snapshot()
	require.NotNil(t, snap.Video.LastError)
	assert.Equal(t, "E_BACKEND_FAILED", snap.Video.LastError.Code)
	assert.Equal(t, 3, snap.Video.LastError.Details["attempts"])
	assert.Equal(t, "exhausted", rig.manager.RuntimeStatus().Reconnect.State)
	assert.Equal(t, 4, rig.backend.selectCallCount(), "initial start plus three retries")
}

func TestStopAbortsPendingReconnect(t *testing.T) {
	rig := newTestRig(t, newFakeBackend("sleep", "5"))
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, StartParams{})
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(rig.supervisor.Get(ProcName).PID(), syscall.SIGKILL))
	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)

	// Give a runaway watcher time to misbehave; nothing may come back.
	time.Sleep(300 * time.Millisecond)
	assert.False(t, rig.supervisor.Running(ProcName))
	assert.Equal(t, state.StateStopped, rig.store.Snapshot().Video.State)
	assert.Equal(t, 1, rig.backend.selectCallCount(), "no restart after stop")
}
