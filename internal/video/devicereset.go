package video

import (
	"context"
	"log/slog"

	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/logging"
)

// ResetService owns the virtual camera device lifecycle: making sure the
// v4l2loopback module is configured before a session, reloading it after a
// session so consumers see a clean device, and the explicit reset operation.
// Busy-device decisions live helper-side; this service only enriches them
// with locally observable blocker PIDs.
type ResetService struct {
	priv     PrivilegeCaller
	loopback LoopbackDevice
	logger   *slog.Logger
}

// NewResetService wires the reset service to the privileged helper and the
// loopback device it manages.
func NewResetService(priv PrivilegeCaller, loopback LoopbackDevice) *ResetService {
	return &ResetService{
		priv:     priv,
		loopback: loopback,
		logger:   logging.ForService("device-reset"),
	}
}

// ReloadResult reports a best-effort module reload.
type ReloadResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ResetResult is the answer of an explicit device reset.
type ResetResult struct {
	Reloaded bool   `json:"reloaded"`
	Device   string `json:"device"`
	Forced   bool   `json:"forced,omitempty"`
}

// EnsureReady prepares the virtual camera for a session: asks the helper for
// the module's status and performs a non-forced reload when the loaded
// parameters do not match the wanted configuration. Helper failures
// propagate so the session start can surface them.
func (r *ResetService) EnsureReady(ctx context.Context) error {
	status, err := r.priv.Call(ctx, "v4l2.status", r.loopback.HelperParams())
	if err != nil {
		return err
	}
	if required, _ := status["requires_reload"].(bool); !required {
		return nil
	}
	params := r.loopback.HelperParams()
	params["force"] = false
	params["always_reload"] = false
	_, err = r.priv.Call(ctx, "v4l2.reload", params)
	return err
}

// Reset reloads the v4l2loopback module with the caller's force flag. When
// the helper refuses because the device is held open, the error comes back
// enriched with the blocker PIDs and a remediation hint; every other helper
// failure propagates unchanged.
func (r *ResetService) Reset(ctx context.Context, force bool) (ResetResult, error) {
	params := r.loopback.HelperParams()
	params["force"] = force
	if _, err := r.priv.Call(ctx, "v4l2.reload", params); err != nil {
		if errors.KindOf(err) == errors.KindBusyDevice {
			return ResetResult{}, r.enrichBusyError(err)
		}
		return ResetResult{}, err
	}
	return ResetResult{Reloaded: true, Device: r.loopback.DevicePath(), Forced: force}, nil
}

// enrichBusyError rebuilds a helper busy-device error with the device path,
// the locally scanned blocker PIDs and a remediation hint. Detail keys the
// helper already filled stay, except blocker_pids which the local scan owns.
func (r *ResetService) enrichBusyError(err error) error {
	details := map[string]any{}
	if appErr := errors.AsAppError(err); appErr != nil {
		details = appErr.DetailMap()
	}
	if _, ok := details["device"]; !ok {
		details["device"] = r.loopback.DevicePath()
	}
	pids := make([]any, 0)
	for _, pid := range r.loopback.DeviceBlockers() {
		pids = append(pids, pid)
	}
	details["blocker_pids"] = pids
	if _, ok := details["hint"]; !ok {
		details["hint"] = "close applications using the camera, then retry reset; force=true may still fail while actively busy"
	}
	builder := errors.Newf("cannot reset while target v4l2 device is in use").
		Kind(errors.KindBusyDevice).
		Component("device-reset")
	for key, value := range details {
		builder = builder.Context(key, value)
	}
	return builder.Build()
}

// BestEffortReloadAfterStop reloads the module after a session ends so the
// next consumer opens a fresh device. The helper is always asked, even while
// the device looks busy; a failure is reported in the result, never raised:
// stop must stay successful.
func (r *ResetService) BestEffortReloadAfterStop(ctx context.Context) ReloadResult {
	params := r.loopback.HelperParams()
	params["force"] = false
	params["always_reload"] = true
	if _, err := r.priv.Call(ctx, "v4l2.reload", params); err != nil {
		r.logger.Warn("post-stop device reload failed",
			"device", r.loopback.DevicePath(), "error", err)
		return ReloadResult{Error: err.Error()}
	}
	return ReloadResult{OK: true}
}
