// Package privilege invokes the root helper for actions the daemon cannot
// perform itself (kernel module load/reload). The protocol is one JSON
// request on the helper's stdin and one JSON response on stdout; the helper
// runs under pkexec or a systemd-run transient root unit.
package privilege

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avream/avreamd/internal/errors"
)

// allowedActions is the client-side allow-list. Anything else is rejected
// before any exec happens: a non-listed action is a programming error.
var allowedActions = map[string]bool{
	"noop":               true,
	"v4l2.ensure_config": true,
	"v4l2.load":          true,
	"v4l2.reload":        true,
	"v4l2.status":        true,
	"snd_aloop.load":     true,
	"snd_aloop.unload":   true,
	"snd_aloop.status":   true,
}

type request struct {
	RequestID string         `json:"request_id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
}

type response struct {
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data"`
	Error *helperError   `json:"error"`
}

type helperError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// Client calls the privileged helper binary.
type Client struct {
	HelperBin string
	// Mode selects how the helper is elevated:
	// auto (pkexec if usable, else systemd-run), pkexec, systemd-run,
	// direct (dev only, no elevation).
	Mode    string
	Timeout time.Duration

	// Overridable for tests.
	lookPath func(string) (string, error)
}

// NewClient builds a client; empty arguments fall back to the packaged
// helper path, pkexec mode and a 15s timeout.
func NewClient(helperBin, mode string, timeout time.Duration) *Client {
	if helperBin == "" {
		helperBin = "/usr/libexec/avream-helper"
	}
	if mode == "" {
		mode = "pkexec"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{HelperBin: helperBin, Mode: mode, Timeout: timeout, lookPath: exec.LookPath}
}

// Call performs one privileged action and returns the helper's data object.
func (c *Client) Call(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if !allowedActions[action] {
		return nil, errors.Newf("unsupported privileged action %q", action).
			Kind(errors.KindUnsupported).
			Component("privilege").
			Context("action", action).
			Build()
	}
	if !filepath.IsAbs(c.HelperBin) {
		return nil, errors.Newf("helper path must be absolute").
			Kind(errors.KindPermissionDenied).
			Component("privilege").
			Context("binary", c.HelperBin).
			Build()
	}
	if params == nil {
		params = map[string]any{}
	}

	payload, err := json.Marshal(request{
		RequestID: uuid.NewString(),
		Action:    action,
		Params:    params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding helper request: %w", err)
	}

	stdout, stderr, exitCode, usedCmd, err := c.execHelper(ctx, c.helperCommand(), payload, action)
	if err != nil {
		return nil, err
	}

	if exitCode != 0 {
		// pkexec without setuid cannot elevate at all; retry through
		// systemd-run before reporting.
		if strings.Contains(strings.ToLower(string(stderr)), "pkexec must be setuid root") &&
			len(usedCmd) > 0 && usedCmd[0] == "pkexec" && c.haveTool("systemd-run") {
			stdout, stderr, exitCode, _, err = c.execHelper(ctx, c.systemdRunCommand(), payload, action)
			if err != nil {
				return nil, err
			}
		}
	}

	if exitCode != 0 {
		return nil, c.permissionFailure(action, exitCode, string(stderr))
	}

	var resp response
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return nil, errors.Newf("invalid response from helper").
			Kind(errors.KindBackendFailed).
			Component("privilege").
			Context("action", action).
			Build()
	}
	if !resp.OK {
		return nil, c.helperFailure(action, resp.Error)
	}
	if resp.Data == nil {
		return map[string]any{}, nil
	}
	return resp.Data, nil
}

func (c *Client) permissionFailure(action string, exitCode int, stderrText string) error {
	stderrText = strings.TrimSpace(stderrText)
	lower := strings.ToLower(stderrText)
	builder := errors.Newf("privileged action failed").
		Kind(errors.KindPermissionDenied).
		Component("privilege").
		Context("action", action).
		Context("returncode", exitCode).
		Context("stderr", stderrText)

	switch {
	case strings.Contains(lower, "pkexec must be setuid root"):
		builder = errors.Newf("pkexec is misconfigured (missing setuid root)").
			Kind(errors.KindPermissionDenied).
			Component("privilege").
			Context("action", action).
			Context("returncode", exitCode).
			Context("stderr", stderrText).
			Context("hint", "set helper.mode=systemd-run or reinstall policykit and verify /usr/bin/pkexec is root:root 4755")
	case exitCode == 126 || exitCode == 127 ||
		strings.Contains(lower, "not authorized") || strings.Contains(lower, "authentication"):
		builder = errors.Newf("authorization denied or cancelled").
			Kind(errors.KindPermissionDenied).
			Component("privilege").
			Context("action", action).
			Context("returncode", exitCode).
			Context("stderr", stderrText).
			Context("hint", "confirm the polkit rule and complete the authentication prompt")
	}
	return builder.Build()
}

func (c *Client) helperFailure(action string, helperErr *helperError) error {
	code := "E_HELPER_FAILED"
	message := "helper action failed"
	var details map[string]any
	if helperErr != nil {
		if helperErr.Code != "" {
			code = helperErr.Code
		}
		if helperErr.Message != "" {
			message = helperErr.Message
		}
		details = helperErr.Details
	}

	builder := errors.Newf("%s", message).
		Component("privilege").
		Context("action", action).
		Context("helper_code", code)
	if details != nil {
		builder = builder.Context("error", details)
	}

	switch code {
	case "E_BUSY_DEVICE":
		return builder.Kind(errors.KindBusyDevice).Build()
	case "E_ACTION", "E_INVALID_PARAM":
		return builder.Kind(errors.KindUnsupported).Build()
	case "E_TIMEOUT":
		return builder.Kind(errors.KindTimeout).Build()
	default:
		return builder.Kind(errors.KindBackendFailed).Retryable(false).Build()
	}
}

func (c *Client) execHelper(ctx context.Context, cmdline []string, payload []byte, action string) (stdout, stderr []byte, exitCode int, usedCmd []string, err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, cmdline[0], cmdline[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	// Helper children may inherit the output pipes; don't let them block
	// Wait past the deadline.
	cmd.WaitDelay = 2 * time.Second
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if callCtx.Err() == context.DeadlineExceeded {
		return nil, nil, 0, cmdline, errors.Newf("privileged helper timed out").
			Kind(errors.KindTimeout).
			Component("privilege").
			Context("action", action).
			Context("timeout_s", c.Timeout.Seconds()).
			Build()
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return outBuf.Bytes(), errBuf.Bytes(), exitErr.ExitCode(), cmdline, nil
		}
		return nil, nil, 0, cmdline, errors.Newf("privileged helper is not available").
			Kind(errors.KindPermissionDenied).
			Component("privilege").
			Context("binary", cmdline[0]).
			Build()
	}
	return outBuf.Bytes(), errBuf.Bytes(), 0, cmdline, nil
}

func (c *Client) helperCommand() []string {
	mode := strings.ToLower(strings.TrimSpace(c.Mode))
	switch mode {
	case "direct":
		return []string{c.HelperBin}
	case "systemd-run":
		return c.systemdRunCommand()
	case "pkexec":
		if c.pkexecUsable() {
			return []string{"pkexec", c.HelperBin}
		}
		if c.haveTool("systemd-run") {
			return c.systemdRunCommand()
		}
		return []string{"pkexec", c.HelperBin}
	case "auto", "":
		if c.pkexecUsable() {
			return []string{"pkexec", c.HelperBin}
		}
		if c.haveTool("systemd-run") {
			return c.systemdRunCommand()
		}
		return []string{"pkexec", c.HelperBin}
	default:
		return []string{"pkexec", c.HelperBin}
	}
}

func (c *Client) systemdRunCommand() []string {
	return []string{
		"systemd-run",
		"--quiet", "--pipe", "--wait", "--collect",
		"-p", "Type=oneshot",
		"-p", "User=root",
		"-p", "Group=root",
		c.HelperBin,
	}
}

// Diagnostics reports how the next helper call would be executed.
func (c *Client) Diagnostics() map[string]any {
	cmd := c.helperCommand()
	runner := "unknown"
	if len(cmd) > 0 {
		runner = cmd[0]
	}
	mode := strings.ToLower(strings.TrimSpace(c.Mode))
	if mode == "" {
		mode = "pkexec"
	}
	return map[string]any{
		"configured_mode":       mode,
		"effective_runner":      runner,
		"effective_command":     cmd,
		"helper_bin":            c.HelperBin,
		"pkexec_usable":         c.pkexecUsable(),
		"systemd_run_available": c.haveTool("systemd-run"),
	}
}

func (c *Client) haveTool(name string) bool {
	_, err := c.lookPath(name)
	return err == nil
}

// pkexecUsable checks that pkexec exists and carries the setuid bit; a
// non-setuid pkexec fails after the auth prompt, which is worse than
// falling back up front.
func (c *Client) pkexecUsable() bool {
	path, err := c.lookPath("pkexec")
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSetuid != 0
}
