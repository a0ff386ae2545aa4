// Package v4l2 models the v4l2loopback virtual camera device the daemon
// feeds. The module itself is loaded by the privileged helper; this side
// only inspects device health and finds blocking processes.
package v4l2

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Loopback describes one v4l2loopback device by number.
type Loopback struct {
	VideoNr int
	Label   string

	modulesFile string // overridable for tests
}

// New creates a Loopback for /dev/video<videoNr>.
func New(videoNr int, label string) *Loopback {
	return &Loopback{VideoNr: videoNr, Label: label, modulesFile: "/proc/modules"}
}

// DevicePath returns the device node path.
func (l *Loopback) DevicePath() string {
	return fmt.Sprintf("/dev/video%d", l.VideoNr)
}

// ModuleLoaded reports whether the v4l2loopback kernel module is loaded.
func (l *Loopback) ModuleLoaded() bool {
	f, err := os.Open(l.modulesFile)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "v4l2loopback ") {
			return true
		}
	}
	return false
}

// DeviceExists reports whether the device node is present.
func (l *Loopback) DeviceExists() bool {
	_, err := os.Stat(l.DevicePath())
	return err == nil
}

// DeviceBusy reports whether any process holds the device node open.
func (l *Loopback) DeviceBusy() bool {
	return len(l.DeviceBlockers()) > 0
}

// DeviceBlockers returns the sorted unique PIDs of processes holding the
// device node open. Unreadable processes (other users) are skipped; the
// result is best-effort diagnostics, not an authorization check.
func (l *Loopback) DeviceBlockers() []int {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	device := l.DevicePath()
	seen := make(map[int]struct{})
	for _, p := range procs {
		files, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.Path == device {
				seen[int(p.Pid)] = struct{}{}
				break
			}
		}
	}

	pids := make([]int, 0, len(seen))
	for pid := range seen {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// HelperParams returns the parameter object shared by all v4l2 helper calls.
func (l *Loopback) HelperParams() map[string]any {
	return map[string]any{
		"video_nr":       l.VideoNr,
		"label":          l.Label,
		"exclusive_caps": true,
	}
}
