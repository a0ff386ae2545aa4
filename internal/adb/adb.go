// Package adb wraps the adb CLI for device discovery and Wi-Fi debugging
// setup. All invocations are serialized behind one mutex because the adb
// server mishandles concurrent clients during USB renegotiation.
package adb

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Device is one row of `adb devices` output.
type Device struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
}

// Result captures one adb invocation for diagnostics.
type Result struct {
	ReturnCode int      `json:"returncode"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	Args       []string `json:"args"`
}

// runFunc executes an adb command; swapped out in tests.
type runFunc func(ctx context.Context, bin string, args ...string) Result

func execRun(ctx context.Context, bin string, args ...string) Result {
	cmd := exec.CommandContext(ctx, bin, args...)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 127
		}
	}
	return Result{
		ReturnCode: code,
		Stdout:     outBuf.String(),
		Stderr:     errBuf.String(),
		Args:       append([]string{bin}, args...),
	}
}

// Adapter is the adb integration. A zero Bin means adb was not found and
// every operation degrades accordingly.
type Adapter struct {
	Bin string

	mu  sync.Mutex
	run runFunc
}

// NewAdapter locates adb, honoring an explicit path over PATH lookup.
func NewAdapter(bin string) *Adapter {
	if bin == "" {
		bin = os.Getenv("AVREAM_ADB_BIN")
	}
	if bin == "" {
		if found, err := exec.LookPath("adb"); err == nil {
			bin = found
		}
	}
	return &Adapter{Bin: bin, run: execRun}
}

// Available reports whether an adb binary was found.
func (a *Adapter) Available() bool { return a.Bin != "" }

func (a *Adapter) exec(ctx context.Context, args ...string) Result {
	if a.Bin == "" {
		return Result{ReturnCode: 127, Stderr: "adb not found", Args: append([]string{"adb"}, args...)}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run(ctx, a.Bin, args...)
}

// ListDevices parses `adb devices`. Missing adb or a failed invocation
// yields an empty list, not an error; callers decide how hard to fail.
func (a *Adapter) ListDevices(ctx context.Context) []Device {
	if a.Bin == "" {
		return nil
	}
	res := a.exec(ctx, "devices")
	if res.ReturnCode != 0 {
		return nil
	}

	var devices []Device
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			devices = append(devices, Device{Serial: fields[0], State: fields[1]})
		}
	}
	return devices
}

// Tcpip switches the device's adbd to TCP listening on port.
func (a *Adapter) Tcpip(ctx context.Context, serial string, port int) Result {
	return a.exec(ctx, "-s", serial, "tcpip", fmt.Sprintf("%d", port))
}

// Connect connects to a Wi-Fi endpoint (host or host:port).
func (a *Adapter) Connect(ctx context.Context, endpoint string) Result {
	return a.exec(ctx, "connect", NormalizeEndpoint(endpoint, 5555))
}

// Disconnect disconnects a Wi-Fi endpoint.
func (a *Adapter) Disconnect(ctx context.Context, endpoint string) Result {
	return a.exec(ctx, "disconnect", NormalizeEndpoint(endpoint, 5555))
}

// ConnectWithRetry retries Connect with linearly growing delays. adbd
// restarts after tcpip mode switches and rejects the first attempts.
func (a *Adapter) ConnectWithRetry(ctx context.Context, endpoint string, retries int, backoffBase time.Duration) Result {
	if retries < 1 {
		retries = 1
	}
	var last Result
	for attempt := 1; attempt <= retries; attempt++ {
		last = a.Connect(ctx, endpoint)
		if last.ReturnCode == 0 {
			return last
		}
		if attempt < retries {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(backoffBase * time.Duration(attempt)):
			}
		}
	}
	return last
}

var ipv4Pattern = regexp.MustCompile(`\b(\d{1,3}(?:\.\d{1,3}){3})/\d+\b`)

// DetectDeviceIP finds the phone's Wi-Fi IPv4 address over `adb shell`.
// Known wireless interfaces are probed first, then any non-loopback
// interface with a preference for private ranges.
func (a *Adapter) DetectDeviceIP(ctx context.Context, serial string) string {
	for _, iface := range []string{"wlan0", "swlan0", "wlan1", "wlan2", "wifi0"} {
		res := a.exec(ctx, "-s", serial, "shell", "ip", "-4", "-o", "addr", "show", iface)
		if res.ReturnCode != 0 {
			continue
		}
		if ip := extractIPv4(res.Stdout); ip != "" {
			return ip
		}
	}

	res := a.exec(ctx, "-s", serial, "shell", "ip", "-4", "-o", "addr", "show")
	if res.ReturnCode != 0 {
		return ""
	}

	var firstCandidate string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(" "+line+" ", " lo ") {
			continue
		}
		ip := extractIPv4(line)
		if ip == "" {
			continue
		}
		if firstCandidate == "" {
			firstCandidate = ip
		}
		if parsed := net.ParseIP(ip); parsed != nil && parsed.IsPrivate() {
			return ip
		}
	}
	return firstCandidate
}

// DeviceProperty reads a getprop value, empty when unset or "unknown".
func (a *Adapter) DeviceProperty(ctx context.Context, serial, prop string) string {
	res := a.exec(ctx, "-s", serial, "shell", "getprop", prop)
	if res.ReturnCode != 0 {
		return ""
	}
	value := strings.TrimSpace(res.Stdout)
	if strings.EqualFold(value, "unknown") {
		return ""
	}
	return value
}

// DeviceIdentity returns a stable physical-device key so the same phone
// reached over USB and Wi-Fi dedupes to one entry. Empty when unreadable.
func (a *Adapter) DeviceIdentity(ctx context.Context, serial string) string {
	for _, prop := range []string{"ro.serialno", "ro.boot.serialno"} {
		if value := a.DeviceProperty(ctx, serial, prop); value != "" {
			return value
		}
	}
	return ""
}

// WifiSetupResult summarizes the tcpip → detect-IP → connect flow.
type WifiSetupResult struct {
	ReturnCode int      `json:"returncode"`
	Serial     string   `json:"serial,omitempty"`
	IP         string   `json:"ip,omitempty"`
	Port       int      `json:"port,omitempty"`
	Endpoint   string   `json:"endpoint,omitempty"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	Devices    []Device `json:"devices,omitempty"`
}

// WifiSetup switches a USB-attached device to Wi-Fi debugging and connects
// to it. With no explicit serial it prefers a healthy USB device.
func (a *Adapter) WifiSetup(ctx context.Context, serial string, port int) WifiSetupResult {
	if a.Bin == "" {
		return WifiSetupResult{ReturnCode: 127, Stderr: "adb not found"}
	}
	if port <= 0 {
		port = 5555
	}

	devices := a.ListDevices(ctx)
	target := serial
	if target == "" {
		for _, dev := range devices {
			if dev.State == "device" && TransportOf(dev.Serial) == "usb" {
				target = dev.Serial
				break
			}
		}
	}
	if target == "" {
		for _, dev := range devices {
			if dev.State == "device" {
				target = dev.Serial
				break
			}
		}
	}
	if target == "" {
		return WifiSetupResult{
			ReturnCode: 2,
			Stderr:     "no authorized adb device available",
			Devices:    devices,
		}
	}

	tcp := a.Tcpip(ctx, target, port)
	if tcp.ReturnCode != 0 {
		return WifiSetupResult{
			ReturnCode: tcp.ReturnCode,
			Serial:     target,
			Port:       port,
			Stdout:     tcp.Stdout,
			Stderr:     orDefault(tcp.Stderr, "failed to enable tcpip"),
			Devices:    devices,
		}
	}

	// adbd restarts after the mode switch and may briefly report the
	// device offline; poll for the IP.
	var ip string
	for attempt := 0; attempt < 12; attempt++ {
		ip = a.DetectDeviceIP(ctx, target)
		if ip != "" {
			break
		}
		select {
		case <-ctx.Done():
			return WifiSetupResult{ReturnCode: 3, Serial: target, Port: port, Stderr: "cancelled"}
		case <-time.After(500 * time.Millisecond):
		}
	}
	if ip == "" {
		return WifiSetupResult{
			ReturnCode: 3,
			Serial:     target,
			Port:       port,
			Stdout:     tcp.Stdout,
			Stderr:     "failed to detect device Wi-Fi IP over ADB (keep phone unlocked and USB connected during setup)",
			Devices:    devices,
		}
	}

	endpoint := fmt.Sprintf("%s:%d", ip, port)
	conn := a.ConnectWithRetry(ctx, endpoint, 3, 500*time.Millisecond)
	return WifiSetupResult{
		ReturnCode: conn.ReturnCode,
		Serial:     target,
		IP:         ip,
		Port:       port,
		Endpoint:   endpoint,
		Stdout:     conn.Stdout,
		Stderr:     conn.Stderr,
		Devices:    devices,
	}
}

// TransportOf classifies a serial as wifi (host:port form) or usb.
func TransportOf(serial string) string {
	if strings.Contains(serial, ":") {
		return "wifi"
	}
	return "usb"
}

// NormalizeEndpoint appends the default port to a bare host.
func NormalizeEndpoint(endpoint string, defaultPort int) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.Contains(endpoint, ":") {
		return endpoint
	}
	return fmt.Sprintf("%s:%d", endpoint, defaultPort)
}

func extractIPv4(text string) string {
	m := ipv4Pattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if net.ParseIP(m[1]) == nil {
		return ""
	}
	return m[1]
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
