// Package pipewire probes for a usable PipeWire session. The daemon prefers
// routing audio through the pulse compatibility layer (pactl); this package
// only answers "is PipeWire actually reachable" questions.
package pipewire

import (
	"os/exec"
	"strings"
)

// Integration holds the discovered PipeWire tool paths.
type Integration struct {
	PwCli      string
	Pactl      string
	PwLoopback string

	runOK func(bin string, args ...string) bool
}

// NewIntegration locates the PipeWire CLI tools on PATH.
func NewIntegration() *Integration {
	p := &Integration{runOK: execOK}
	if found, err := exec.LookPath("pw-cli"); err == nil {
		p.PwCli = found
	}
	if found, err := exec.LookPath("pactl"); err == nil {
		p.Pactl = found
	}
	if found, err := exec.LookPath("pw-loopback"); err == nil {
		p.PwLoopback = found
	}
	return p
}

func execOK(bin string, args ...string) bool {
	return exec.Command(bin, args...).Run() == nil
}

// LoopbackBin returns the pw-loopback path, empty when absent.
func (p *Integration) LoopbackBin() string { return p.PwLoopback }

// Available reports whether any PipeWire tooling is installed.
func (p *Integration) Available() bool {
	return p.PwCli != "" || p.Pactl != "" || p.PwLoopback != ""
}

// Running reports whether a PipeWire (or pulse-compatible) server answers.
func (p *Integration) Running() bool {
	if p.PwCli != "" && p.runOK(p.PwCli, "info", "0") {
		return true
	}
	if p.Pactl != "" {
		return p.runOK(p.Pactl, "info")
	}
	return false
}

// SupportsNativeVirtualMic reports whether pw-loopback can build the
// virtual mic without the pulse layer.
func (p *Integration) SupportsNativeVirtualMic() bool {
	return p.PwLoopback != "" && p.Running()
}

// NodeExists checks for a node by name in `pw-cli ls Node` output.
func (p *Integration) NodeExists(nodeName string) bool {
	if p.PwCli == "" {
		return false
	}
	out, err := exec.Command(p.PwCli, "ls", "Node").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), `node.name = "`+nodeName+`"`)
}
