// Package pactl wraps the PulseAudio/PipeWire-pulse control CLI used to
// build the virtual microphone: module load/unload and sink-input routing.
// Output parsing forces LC_ALL=C so field labels stay stable.
package pactl

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Module is one row of `pactl list short modules`.
type Module struct {
	ID   string
	Name string
	Args string
}

// SinkInput is one entry of `pactl list sink-inputs` with its properties.
type SinkInput struct {
	ID         string
	Sink       string
	Properties map[string]string
}

type runFunc func(args ...string) (stdout string, stderr string, exitCode int, err error)

// Integration shells out to pactl. A zero Bin means pactl is absent.
type Integration struct {
	Bin string

	run runFunc
}

// NewIntegration locates pactl on PATH.
func NewIntegration() *Integration {
	p := &Integration{}
	if found, err := exec.LookPath("pactl"); err == nil {
		p.Bin = found
	}
	p.run = p.execRun
	return p
}

// Available reports whether pactl was found.
func (p *Integration) Available() bool { return p.Bin != "" }

func (p *Integration) execRun(args ...string) (string, string, int, error) {
	cmd := exec.Command(p.Bin, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C", "LANG=C")
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
			err = nil
		}
	}
	return outBuf.String(), errBuf.String(), code, err
}

func (p *Integration) runChecked(op string, args ...string) (string, error) {
	if p.Bin == "" {
		return "", fmt.Errorf("pactl not found")
	}
	stdout, stderr, code, err := p.run(args...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if code != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = strings.TrimSpace(stdout)
		}
		if msg == "" {
			msg = op + " failed"
		}
		return "", fmt.Errorf("%s", msg)
	}
	return stdout, nil
}

// LoadModule loads a PulseAudio module and returns its id.
func (p *Integration) LoadModule(name string, args []string) (int, error) {
	stdout, err := p.runChecked("pactl load-module", append([]string{"load-module", name}, args...)...)
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(stdout))
	if err != nil {
		return 0, fmt.Errorf("unexpected load-module output %q", strings.TrimSpace(stdout))
	}
	return id, nil
}

// UnloadModule unloads a module by id. Failures are ignored: the module may
// already be gone after a daemon restart.
func (p *Integration) UnloadModule(moduleID int) {
	if p.Bin == "" {
		return
	}
	_, _, _, _ = p.run("unload-module", strconv.Itoa(moduleID))
}

// ListModules parses `pactl list short modules`.
func (p *Integration) ListModules() ([]Module, error) {
	stdout, err := p.runChecked("pactl list modules", "list", "short", "modules")
	if err != nil {
		return nil, err
	}

	var modules []Module
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		mod := Module{ID: strings.TrimSpace(parts[0]), Name: strings.TrimSpace(parts[1])}
		if len(parts) >= 3 {
			mod.Args = strings.TrimSpace(parts[2])
		}
		modules = append(modules, mod)
	}
	return modules, nil
}

// ListSinkInputs parses `pactl list sink-inputs` including the Properties
// block of each entry.
func (p *Integration) ListSinkInputs() ([]SinkInput, error) {
	stdout, err := p.runChecked("pactl list sink-inputs", "list", "sink-inputs")
	if err != nil {
		return nil, err
	}

	var inputs []SinkInput
	var current *SinkInput
	inProps := false
	for _, raw := range strings.Split(stdout, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Sink Input #") {
			if current != nil {
				inputs = append(inputs, *current)
			}
			current = &SinkInput{
				ID:         strings.TrimSpace(strings.TrimPrefix(line, "Sink Input #")),
				Properties: make(map[string]string),
			}
			inProps = false
			continue
		}
		if current == nil {
			continue
		}
		if strings.HasPrefix(line, "Sink:") {
			current.Sink = strings.TrimSpace(strings.TrimPrefix(line, "Sink:"))
			continue
		}
		if strings.HasPrefix(line, "Properties:") {
			inProps = true
			continue
		}
		if inProps {
			key, value, found := strings.Cut(line, " = ")
			if !found {
				// Next section of the entry.
				inProps = false
				continue
			}
			value = strings.TrimSpace(value)
			value = strings.TrimPrefix(value, `"`)
			value = strings.TrimSuffix(value, `"`)
			current.Properties[strings.TrimSpace(key)] = value
		}
	}
	if current != nil {
		inputs = append(inputs, *current)
	}
	return inputs, nil
}

// MoveSinkInput reroutes a playback stream to the named sink.
func (p *Integration) MoveSinkInput(sinkInputID int, sinkName string) error {
	_, err := p.runChecked("pactl move-sink-input",
		"move-sink-input", strconv.Itoa(sinkInputID), sinkName)
	return err
}

// Info parses `pactl info` into a key/value map.
func (p *Integration) Info() (map[string]string, error) {
	stdout, err := p.runChecked("pactl info", "info")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, line := range strings.Split(stdout, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, nil
}

// DefaultSource returns the default source name, empty if unknown.
func (p *Integration) DefaultSource() string {
	info, err := p.Info()
	if err != nil {
		return ""
	}
	return info["Default Source"]
}
