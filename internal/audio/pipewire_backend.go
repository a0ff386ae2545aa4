package audio

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/logging"
	"github.com/avream/avreamd/internal/pactl"
)

// PipeWireProbe is the PipeWire discovery surface. Satisfied by
// *pipewire.Integration.
type PipeWireProbe interface {
	Available() bool
	Running() bool
	SupportsNativeVirtualMic() bool
	LoopbackBin() string
}

// PipeWireBackend builds the bridge on a PipeWire session: preferred is the
// pulse compatibility path (null sink + remapped source via pactl), the
// fallback a raw pw-loopback pair when pactl is missing.
type PipeWireBackend struct {
	pipewire   PipeWireProbe
	pactl      PulseControl
	sinkName   string
	sourceName string
	router     *Router
	logger     *slog.Logger

	mu         sync.Mutex
	nativeProc *exec.Cmd

	startLoopback func(bin string) (*exec.Cmd, error)
}

// NewPipeWireBackend wires the backend to its CLI surfaces.
func NewPipeWireBackend(probe PipeWireProbe, pulse PulseControl, sinkName, sourceName string) *PipeWireBackend {
	b := &PipeWireBackend{
		pipewire:   probe,
		pactl:      pulse,
		sinkName:   sinkName,
		sourceName: sourceName,
		router:     NewRouter(pulse, sinkName),
		logger:     logging.ForService("audio-pipewire"),
	}
	b.startLoopback = b.execLoopback
	return b
}

// Name identifies the backend in results and recovery state.
func (b *PipeWireBackend) Name() string { return "pipewire" }

// isBridgeModule recognizes pulse modules this daemon created, by module
// type and the bridge names baked into their arguments.
func (b *PipeWireBackend) isBridgeModule(mod pactl.Module) bool {
	switch mod.Name {
	case "module-null-sink", "module-remap-source", "module-loopback":
	default:
		return false
	}
	tokens := []string{
		"sink_name=" + b.sinkName,
		"source_name=" + b.sourceName,
		"master=" + b.sinkName + ".monitor",
		"sink=" + b.sinkName,
		"AVream Mic Bridge",
		"AVream Mic",
	}
	for _, token := range tokens {
		if strings.Contains(mod.Args, token) {
			return true
		}
	}
	return false
}

// CleanupStaleModules unloads bridge modules a previous daemon left behind,
// returning the ids it removed.
func (b *PipeWireBackend) CleanupStaleModules() []int {
	if !b.pactl.Available() {
		return nil
	}
	modules, err := b.pactl.ListModules()
	if err != nil {
		return nil
	}
	var removed []int
	for _, mod := range modules {
		if !b.isBridgeModule(mod) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(mod.ID))
		if err != nil {
			continue
		}
		b.pactl.UnloadModule(id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		b.logger.Info("removed stale bridge modules", "module_ids", removed)
	}
	return removed
}

// Start creates the bridge and returns the recovery state to persist. On
// the pulse path a half-built bridge is rolled back before the error
// surfaces.
func (b *PipeWireBackend) Start(ctx context.Context, isActive func() bool) (map[string]any, error) {
	if b.pactl.Available() {
		sinkID, err := b.pactl.LoadModule("module-null-sink", []string{
			"sink_name=" + b.sinkName,
			"sink_properties=device.description=Hidden_AVream_Bridge device.hidden=1",
		})
		if err != nil {
			return nil, pactlBridgeError(err)
		}
		sourceID, err := b.pactl.LoadModule("module-remap-source", []string{
			"master=" + b.sinkName + ".monitor",
			"source_name=" + b.sourceName,
			"source_properties=device.description=AVream Mic",
		})
		if err != nil {
			b.pactl.UnloadModule(sinkID)
			return nil, pactlBridgeError(err)
		}

		moveResult := b.router.MoveOnce(ctx)
		b.router.StartBackground(isActive)
		return map[string]any{
			"backend":     "pipewire",
			"modules":     []any{sinkID, sourceID},
			"move_result": moveResult,
		}, nil
	}

	if b.pipewire.SupportsNativeVirtualMic() {
		cmd, err := b.startLoopback(b.pipewire.LoopbackBin())
		if err != nil {
			return nil, errors.New(err).
				Kind(errors.KindDependencyMissing).
				Component("audio-pipewire").
				Context("tool", "pw-loopback").
				Context("package", "pipewire-bin").
				Build()
		}
		b.mu.Lock()
		b.nativeProc = cmd
		b.mu.Unlock()
		return map[string]any{"backend": "pipewire_native", "modules": []any{}}, nil
	}

	return nil, errors.Newf("pipewire routing requires pactl or pw-loopback").
		Kind(errors.KindDependencyMissing).
		Component("audio-pipewire").
		Context("pactl", b.pactl.Available()).
		Context("pw_loopback", b.pipewire.LoopbackBin() != "").
		Context("packages", []string{"pulseaudio-utils", "pipewire-bin"}).
		Build()
}

func pactlBridgeError(err error) error {
	return errors.New(err).
		Kind(errors.KindDependencyMissing).
		Component("audio-pipewire").
		Context("tool", "pactl").
		Context("package", "pulseaudio-utils").
		Build()
}

func (b *PipeWireBackend) execLoopback(bin string) (*exec.Cmd, error) {
	cmd := exec.Command(bin,
		"--capture-props",
		`{ node.name="`+b.sinkName+`" node.description="AVream Sink" media.class="Audio/Sink" }`,
		"--playback-props",
		`{ node.name="`+b.sourceName+`" node.description="AVream Mic" media.class="Audio/Source" }`,
	)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { _ = cmd.Wait() }()
	return cmd, nil
}

// Stop tears the bridge down from persisted state: unload recorded modules,
// sweep leftovers, terminate a native loopback. Everything is best-effort.
func (b *PipeWireBackend) Stop(_ context.Context, recovery map[string]any) {
	if modules, ok := recovery["modules"].([]any); ok {
		for _, raw := range modules {
			if id, ok := moduleID(raw); ok {
				b.pactl.UnloadModule(id)
			}
		}
	}
	b.CleanupStaleModules()

	b.mu.Lock()
	proc := b.nativeProc
	b.nativeProc = nil
	b.mu.Unlock()
	if proc != nil && proc.Process != nil {
		_ = proc.Process.Signal(syscall.SIGTERM)
	}

	b.router.StopBackground()
}

// moduleID copes with ids arriving as JSON numbers or ints.
func moduleID(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case string:
		id, err := strconv.Atoi(v)
		return id, err == nil
	default:
		return 0, false
	}
}
