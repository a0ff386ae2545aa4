package pactl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeIntegration(stdout string, exitCode int) *Integration {
	p := &Integration{Bin: "/usr/bin/pactl"}
	p.run = func(args ...string) (string, string, int, error) {
		return stdout, "", exitCode, nil
	}
	return p
}

func TestLoadModuleParsesID(t *testing.T) {
	t.Parallel()
	p := fakeIntegration("536870913\n", 0)

	id, err := p.LoadModule("module-null-sink", []string{"sink_name=avream_sink"})
	require.NoError(t, err)
	assert.Equal(t, 536870913, id)
}

func TestLoadModuleFailure(t *testing.T) {
	t.Parallel()
	p := &Integration{Bin: "/usr/bin/pactl"}
	p.run = func(args ...string) (string, string, int, error) {
		return "", "Failure: Module initialization failed", 1, nil
	}

	_, err := p.LoadModule("module-null-sink", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Module initialization failed")
}

func TestListModulesParsing(t *testing.T) {
	t.Parallel()
	p := fakeIntegration("1\tmodule-null-sink\tsink_name=avream_sink\n2\tmodule-device-restore\n", 0)

	modules, err := p.ListModules()
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, Module{ID: "1", Name: "module-null-sink", Args: "sink_name=avream_sink"}, modules[0])
	assert.Equal(t, "module-device-restore", modules[1].Name)
}

func TestListSinkInputsParsing(t *testing.T) {
	t.Parallel()
	stdout := `Sink Input #42
	Driver: protocol-native.c
	Sink: 1
	Properties:
		application.name = "scrcpy"
		media.name = "audio stream"
Sink Input #43
	Sink: 0
	Properties:
		application.name = "firefox"
`
	p := fakeIntegration(stdout, 0)

	inputs, err := p.ListSinkInputs()
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "42", inputs[0].ID)
	assert.Equal(t, "1", inputs[0].Sink)
	assert.Equal(t, "scrcpy", inputs[0].Properties["application.name"])
	assert.Equal(t, "audio stream", inputs[0].Properties["media.name"])
	assert.Equal(t, "firefox", inputs[1].Properties["application.name"])
}

func TestInfoParsing(t *testing.T) {
	t.Parallel()
	p := fakeIntegration("Server Name: PulseAudio (on PipeWire 1.0.0)\nDefault Source: alsa_input.pci\n", 0)

	assert.Equal(t, "alsa_input.pci", p.DefaultSource())
}

func TestOperationsWithoutPactl(t *testing.T) {
	t.Parallel()
	p := &Integration{}

	assert.False(t, p.Available())
	_, err := p.LoadModule("module-null-sink", nil)
	require.Error(t, err)
	_, err = p.ListModules()
	require.Error(t, err)
}
