package audio

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/pactl"
	"github.com/avream/avreamd/internal/state"
)

type fakePulse struct {
	mu         sync.Mutex
	available  bool
	modules    []pactl.Module
	sinkInputs []pactl.SinkInput
	loadErr    map[string]error
	nextID     int
	loads      []string
	unloaded   []int
	moved      []int
	moveSink   string
}

func (f *fakePulse) Available() bool { return f.available }

func (f *fakePulse) LoadModule(name string, _ []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadErr[name]; err != nil {
		return 0, err
	}
	f.nextID++
	f.loads = append(f.loads, name)
	return f.nextID, nil
}

func (f *fakePulse) UnloadModule(moduleID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloaded = append(f.unloaded, moduleID)
}

func (f *fakePulse) ListModules() ([]pactl.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modules, nil
}

func (f *fakePulse) ListSinkInputs() ([]pactl.SinkInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinkInputs, nil
}

func (f *fakePulse) MoveSinkInput(sinkInputID int, sinkName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moved = append(f.moved, sinkInputID)
	f.moveSink = sinkName
	return nil
}

func (f *fakePulse) unloadedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.unloaded...)
}

func (f *fakePulse) movedIDs() ([]int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.moved...), f.moveSink
}

func scrcpyStream(id string) pactl.SinkInput {
	return pactl.SinkInput{
		ID:   id,
		Sink: "0",
		Properties: map[string]string{
			"application.name": "scrcpy",
			"media.name":       "audio stream",
		},
	}
}

type fakeProbe struct {
	available bool
	running   bool
	native    bool
	loopback  string
}

func (f *fakeProbe) Available() bool                { return f.available }
func (f *fakeProbe) Running() bool                  { return f.running }
func (f *fakeProbe) SupportsNativeVirtualMic() bool { return f.native }
func (f *fakeProbe) LoopbackBin() string            { return f.loopback }

type fakePriv struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakePriv) Call(_ context.Context, action string, _ map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	if err := f.fail[action]; err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakePriv) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type audioRig struct {
	manager *Manager
	store   *state.Store
	pulse   *fakePulse
	probe   *fakeProbe
	priv    *fakePriv
	repo    *Repository
}

func newAudioRig(t *testing.T, pulse *fakePulse, probe *fakeProbe) *audioRig {
	t.Helper()
	store := state.NewStore()
	priv := &fakePriv{}
	repo := NewRepository(filepath.Join(t.TempDir(), "audio_state.json"))
	manager := NewManager(store, probe, pulse, priv, repo, nil, "", "")
	return &audioRig{manager: manager, store: store, pulse: pulse, probe: probe, priv: priv, repo: repo}
}

func TestStartBuildsPulseBridge(t *testing.T) {
	pulse := &fakePulse{available: true, sinkInputs: []pactl.SinkInput{scrcpyStream("42")}}
	rig := newAudioRig(t, pulse, &fakeProbe{available: true, running: true})
	ctx := context.Background()

	result, err := rig.manager.Start(ctx, "pipewire")
	require.NoError(t, err)

	assert.Equal(t, "RUNNING", result.State)
	assert.Equal(t, "pipewire", result.Backend)
	assert.False(t, result.AlreadyRunning)
	assert.Equal(t, []string{"module-null-sink", "module-remap-source"}, pulse.loads)
	assert.Equal(t, state.StateRunning, rig.store.Snapshot().Audio.State)

	recovery := rig.repo.Load()
	assert.Equal(t, "pipewire", recovery["backend"])
	assert.Len(t, recovery["modules"], 2)

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)

	// scrcpy's stream was steered into the bridge sink.
	moved, sink := pulse.movedIDs()
	require.NotEmpty(t, moved)
	assert.Equal(t, 42, moved[0])
	assert.Equal(t, DefaultSinkName, sink)
}

func TestStartFallsBackToSndAloop(t *testing.T) {
	rig := newAudioRig(t, &fakePulse{}, &fakeProbe{available: true, running: false})
	ctx := context.Background()

	result, err := rig.manager.Start(ctx, "pipewire")
	require.NoError(t, err)

	assert.Equal(t, "snd_aloop", result.Backend)
	assert.Equal(t, []string{"snd_aloop.load"}, rig.priv.callList())
	assert.Equal(t, "snd_aloop", rig.repo.Load()["backend"])

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"snd_aloop.load", "snd_aloop.unload"}, rig.priv.callList())
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	pulse := &fakePulse{available: true, sinkInputs: []pactl.SinkInput{scrcpyStream("7")}}
	rig := newAudioRig(t, pulse, &fakeProbe{available: true, running: true})
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, "pipewire")
	require.NoError(t, err)
	opID := rig.store.Snapshot().Audio.OperationID

	result, err := rig.manager.Start(ctx, "pipewire")
	require.NoError(t, err)
	assert.True(t, result.AlreadyRunning)
	assert.Equal(t, "pipewire", result.Backend)
	assert.Equal(t, opID, rig.store.Snapshot().Audio.OperationID)

	_, err = rig.manager.Stop(ctx)
	require.NoError(t, err)
}

func TestStartRollsBackHalfBuiltBridge(t *testing.T) {
	pulse := &fakePulse{
		available: true,
		loadErr:   map[string]error{"module-remap-source": stderrors.New("Module initialization failed")},
	}
	rig := newAudioRig(t, pulse, &fakeProbe{available: true, running: true})

	_, err := rig.manager.Start(context.Background(), "pipewire")
	require.Error(t, err)
	assert.Equal(t, errors.KindDependencyMissing, errors.KindOf(err))

	// The null sink created before the failure was rolled back; the machine
	// stays in STARTING for the caller to resolve.
	assert.Equal(t, []int{1}, pulse.unloadedIDs())
	assert.Equal(t, "none", rig.manager.ActiveBackend())
	assert.Equal(t, state.StateStarting, rig.store.Snapshot().Audio.State)
}

func TestStopUnloadsPersistedModules(t *testing.T) {
	pulse := &fakePulse{available: true, sinkInputs: []pactl.SinkInput{scrcpyStream("9")}}
	rig := newAudioRig(t, pulse, &fakeProbe{available: true, running: true})
	ctx := context.Background()

	_, err := rig.manager.Start(ctx, "pipewire")
	require.NoError(t, err)

	result, err := rig.manager.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, "STOPPED", result.State)
	assert.False(t, result.AlreadyStopped)
	assert.ElementsMatch(t, []int{1, 2}, pulse.unloadedIDs())
	assert.Empty(t, rig.repo.Load())
	assert.Equal(t, state.StateStopped, rig.store.Snapshot().Audio.State)
	assert.Equal(t, "none", rig.manager.ActiveBackend())
}

func TestStopIsIdempotent(t *testing.T) {
	rig := newAudioRig(t, &fakePulse{}, &fakeProbe{})

	result, err := rig.manager.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, result.AlreadyStopped)
	assert.Empty(t, rig.priv.callList())
}

func TestStopCleansUpBridgeFromPreviousRun(t *testing.T) {
	// A previous daemon crashed after loading snd_aloop; only the persisted
	// recovery state knows.
	rig := newAudioRig(t, &fakePulse{}, &fakeProbe{})
	require.NoError(t, rig.repo.Save(map[string]any{"backend": "snd_aloop", "modules": []any{}}))
	_, err := rig.store.TransitionAudio(state.StateStarting)
	require.NoError(t, err)
	_, err = rig.store.TransitionAudio(state.StateRunning)
	require.NoError(t, err)

	_, err = rig.manager.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"snd_aloop.unload"}, rig.priv.callList())
	assert.Empty(t, rig.repo.Load())
}

func TestCleanupStaleModulesMatchesOnlyBridgeModules(t *testing.T) {
	t.Parallel()
	pulse := &fakePulse{
		available: true,
		modules: []pactl.Module{
			{ID: "11", Name: "module-null-sink", Args: "sink_name=avream_sink sink_properties=..."},
			{ID: "12", Name: "module-remap-source", Args: "master=avream_sink.monitor source_name=avream_mic"},
			{ID: "13", Name: "module-null-sink", Args: "sink_name=other_app_sink"},
			{ID: "14", Name: "module-device-restore", Args: ""},
		},
	}
	backend := NewPipeWireBackend(&fakeProbe{}, pulse, DefaultSinkName, DefaultSourceName)

	removed := backend.CleanupStaleModules()
	assert.ElementsMatch(t, []int{11, 12}, removed)
	assert.ElementsMatch(t, []int{11, 12}, pulse.unloadedIDs())
}

func TestUnsupportedBackendIsRejected(t *testing.T) {
	rig := newAudioRig(t, &fakePulse{}, &fakeProbe{})

	_, err := rig.manager.Start(context.Background(), "jack")
	require.Error(t, err)
	assert.Equal(t, errors.KindDependencyMissing, errors.KindOf(err))
}
