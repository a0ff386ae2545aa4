package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avream/avreamd/internal/adb"
	"github.com/avream/avreamd/internal/android"
	"github.com/avream/avreamd/internal/audio"
	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/state"
	"github.com/avream/avreamd/internal/video"
)

type fakeVideo struct {
	startResult video.StartResult
	startErr    error
	stopResult  video.StopResult
	resetErr    error
	lastParams  video.StartParams
	lastForce   bool
}

func (f *fakeVideo) Start(_ context.Context, params video.StartParams) (video.StartResult, error) {
	f.lastParams = params
	return f.startResult, f.startErr
}

func (f *fakeVideo) Stop(context.Context) (video.StopResult, error) {
	return f.stopResult, nil
}

func (f *fakeVideo) Reset(_ context.Context, force bool) (video.ResetResult, error) {
	f.lastForce = force
	if f.resetErr != nil {
		return video.ResetResult{}, f.resetErr
	}
	return video.ResetResult{Reloaded: true, Device: "/dev/video10", Forced: force}, nil
}

func (f *fakeVideo) StopReconnect() video.StopReconnectResult {
	return video.StopReconnectResult{Stopped: true, Reconnect: video.ReconnectStatus{State: "stopped"}}
}

func (f *fakeVideo) ListSources(context.Context) []android.Source {
	return []android.Source{{Type: "android", Serial: "PHONE01", State: "device"}}
}

func (f *fakeVideo) RuntimeStatus() video.RuntimeStatus {
	return video.RuntimeStatus{LogPointers: map[string]string{"video_android": "/tmp/video-android.log"}}
}

type fakeAudio struct {
	lastBackend string
	startErr    error
}

func (f *fakeAudio) Start(_ context.Context, backend string) (audio.StartResult, error) {
	f.lastBackend = backend
	if f.startErr != nil {
		return audio.StartResult{}, f.startErr
	}
	return audio.StartResult{State: "RUNNING", Backend: backend}, nil
}

func (f *fakeAudio) Stop(context.Context) (audio.StopResult, error) {
	return audio.StopResult{State: "STOPPED"}, nil
}

type fakeHelper struct{}

func (fakeHelper) Diagnostics() map[string]any {
	return map[string]any{"helper_bin": "/usr/libexec/avream-helper", "mode": "pkexec"}
}

type apiRig struct {
	server *Server
	video  *fakeVideo
	audio  *fakeAudio
}

func newAPIRig(t *testing.T, deviceRows string) *apiRig {
	t.Helper()
	fv := &fakeVideo{startResult: video.StartResult{State: "RUNNING", Source: &video.VideoSource{Serial: "PHONE01"}}}
	fa := &fakeAudio{}
	server := New(state.NewStore(), fv, fa, adb.NewTestAdapter(deviceRows), fakeHelper{}, nil, "/run/avream/daemon.sock")
	return &apiRig{server: server, video: fv, audio: fa}
}

func (r *apiRig) do(method, path, body string, header ...string) (*httptest.ResponseRecorder, envelope) {
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != "" {
		req.Header.Set(echoContentType, "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	r.server.Echo.ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

const echoContentType = "Content-Type"

func TestVideoStartReturnsSuccessEnvelope(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	rec, env := rig.do(http.MethodPost, "/v1/video/start", `{"camera_facing":"back","camera_rotation":90}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.OK)
	assert.Nil(t, env.Error)
	assert.NotEmpty(t, env.RequestID)
	require.NotNil(t, rig.video.lastParams.CameraFacing)
	assert.Equal(t, "back", *rig.video.lastParams.CameraFacing)
	require.NotNil(t, rig.video.lastParams.CameraRotation)
	assert.Equal(t, 90, *rig.video.lastParams.CameraRotation)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "RUNNING", data["state"])
}

func TestVideoStartValidatesParameters(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	cases := []struct {
		name string
		body string
	}{
		{"bad facing", `{"camera_facing":"sideways"}`},
		{"bad rotation", `{"camera_rotation":45}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := rig.do(http.MethodPost, "/v1/video/start", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, "E_VALIDATION", env.Error.Code)
			assert.False(t, env.OK)
		})
	}
}

func TestDomainErrorsMapToStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind       errors.Kind
		wantStatus int
		wantCode   string
	}{
		{errors.KindConflict, http.StatusConflict, "E_CONFLICT"},
		{errors.KindBusyDevice, http.StatusConflict, "E_BUSY_DEVICE"},
		{errors.KindDependencyMissing, http.StatusPreconditionFailed, "E_DEP_MISSING"},
		{errors.KindBackendFailed, http.StatusBadGateway, "E_BACKEND_FAILED"},
		{errors.KindTimeout, http.StatusGatewayTimeout, "E_TIMEOUT"},
		{errors.KindPermissionDenied, http.StatusForbidden, "E_PERMISSION"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			rig := newAPIRig(t, "")
			rig.video.startErr = errors.Newf("boom").
				Kind(tc.kind).
				Component("video-manager").
				Context("device", "/dev/video10").
				Build()

			rec, env := rig.do(http.MethodPost, "/v1/video/start", `{}`)

			assert.Equal(t, tc.wantStatus, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.wantCode, env.Error.Code)
			assert.Equal(t, "boom", env.Error.Message)
			assert.Equal(t, "/dev/video10", env.Error.Details["device"])
			assert.NotEmpty(t, env.RequestID)
		})
	}
}

func TestBusyDeviceErrorCarriesRetryable(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")
	rig.video.resetErr = errors.Newf("device is in use").
		Kind(errors.KindBusyDevice).
		Component("device-reset").
		Context("blocker_pids", []any{314}).
		Build()

	rec, env := rig.do(http.MethodPost, "/v1/video/reset", `{"force":false}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.True(t, env.Error.Retryable)
	assert.Contains(t, env.Error.Details, "blocker_pids")
}

func TestVideoResetPassesForce(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	rec, env := rig.do(http.MethodPost, "/v1/video/reset", `{"force":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.OK)
	assert.True(t, rig.video.lastForce)
}

func TestAudioStartDefaultsToPipewire(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	rec, env := rig.do(http.MethodPost, "/v1/audio/start", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.OK)
	assert.Equal(t, "pipewire", rig.audio.lastBackend)
}

func TestAudioStartRejectsUnknownBackend(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	rec, env := rig.do(http.MethodPost, "/v1/audio/start", `{"backend":"jack"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "E_VALIDATION", env.Error.Code)
}

func TestStatusReportsServiceAndRuntime(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	rec, env := rig.do(http.MethodGet, "/v1/status", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	service, ok := data["service"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "avreamd", service["daemon"])
	assert.Equal(t, "v1", service["api_version"])
	runtime, ok := data["runtime"].(map[string]any)
	require.True(t, ok)
	videoStatus, ok := runtime["video"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "STOPPED", videoStatus["state"])
}

func TestAndroidDevicesGroupsAndRecommends(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "PHONE01\tdevice\nOTHER99\tunauthorized\n")

	rec, env := rig.do(http.MethodGet, "/v1/android/devices", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	devices, ok := data["devices"].([]any)
	require.True(t, ok)
	assert.Len(t, devices, 2)
	assert.Equal(t, "PHONE01", data["recommended"])
	first, ok := devices[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "device", first["state"])
}

func TestAndroidWifiEnableRequiresSerial(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	rec, env := rig.do(http.MethodPost, "/v1/android/wifi/enable", `{"port":5555}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "E_VALIDATION", env.Error.Code)
}

func TestAndroidWifiConnectRequiresEndpoint(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	rec, env := rig.do(http.MethodPost, "/v1/android/wifi/connect", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "E_VALIDATION", env.Error.Code)
}

func TestRequestIDHeaderIsHonored(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	_, env := rig.do(http.MethodGet, "/healthz", "")
	assert.Empty(t, env.RequestID, "healthz is not enveloped")

	_, env = rig.do(http.MethodGet, "/v1/status", "", "X-Request-Id", "rid-123")
	assert.Equal(t, "rid-123", env.RequestID)
}

func TestUnknownRouteReturnsErrorEnvelope(t *testing.T) {
	t.Parallel()
	rig := newAPIRig(t, "")

	rec, env := rig.do(http.MethodGet, "/v1/nonsense", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "E_NOT_FOUND", env.Error.Code)
}
