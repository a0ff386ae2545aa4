package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBuildsKindAndDetails(t *testing.T) {
	t.Parallel()

	err := Newf("device %s is busy", "/dev/video10").
		Kind(KindBusyDevice).
		Component("device-reset").
		Context("blocker_pids", []int{101, 202}).
		Build()

	assert.Equal(t, KindBusyDevice, err.Kind)
	assert.Equal(t, "E_BUSY_DEVICE", err.Code())
	assert.Equal(t, "device-reset", err.Component)
	assert.True(t, err.Retryable, "busy-device defaults to retryable")
	assert.Equal(t, []int{101, 202}, err.DetailMap()["blocker_pids"])
	assert.Contains(t, err.Error(), "E_BUSY_DEVICE")
}

func TestRetryableDefaultsPerKind(t *testing.T) {
	t.Parallel()

	retryable := []Kind{KindConflict, KindBusyDevice, KindBackendFailed, KindTimeout}
	for _, kind := range retryable {
		assert.True(t, New(fmt.Errorf("x")).Kind(kind).Build().Retryable, "kind %s", kind)
	}
	notRetryable := []Kind{KindInvalidTransition, KindDependencyMissing, KindPermissionDenied, KindUnsupported, KindValidation}
	for _, kind := range notRetryable {
		assert.False(t, New(fmt.Errorf("x")).Kind(kind).Build().Retryable, "kind %s", kind)
	}
}

func TestRetryableOverride(t *testing.T) {
	t.Parallel()

	err := New(fmt.Errorf("checksum mismatch")).Kind(KindBackendFailed).Retryable(false).Build()
	assert.False(t, err.Retryable)
}

func TestKindOfUnwrapsWrappedChains(t *testing.T) {
	t.Parallel()

	inner := New(fmt.Errorf("no device")).Kind(KindDependencyMissing).Build()
	wrapped := fmt.Errorf("starting video: %w", inner)

	assert.Equal(t, KindDependencyMissing, KindOf(wrapped))
	assert.False(t, IsRetryable(wrapped))
	require.NotNil(t, AsAppError(wrapped))
	assert.Equal(t, KindGeneric, KindOf(stderrors.New("plain")))
}

func TestIsMatchesByKind(t *testing.T) {
	t.Parallel()

	a := New(fmt.Errorf("one")).Kind(KindConflict).Build()
	b := New(fmt.Errorf("two")).Kind(KindConflict).Build()
	c := New(fmt.Errorf("three")).Kind(KindTimeout).Build()

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}
