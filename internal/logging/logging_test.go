package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestInitWithFileTeesRecordsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "avreamd.log")

	closeLog, err := InitWithFile("debug", path, 5)
	require.NoError(t, err)

	ForService("file-check").Info("file logging active", "answer", 42)
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"file-check"`)
	assert.Contains(t, string(data), `"msg":"file logging active"`)
	assert.Contains(t, string(data), `"answer":42`)
}

func TestInitWithFileRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avreamd.log")

	closeLog, err := InitWithFile("warn", path, 5)
	require.NoError(t, err)

	slog.Info("below threshold")
	slog.Warn("at threshold")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "below threshold")
	assert.Contains(t, string(data), "at threshold")
}
