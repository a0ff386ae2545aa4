package conf

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppName        = "avream"
	DaemonName     = "avreamd"
	APIVersion     = "v1"
	SocketFilename = "daemon.sock"
)

// Paths holds the daemon's XDG-resolved directories. Resolved once at
// startup and passed by value; nothing re-reads the environment later.
type Paths struct {
	RuntimeDir string
	SocketPath string
	ConfigDir  string
	StateDir   string
	LogDir     string
	CacheDir   string
}

func xdgDir(envKey, fallbackSuffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return filepath.Join(v, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, fallbackSuffix, AppName)
}

// ResolvePaths computes the daemon's directory layout. socketOverride, when
// non-empty, replaces the default socket under the runtime dir.
func ResolvePaths(socketOverride string) Paths {
	var runtimeDir string
	if root := os.Getenv("XDG_RUNTIME_DIR"); root != "" {
		runtimeDir = filepath.Join(root, AppName)
	} else {
		runtimeDir = fmt.Sprintf("/tmp/%s-%d", AppName, os.Getuid())
	}

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = filepath.Join(runtimeDir, SocketFilename)
	}

	stateDir := xdgDir("XDG_STATE_HOME", ".local/state")
	return Paths{
		RuntimeDir: runtimeDir,
		SocketPath: socketPath,
		ConfigDir:  xdgDir("XDG_CONFIG_HOME", ".config"),
		StateDir:   stateDir,
		LogDir:     filepath.Join(stateDir, "logs"),
		CacheDir:   xdgDir("XDG_CACHE_HOME", ".cache"),
	}
}

// EnsureDirectories creates the directory layout. The runtime dir is made
// private since it holds the control socket.
func EnsureDirectories(p Paths) error {
	if err := os.MkdirAll(p.RuntimeDir, 0o700); err != nil {
		return fmt.Errorf("creating runtime dir %s: %w", p.RuntimeDir, err)
	}
	if err := os.Chmod(p.RuntimeDir, 0o700); err != nil {
		return fmt.Errorf("restricting runtime dir %s: %w", p.RuntimeDir, err)
	}
	for _, dir := range []string{p.ConfigDir, p.StateDir, p.LogDir, p.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating dir %s: %w", dir, err)
		}
	}
	return nil
}

// RemoveStaleSocket unlinks a leftover control socket from a previous run.
func RemoveStaleSocket(p Paths) error {
	info, err := os.Lstat(p.SocketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("refusing to remove non-socket file %s", p.SocketPath)
	}
	return os.Remove(p.SocketPath)
}
