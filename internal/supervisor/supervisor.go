// Package supervisor starts, tracks and terminates named long-running child
// processes. Each logical name owns at most one live process; starting a new
// process under a name first stops the old one. Output goes to timestamped
// log files with a stable per-name symlink pointing at the latest session.
package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/avream/avreamd/internal/logging"
)

const (
	// DefaultGracefulTimeout is how long a process group gets to exit
	// after SIGTERM before escalating.
	DefaultGracefulTimeout = 3 * time.Second
	// DefaultKillTimeout is how long to wait after SIGKILL before giving
	// up and letting the OS reap the orphan.
	DefaultKillTimeout = 2 * time.Second
)

// ManagedProcess is one supervised OS process.
type ManagedProcess struct {
	Name         string
	Command      []string
	EnvOverrides map[string]string

	cmd  *exec.Cmd
	done chan struct{} // closed by the reaper once Wait returns

	mu       sync.Mutex
	exitCode int
	exited   bool
}

// Exited reports whether the process has been observed to exit.
func (m *ManagedProcess) Exited() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the process has been reaped. Callers
// combine it with their own cancellation.
func (m *ManagedProcess) Done() <-chan struct{} { return m.done }

// ExitCode returns the exit code and whether the process has exited.
func (m *ManagedProcess) ExitCode() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode, m.exited
}

// PID returns the child's process id.
func (m *ManagedProcess) PID() int {
	if m.cmd == nil || m.cmd.Process == nil {
		return 0
	}
	return m.cmd.Process.Pid
}

// Supervisor tracks named processes. Safe for concurrent use.
type Supervisor struct {
	logDir string
	logger *slog.Logger

	mu            sync.Mutex
	processes     map[string]*ManagedProcess
	lastExitCodes map[string]int
}

// New creates a supervisor writing session logs under logDir.
func New(logDir string) *Supervisor {
	return &Supervisor{
		logDir:        logDir,
		logger:        logging.ForService("supervisor"),
		processes:     make(map[string]*ManagedProcess),
		lastExitCodes: make(map[string]int),
	}
}

// Running reports whether a live process exists under name.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	managed := s.processes[name]
	s.mu.Unlock()
	return managed != nil && !managed.Exited()
}

// Get returns the tracked process for name, nil if absent.
func (s *Supervisor) Get(name string) *ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processes[name]
}

// LastExitCode returns the most recent exit code recorded for name.
func (s *Supervisor) LastExitCode(name string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.lastExitCodes[name]
	return code, ok
}

// LatestLogPath returns the stable symlink path for tailing name's output.
func (s *Supervisor) LatestLogPath(name string) string {
	return filepath.Join(s.logDir, name+".log")
}

// Start launches command under name, stopping any previous holder of the
// slot first. The child runs in its own process group with stdout+stderr
// redirected to a fresh session log. Launch failures from the exec itself
// propagate; an immediate crash after a successful exec does not — callers
// observe that via ExitCode shortly after.
func (s *Supervisor) Start(name string, command []string, env map[string]string) (*ManagedProcess, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command for process %q", name)
	}

	s.Stop(name, DefaultGracefulTimeout, DefaultKillTimeout)

	ts := time.Now().UTC().Format("20060102T150405Z")
	sessionLog := filepath.Join(s.logDir, fmt.Sprintf("%s-%s.log", name, ts))
	logFile, err := os.OpenFile(sessionLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening session log %s: %w", sessionLog, err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	setupProcessGroup(cmd)

	err = cmd.Start()
	// The child holds its own copy of the log fd after exec.
	_ = logFile.Close()
	if err != nil {
		return nil, fmt.Errorf("starting %q: %w", name, err)
	}

	managed := &ManagedProcess{
		Name:         name,
		Command:      append([]string(nil), command...),
		EnvOverrides: env,
		cmd:          cmd,
		done:         make(chan struct{}),
	}

	s.mu.Lock()
	s.processes[name] = managed
	s.mu.Unlock()

	go s.reap(managed)
	s.updateLatestSymlink(name, sessionLog)

	s.logger.Info("started process",
		"name", name,
		"pid", managed.PID(),
		"log", sessionLog)
	return managed, nil
}

// reap waits for the process, records its exit code and releases the name's
// slot. The entry is only removed while it still belongs to this process; a
// restart may already have claimed the name.
func (s *Supervisor) reap(managed *ManagedProcess) {
	err := managed.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	managed.mu.Lock()
	managed.exitCode = code
	managed.exited = true
	managed.mu.Unlock()
	close(managed.done)

	s.mu.Lock()
	s.lastExitCodes[managed.Name] = code
	if s.processes[managed.Name] == managed {
		delete(s.processes, managed.Name)
	}
	s.mu.Unlock()
}

// updateLatestSymlink points name.log at the newest session log. Best
// effort: a filesystem without symlink support only loses tail convenience.
func (s *Supervisor) updateLatestSymlink(name, sessionLog string) {
	latest := s.LatestLogPath(name)
	_ = os.Remove(latest)
	if err := os.Symlink(filepath.Base(sessionLog), latest); err != nil {
		s.logger.Debug("symlink update failed", "name", name, "error", err)
	}
}

// Stop terminates the process group under name: SIGTERM, wait up to
// gracefulTimeout, SIGKILL, wait up to killTimeout, then give up silently.
// The bookkeeping entry is always removed on return. No-op if the slot is
// empty or the process already exited.
func (s *Supervisor) Stop(name string, gracefulTimeout, killTimeout time.Duration) {
	s.mu.Lock()
	managed := s.processes[name]
	s.mu.Unlock()
	if managed == nil {
		return
	}

	defer func() {
		s.mu.Lock()
		if code, ok := managed.ExitCode(); ok {
			s.lastExitCodes[name] = code
		}
		if s.processes[name] == managed {
			delete(s.processes, name)
		}
		s.mu.Unlock()
	}()

	if managed.Exited() {
		return
	}

	if err := signalProcessGroup(managed.cmd, syscall.SIGTERM); err != nil {
		s.logger.Debug("SIGTERM to process group failed, using direct signal",
			"name", name, "error", err)
		_ = managed.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-managed.done:
		return
	case <-time.After(gracefulTimeout):
	}

	s.logger.Warn("process ignored SIGTERM, escalating to SIGKILL",
		"name", name, "pid", managed.PID())
	if err := signalProcessGroup(managed.cmd, syscall.SIGKILL); err != nil {
		_ = managed.cmd.Process.Kill()
	}
	select {
	case <-managed.done:
	case <-time.After(killTimeout):
		// Orphan left for the OS to reap; we stop tracking it.
		s.logger.Error("process survived SIGKILL window, abandoning",
			"name", name, "pid", managed.PID())
	}
}

// StopAll serially stops every tracked process.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.processes))
	for name := range s.processes {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		s.Stop(name, DefaultGracefulTimeout, DefaultKillTimeout)
	}
}

// Wait blocks until the process tracked under name at call time exits and
// returns its exit code. An empty slot answers from the last recorded exit
// code, ok=false if the name never ran; it never waits for a future Start.
func (s *Supervisor) Wait(name string) (int, bool) {
	s.mu.Lock()
	managed := s.processes[name]
	if managed == nil {
		code, ok := s.lastExitCodes[name]
		s.mu.Unlock()
		return code, ok
	}
	s.mu.Unlock()
	<-managed.done
	code, _ := managed.ExitCode()
	return code, true
}
