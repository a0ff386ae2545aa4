package video

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avream/avreamd/internal/logging"
	"github.com/avream/avreamd/internal/state"
	"github.com/avream/avreamd/internal/supervisor"
)

// RestartFunc restarts the session after an unexpected exit. It runs on the
// watch goroutine and must honor ctx: a canceled watch means the restart is
// no longer wanted.
type RestartFunc func(ctx context.Context) error

// ExhaustedFunc is invoked once all restart attempts of a wake cycle failed.
type ExhaustedFunc func(exitCode, maxAttempts int)

// ReconnectController watches the supervised camera process and restarts it
// after unexpected exits, a fixed backoff between attempts. One watch
// goroutine exists at a time; arming a new one cancels the previous.
type ReconnectController struct {
	store      *state.Store
	supervisor *supervisor.Supervisor
	procName   string
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	policy ReconnectPolicy
	status ReconnectStatus
}

// NewReconnectController creates a controller with a disabled policy; the
// manager configures the real one before each watch.
func NewReconnectController(store *state.Store, sup *supervisor.Supervisor, procName string) *ReconnectController {
	policy := ReconnectPolicy{}.Normalized()
	return &ReconnectController{
		store:      store,
		supervisor: sup,
		procName:   procName,
		logger:     logging.ForService("video-reconnect"),
		policy:     policy,
		status:     statusFromPolicy(policy),
	}
}

// Configure replaces the policy and resets the visible status to idle.
func (c *ReconnectController) Configure(policy ReconnectPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy.Normalized()
	c.status = statusFromPolicy(c.policy)
}

// RuntimeStatus returns a copy of the live status.
func (c *ReconnectController) RuntimeStatus() ReconnectStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.status
	if c.status.NextRetryInMs != nil {
		v := *c.status.NextRetryInMs
		out.NextRetryInMs = &v
	}
	if c.status.LastExitCode != nil {
		v := *c.status.LastExitCode
		out.LastExitCode = &v
	}
	return out
}

// Cancel stops the watch goroutine (if any) and parks the status in the
// given terminal state, "idle" or "stopped".
func (c *ReconnectController) Cancel(finalState string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.status.State = finalState
	c.status.Attempt = 0
	c.status.NextRetryInMs = nil
}

// StartWatch arms the watcher for the currently supervised process,
// replacing any previous watcher.
func (c *ReconnectController) StartWatch(onRestart RestartFunc, onExhausted ExhaustedFunc) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	policy := c.policy
	c.mu.Unlock()

	go c.watch(ctx, policy, onRestart, onExhausted)
}

// update applies fn to the status unless the watch was canceled; a canceled
// watch must not overwrite the terminal state Cancel installed.
func (c *ReconnectController) update(ctx context.Context, fn func(*ReconnectStatus)) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
}

func (c *ReconnectController) watch(ctx context.Context, policy ReconnectPolicy, onRestart RestartFunc, onExhausted ExhaustedFunc) {
	for {
		exitCode, ok := c.waitExit(ctx)
		if !ok {
			return
		}
		if !policy.Enabled {
			return
		}

		c.update(ctx, func(st *ReconnectStatus) {
			st.Enabled = true
			st.MaxAttempts = policy.MaxAttempts
			st.BackoffMs = policy.BackoffMs
			st.LastExitCode = intPtr(exitCode)
			st.State = "exited"
			st.Attempt = 0
			st.NextRetryInMs = nil
		})
		c.logger.Info("camera process exited", "exit_code", exitCode)

		// Only an unexpected exit of a RUNNING session is reconnected; a
		// stop in progress owns the state machine.
		if c.store.Snapshot().Video.State != state.StateRunning {
			return
		}

		recovered := false
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			c.update(ctx, func(st *ReconnectStatus) {
				st.Attempt = attempt
				st.State = "waiting"
				st.NextRetryInMs = intPtr(policy.BackoffMs)
			})
			if !sleepCtx(ctx, time.Duration(policy.BackoffMs)*time.Millisecond) {
				return
			}
			c.update(ctx, func(st *ReconnectStatus) { st.NextRetryInMs = intPtr(0) })

			if c.store.Snapshot().Video.State != state.StateRunning {
				return
			}

			c.update(ctx, func(st *ReconnectStatus) { st.State = "restarting" })
			_, _ = c.store.TransitionVideo(state.StateStarting)

			if err := onRestart(ctx); err != nil {
				// Push the machine back to RUNNING so the next attempt
				// passes the state check again.
				_, _ = c.store.TransitionVideo(state.StateRunning)
				c.update(ctx, func(st *ReconnectStatus) { st.State = "failed" })
				c.logger.Warn("reconnect attempt failed",
					"attempt", attempt,
					"max_attempts", policy.MaxAttempts,
					"error", err)
				continue
			}

			c.update(ctx, func(st *ReconnectStatus) {
				st.State = "running"
				st.Attempt = 0
				st.NextRetryInMs = nil
			})
			c.logger.Info("session restarted after exit", "attempt", attempt)
			recovered = true
			break
		}

		if !recovered {
			if ctx.Err() != nil {
				return
			}
			c.update(ctx, func(st *ReconnectStatus) {
				st.State = "exhausted"
				st.NextRetryInMs = nil
			})
			c.logger.Error("reconnect attempts exhausted",
				"attempts", policy.MaxAttempts,
				"exit_code", exitCode)
			onExhausted(exitCode, policy.MaxAttempts)
			return
		}
	}
}

// waitExit blocks until the tracked process exits or the watch is canceled.
// A process that exited and was reaped before the watch looked is still an
// exit; the supervisor keeps its code past slot removal.
func (c *ReconnectController) waitExit(ctx context.Context) (int, bool) {
	managed := c.supervisor.Get(c.procName)
	if managed == nil {
		code, ok := c.supervisor.LastExitCode(c.procName)
		return code, ok
	}
	select {
	case <-ctx.Done():
		return 0, false
	case <-managed.Done():
		code, _ := managed.ExitCode()
		return code, true
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func intPtr(v int) *int { return &v }
