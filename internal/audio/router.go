package audio

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avream/avreamd/internal/logging"
	"github.com/avream/avreamd/internal/pactl"
)

// PulseControl is the pactl surface the audio subsystem consumes.
// Satisfied by *pactl.Integration.
type PulseControl interface {
	Available() bool
	LoadModule(name string, args []string) (int, error)
	UnloadModule(moduleID int)
	ListModules() ([]pactl.Module, error)
	ListSinkInputs() ([]pactl.SinkInput, error)
	MoveSinkInput(sinkInputID int, sinkName string) error
}

const (
	routerPollInterval = 800 * time.Millisecond
	routerRetryDelay   = 200 * time.Millisecond
	routerMaxAttempts  = 12
)

// MoveResult summarizes one routing sweep.
type MoveResult struct {
	Moved    int    `json:"moved"`
	Attempts int    `json:"attempts"`
	Matched  int    `json:"matched"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Router steers scrcpy's playback stream into the bridge sink. The backend
// launches scrcpy's audio before the stream appears in pulse, so the move is
// retried, and a background sweep catches streams that reappear later.
type Router struct {
	pactl    PulseControl
	sinkName string
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRouter routes scrcpy streams into sinkName.
func NewRouter(pulse PulseControl, sinkName string) *Router {
	return &Router{
		pactl:    pulse,
		sinkName: sinkName,
		logger:   logging.ForService("audio-router"),
	}
}

// MoveOnce polls for scrcpy sink inputs and moves every match to the bridge
// sink, giving the stream up to 12 poll rounds to appear.
func (r *Router) MoveOnce(ctx context.Context) MoveResult {
	if !r.pactl.Available() {
		return MoveResult{Reason: "pactl_unavailable"}
	}

	result := MoveResult{}
	for i := 0; i < routerMaxAttempts; i++ {
		result.Attempts++
		sinkInputs, err := r.pactl.ListSinkInputs()
		if err != nil {
			result.Error = err.Error()
			if !sleepCtx(ctx, routerRetryDelay) {
				return result
			}
			continue
		}

		scrcpyIDs := scrcpySinkInputs(sinkInputs)
		if len(scrcpyIDs) == 0 {
			if !sleepCtx(ctx, routerRetryDelay) {
				return result
			}
			continue
		}

		result.Matched = len(scrcpyIDs)
		for _, id := range scrcpyIDs {
			if err := r.pactl.MoveSinkInput(id, r.sinkName); err != nil {
				result.Error = err.Error()
				continue
			}
			result.Moved++
		}
		return result
	}
	return result
}

// scrcpySinkInputs picks the stream ids whose application properties smell
// like scrcpy.
func scrcpySinkInputs(inputs []pactl.SinkInput) []int {
	var ids []int
	for _, input := range inputs {
		id, err := strconv.Atoi(input.ID)
		if err != nil {
			continue
		}
		blob := strings.ToLower(strings.Join([]string{
			input.Properties["application.name"],
			input.Properties["application.process.binary"],
			input.Properties["media.name"],
		}, " "))
		if strings.Contains(blob, "scrcpy") {
			ids = append(ids, id)
		}
	}
	return ids
}

// StartBackground sweeps periodically while isActive stays true, catching
// scrcpy streams that reconnect mid-session. Replaces any previous sweeper.
func (r *Router) StartBackground(isActive func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		for {
			if !isActive() {
				return
			}
			r.MoveOnce(ctx)
			if !sleepCtx(ctx, routerPollInterval) {
				return
			}
		}
	}()
}

// StopBackground cancels the sweeper.
func (r *Router) StopBackground() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
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
