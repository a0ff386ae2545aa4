package audio

import (
	"context"
	"log/slog"

	"github.com/avream/avreamd/internal/logging"
)

// PrivilegeCaller is the helper capability the snd-aloop backend needs.
type PrivilegeCaller interface {
	Call(ctx context.Context, action string, params map[string]any) (map[string]any, error)
}

// SndAloopBackend builds the bridge on the ALSA loopback kernel module,
// loaded and unloaded through the privileged helper. Used when no PipeWire
// session answers.
type SndAloopBackend struct {
	priv   PrivilegeCaller
	logger *slog.Logger
}

// NewSndAloopBackend wires the backend to the helper client.
func NewSndAloopBackend(priv PrivilegeCaller) *SndAloopBackend {
	return &SndAloopBackend{priv: priv, logger: logging.ForService("audio-snd-aloop")}
}

// Name identifies the backend in results and recovery state.
func (b *SndAloopBackend) Name() string { return "snd_aloop" }

// Start loads the snd-aloop module.
func (b *SndAloopBackend) Start(ctx context.Context) error {
	_, err := b.priv.Call(ctx, "snd_aloop.load", map[string]any{})
	return err
}

// Stop unloads the module best-effort; a module still held by a consumer
// stays loaded and that is fine.
func (b *SndAloopBackend) Stop(ctx context.Context) {
	if _, err := b.priv.Call(ctx, "snd_aloop.unload", map[string]any{}); err != nil {
		b.logger.Debug("snd_aloop unload failed", "error", err)
	}
}
