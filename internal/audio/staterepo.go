// Package audio builds the virtual microphone bridge: a null sink the
// android backend plays into and a remapped source applications record
// from. Two backends exist, PipeWire (preferred, via the pulse layer or
// pw-loopback) and the snd-aloop kernel module loaded by the privileged
// helper. What was created is persisted so a restarted daemon can still
// clean up.
package audio

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Repository persists the active backend's recovery state as JSON. All
// operations are best-effort: a missing or corrupt file reads as empty.
type Repository struct {
	path string
}

// NewRepository stores recovery state at path.
func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

// Load returns the persisted state, empty when absent or unreadable.
func (r *Repository) Load() map[string]any {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		return map[string]any{}
	}
	return data
}

// Save writes the state, creating parent directories as needed.
func (r *Repository) Save(data map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, raw, 0o644)
}

// Clear removes the state file; a file already gone is fine.
func (r *Repository) Clear() {
	_ = os.Remove(r.path)
}
