// Package state holds the daemon's subsystem lifecycle state. The store is
// the single source of truth for the video and audio state machines; every
// mutation goes through one mutex so snapshot reads are atomic across both
// subsystems.
package state

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/avream/avreamd/internal/errors"
)

// SubsystemState is the lifecycle state of one subsystem.
type SubsystemState string

const (
	StateStopped  SubsystemState = "STOPPED"
	StateStarting SubsystemState = "STARTING"
	StateRunning  SubsystemState = "RUNNING"
	StateStopping SubsystemState = "STOPPING"
	StateError    SubsystemState = "ERROR"
)

// validTransitions is the only source of legal state edges. Same-state
// transitions are handled as no-ops before this table is consulted.
var validTransitions = map[SubsystemState][]SubsystemState{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateError},
	StateRunning:  {StateStopping, StateError},
	StateStopping: {StateStopped, StateError},
	StateError:    {StateStopped, StateStarting},
}

func transitionAllowed(from, to SubsystemState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ErrorPayload is the recorded last_error of a subsystem.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
	TS      string         `json:"ts"`
}

// SubsystemStatus is a point-in-time copy of one subsystem's status.
type SubsystemStatus struct {
	State       SubsystemState `json:"state"`
	OperationID int64          `json:"operation_id"`
	LastError   *ErrorPayload  `json:"last_error"`
}

// Snapshot is an immutable copy of the whole store.
type Snapshot struct {
	StartedAt time.Time       `json:"started_at"`
	Video     SubsystemStatus `json:"video"`
	Audio     SubsystemStatus `json:"audio"`
}

type subsystem struct {
	name        string
	state       SubsystemState
	operationID int64
	lastError   *ErrorPayload
}

// Store tracks both subsystems under one lock.
type Store struct {
	mu        sync.Mutex
	startedAt time.Time
	video     subsystem
	audio     subsystem
}

// NewStore creates a store with both subsystems STOPPED.
func NewStore() *Store {
	return &Store{
		startedAt: time.Now().UTC(),
		video:     subsystem{name: "video", state: StateStopped},
		audio:     subsystem{name: "audio", state: StateStopped},
	}
}

// Snapshot returns a fully-applied copy of both subsystems. Never fails.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		StartedAt: s.startedAt,
		Video:     statusOf(&s.video),
		Audio:     statusOf(&s.audio),
	}
}

func statusOf(sub *subsystem) SubsystemStatus {
	status := SubsystemStatus{State: sub.state, OperationID: sub.operationID}
	if sub.lastError != nil {
		errCopy := *sub.lastError
		errCopy.Details = make(map[string]any, len(sub.lastError.Details))
		maps.Copy(errCopy.Details, sub.lastError.Details)
		status.LastError = &errCopy
	}
	return status
}

// TransitionVideo applies a video state edge and returns the new operation
// id. A same-state transition is a no-op success.
func (s *Store) TransitionVideo(next SubsystemState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := transition(&s.video, next); err != nil {
		return s.video.operationID, err
	}
	return s.video.operationID, nil
}

// TransitionAudio applies an audio state edge and returns the new operation id.
func (s *Store) TransitionAudio(next SubsystemState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := transition(&s.audio, next); err != nil {
		return s.audio.operationID, err
	}
	return s.audio.operationID, nil
}

func transition(sub *subsystem, next SubsystemState) error {
	if sub.state == next {
		return nil
	}
	if !transitionAllowed(sub.state, next) {
		return errors.New(fmt.Errorf("invalid %s transition %s -> %s", sub.name, sub.state, next)).
			Kind(errors.KindInvalidTransition).
			Component("state-store").
			Context("subsystem", sub.name).
			Context("from", string(sub.state)).
			Context("to", string(next)).
			Build()
	}
	sub.state = next
	sub.operationID++
	if next != StateError {
		sub.lastError = nil
	}
	return nil
}

// SetVideoError jumps video to ERROR unconditionally (every state has an
// edge into ERROR or is already there) and records the error payload.
func (s *Store) SetVideoError(code, message string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setError(&s.video, code, message, details)
}

// SetAudioError jumps audio to ERROR and records the error payload.
func (s *Store) SetAudioError(code, message string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setError(&s.audio, code, message, details)
}

func setError(sub *subsystem, code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	sub.lastError = &ErrorPayload{
		Code:    code,
		Message: message,
		Details: details,
		TS:      time.Now().UTC().Format(time.RFC3339),
	}
	sub.state = StateError
	sub.operationID++
}
