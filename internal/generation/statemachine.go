// Package generation tracks the lifecycle of a single in-flight
// send/generate cycle. It is a pure state tracker consumed by UI layers and
// by the chat strategies for cancellation decisions; it performs no I/O.
package generation

import (
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Status is the phase of the current generation cycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSending   Status = "sending"
	StatusStreaming Status = "streaming"
	StatusStopped   Status = "stopped"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// State is a point-in-time copy of the tracker, safe to hand to callers.
type State struct {
	Status           Status
	CurrentMessageID string
	StreamContent    string
	Err              error
	CanRetry         bool
}

// StateMachine tracks one send/generate cycle:
//
//	idle -> sending -> streaming -> stopped | complete
//
// with error reachable from any state and reset returning to idle. All
// methods are safe for concurrent use.
type StateMachine struct {
	mu               sync.Mutex
	status           Status
	currentMessageID string
	streamContent    strings.Builder
	err              error
	canRetry         bool
	logger           *log.Logger
}

// New creates a state machine in the idle state.
func New(logger *log.Logger) *StateMachine {
	if logger == nil {
		logger = log.Default()
	}
	return &StateMachine{status: StatusIdle, logger: logger}
}

// SendMessage begins a cycle for the given message id. Calling it while a
// generation is active is a programming error upstream: the call is a no-op
// but the violation is surfaced in the log rather than silently swallowed.
func (sm *StateMachine) SendMessage(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.status == StatusSending || sm.status == StatusStreaming {
		sm.logger.Warn("sendMessage called with generation already active",
			"status", sm.status, "current", sm.currentMessageID, "requested", id)
		return
	}

	sm.resetLocked()
	sm.status = StatusSending
	sm.currentMessageID = id
}

// StartStreaming transitions from sending to streaming for the given
// message id.
func (sm *StateMachine) StartStreaming(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.status != StatusSending {
		sm.logger.Debug("startStreaming outside sending ignored", "status", sm.status)
		return
	}
	sm.status = StatusStreaming
	sm.currentMessageID = id
}

// AddStreamChunk appends text to the accumulated stream content. Chunks
// arriving outside the streaming state are ignored.
func (sm *StateMachine) AddStreamChunk(text string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.status != StatusStreaming {
		return
	}
	sm.streamContent.WriteString(text)
}

// StopGeneration marks the cycle stopped. Valid from sending or streaming
// and idempotent from stopped.
func (sm *StateMachine) StopGeneration() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch sm.status {
	case StatusSending, StatusStreaming, StatusStopped:
		sm.status = StatusStopped
	}
}

// Finish marks the streaming cycle complete.
func (sm *StateMachine) Finish() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.status == StatusStreaming || sm.status == StatusSending {
		sm.status = StatusComplete
	}
}

// SetError moves the machine to the error state from any state.
func (sm *StateMachine) SetError(err error, canRetry bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.status = StatusError
	sm.err = err
	sm.canRetry = canRetry
}

// Restore rewinds the machine to a previously captured state. Used to roll
// back an optimistic stop when the backend rejects it.
func (sm *StateMachine) Restore(state State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.status = state.Status
	sm.currentMessageID = state.CurrentMessageID
	sm.streamContent.Reset()
	sm.streamContent.WriteString(state.StreamContent)
	sm.err = state.Err
	sm.canRetry = state.CanRetry
}

// Reset returns the machine to idle and clears all cycle state.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.resetLocked()
}

func (sm *StateMachine) resetLocked() {
	sm.status = StatusIdle
	sm.currentMessageID = ""
	sm.streamContent.Reset()
	sm.err = nil
	sm.canRetry = false
}

// Snapshot returns a copy of the current state.
func (sm *StateMachine) Snapshot() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return State{
		Status:           sm.status,
		CurrentMessageID: sm.currentMessageID,
		StreamContent:    sm.streamContent.String(),
		Err:              sm.err,
		CanRetry:         sm.canRetry,
	}
}

// IsGenerating reports whether a send or stream is in flight.
func (sm *StateMachine) IsGenerating() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status == StatusSending || sm.status == StatusStreaming
}

// IsStreaming reports whether chunks are currently being accumulated.
func (sm *StateMachine) IsStreaming() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status == StatusStreaming
}

// IsStopped reports whether the user stopped the cycle.
func (sm *StateMachine) IsStopped() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status == StatusStopped
}

// HasError reports whether the cycle ended in error.
func (sm *StateMachine) HasError() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status == StatusError
}
