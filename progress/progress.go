// Package progress delivers typed run events to the host application via a
// buffered channel: phase markers, per-file outcomes, warnings, errors. The
// core never writes to stdout; hosts render the stream however they like.
package progress

import (
	"sync"
	"time"
)

// Kind identifies the type of run event.
type Kind string

const (
	EventRunStart      Kind = "run_start"
	EventRunEnd        Kind = "run_end"
	EventTurnStart     Kind = "turn_start"
	EventModelCall     Kind = "model_call"
	EventModelText     Kind = "model_text"
	EventToolCallStart Kind = "tool_call_start"
	EventToolCallEnd   Kind = "tool_call_end"
	EventPhase         Kind = "phase"
	EventFileOutcome   Kind = "file_outcome"
	EventLoopStop      Kind = "loop_stop"
	EventStallRecovery Kind = "stall_recovery"
	EventWarning       Kind = "warning"
	EventError         Kind = "error"
)

// Event is one entry in the progress stream.
type Event struct {
	Kind      Kind                   `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter delivers events without ever blocking the producing flow; when
// the buffer is full, events are dropped.
type Emitter struct {
	runID  string
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an Emitter with the given buffer size (default 256).
func NewEmitter(runID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{runID: runID, ch: make(chan Event, bufferSize)}
}

// Emit sends an event. Safe on a closed emitter.
func (e *Emitter) Emit(kind Kind, message string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	ev := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Message:   message,
		Data:      data,
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Phase emits a phase marker.
func (e *Emitter) Phase(name string) {
	e.Emit(EventPhase, name, nil)
}

// Warn emits a warning.
func (e *Emitter) Warn(message string) {
	e.Emit(EventWarning, message, nil)
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
