package worker

import (
	"time"

	"mindsync/internal/models"
)

// Phase of the drain cycle state machine.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSyncing Phase = "syncing"
)

// State is the observable engine status.
type State struct {
	Phase      Phase             `json:"phase"`
	Online     bool              `json:"online"`
	LastSync   *time.Time        `json:"last_sync,omitempty"`
	LastResult models.SyncResult `json:"last_result"`
	LastError  string            `json:"last_error,omitempty"`
}

// State returns a snapshot of the current status.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe calls fn on every state change and returns its disposer.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) updateState(fn func(s *State)) {
	e.mu.Lock()
	fn(&e.state)
	snapshot := e.state
	listeners := make([]func(State), 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}
