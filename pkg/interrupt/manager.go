// Package interrupt tracks operator interrupts across nested agent frames.
//
// A process holds one Manager with a LIFO stack of frames, one per active
// agent. Only the innermost frame receives a cancellation, so the operator's
// first interrupt stops the running sub-agent without touching its parent.
// Frames record whether the pending interrupt is hard (terminate) or soft
// (redirect); the host must set hardness before calling AbortCurrent so the
// classification is race-free.
package interrupt

import (
	"context"
	"errors"
	"sync"
)

// Cancellation causes. Turn contexts cancelled through AbortCurrent carry one
// of these as their context.Cause.
var (
	ErrSingleInterrupt = errors.New("single interrupt")
	ErrDoubleInterrupt = errors.New("double interrupt")
)

type frame struct {
	cancel context.CancelCauseFunc // nil while no turn is in flight
	hard   bool
}

// Manager is safe for concurrent use. The operator signal handler runs on a
// different goroutine than the agent drivers, so every operation locks.
type Manager struct {
	mu     sync.Mutex
	frames []*frame
}

var std = &Manager{}

// Default returns the process-wide manager. Hosts that embed several
// independent engines may construct their own with new(Manager).
func Default() *Manager { return std }

// StartAgentSession pushes a fresh frame for an agent that is about to run.
func (m *Manager) StartAgentSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, &frame{})
}

// EndAgentSession pops the innermost frame. Calls on an empty stack are
// no-ops so an unwinding host cannot underflow it.
func (m *Manager) EndAgentSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) > 0 {
		m.frames = m.frames[:len(m.frames)-1]
	}
}

// SetCurrentTurnController installs the cancellation handle for the innermost
// frame's current turn and resets its hardness.
func (m *Manager) SetCurrentTurnController(cancel context.CancelCauseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.top(); f != nil {
		f.cancel = cancel
		f.hard = false
	}
}

// SetHardAbort marks how the next AbortCurrent on the innermost frame is to
// be classified.
func (m *Manager) SetHardAbort(hard bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.top(); f != nil {
		f.hard = hard
	}
}

// AbortCurrent cancels the innermost frame's turn, with ErrDoubleInterrupt as
// the cause when the frame was marked hard and ErrSingleInterrupt otherwise.
// Without an installed handle it does nothing.
func (m *Manager) AbortCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.top()
	if f == nil || f.cancel == nil {
		return
	}
	cause := ErrSingleInterrupt
	if f.hard {
		cause = ErrDoubleInterrupt
	}
	f.cancel(cause)
}

// IsCurrentInterruptHard reports the innermost frame's hardness flag.
func (m *Manager) IsCurrentInterruptHard() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.top(); f != nil {
		return f.hard
	}
	return false
}

// Depth returns the number of active frames.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *Manager) top() *frame {
	if len(m.frames) == 0 {
		return nil
	}
	return m.frames[len(m.frames)-1]
}

// Interrupted classifies a context cancelled through AbortCurrent. It returns
// hard=true for a double interrupt; ok is false when the context was
// cancelled for an unrelated reason (or not at all).
func Interrupted(ctx context.Context) (hard, ok bool) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrDoubleInterrupt):
		return true, true
	case errors.Is(cause, ErrSingleInterrupt):
		return false, true
	default:
		return false, false
	}
}
