package bridge

import (
	"fmt"
	"sync"
)

// Status is the lifecycle state of a call session as tracked locally.
type Status string

const (
	// StatusIdle means no session is in progress.
	StatusIdle Status = "idle"

	// StatusEngaging means a combat request has been sent and the agent is
	// preparing its first utterance.
	StatusEngaging Status = "engaging"

	// StatusStreaming means agent audio is playing.
	StatusStreaming Status = "streaming"

	// StatusReady means the agent finished speaking and the session awaits
	// the next action. Ready is a display state; for protocol purposes it is
	// equivalent to idle with a session in progress.
	StatusReady Status = "ready"

	// StatusLive means a human operator has the conn.
	StatusLive Status = "live"

	// StatusTesting means a direct tts request is being voiced outside an
	// engagement cycle.
	StatusTesting Status = "testing"

	// StatusScored means end_session was sent and the authoritative scoring
	// result is awaited.
	StatusScored Status = "scored"

	// StatusError means the last remote event was an application error.
	StatusError Status = "error"
)

// Mode says who is voicing the call.
type Mode string

const (
	// ModeAuto means the agent voices the call.
	ModeAuto Mode = "auto"

	// ModeLive means a human operator voices the call.
	ModeLive Mode = "live"
)

// bargeKind tracks which barge round-trip is awaiting its ack.
type bargeKind int

const (
	bargeNone bargeKind = iota
	bargePendingIn
	bargePendingOut
)

// Session is the local view of one continuous call engagement. It is a plain
// value snapshot; all mutation goes through [StateMachine].
type Session struct {
	// ID is assigned by the remote side on barge-in acknowledgment and is
	// immutable for the life of the session. Empty before that point.
	ID string

	// Mode transitions only via acknowledged barge round-trips.
	Mode Mode

	// Persona is the active synthetic voice profile.
	Persona string

	// Status is the current lifecycle state.
	Status Status

	// LiveSeconds and TotalDuration are reported by the remote side at
	// session end. The bridge never recomputes them.
	LiveSeconds   int
	TotalDuration int

	// XPMultiplier is noted from the barge-in ack.
	XPMultiplier int
}

// ErrInvalidTransition is returned when a caller action is not legal in the
// session's current state.
type ErrInvalidTransition struct {
	From   Status
	Action Action
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("bridge: action %q is not valid in state %q", e.Action, e.From)
}

// StateMachine owns the session state. Inbound remote events are applied by
// the dispatcher; outbound caller actions are validated before transmission.
// A single value object holds everything — no flags scattered across the
// client — so concurrent callback registration never observes divergent
// partial state.
//
// All methods are safe for concurrent use.
type StateMachine struct {
	mu      sync.Mutex
	session Session
	pending bargeKind
}

// NewStateMachine returns a machine in the idle state with the given
// default persona.
func NewStateMachine(persona string) *StateMachine {
	return &StateMachine{
		session: Session{
			Mode:    ModeAuto,
			Persona: persona,
			Status:  StatusIdle,
		},
	}
}

// Snapshot returns a copy of the current session state.
func (m *StateMachine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Engage validates and applies the local side of a combat request. The
// persona is locked in for the session.
func (m *StateMachine) Engage(persona string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.session.Status {
	case StatusIdle, StatusReady, StatusScored, StatusError:
	default:
		return &ErrInvalidTransition{From: m.session.Status, Action: ActionCombat}
	}
	if persona != "" {
		m.session.Persona = persona
	}
	m.session.Status = StatusEngaging
	return nil
}

// Speak applies the local side of a direct tts request.
func (m *StateMachine) Speak() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.session.Status {
	case StatusIdle, StatusReady, StatusTesting, StatusError:
	default:
		return &ErrInvalidTransition{From: m.session.Status, Action: ActionTTS}
	}
	m.session.Status = StatusTesting
	return nil
}

// RequestBargeIn marks a barge-in round-trip as pending. Sending while
// already live is permitted — the remote side is the sole authority and
// local mode only changes on the ack.
func (m *StateMachine) RequestBargeIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = bargePendingIn
}

// RequestBargeOut marks a barge-out round-trip as pending.
func (m *StateMachine) RequestBargeOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = bargePendingOut
}

// ClearPendingBarge drops a pending barge marker, either because the ack
// arrived or because the bounded wait expired. Reports whether a marker was
// actually pending.
func (m *StateMachine) ClearPendingBarge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.pending != bargeNone
	m.pending = bargeNone
	return was
}

// RequestEnd applies the local side of end_session. Local state moves to
// scored optimistically; the authoritative result arrives as session_scored.
func (m *StateMachine) RequestEnd() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.session.Status {
	case StatusLive, StatusStreaming, StatusReady, StatusEngaging, StatusTesting:
	default:
		return &ErrInvalidTransition{From: m.session.Status, Action: ActionEndSession}
	}
	m.session.Status = StatusScored
	return nil
}

// ApplyStreaming records that agent audio is now playing.
func (m *StateMachine) ApplyStreaming() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Status = StatusStreaming
}

// ApplyDone records that agent audio finished. If the operator barged in
// while the stream played, the session stays live; otherwise it is ready.
func (m *StateMachine) ApplyDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Mode == ModeLive {
		m.session.Status = StatusLive
		return
	}
	m.session.Status = StatusReady
}

// ApplyInterrupted records that human audio pre-empted the agent stream.
// The display state becomes live, but mode is untouched — only the barge-in
// ack changes mode.
func (m *StateMachine) ApplyInterrupted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Status = StatusLive
}

// ApplyBargeInAck confirms live mode. The session id binds here and never
// changes afterwards.
func (m *StateMachine) ApplyBargeInAck(sessionID string, xpMultiplier int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = bargeNone
	m.session.Mode = ModeLive
	m.session.Status = StatusLive
	m.session.XPMultiplier = xpMultiplier
	if m.session.ID == "" {
		m.session.ID = sessionID
	}
}

// ApplyBargeOutAck confirms auto mode resumed and records the elapsed live
// seconds reported by the remote side.
func (m *StateMachine) ApplyBargeOutAck(liveSeconds int, persona string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = bargeNone
	m.session.Mode = ModeAuto
	m.session.Status = StatusReady
	m.session.LiveSeconds = liveSeconds
	if persona != "" {
		m.session.Persona = persona
	}
}

// ApplyScored closes out the session with the remote scoring result and
// resets to idle for the next engagement.
func (m *StateMachine) ApplyScored(totalDuration, liveSeconds int) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	final := m.session
	final.Status = StatusScored
	final.TotalDuration = totalDuration
	if liveSeconds > 0 {
		final.LiveSeconds = liveSeconds
	}

	persona := m.session.Persona
	m.session = Session{Mode: ModeAuto, Persona: persona, Status: StatusIdle}
	m.pending = bargeNone
	return final
}

// ApplyError marks the session as errored. State is otherwise left intact so
// the caller can inspect it and decide whether to retry.
func (m *StateMachine) ApplyError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Status = StatusError
}
