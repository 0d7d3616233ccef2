package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// combatSession tracks the state of one active call on a WebSocket
// connection. A fresh session is created when the connection opens and after
// each end_session, so one connection can carry several scored calls in
// sequence.
type combatSession struct {
	mu sync.Mutex

	id           string
	mode         string // "auto" or "live"
	userID       string
	callerNumber string
	persona      string

	start       time.Time
	bargeInAt   time.Time // zero unless an operator is live
	liveSeconds float64

	now func() time.Time
}

// newCombatSession creates a session in automated mode with a generated ID.
func newCombatSession(persona string, now func() time.Time) *combatSession {
	if now == nil {
		now = time.Now
	}
	return &combatSession{
		id:      uuid.NewString(),
		mode:    "auto",
		userID:  "anonymous",
		persona: persona,
		start:   now(),
		now:     now,
	}
}

// bargeIn switches the session to live mode and starts the live clock.
// Re-entrant barge-ins keep the original live start.
func (s *combatSession) bargeIn(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != "" {
		s.userID = userID
	}
	s.mode = "live"
	if s.bargeInAt.IsZero() {
		s.bargeInAt = s.now()
	}
}

// bargeOut returns control to the automated persona, banking the elapsed live
// time. It returns the accumulated live seconds so far.
func (s *combatSession) bargeOut(persona string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bargeInAt.IsZero() {
		s.liveSeconds += s.now().Sub(s.bargeInAt).Seconds()
		s.bargeInAt = time.Time{}
	}
	s.mode = "auto"
	if persona != "" {
		s.persona = persona
	}
	return int(s.liveSeconds)
}

// end closes the session's books and returns the total, live, and automated
// durations in whole seconds. A still-running live segment is banked first.
func (s *combatSession) end() (total, live, auto int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bargeInAt.IsZero() {
		s.liveSeconds += s.now().Sub(s.bargeInAt).Seconds()
		s.bargeInAt = time.Time{}
	}
	totalF := s.now().Sub(s.start).Seconds()
	return int(totalF), int(s.liveSeconds), int(totalF - s.liveSeconds)
}

// snapshot returns the session's identity fields under the lock.
func (s *combatSession) snapshot() (id, mode, persona, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.mode, s.persona, s.userID
}

// setCaller records the caller and persona for a combat cycle.
func (s *combatSession) setCaller(caller, persona string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != "" {
		s.callerNumber = caller
	}
	if persona != "" {
		s.persona = persona
	}
}

// isLive reports whether an operator currently has the conn.
func (s *combatSession) isLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode == "live"
}
