package bridge

import (
	"encoding/json"
	"fmt"
)

// Action identifies an outbound control request on the wire.
type Action string

const (
	ActionTTS        Action = "tts"
	ActionCombat     Action = "combat"
	ActionBargeIn    Action = "barge_in"
	ActionBargeOut   Action = "barge_out"
	ActionEndSession Action = "end_session"
)

// ControlRequest is the JSON body of an outbound control frame. Optional
// fields carry omitempty so the remote side can distinguish "not provided"
// from "explicitly empty" — unset fields are never serialised as null.
type ControlRequest struct {
	Action       Action `json:"action"`
	Text         string `json:"text,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
	CallerNumber string `json:"caller_number,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
	Persona      string `json:"persona,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// StewardScore is the scoring result attached to a session_scored event.
type StewardScore struct {
	CreditsEarned int    `json:"credits_earned"`
	NewLevel      int    `json:"new_level"`
	Mode          string `json:"mode"`
}

// ControlEvent is a decoded inbound control frame. Err is a pointer so that
// an absent "error" field can be told apart from an explicitly empty one;
// presence alone routes the frame to the error callback.
type ControlEvent struct {
	Status        string        `json:"status,omitempty"`
	Err           *string       `json:"error,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	Message       string        `json:"message,omitempty"`
	Mode          string        `json:"mode,omitempty"`
	Persona       string        `json:"persona,omitempty"`
	ActorText     string        `json:"actor_text,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	XPMultiplier  int           `json:"xp_multiplier,omitempty"`
	LiveSeconds   int           `json:"live_seconds,omitempty"`
	AutoSeconds   int           `json:"auto_seconds,omitempty"`
	TotalDuration int           `json:"total_duration,omitempty"`
	Steward       *StewardScore `json:"steward,omitempty"`
}

// Per-event payloads written by the serving side. Each event type declares
// exactly the fields the protocol promises for it, without omitempty on the
// mandatory ones: a barge_out_ack carries live_seconds even when it is zero,
// and a session_scored carries all three duration fields however short the
// session was. Clients decode every shape into [ControlEvent].

// StreamingEvent announces the actor line whose audio is about to follow.
type StreamingEvent struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	ActorText string `json:"actor_text"`
	Mode      string `json:"mode"`
	Persona   string `json:"persona"`
}

// DoneEvent closes an audio stream that ran to completion.
type DoneEvent struct {
	Status string `json:"status"`
}

// InterruptedEvent closes an audio stream that was cut short.
type InterruptedEvent struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// BargeInAck confirms a human operator has taken the session live.
type BargeInAck struct {
	Status       string `json:"status"`
	SessionID    string `json:"session_id"`
	Mode         string `json:"mode"`
	XPMultiplier int    `json:"xp_multiplier"`
	Message      string `json:"message"`
}

// BargeOutAck confirms the session is back in automated mode.
type BargeOutAck struct {
	Status      string `json:"status"`
	Mode        string `json:"mode"`
	Persona     string `json:"persona"`
	LiveSeconds int    `json:"live_seconds"`
	Message     string `json:"message"`
}

// ScoredEvent is the final accounting for a finished session. Steward is nil
// when scoring was unavailable; the durations are always reported.
type ScoredEvent struct {
	Status        string        `json:"status"`
	SessionID     string        `json:"session_id"`
	TotalDuration int           `json:"total_duration"`
	LiveSeconds   int           `json:"live_seconds"`
	AutoSeconds   int           `json:"auto_seconds"`
	Steward       *StewardScore `json:"steward,omitempty"`
}

// ErrorEvent reports an application-level error without closing the
// connection.
type ErrorEvent struct {
	Error string `json:"error"`
}

// Remote status values the bridge reacts to.
const (
	StatusEventStreaming   = "streaming"
	StatusEventDone        = "done"
	StatusEventInterrupted = "stream_interrupted"
	StatusEventBargeInAck  = "barge_in_ack"
	StatusEventBargeOutAck = "barge_out_ack"
	StatusEventScored      = "session_scored"
)

// EventKind classifies a decoded control event for dispatch.
type EventKind int

const (
	// KindStatus is the catch-all for status updates that carry no
	// dedicated callback (streaming, done, stream_interrupted, ...).
	KindStatus EventKind = iota

	// KindBarge covers barge_in_ack and barge_out_ack.
	KindBarge

	// KindScored is the final session_scored result.
	KindScored

	// KindError is an application-level error reported by the remote side.
	KindError
)

// EncodeControl serialises a control request for transmission as a text frame.
func EncodeControl(req ControlRequest) ([]byte, error) {
	if req.Action == "" {
		return nil, fmt.Errorf("bridge: encode control: action must not be empty")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode control: %w", err)
	}
	return data, nil
}

// DecodeRequest parses a text frame into a [ControlRequest]. The serving side
// of the protocol uses it to read client control frames.
func DecodeRequest(data []byte) (*ControlRequest, error) {
	req := &ControlRequest{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("bridge: decode request: %w", err)
	}
	if req.Action == "" {
		return nil, fmt.Errorf("bridge: decode request: action must not be empty")
	}
	return req, nil
}

// EncodeEvent serialises an event payload for transmission as a text frame.
// ev is one of the per-event payload types above.
func EncodeEvent(ev any) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode event: %w", err)
	}
	return data, nil
}

// DecodeControl parses an inbound text frame into a [ControlEvent].
// A parse failure is a local, non-fatal protocol error; callers report it via
// the error callback and keep the connection open.
func DecodeControl(data []byte) (*ControlEvent, error) {
	ev := &ControlEvent{}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("bridge: decode control: %w", err)
	}
	return ev, nil
}

// Classify determines which callback an event is routed to. The discriminator
// priority is fixed: an error field always wins, then barge acks, then the
// scoring result, and everything else is a plain status update.
func Classify(ev *ControlEvent) EventKind {
	switch {
	case ev.Err != nil:
		return KindError
	case ev.Status == StatusEventBargeInAck || ev.Status == StatusEventBargeOutAck:
		return KindBarge
	case ev.Status == StatusEventScored:
		return KindScored
	default:
		return KindStatus
	}
}
