package bridge

import (
	"log/slog"
	"sync"
)

// RemoteError is an application-level failure reported by the remote side in
// an otherwise well-formed control frame. It is surfaced verbatim through the
// error callback and never changes session state on its own beyond marking
// the session errored — the caller decides whether to retry the action.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "bridge: remote error: " + e.Message
}

// Callback types. Each event kind has at most one active handler; registering
// a new one replaces the previous (single-consumer design).
type (
	// StatusFunc receives generic status updates (streaming, done,
	// stream_interrupted and anything without a dedicated handler).
	StatusFunc func(ev *ControlEvent)

	// BargeFunc receives barge_in_ack and barge_out_ack events after the
	// state machine has applied them.
	BargeFunc func(ev *ControlEvent)

	// ScoredFunc receives the final session_scored result together with the
	// closed-out local session snapshot.
	ScoredFunc func(ev *ControlEvent, final Session)

	// ErrorFunc receives both connection-level and application-level errors.
	// Application errors are *RemoteError values.
	ErrorFunc func(err error)

	// AudioFunc receives raw binary audio chunks. The payload is opaque to
	// the bridge and is never JSON-parsed.
	AudioFunc func(chunk []byte)
)

// Dispatcher routes decoded frames to typed callbacks and is the only
// component that mutates session state on inbound events.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	state *StateMachine

	mu       sync.RWMutex
	onStatus StatusFunc
	onBarge  BargeFunc
	onScored ScoredFunc
	onError  ErrorFunc
	onAudio  AudioFunc
}

// NewDispatcher creates a dispatcher bound to the given state machine.
func NewDispatcher(state *StateMachine) *Dispatcher {
	return &Dispatcher{state: state}
}

// OnStatus registers the status-update handler. Last registration wins.
func (d *Dispatcher) OnStatus(fn StatusFunc) {
	d.mu.Lock()
	d.onStatus = fn
	d.mu.Unlock()
}

// OnBarge registers the barge acknowledgment handler. Last registration wins.
func (d *Dispatcher) OnBarge(fn BargeFunc) {
	d.mu.Lock()
	d.onBarge = fn
	d.mu.Unlock()
}

// OnScored registers the session-scored handler. Last registration wins.
func (d *Dispatcher) OnScored(fn ScoredFunc) {
	d.mu.Lock()
	d.onScored = fn
	d.mu.Unlock()
}

// OnError registers the error handler. Last registration wins.
func (d *Dispatcher) OnError(fn ErrorFunc) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

// OnAudioChunk registers the binary audio handler. Last registration wins.
func (d *Dispatcher) OnAudioChunk(fn AudioFunc) {
	d.mu.Lock()
	d.onAudio = fn
	d.mu.Unlock()
}

// DispatchBinary routes a binary frame straight to the audio handler. The
// payload bypasses the state machine entirely.
func (d *Dispatcher) DispatchBinary(chunk []byte) {
	d.mu.RLock()
	fn := d.onAudio
	d.mu.RUnlock()
	if fn != nil {
		fn(chunk)
	}
}

// DispatchText decodes a text frame, applies it to the state machine, and
// invokes the matching callback. A malformed payload is a local, non-fatal
// error: it is reported through the error callback and the connection stays
// open.
func (d *Dispatcher) DispatchText(data []byte) {
	ev, err := DecodeControl(data)
	if err != nil {
		d.ReportError(err)
		return
	}

	switch Classify(ev) {
	case KindError:
		d.state.ApplyError()
		d.ReportError(&RemoteError{Message: *ev.Err})

	case KindBarge:
		if ev.Status == StatusEventBargeInAck {
			d.state.ApplyBargeInAck(ev.SessionID, ev.XPMultiplier)
		} else {
			d.state.ApplyBargeOutAck(ev.LiveSeconds, ev.Persona)
		}
		d.mu.RLock()
		fn := d.onBarge
		d.mu.RUnlock()
		if fn != nil {
			fn(ev)
		}

	case KindScored:
		final := d.state.ApplyScored(ev.TotalDuration, ev.LiveSeconds)
		d.mu.RLock()
		fn := d.onScored
		d.mu.RUnlock()
		if fn != nil {
			fn(ev, final)
		}

	default:
		d.applyStatus(ev)
		d.mu.RLock()
		fn := d.onStatus
		d.mu.RUnlock()
		if fn != nil {
			fn(ev)
		}
	}
}

// applyStatus maps a generic status update onto the state machine.
func (d *Dispatcher) applyStatus(ev *ControlEvent) {
	switch ev.Status {
	case StatusEventStreaming:
		d.state.ApplyStreaming()
	case StatusEventDone:
		d.state.ApplyDone()
	case StatusEventInterrupted:
		d.state.ApplyInterrupted()
	default:
		slog.Debug("unhandled status update", "status", ev.Status)
	}
}

// ReportError funnels an error into the error callback. Connection-level and
// application-level errors share this path but are distinguishable by type.
func (d *Dispatcher) ReportError(err error) {
	d.mu.RLock()
	fn := d.onError
	d.mu.RUnlock()
	if fn != nil {
		fn(err)
		return
	}
	slog.Warn("bridge error with no handler registered", "err", err)
}
