// Package bridge implements the client side of the Session Bridge Protocol:
// a bidirectional, persistent WebSocket connection that multiplexes JSON
// control frames and raw binary audio for one live call session.
//
// A [Client] owns exactly one underlying connection at a time. Callers issue
// actions (Engage, Speak, BargeIn, BargeOut, EndSession); inbound control
// frames update the [StateMachine] and invoke typed callbacks registered on
// the [Dispatcher]; inbound binary frames go straight to the audio-chunk
// callback. On unexpected close the client reconnects with exponential
// backoff until the attempt budget is exhausted.
//
// All exported methods are safe for concurrent use.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Default client parameters.
const (
	defaultMaxReconnectAttempts = 5
	defaultBackoff              = 1 * time.Second
	defaultAckTimeout           = 10 * time.Second
	writeTimeout                = 10 * time.Second
)

// ErrNotConnected is returned by send operations while the connection is not
// open. Sends never queue and are never silently dropped.
var ErrNotConnected = errors.New("bridge: not connected")

// ErrAlreadyConnected is returned by [Client.Connect] when a connection is
// already open.
var ErrAlreadyConnected = errors.New("bridge: already connected")

// ErrAckTimeout is reported through the error callback when a barge request
// receives no acknowledgment within the configured wait. The pending marker
// is cleared so the caller can retry.
var ErrAckTimeout = errors.New("bridge: barge acknowledgment timed out")

// ErrRetriesExhausted is reported through the error callback once the
// reconnect attempt budget is spent. No further automatic attempts are made
// until [Client.Connect] is called again explicitly, and the session is left
// in its last known state for inspection.
var ErrRetriesExhausted = errors.New("bridge: reconnect attempts exhausted")

// Config configures a [Client].
type Config struct {
	// URL is the WebSocket endpoint of the bridge server
	// (e.g., "ws://localhost:8080/ws/stream").
	URL string

	// Persona is the default voice/response profile for new sessions.
	Persona string

	// MaxReconnectAttempts bounds automatic reconnection after an unexpected
	// close. Defaults to 5 if zero.
	MaxReconnectAttempts int

	// Backoff is the delay unit for reconnection; the Nth retry waits
	// Backoff * 2^N. Defaults to 1s if zero.
	Backoff time.Duration

	// AckTimeout bounds the wait for a barge acknowledgment. A request that
	// is not acked within this window surfaces [ErrAckTimeout] through the
	// error callback. Defaults to 10s if zero; negative disables the wait.
	AckTimeout time.Duration

	// Header is attached to the WebSocket handshake request. May be nil.
	Header map[string][]string
}

// Client is a Session Bridge Protocol client.
type Client struct {
	url        string
	backoff    time.Duration
	ackTimeout time.Duration
	maxTotal   int
	header     map[string][]string

	state      *StateMachine
	dispatcher *Dispatcher

	mu         sync.Mutex
	conn       *websocket.Conn
	attempts   int
	allowed    int // remaining budget control; zeroed by Disconnect
	retryTimer *time.Timer
	readCancel context.CancelFunc
}

// New creates a [Client]. No connection is made until [Client.Connect].
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("bridge: URL must not be empty")
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxReconnectAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout == 0 {
		ackTimeout = defaultAckTimeout
	}

	state := NewStateMachine(cfg.Persona)
	return &Client{
		url:        cfg.URL,
		backoff:    backoff,
		ackTimeout: ackTimeout,
		maxTotal:   maxAttempts,
		header:     cfg.Header,
		state:      state,
		dispatcher: NewDispatcher(state),
	}, nil
}

// Dispatcher returns the callback registry for inbound events.
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

// Session returns a snapshot of the current session state.
func (c *Client) Session() Session { return c.state.Snapshot() }

// Connected reports whether the underlying connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens a new connection. It blocks until the connection is open or
// the first error occurs. On success the retry counter resets to zero and
// automatic reconnection is re-enabled. An explicit Connect also cancels any
// backoff timer left over from a previous connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.allowed = c.maxTotal
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: c.header,
	})
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(-1)

	readCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.readCancel = cancel
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)

	slog.Info("bridge connected", "url", c.url)
	return nil
}

// Disconnect is the caller-initiated teardown and the only cancellation
// primitive. It disables automatic reconnection BEFORE closing the socket —
// closing first would race a reconnect attempt against intentional shutdown.
// Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.allowed = 0
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	cancel := c.readCancel
	c.readCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// ─── Caller actions ──────────────────────────────────────────────────────────

// Speak sends a direct speech synthesis request. voiceID may be empty to use
// the server default.
func (c *Client) Speak(text, voiceID string) error {
	if text == "" {
		return errors.New("bridge: tts text must not be empty")
	}
	if err := c.state.Speak(); err != nil {
		return err
	}
	return c.send(ControlRequest{Action: ActionTTS, Text: text, VoiceID: voiceID})
}

// Engage starts an engagement cycle for the given caller. The persona is
// locked for the session; pass "" to keep the client default.
func (c *Client) Engage(callerNumber, transcript, persona string) error {
	if err := c.state.Engage(persona); err != nil {
		return err
	}
	return c.send(ControlRequest{
		Action:       ActionCombat,
		CallerNumber: callerNumber,
		Transcript:   transcript,
		Persona:      c.state.Snapshot().Persona,
	})
}

// BargeIn requests human takeover. The request is sent without pre-validating
// against possibly stale local state; mode changes only when the ack arrives.
func (c *Client) BargeIn(userID string) error {
	if err := c.send(ControlRequest{Action: ActionBargeIn, UserID: userID}); err != nil {
		return err
	}
	c.state.RequestBargeIn()
	c.armAckTimer()
	return nil
}

// BargeOut returns control to the agent, optionally switching persona.
// As with BargeIn, local mode changes only upon the ack.
func (c *Client) BargeOut(persona string) error {
	if err := c.send(ControlRequest{Action: ActionBargeOut, Persona: persona}); err != nil {
		return err
	}
	c.state.RequestBargeOut()
	c.armAckTimer()
	return nil
}

// EndSession terminates the engagement and requests scoring. Local state is
// cleared optimistically; the authoritative result arrives as session_scored.
func (c *Client) EndSession() error {
	if err := c.state.RequestEnd(); err != nil {
		return err
	}
	return c.send(ControlRequest{Action: ActionEndSession})
}

// ─── Internals ───────────────────────────────────────────────────────────────

// send encodes and transmits a control frame. It fails fast with
// [ErrNotConnected] while the connection is not open.
func (c *Client) send(req ControlRequest) error {
	data, err := EncodeControl(req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: cannot send %s", ErrNotConnected, req.Action)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bridge: send %s: %w", req.Action, err)
	}
	return nil
}

// armAckTimer starts the bounded wait for a barge acknowledgment. When the
// timer fires with the request still pending, the marker is cleared and
// [ErrAckTimeout] is surfaced through the error callback.
func (c *Client) armAckTimer() {
	if c.ackTimeout < 0 {
		return
	}
	time.AfterFunc(c.ackTimeout, func() {
		if c.state.ClearPendingBarge() {
			c.dispatcher.ReportError(fmt.Errorf("%w after %s", ErrAckTimeout, c.ackTimeout))
		}
	})
}

// readLoop pumps frames from the connection until it closes. Binary frames
// route to the audio handler without parsing; text frames go through the
// control dispatcher.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		if typ == websocket.MessageBinary {
			c.dispatcher.DispatchBinary(data)
			continue
		}
		c.dispatcher.DispatchText(data)
	}
}

// handleClose reacts to the connection dropping. An intentional Disconnect
// has already cleared the stored conn, so a stale close is ignored. Otherwise
// the transport error is surfaced and a reconnect is scheduled.
func (c *Client) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.readCancel = nil
	c.mu.Unlock()

	c.dispatcher.ReportError(fmt.Errorf("bridge: connection lost: %w", cause))
	c.scheduleRetry()
}

// retryDelay returns the wait before the given reconnection attempt,
// doubling per attempt: attempt 1 waits backoff * 2, attempt 2 waits
// backoff * 4, and so on.
func (c *Client) retryDelay(attempt int) time.Duration {
	return c.backoff * time.Duration(1<<attempt)
}

// scheduleRetry arms the backoff timer for the next reconnection attempt.
// The attempt counter is pre-incremented before computing the delay. At most
// one retry is in flight at a time; an exhausted budget stops the cycle until
// an explicit Connect.
func (c *Client) scheduleRetry() {
	c.mu.Lock()
	if c.retryTimer != nil || c.attempts >= c.allowed {
		exhausted := c.retryTimer == nil
		c.mu.Unlock()
		if exhausted {
			slog.Warn("bridge reconnect budget exhausted", "attempts", c.attempts)
			c.dispatcher.ReportError(ErrRetriesExhausted)
		}
		return
	}
	c.attempts++
	delay := c.retryDelay(c.attempts)
	attempt := c.attempts
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retryTimer = nil
		disabled := c.allowed == 0
		c.mu.Unlock()
		if disabled {
			return
		}
		slog.Info("bridge reconnecting", "attempt", attempt, "delay", delay)
		if err := c.reconnect(); err != nil {
			slog.Warn("bridge reconnect attempt failed", "attempt", attempt, "err", err)
			c.scheduleRetry()
		}
	})
	c.mu.Unlock()
}

// reconnect is the automatic variant of Connect: it neither resets the
// attempt counter budget gate nor cancels timers, and a success resets the
// counter exactly like an explicit Connect.
func (c *Client) reconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: c.header,
	})
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(-1)

	readCtx, readCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.allowed == 0 {
		// Disconnect won the race while we were dialling.
		c.mu.Unlock()
		readCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.readCancel = readCancel
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)

	slog.Info("bridge reconnected", "url", c.url)
	return nil
}
