package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// startServer runs a WebSocket test server whose per-connection behaviour is
// supplied by handler. It returns the ws:// URL and a handshake counter.
func startServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) (string, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), &dials
}

// readControl reads one text frame from conn and decodes it.
func readControl(ctx context.Context, t *testing.T, conn *websocket.Conn) ControlRequest {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("server read: %v", err)
		return ControlRequest{}
	}
	var req ControlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Errorf("server decode: %v", err)
	}
	return req
}

func writeJSON(ctx context.Context, conn *websocket.Conn, payload string) {
	_ = conn.Write(ctx, websocket.MessageText, []byte(payload))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestClient_SendWhileClosedFailsFast(t *testing.T) {
	c, err := New(Config{URL: "ws://localhost:1/ws/stream", Persona: "hazel"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Speak("hello", ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Speak while closed: got %v, want ErrNotConnected", err)
	}
	if err := c.BargeIn(""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("BargeIn while closed: got %v, want ErrNotConnected", err)
	}
	// A failed send must not leave a pending barge marker behind.
	if c.state.ClearPendingBarge() {
		t.Error("failed barge send left a pending marker")
	}
}

// Scenario from the protocol contract: combat → streaming → binary chunk →
// done leaves the session ready, in auto mode, with no session id bound.
func TestClient_CombatCycle(t *testing.T) {
	url, _ := startServer(t, func(ctx context.Context, conn *websocket.Conn) {
		req := readControl(ctx, t, conn)
		if req.Action != ActionCombat || req.CallerNumber != "+1555" || req.Transcript != "hi" || req.Persona != "hazel" {
			t.Errorf("unexpected combat request: %+v", req)
		}
		writeJSON(ctx, conn, `{"status":"streaming","actor_text":"Hello?"}`)
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02, 0x03})
		writeJSON(ctx, conn, `{"status":"done"}`)
		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(ctx)
	})

	c, err := New(Config{URL: url, Persona: "hazel"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var chunks atomic.Int32
	var sawStreaming, sawDone atomic.Bool
	c.Dispatcher().OnAudioChunk(func(chunk []byte) { chunks.Add(1) })
	c.Dispatcher().OnStatus(func(ev *ControlEvent) {
		switch ev.Status {
		case StatusEventStreaming:
			if ev.ActorText != "Hello?" {
				t.Errorf("actor_text = %q", ev.ActorText)
			}
			sawStreaming.Store(true)
		case StatusEventDone:
			sawDone.Store(true)
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Engage("+1555", "hi", "hazel"); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	if !waitFor(t, 2*time.Second, sawDone.Load) {
		t.Fatal("never saw the done status")
	}
	if !sawStreaming.Load() {
		t.Error("never saw the streaming status")
	}
	if chunks.Load() != 1 {
		t.Errorf("audio chunks = %d, want 1", chunks.Load())
	}

	s := c.Session()
	if s.Status != StatusReady {
		t.Errorf("status = %q, want ready", s.Status)
	}
	if s.Mode != ModeAuto {
		t.Errorf("mode = %q, want auto", s.Mode)
	}
	if s.ID != "" {
		t.Errorf("session id = %q, want unbound", s.ID)
	}
}

func TestClient_BargeInBindsSession(t *testing.T) {
	url, _ := startServer(t, func(ctx context.Context, conn *websocket.Conn) {
		req := readControl(ctx, t, conn)
		if req.Action != ActionBargeIn {
			t.Errorf("unexpected action %q", req.Action)
		}
		writeJSON(ctx, conn, `{"status":"barge_in_ack","session_id":"s1","xp_multiplier":5,"message":"You have the conn. 5x XP active."}`)
		_, _, _ = conn.Read(ctx)
	})

	c, err := New(Config{URL: url, Persona: "hazel"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var acked atomic.Bool
	c.Dispatcher().OnBarge(func(ev *ControlEvent) { acked.Store(true) })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	c.state.ApplyStreaming()
	if err := c.BargeIn("u-7"); err != nil {
		t.Fatalf("BargeIn: %v", err)
	}
	// Mode is not allowed to change before the ack arrives.
	if got := c.Session().Mode; got != ModeAuto {
		t.Errorf("mode = %q immediately after request, want auto", got)
	}

	if !waitFor(t, 2*time.Second, acked.Load) {
		t.Fatal("barge ack never arrived")
	}

	s := c.Session()
	if s.Mode != ModeLive {
		t.Errorf("mode = %q, want live", s.Mode)
	}
	if s.ID != "s1" {
		t.Errorf("session id = %q, want s1", s.ID)
	}
	if s.XPMultiplier != 5 {
		t.Errorf("xp multiplier = %d, want 5", s.XPMultiplier)
	}
}

// Five consecutive drops with MaxReconnectAttempts=5 must produce exactly
// five retries (six handshakes in total, counting the explicit Connect) and
// then stop until Connect is called again.
func TestClient_RetryBudgetExhaustion(t *testing.T) {
	url, dials := startServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusInternalError, "dropping you")
	})

	c, err := New(Config{URL: url, MaxReconnectAttempts: 5, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var exhausted atomic.Bool
	c.Dispatcher().OnError(func(err error) {
		if errors.Is(err, ErrRetriesExhausted) {
			exhausted.Store(true)
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if !waitFor(t, 5*time.Second, exhausted.Load) {
		t.Fatal("retry budget never reported exhausted")
	}
	got := dials.Load()
	if got != 6 {
		t.Errorf("handshakes = %d, want 6 (1 explicit + 5 retries)", got)
	}

	// No sixth retry gets scheduled afterwards.
	time.Sleep(100 * time.Millisecond)
	if dials.Load() != got {
		t.Errorf("extra reconnect attempts after exhaustion: %d", dials.Load()-got)
	}

	// An explicit Connect resets the counter and works again.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after exhaustion: %v", err)
	}
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	if attempts != 0 {
		t.Errorf("attempt counter = %d after explicit Connect, want 0", attempts)
	}
	_ = c.Disconnect()
}

// Disconnect during an active backoff timer must suppress every further
// reconnection attempt. This ordering (disable retries, then close) is
// correctness-critical.
func TestClient_DisconnectSuppressesRetry(t *testing.T) {
	url, dials := startServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusInternalError, "dropping you")
	})

	c, err := New(Config{URL: url, MaxReconnectAttempts: 5, Backoff: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Dispatcher().OnError(func(error) {})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Wait for the drop to be noticed and the first backoff timer armed.
	waitFor(t, time.Second, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.retryTimer != nil
	})

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	before := dials.Load()
	time.Sleep(300 * time.Millisecond)
	if dials.Load() != before {
		t.Errorf("reconnect attempts after Disconnect: %d", dials.Load()-before)
	}
}

func TestClient_BackoffDelays(t *testing.T) {
	c, err := New(Config{URL: "ws://localhost:1/ws/stream", MaxReconnectAttempts: 5, Backoff: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for attempt, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
		5: 32 * time.Second,
	} {
		if got := c.retryDelay(attempt); got != want {
			t.Errorf("retryDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestClient_BackoffDelays_CustomBase(t *testing.T) {
	c, err := New(Config{URL: "ws://localhost:1/ws/stream", Backoff: 250 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := c.retryDelay(1); got != 500*time.Millisecond {
		t.Errorf("retryDelay(1) = %v, want 500ms", got)
	}
	if got := c.retryDelay(3); got != 2*time.Second {
		t.Errorf("retryDelay(3) = %v, want 2s", got)
	}
}

func TestClient_AckTimeout(t *testing.T) {
	url, _ := startServer(t, func(ctx context.Context, conn *websocket.Conn) {
		// Swallow the barge request and never ack it.
		_, _, _ = conn.Read(ctx)
		_, _, _ = conn.Read(ctx)
	})

	c, err := New(Config{URL: url, AckTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var timedOut atomic.Bool
	c.Dispatcher().OnError(func(err error) {
		if errors.Is(err, ErrAckTimeout) {
			timedOut.Store(true)
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.BargeIn(""); err != nil {
		t.Fatalf("BargeIn: %v", err)
	}
	if !waitFor(t, 2*time.Second, timedOut.Load) {
		t.Fatal("ack timeout never surfaced")
	}
	// The pending marker is cleared so the caller can retry.
	if c.state.ClearPendingBarge() {
		t.Error("pending marker survived the timeout")
	}
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	c, err := New(Config{URL: "ws://localhost:1/ws/stream"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("first Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
}
