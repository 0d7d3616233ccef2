// Package server implements the bridge's HTTP and WebSocket surface.
//
// The WebSocket endpoint /ws/stream multiplexes JSON control frames and raw
// binary audio over a single connection: clients send control requests (tts,
// combat, barge_in, barge_out, end_session) as text frames and receive status
// events as text frames interleaved with synthesised audio as binary frames.
// REST endpoints /tts and /combat cover one-shot use and testing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mytimedojo/bridge/internal/health"
	"github.com/mytimedojo/bridge/internal/observe"
	"github.com/mytimedojo/bridge/internal/personastore"
	"github.com/mytimedojo/bridge/internal/resilience"
	"github.com/mytimedojo/bridge/internal/steward"
	"github.com/mytimedojo/bridge/internal/triage"
	"github.com/mytimedojo/bridge/pkg/bridge"
	"github.com/mytimedojo/bridge/pkg/persona"
	"github.com/mytimedojo/bridge/pkg/synth"
)

// serviceName is reported on the liveness endpoint.
const serviceName = "dojobridge"

// Config holds the server's domain defaults.
type Config struct {
	// DefaultPersona is used when a request does not name one.
	DefaultPersona string

	// DefaultVoice is the synthesis voice used when neither the request nor
	// the persona specifies one.
	DefaultVoice string
}

// Server wires the synthesis, actor, triage, steward, and persona backends
// behind the bridge protocol.
type Server struct {
	cfg Config

	synth    synth.Provider
	actors   *resilience.FallbackGroup[persona.Responder]
	scorer   steward.Scorer
	breaker  *resilience.CircuitBreaker
	router   triage.Router
	personas personastore.Store

	metrics *observe.Metrics
	health  *health.Handler
	now     func() time.Time
}

// Option is a functional option for [New]. Use these to inject test doubles.
type Option func(*Server)

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock replaces the wall clock used for session accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithHealthCheckers registers readiness checkers on the health handler.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(serviceName, checkers...) }
}

// New creates a Server. The actor group must contain at least a primary
// responder; scorer and router fall back to no-op implementations when nil.
func New(cfg Config, sy synth.Provider, actors *resilience.FallbackGroup[persona.Responder],
	scorer steward.Scorer, router triage.Router, personas personastore.Store, opts ...Option) *Server {

	if scorer == nil {
		scorer = steward.Noop{}
	}
	if router == nil {
		router = triage.Static{Persona: cfg.DefaultPersona}
	}

	s := &Server{
		cfg:      cfg,
		synth:    sy,
		actors:   actors,
		scorer:   scorer,
		router:   router,
		personas: personas,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "steward",
		}),
		metrics: observe.DefaultMetrics(),
		health:  health.New(serviceName),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes returns the server's route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("POST /combat", s.handleCombat)
	mux.HandleFunc("GET /ws/stream", s.handleStream)
	return mux
}

// Handler returns the full handler with observability middleware applied.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.Routes())
}

// ---------------------------------------------------------------------------
// REST endpoints
// ---------------------------------------------------------------------------

// ttsRequest is the body of POST /tts.
type ttsRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

// handleTTS synthesises the request text in one shot and returns the full
// audio. The WebSocket endpoint is preferred for streaming.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text must not be empty", http.StatusBadRequest)
		return
	}

	voice := req.VoiceID
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}
	if s.synth == nil || voice == "" {
		http.Error(w, "synthesis not configured", http.StatusInternalServerError)
		return
	}

	start := s.now()
	audio, err := s.synth.Synthesize(r.Context(), req.Text, voice)
	if err != nil {
		s.metrics.RecordBackendError(r.Context(), "synthesis", "synthesize")
		http.Error(w, fmt.Sprintf("synthesis failed: %v", err), http.StatusBadGateway)
		return
	}
	s.metrics.SynthesisDuration.Record(r.Context(), s.now().Sub(start).Seconds())

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Write(audio)
}

// combatRequest is the body of POST /combat.
type combatRequest struct {
	CallerNumber string `json:"caller_number"`
	Transcript   string `json:"transcript"`
	Persona      string `json:"persona,omitempty"`
}

// combatResponse is the body returned by POST /combat. Audio is delivered
// over the WebSocket endpoint, not here.
type combatResponse struct {
	Triage        triage.Decision `json:"triage"`
	ActorResponse string          `json:"actor_response"`
	Persona       string          `json:"persona"`
	Hint          string          `json:"hint"`
}

// handleCombat runs a full triage + actor cycle and returns the text result.
func (s *Server) handleCombat(w http.ResponseWriter, r *http.Request) {
	var req combatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	personaID := req.Persona
	if personaID == "" {
		personaID = s.cfg.DefaultPersona
	}

	dec, err := s.router.Triage(r.Context(), triage.Request{CallerID: req.CallerNumber, Intent: req.Transcript})
	if err != nil {
		s.metrics.RecordBackendError(r.Context(), "triage", "route")
		http.Error(w, fmt.Sprintf("triage failed: %v", err), http.StatusBadGateway)
		return
	}
	if req.Persona == "" && dec.Persona != "" {
		personaID = dec.Persona
	}

	text, err := s.respond(r.Context(), req.Transcript, personaID)
	if err != nil {
		http.Error(w, fmt.Sprintf("actor failed: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(combatResponse{
		Triage:        dec,
		ActorResponse: text,
		Persona:       personaID,
		Hint:          "Connect via WebSocket at /ws/stream for real-time audio",
	})
}

// ---------------------------------------------------------------------------
// WebSocket endpoint
// ---------------------------------------------------------------------------

// wsStream owns the write side of one WebSocket connection plus the currently
// running synthesis goroutine, if any. Writes are serialised through mu so
// control events never interleave with audio chunk writes.
type wsStream struct {
	conn *websocket.Conn

	mu sync.Mutex // guards conn writes

	speakMu sync.Mutex // guards cancel/done
	cancel  context.CancelFunc
	done    chan struct{}
}

func (st *wsStream) sendEvent(ctx context.Context, ev any) error {
	data, err := bridge.EncodeEvent(ev)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn.Write(ctx, websocket.MessageText, data)
}

func (st *wsStream) sendError(ctx context.Context, msg string) {
	if err := st.sendEvent(ctx, bridge.ErrorEvent{Error: msg}); err != nil {
		slog.Debug("failed to deliver error event", "err", err)
	}
}

func (st *wsStream) sendBinary(ctx context.Context, chunk []byte) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn.Write(ctx, websocket.MessageBinary, chunk)
}

// interrupt cancels the running synthesis stream, if any, without waiting.
func (st *wsStream) interrupt() {
	st.speakMu.Lock()
	defer st.speakMu.Unlock()
	if st.cancel != nil {
		st.cancel()
	}
}

// interruptAndWait cancels the running synthesis stream and blocks until its
// goroutine has finished writing.
func (st *wsStream) interruptAndWait() {
	st.speakMu.Lock()
	cancel, done := st.cancel, st.done
	st.speakMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// handleStream is the WebSocket session loop. One connection carries any
// number of sequential scored sessions; a client disconnect mid-session still
// scores the session so no XP is lost.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(-1)

	ctx := r.Context()
	log := observe.Logger(ctx)
	log.Info("stream client connected")

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	sess := newCombatSession(s.cfg.DefaultPersona, s.now)
	st := &wsStream{conn: conn}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			log.Info("stream client disconnected", "err", err)
			st.interruptAndWait()
			// Score the abandoned session so accumulated time still counts.
			s.finishSession(context.WithoutCancel(ctx), nil, sess)
			return
		}
		if typ != websocket.MessageText {
			st.sendError(ctx, "binary frames are not accepted")
			continue
		}

		req, err := bridge.DecodeRequest(data)
		if err != nil {
			st.sendError(ctx, err.Error())
			continue
		}
		s.metrics.RecordFrameReceived(ctx, string(req.Action))

		switch req.Action {
		case bridge.ActionBargeIn:
			wasLive := sess.isLive()
			sess.bargeIn(req.UserID)
			st.interrupt()
			if !wasLive {
				s.metrics.LiveOperators.Add(ctx, 1)
			}
			s.metrics.RecordBarge(ctx, "in")
			id, _, _, userID := sess.snapshot()
			log.Info("barge-in", "session_id", id, "user_id", userID)
			st.sendEvent(ctx, bridge.BargeInAck{
				Status:       bridge.StatusEventBargeInAck,
				SessionID:    id,
				Mode:         "live",
				XPMultiplier: 5,
				Message:      "You have the conn. 5x XP active.",
			})

		case bridge.ActionBargeOut:
			wasLive := sess.isLive()
			live := sess.bargeOut(req.Persona)
			if wasLive {
				s.metrics.LiveOperators.Add(ctx, -1)
			}
			s.metrics.RecordBarge(ctx, "out")
			id, _, personaID, _ := sess.snapshot()
			log.Info("barge-out", "session_id", id, "live_seconds", live)
			st.sendEvent(ctx, bridge.BargeOutAck{
				Status:      bridge.StatusEventBargeOutAck,
				Mode:        "auto",
				Persona:     personaID,
				LiveSeconds: live,
				Message:     fmt.Sprintf("AI resuming as %s.", personaID),
			})

		case bridge.ActionEndSession:
			st.interruptAndWait()
			if sess.isLive() {
				s.metrics.LiveOperators.Add(ctx, -1)
			}
			s.finishSession(ctx, st, sess)
			sess = newCombatSession(s.cfg.DefaultPersona, s.now)

		case bridge.ActionCombat:
			personaID := req.Persona
			if personaID == "" {
				personaID = s.cfg.DefaultPersona
			}
			if dec, terr := s.router.Triage(ctx, triage.Request{CallerID: req.CallerNumber, Intent: req.Transcript}); terr != nil {
				s.metrics.RecordBackendError(ctx, "triage", "route")
				log.Warn("triage unavailable, keeping requested persona", "err", terr)
			} else if req.Persona == "" && dec.Persona != "" {
				personaID = dec.Persona
			}
			sess.setCaller(req.CallerNumber, personaID)

			actorStart := s.now()
			text, rerr := s.respond(ctx, req.Transcript, personaID)
			if rerr != nil {
				st.sendError(ctx, fmt.Sprintf("actor failed: %v", rerr))
				continue
			}
			s.metrics.ActorDuration.Record(ctx, s.now().Sub(actorStart).Seconds())

			id, mode, _, _ := sess.snapshot()
			st.sendEvent(ctx, bridge.StreamingEvent{
				Status:    bridge.StatusEventStreaming,
				SessionID: id,
				ActorText: text,
				Mode:      mode,
				Persona:   personaID,
			})
			s.speak(ctx, st, text, s.voiceFor(ctx, req.VoiceID, personaID))

		case bridge.ActionTTS:
			if req.Text == "" {
				st.sendError(ctx, "no text provided")
				continue
			}
			_, _, personaID, _ := sess.snapshot()
			s.speak(ctx, st, req.Text, s.voiceFor(ctx, req.VoiceID, personaID))

		default:
			st.sendError(ctx, fmt.Sprintf("unknown action %q", req.Action))
		}
	}
}

// speak starts a cancellable synthesis stream for text, writing audio chunks
// as binary frames. A stream already in flight is cancelled first. The
// closing status frame is "done", or "stream_interrupted" when the stream was
// cut by a barge-in.
func (s *Server) speak(ctx context.Context, st *wsStream, text, voice string) {
	if s.synth == nil || voice == "" {
		st.sendError(ctx, "synthesis not configured")
		return
	}

	st.interruptAndWait()

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	st.speakMu.Lock()
	st.cancel = cancel
	st.done = done
	st.speakMu.Unlock()

	go func() {
		defer close(done)
		defer cancel()

		start := s.now()
		ch, err := s.synth.Stream(sctx, text, voice)
		if err != nil {
			if sctx.Err() == nil {
				s.metrics.RecordBackendError(ctx, "synthesis", "stream")
				st.sendError(ctx, fmt.Sprintf("synthesis failed: %v", err))
			}
			return
		}

		for chunk := range ch {
			if err := st.sendBinary(ctx, chunk); err != nil {
				cancel()
				return
			}
			s.metrics.RecordFrameSent(ctx, "audio")
		}
		s.metrics.SynthesisDuration.Record(ctx, s.now().Sub(start).Seconds())

		var ev any = bridge.DoneEvent{Status: bridge.StatusEventDone}
		if sctx.Err() != nil {
			ev = bridge.InterruptedEvent{Status: bridge.StatusEventInterrupted, Reason: "barge_in"}
		}
		if err := st.sendEvent(ctx, ev); err == nil {
			s.metrics.RecordFrameSent(ctx, "control")
		}
	}()
}

// finishSession scores sess through the steward and, when st is non-nil,
// reports the result as a session_scored event. Scoring failures degrade to
// an event without a steward block rather than failing the session.
func (s *Server) finishSession(ctx context.Context, st *wsStream, sess *combatSession) {
	total, live, auto := sess.end()
	id, _, personaID, _ := sess.snapshot()

	multiplier := 1
	if live > 0 {
		multiplier = 5
	}

	var score steward.Score
	stewStart := s.now()
	err := s.breaker.Execute(func() error {
		var e error
		score, e = s.scorer.LogCall(ctx, steward.Report{
			SessionID:       id,
			DurationSeconds: float64(total),
			LiveSeconds:     float64(live),
			Multiplier:      multiplier,
			Persona:         personaID,
		})
		return e
	})
	s.metrics.StewardDuration.Record(ctx, s.now().Sub(stewStart).Seconds())

	var result *bridge.StewardScore
	if err != nil {
		s.metrics.RecordBackendError(ctx, "steward", "log_call")
		slog.Warn("steward scoring unavailable", "session_id", id, "err", err)
	} else {
		result = &bridge.StewardScore{
			CreditsEarned: int(math.Round(score.CreditsEarned)),
			NewLevel:      score.NewLevel,
			Mode:          score.Mode,
		}
	}

	s.metrics.SessionsScored.Add(ctx, 1)
	s.metrics.SessionDuration.Record(ctx, float64(total))
	slog.Info("session scored",
		"session_id", id,
		"total_duration", total,
		"live_seconds", live,
		"auto_seconds", auto,
	)

	if st == nil {
		return
	}
	st.sendEvent(ctx, bridge.ScoredEvent{
		Status:        bridge.StatusEventScored,
		SessionID:     id,
		TotalDuration: total,
		LiveSeconds:   live,
		AutoSeconds:   auto,
		Steward:       result,
	})
}

// respond resolves the persona profile and generates the next line of
// dialogue through the actor fallback group.
func (s *Server) respond(ctx context.Context, transcript, personaID string) (string, error) {
	profile := s.resolveProfile(ctx, personaID)

	var lines []string
	if t := strings.TrimSpace(transcript); t != "" {
		lines = strings.Split(t, "\n")
	}

	return resilience.ExecuteWithResult(s.actors, func(r persona.Responder) (string, error) {
		return r.Respond(ctx, lines, profile)
	})
}

// resolveProfile loads the persona definition from the store, falling back to
// a bare profile when the store is absent or the persona is unknown.
func (s *Server) resolveProfile(ctx context.Context, personaID string) persona.Profile {
	if s.personas != nil {
		def, err := s.personas.Get(ctx, personaID)
		if err != nil {
			slog.Warn("persona lookup failed", "persona", personaID, "err", err)
		} else if def != nil {
			return personastore.ToProfile(def)
		}
	}
	return persona.Profile{ID: personaID, Name: personaID, VoiceID: s.cfg.DefaultVoice}
}

// voiceFor picks the synthesis voice: an explicit request wins, then the
// persona's configured voice, then the server default.
func (s *Server) voiceFor(ctx context.Context, requested, personaID string) string {
	if requested != "" {
		return requested
	}
	if p := s.resolveProfile(ctx, personaID); p.VoiceID != "" {
		return p.VoiceID
	}
	return s.cfg.DefaultVoice
}
