// Command dojobridge is the session bridge server: it terminates WebSocket
// call streams, drives persona response generation and voice synthesis, and
// reports scored sessions to the steward service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/mytimedojo/bridge/internal/config"
	"github.com/mytimedojo/bridge/internal/health"
	"github.com/mytimedojo/bridge/internal/observe"
	"github.com/mytimedojo/bridge/internal/personastore"
	"github.com/mytimedojo/bridge/internal/resilience"
	"github.com/mytimedojo/bridge/internal/server"
	"github.com/mytimedojo/bridge/internal/steward"
	"github.com/mytimedojo/bridge/internal/triage"
	"github.com/mytimedojo/bridge/pkg/persona"
	"github.com/mytimedojo/bridge/pkg/persona/anyllm"
	"github.com/mytimedojo/bridge/pkg/persona/httpactor"
	"github.com/mytimedojo/bridge/pkg/synth"
	"github.com/mytimedojo/bridge/pkg/synth/elevenlabs"
	synthmock "github.com/mytimedojo/bridge/pkg/synth/mock"
)

const (
	defaultListenAddr = ":8800"
	defaultPersona    = "hazel"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dojobridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dojobridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("dojobridge starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backends ──────────────────────────────────────────────────────────────
	synthProvider, err := buildSynth(cfg)
	if err != nil {
		slog.Error("failed to build synthesis provider", "err", err)
		return 1
	}

	actors, err := buildActors(cfg)
	if err != nil {
		slog.Error("failed to build actor backend", "err", err)
		return 1
	}

	var scorer steward.Scorer = steward.Noop{}
	if cfg.Steward.BaseURL != "" {
		scorer = steward.NewClient(cfg.Steward.BaseURL)
		slog.Info("steward scoring enabled", "base_url", cfg.Steward.BaseURL)
	} else {
		slog.Warn("steward.base_url not set — sessions will score zero credits")
	}

	personaDefault := cfg.Personas.Default
	if personaDefault == "" {
		personaDefault = defaultPersona
	}

	var router triage.Router = triage.Static{Persona: personaDefault}
	if cfg.Triage.BaseURL != "" {
		router = triage.NewClient(cfg.Triage.BaseURL)
		slog.Info("triage routing enabled", "base_url", cfg.Triage.BaseURL)
	}

	// ── Persona store ─────────────────────────────────────────────────────────
	store, checkers, cleanup, err := buildPersonaStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to build persona store", "err", err)
		return 1
	}
	defer cleanup()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, listenAddr, personaDefault)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(
		server.Config{DefaultPersona: personaDefault, DefaultVoice: cfg.Synthesis.VoiceID},
		synthProvider, actors, scorer, router, store,
		server.WithHealthCheckers(checkers...),
	)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// buildSynth constructs the voice synthesis provider named in cfg. A nil
// provider is valid; the server reports synthesis as unconfigured per request.
func buildSynth(cfg *config.Config) (synth.Provider, error) {
	switch cfg.Synthesis.Provider {
	case "":
		return nil, nil
	case "mock":
		slog.Warn("using mock synthesis provider — no real audio will be produced")
		return &synthmock.Provider{Chunks: [][]byte{[]byte("mock-audio")}}, nil
	case "elevenlabs":
		var opts []elevenlabs.Option
		if cfg.Synthesis.Model != "" {
			opts = append(opts, elevenlabs.WithModel(cfg.Synthesis.Model))
		}
		if cfg.Synthesis.OutputFormat != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(cfg.Synthesis.OutputFormat))
		}
		if cfg.Synthesis.VoiceID != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(cfg.Synthesis.VoiceID))
		}
		p, err := elevenlabs.New(cfg.Synthesis.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		slog.Info("synthesis provider created", "name", "elevenlabs", "model", cfg.Synthesis.Model)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown synthesis provider %q", cfg.Synthesis.Provider)
	}
}

// buildActors constructs the persona response backend. When both an HTTP
// actor service and a local LLM are configured, the service is primary and
// the local model is the fallback.
func buildActors(cfg *config.Config) (*resilience.FallbackGroup[persona.Responder], error) {
	var primary persona.Responder
	var primaryName string

	var local *anyllm.Responder
	if cfg.Actor.Provider != "" && cfg.Actor.Model != "" {
		var opts []anyllmlib.Option
		if cfg.Actor.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.Actor.APIKey))
		}
		if cfg.Actor.Mode == config.ActorModeLocal && cfg.Actor.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.Actor.BaseURL))
		}
		r, err := anyllm.New(cfg.Actor.Provider, cfg.Actor.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create local actor: %w", err)
		}
		local = r
	}

	switch cfg.Actor.Mode {
	case config.ActorModeHTTP:
		c, err := httpactor.New(cfg.Actor.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create actor client: %w", err)
		}
		primary, primaryName = c, "actor-service"
	case config.ActorModeLocal, "":
		if local == nil {
			return nil, fmt.Errorf("actor.provider and actor.model must be set for local mode")
		}
		primary, primaryName = local, cfg.Actor.Provider
		local = nil
	default:
		return nil, fmt.Errorf("unknown actor mode %q", cfg.Actor.Mode)
	}

	group := resilience.NewFallbackGroup[persona.Responder](primary, primaryName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "actor"},
	})
	if local != nil {
		group.AddFallback(cfg.Actor.Provider, local)
		slog.Info("actor fallback registered", "name", cfg.Actor.Provider)
	}
	slog.Info("actor backend created", "name", primaryName, "mode", cfg.Actor.Mode)
	return group, nil
}

// buildPersonaStore assembles the persona definition store: Postgres when a
// DSN is configured, in-memory otherwise, with optional YAML seeding.
func buildPersonaStore(ctx context.Context, cfg *config.Config) (personastore.Store, []health.Checker, func(), error) {
	var store personastore.Store
	var checkers []health.Checker
	cleanup := func() {}

	if dsn := cfg.Personas.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect persona database: %w", err)
		}
		pg := personastore.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate persona database: %w", err)
		}
		store = pg
		cleanup = pool.Close
		checkers = append(checkers, health.Checker{
			Name:  "personas",
			Check: pool.Ping,
		})
		slog.Info("persona store ready", "backend", "postgres")
	} else {
		store = personastore.NewMemStore()
		slog.Info("persona store ready", "backend", "memory")
	}

	if path := cfg.Personas.YAMLPath; path != "" {
		file, err := personastore.LoadFile(path)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		n, err := personastore.Import(ctx, store, file)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("import personas from %q: %w", path, err)
		}
		slog.Info("personas imported", "path", path, "count", n)
	}

	return store, checkers, cleanup, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, listenAddr, personaDefault string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       dojobridge — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printBackend("Synthesis", cfg.Synthesis.Provider, cfg.Synthesis.Model)
	printBackend("Actor", string(cfg.Actor.Mode), cfg.Actor.Model)
	printBackend("Steward", serviceState(cfg.Steward.BaseURL), "")
	printBackend("Triage", serviceState(cfg.Triage.BaseURL), "")
	if cfg.Personas.PostgresDSN != "" {
		printBackend("Personas", "postgres", "")
	} else {
		printBackend("Personas", "memory", "")
	}
	fmt.Printf("║  Default persona : %-19s ║\n", personaDefault)
	fmt.Printf("║  Listen addr     : %-19s ║\n", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printBackend(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func serviceState(baseURL string) string {
	if baseURL == "" {
		return "(disabled)"
	}
	return "enabled"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
