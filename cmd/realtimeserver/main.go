// Command realtimeserver is the main entry point for the realtime-telemetry
// ingest API: event/audio ingest, call snapshots, alert listing/ack, and the
// live SSE fan-out stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/alert"
	"github.com/MrWong99/realtime-telemetry/internal/audiostore"
	"github.com/MrWong99/realtime-telemetry/internal/config"
	"github.com/MrWong99/realtime-telemetry/internal/eventbus"
	"github.com/MrWong99/realtime-telemetry/internal/health"
	"github.com/MrWong99/realtime-telemetry/internal/observe"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/ingestapi"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/store"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/store/pgstore"
	"github.com/MrWong99/realtime-telemetry/internal/sse"
	"github.com/MrWong99/realtime-telemetry/internal/workerstatus"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadFromEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "realtimeserver: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	shutdownProvider, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "realtime-telemetry-server",
	})
	if err != nil {
		slog.Error("failed to init observability provider", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownProvider(ctx)
	}()

	slog.Info("realtimeserver starting", "listen_addr", cfg.Server.ListenAddr, "log_level", cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem := store.NewMemStore()
	var repo store.Store = mem

	var pgMirror *pgstore.Mirror
	if cfg.Postgres.DSN != "" {
		pgMirror, err = pgstore.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			slog.Error("failed to connect postgres mirror", "err", err)
			return 1
		}
		defer pgMirror.Close()
		mem.SetMirror(pgMirror)
		slog.Info("postgres mirror enabled")
	}

	audio := audiostore.New(float64(cfg.Audio.WindowSeconds))
	bus := eventbus.New()

	handler := ingestapi.New(repo, audio, bus, ingestapi.Options{
		IngestToken:        cfg.Ingest.Token,
		MaxAudioChunkBytes: cfg.Audio.MaxChunkBytes,
		AlertConfig: alert.Config{
			NegativeSentimentThreshold: cfg.Alert.NegativeSentimentThreshold,
			HighRiskThreshold:          cfg.Alert.HighRiskThreshold,
			CooldownSeconds:            float64(cfg.Alert.CooldownSeconds),
			KeywordTriggers:            cfg.Alert.SupervisorKeywordTriggers,
		},
		L16BigEndian: true,
	}, nil)

	sseHandler := sse.New(bus)
	healthHandler := health.New(readyChecks(repo, audio, bus, pgMirror)...)

	mux := http.NewServeMux()
	handler.Register(mux)
	sseHandler.Register(mux)
	healthHandler.Register(mux)
	registerGenesysHealthEndpoints(mux, cfg)

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: observe.Middleware(observe.DefaultMetrics())(mux)}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// healthCheckCallID is a reserved call_id used only to probe the store,
// audiostore, and event bus on /readyz. It is never ingested against, so a
// "not found" result from the store is a healthy response, not a failure.
const healthCheckCallID = "__readyz_probe__"

// readyChecks builds the /readyz dependency checks for the ingest API:
// the realtime repository, the rolling audio store, the event bus, and —
// when enabled — the Postgres mirror. Each check exercises a real,
// read-only call against the dependency rather than a no-op, so a stuck
// lock or a dead connection pool actually fails readiness.
func readyChecks(repo store.Store, audio *audiostore.Store, bus *eventbus.Bus, pgMirror *pgstore.Mirror) []health.Checker {
	checks := []health.Checker{
		{
			Name: "store",
			Check: func(ctx context.Context) error {
				_, _, err := repo.GetCall(ctx, healthCheckCallID)
				return err
			},
		},
		{
			Name: "audiostore",
			Check: func(context.Context) error {
				audio.Snapshot(healthCheckCallID)
				return nil
			},
		},
		{
			Name: "eventbus",
			Check: func(context.Context) error {
				bus.SubscriberCount(healthCheckCallID)
				return nil
			},
		},
	}
	if pgMirror != nil {
		checks = append(checks, health.Checker{
			Name:  "postgres",
			Check: pgMirror.Ping,
		})
	}
	return checks
}

// registerGenesysHealthEndpoints wires the two worker health endpoints that
// read the status files the connector and AudioHook listener maintain.
func registerGenesysHealthEndpoints(mux *http.ServeMux, cfg *config.Config) {
	connReader := workerstatus.NewReader(cfg.Genesys.StatusPath, float64(cfg.Genesys.HealthStaleSeconds))
	mux.HandleFunc("GET /api/integrations/genesys/health", workerHealthHandler(connReader))

	ahReader := workerstatus.NewReader(cfg.AudioHook.StatusPath, float64(cfg.AudioHook.HealthStaleSeconds))
	mux.HandleFunc("GET /api/integrations/genesys/audiohook/health", workerHealthHandler(ahReader))
}

func workerHealthHandler(reader *workerstatus.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := reader.Read()
		if err != nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, `{"healthy":false,"error":%q}`, err.Error())
			return
		}
		status := http.StatusOK
		if !h.Healthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(h)
	}
}

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
