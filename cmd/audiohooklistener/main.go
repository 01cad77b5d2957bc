// Command audiohooklistener runs the Genesys AudioHook media listener: a
// websocket server that terminates the dual-channel AudioHook protocol,
// buffers per-speaker PCM, and forwards flushed audio chunks and passthrough
// events to the realtime ingest API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/audiohook"
	"github.com/MrWong99/realtime-telemetry/internal/config"
	"github.com/MrWong99/realtime-telemetry/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	seedPath := flag.String("config", "", "optional path to a YAML seed file with non-secret Genesys defaults")
	dryRun := flag.Bool("dry-run", false, "accept connections and decode audio but do not forward to the ingest API")
	logLevel := flag.String("log-level", "", "override REALTIME_LOG_LEVEL for this process")
	flag.Parse()

	cfg, err := loadConfig(*seedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiohooklistener: %v\n", err)
		return 1
	}

	level := cfg.Server.LogLevel
	if *logLevel != "" {
		level = config.LogLevel(*logLevel)
	}
	logger := newLogger(level)
	slog.SetDefault(logger)

	shutdownProvider, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "realtime-telemetry-audiohook-listener",
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener := audiohook.New(audiohook.Config{
		ListenAddr:           cfg.AudioHook.ListenAddr,
		Path:                 cfg.AudioHook.Path,
		TargetAudioIngestURL: cfg.AudioHook.TargetAudioIngestURL,
		TargetEventsURL:      cfg.AudioHook.TargetEventsURL,
		IngestToken:          cfg.Ingest.Token,
		MinChunkDurationMS:   cfg.AudioHook.MinChunkDurationMS,
		FlushIntervalMS:      cfg.AudioHook.FlushIntervalMS,
		MaxChunkDurationMS:   cfg.AudioHook.MaxChunkDurationMS,
		RetryMaxAttempts:     cfg.AudioHook.RetryMaxAttempts,
		RetryBackoff:         time.Duration(cfg.AudioHook.RetryBackoffSeconds * float64(time.Second)),
		L16BigEndian:         cfg.AudioHook.L16BigEndian,
		StatusPath:           cfg.AudioHook.StatusPath,
		DryRun:               *dryRun,
	}, nil)

	slog.Info("audiohook listener starting", "listen_addr", cfg.AudioHook.ListenAddr, "path", cfg.AudioHook.Path, "dry_run", *dryRun)

	if err := listener.Run(ctx); err != nil {
		slog.Error("listener run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func loadConfig(seedPath string) (*config.Config, error) {
	if seedPath == "" {
		return config.LoadFromEnv(os.Getenv)
	}
	seed, err := config.LoadSeed(seedPath)
	if err != nil {
		return nil, fmt.Errorf("load seed %q: %w", seedPath, err)
	}
	return config.LoadFromEnvWithSeed(os.Getenv, seed)
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
