// Command genesysconnector runs the Genesys notification connector worker:
// it authenticates against the Genesys login API, provisions a notification
// channel, subscribes to conversation topics, and streams normalized events
// to the realtime ingest API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/config"
	"github.com/MrWong99/realtime-telemetry/internal/genesys/connector"
	"github.com/MrWong99/realtime-telemetry/internal/genesys/topics"
	"github.com/MrWong99/realtime-telemetry/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	seedPath := flag.String("config", "", "optional path to a YAML seed file with non-secret Genesys defaults")
	dryRun := flag.Bool("dry-run", false, "authenticate and subscribe but do not forward events to the ingest API")
	logLevel := flag.String("log-level", "", "override REALTIME_LOG_LEVEL for this process")
	flag.Parse()

	cfg, err := loadConfig(*seedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genesysconnector: %v\n", err)
		return 1
	}

	level := cfg.Server.LogLevel
	if *logLevel != "" {
		level = config.LogLevel(*logLevel)
	}
	logger := newLogger(level)
	slog.SetDefault(logger)

	shutdownProvider, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "realtime-telemetry-genesys-connector",
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

	httpClient := &http.Client{Timeout: 15 * time.Second}

	conn := connector.New(connector.Config{
		LoginBaseURL:     cfg.Genesys.LoginBaseURL,
		APIBaseURL:       cfg.Genesys.APIBaseURL,
		ClientID:         cfg.Genesys.ClientID,
		ClientSecret:     cfg.Genesys.ClientSecret,
		Topics:           cfg.Genesys.SubscriptionTopics,
		TargetIngestURL:  cfg.Genesys.TargetIngestURL,
		IngestToken:      cfg.Ingest.Token,
		RetryMaxAttempts: cfg.Genesys.RetryMaxAttempts,
		RetryBackoff:     time.Duration(cfg.Genesys.RetryBackoffSeconds * float64(time.Second)),
		StatusPath:       cfg.Genesys.StatusPath,
		DryRun:           *dryRun,
	}, httpClient)

	if cfg.Genesys.TopicBuilder.Enabled {
		tb := topics.NewBuilder(httpClient, cfg.Genesys.APIBaseURL, connector.NewTokenSource(httpClient, cfg.Genesys.LoginBaseURL, cfg.Genesys.ClientID, cfg.Genesys.ClientSecret),
			topics.Filter{NameContains: cfg.Genesys.TopicBuilder.QueueNameContains, Limit: cfg.Genesys.TopicBuilder.QueueLimit},
			topics.Filter{NameContains: cfg.Genesys.TopicBuilder.UserNameContains, Limit: cfg.Genesys.TopicBuilder.UserLimit},
		)
		conn.SetTopicBuilder(tb)
		slog.Info("topic builder enabled", "queue_filter", cfg.Genesys.TopicBuilder.QueueNameContains, "user_filter", cfg.Genesys.TopicBuilder.UserNameContains)
	}

	slog.Info("genesys connector starting", "dry_run", *dryRun, "topics", strings.Join(cfg.Genesys.SubscriptionTopics, ","))

	if err := conn.Run(ctx); err != nil {
		slog.Error("connector run error", "err", err)
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
