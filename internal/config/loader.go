package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Load builds a [Config] from the process environment. It is a convenience
// wrapper around [LoadFromEnv] using [os.Getenv].
func Load() (*Config, error) {
	return LoadFromEnv(os.Getenv)
}

// LoadFromEnv builds a [Config] using getenv to resolve each variable,
// applying defaults for anything unset, then validates the result. Tests
// inject a map-backed getenv instead of touching the real environment,
// exactly as the teacher's LoadFromReader let its tests construct configs
// from string literals.
func LoadFromEnv(getenv func(string) string) (*Config, error) {
	return LoadFromEnvWithSeed(getenv, nil)
}

// LoadFromEnvWithSeed is [LoadFromEnv] plus an optional YAML [Seed]: for the
// Genesys static fields, an explicitly set env var always wins, an unset one
// falls back to the seed's value, and only when both are empty does the
// hardcoded default apply. The three worker CLIs use this when a --config
// flag is given; [LoadFromEnv] alone is the seedless path used elsewhere and
// by tests.
func LoadFromEnvWithSeed(getenv func(string) string, seed *Seed) (*Config, error) {
	if seed == nil {
		seed = &Seed{}
	}
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: orDefault(getenv("REALTIME_LISTEN_ADDR"), ":8080"),
			LogLevel:   LogLevel(orDefault(getenv("REALTIME_LOG_LEVEL"), string(LogInfo))),
		},
		Alert: AlertConfig{
			NegativeSentimentThreshold: orDefaultFloat(getenv("REALTIME_NEGATIVE_SENTIMENT_THRESHOLD"), -0.45),
			HighRiskThreshold:          orDefaultFloat(getenv("REALTIME_HIGH_RISK_THRESHOLD"), 0.72),
			CooldownSeconds:            orDefaultInt(getenv("REALTIME_ALERT_COOLDOWN_SECONDS"), 75),
			SupervisorKeywordTriggers:  splitCSV(getenv("REALTIME_SUPERVISOR_KEYWORD_TRIGGERS")),
		},
		Audio: AudioConfig{
			WindowSeconds: orDefaultInt(getenv("REALTIME_AUDIO_WINDOW_SECONDS"), 300),
			MaxChunkBytes: orDefaultInt(getenv("REALTIME_AUDIO_MAX_CHUNK_BYTES"), 2_000_000),
		},
		Ingest: IngestConfig{
			Token: getenv("REALTIME_INGEST_TOKEN"),
		},
		Postgres: PostgresConfig{
			DSN: getenv("REALTIME_POSTGRES_DSN"),
		},
		Genesys: GenesysConfig{
			LoginBaseURL: orDefault(getenv("GENESYS_LOGIN_BASE_URL"), seed.Genesys.LoginBaseURL),
			APIBaseURL:   orDefault(getenv("GENESYS_API_BASE_URL"), seed.Genesys.APIBaseURL),
			ClientID:     orDefault(getenv("GENESYS_CLIENT_ID"), seed.Genesys.ClientID),
			ClientSecret: getenv("GENESYS_CLIENT_SECRET"),

			SubscriptionTopics: orDefaultCSV(getenv("GENESYS_SUBSCRIPTION_TOPICS"), seed.Genesys.SubscriptionTopics),

			TopicBuilder: TopicBuilderConfig{
				Enabled:           orDefaultBool(getenv("GENESYS_TOPIC_BUILDER_ENABLED"), seed.Genesys.TopicBuilder.Enabled),
				RefreshSeconds:    orDefaultInt(getenv("GENESYS_TOPIC_BUILDER_REFRESH_SECONDS"), orInt(seed.Genesys.TopicBuilder.RefreshSeconds, 900)),
				QueueNameContains: orDefault(getenv("GENESYS_TOPIC_BUILDER_QUEUE_NAME_CONTAINS"), seed.Genesys.TopicBuilder.QueueNameContains),
				QueueLimit:        orDefaultInt(getenv("GENESYS_TOPIC_BUILDER_QUEUE_LIMIT"), seed.Genesys.TopicBuilder.QueueLimit),
				UserNameContains:  orDefault(getenv("GENESYS_TOPIC_BUILDER_USER_NAME_CONTAINS"), seed.Genesys.TopicBuilder.UserNameContains),
				UserLimit:         orDefaultInt(getenv("GENESYS_TOPIC_BUILDER_USER_LIMIT"), seed.Genesys.TopicBuilder.UserLimit),
			},

			TargetIngestURL: getenv("GENESYS_TARGET_INGEST_URL"),

			RetryMaxAttempts:    orDefaultInt(getenv("GENESYS_RETRY_MAX_ATTEMPTS"), orInt(seed.Genesys.RetryMaxAttempts, 5)),
			RetryBackoffSeconds: orDefaultFloat(getenv("GENESYS_RETRY_BACKOFF_SECONDS"), orFloat(seed.Genesys.RetryBackoffSeconds, 1)),

			StatusPath:         orDefault(getenv("GENESYS_STATUS_PATH"), "/var/run/realtime-telemetry/genesys-connector.json"),
			HealthStaleSeconds: orDefaultInt(getenv("GENESYS_HEALTH_STALE_SECONDS"), 60),
		},
		AudioHook: AudioHookConfig{
			ListenAddr: orDefault(getenv("GENESYS_AUDIOHOOK_LISTEN_ADDR"), ":9090"),
			Path:       orDefault(getenv("GENESYS_AUDIOHOOK_PATH"), "/audiohook"),

			TargetAudioIngestURL: getenv("GENESYS_AUDIOHOOK_TARGET_AUDIO_INGEST_URL"),
			TargetEventsURL:      getenv("GENESYS_AUDIOHOOK_TARGET_EVENTS_URL"),

			MinChunkDurationMS: orDefaultInt(getenv("GENESYS_AUDIOHOOK_MIN_CHUNK_DURATION_MS"), 300),
			FlushIntervalMS:    orDefaultInt(getenv("GENESYS_AUDIOHOOK_FLUSH_INTERVAL_MS"), 750),
			MaxChunkDurationMS: orDefaultInt(getenv("GENESYS_AUDIOHOOK_MAX_CHUNK_DURATION_MS"), 2000),

			RetryMaxAttempts:    orDefaultInt(getenv("GENESYS_AUDIOHOOK_RETRY_MAX_ATTEMPTS"), 5),
			RetryBackoffSeconds: orDefaultFloat(getenv("GENESYS_AUDIOHOOK_RETRY_BACKOFF_SECONDS"), 1),

			L16BigEndian: orDefaultBool(getenv("GENESYS_AUDIOHOOK_L16_BIG_ENDIAN"), false),

			StatusPath:         orDefault(getenv("GENESYS_AUDIOHOOK_STATUS_PATH"), "/var/run/realtime-telemetry/audiohook-listener.json"),
			HealthStaleSeconds: orDefaultInt(getenv("GENESYS_AUDIOHOOK_HEALTH_STALE_SECONDS"), 60),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found, following the
// teacher's errors.Join pattern. It logs nothing; every failed check is
// reported as an error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("REALTIME_LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Alert.CooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("REALTIME_ALERT_COOLDOWN_SECONDS must be >= 0, got %d", cfg.Alert.CooldownSeconds))
	}
	if cfg.Audio.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("REALTIME_AUDIO_WINDOW_SECONDS must be > 0, got %d", cfg.Audio.WindowSeconds))
	}
	if cfg.Audio.MaxChunkBytes <= 0 {
		errs = append(errs, fmt.Errorf("REALTIME_AUDIO_MAX_CHUNK_BYTES must be > 0, got %d", cfg.Audio.MaxChunkBytes))
	}

	if cfg.Genesys.RetryMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("GENESYS_RETRY_MAX_ATTEMPTS must be > 0, got %d", cfg.Genesys.RetryMaxAttempts))
	}
	if cfg.AudioHook.RetryMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("GENESYS_AUDIOHOOK_RETRY_MAX_ATTEMPTS must be > 0, got %d", cfg.AudioHook.RetryMaxAttempts))
	}
	if cfg.AudioHook.MinChunkDurationMS <= 0 || cfg.AudioHook.MaxChunkDurationMS < cfg.AudioHook.MinChunkDurationMS {
		errs = append(errs, fmt.Errorf("GENESYS_AUDIOHOOK_MIN_CHUNK_DURATION_MS/MAX_CHUNK_DURATION_MS are incoherent (min=%d max=%d)",
			cfg.AudioHook.MinChunkDurationMS, cfg.AudioHook.MaxChunkDurationMS))
	}

	return errors.Join(errs...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func orDefaultFloat(v string, def float64) float64 {
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func orDefaultBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultCSV(v string, def []string) []string {
	if v == "" {
		return def
	}
	return splitCSV(v)
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
