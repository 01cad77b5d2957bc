package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/realtime-telemetry/internal/config"
)

func getenvMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := config.LoadFromEnv(getenvMap(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Alert.NegativeSentimentThreshold != -0.45 {
		t.Errorf("negative sentiment threshold: got %v", cfg.Alert.NegativeSentimentThreshold)
	}
	if cfg.Alert.HighRiskThreshold != 0.72 {
		t.Errorf("high risk threshold: got %v", cfg.Alert.HighRiskThreshold)
	}
	if cfg.Alert.CooldownSeconds != 75 {
		t.Errorf("cooldown seconds: got %v", cfg.Alert.CooldownSeconds)
	}
	if cfg.Audio.WindowSeconds != 300 {
		t.Errorf("window seconds: got %v", cfg.Audio.WindowSeconds)
	}
	if cfg.Audio.MaxChunkBytes != 2_000_000 {
		t.Errorf("max chunk bytes: got %v", cfg.Audio.MaxChunkBytes)
	}
	if cfg.Genesys.RetryMaxAttempts != 5 {
		t.Errorf("genesys retry max attempts: got %v", cfg.Genesys.RetryMaxAttempts)
	}
	if cfg.AudioHook.MinChunkDurationMS != 300 || cfg.AudioHook.FlushIntervalMS != 750 || cfg.AudioHook.MaxChunkDurationMS != 2000 {
		t.Errorf("audiohook thresholds: got %+v", cfg.AudioHook)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	cfg, err := config.LoadFromEnv(getenvMap(map[string]string{
		"REALTIME_LOG_LEVEL":                    "debug",
		"REALTIME_ALERT_COOLDOWN_SECONDS":       "30",
		"REALTIME_SUPERVISOR_KEYWORD_TRIGGERS":  "supervisor, manager , escalate",
		"GENESYS_SUBSCRIPTION_TOPICS":           "v2.routing.queues.1.conversations,channel.metadata",
		"GENESYS_AUDIOHOOK_MIN_CHUNK_DURATION_MS": "100",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Alert.CooldownSeconds != 30 {
		t.Errorf("cooldown: got %v", cfg.Alert.CooldownSeconds)
	}
	wantKeywords := []string{"supervisor", "manager", "escalate"}
	if strings.Join(cfg.Alert.SupervisorKeywordTriggers, ",") != strings.Join(wantKeywords, ",") {
		t.Errorf("keywords: got %v want %v", cfg.Alert.SupervisorKeywordTriggers, wantKeywords)
	}
	if len(cfg.Genesys.SubscriptionTopics) != 2 {
		t.Errorf("topics: got %v", cfg.Genesys.SubscriptionTopics)
	}
	if cfg.AudioHook.MinChunkDurationMS != 100 {
		t.Errorf("min chunk duration: got %v", cfg.AudioHook.MinChunkDurationMS)
	}
}

func TestLoadFromEnv_InvalidLogLevel(t *testing.T) {
	_, err := config.LoadFromEnv(getenvMap(map[string]string{"REALTIME_LOG_LEVEL": "verbose"}))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "LOG_LEVEL") {
		t.Errorf("error should mention LOG_LEVEL, got: %v", err)
	}
}

func TestLoadFromEnv_IncoherentAudioHookDurations(t *testing.T) {
	_, err := config.LoadFromEnv(getenvMap(map[string]string{
		"GENESYS_AUDIOHOOK_MIN_CHUNK_DURATION_MS": "2000",
		"GENESYS_AUDIOHOOK_MAX_CHUNK_DURATION_MS": "300",
	}))
	if err == nil {
		t.Fatal("expected error for incoherent min/max chunk durations")
	}
}

func TestLoadFromEnvWithSeed_EnvTakesPrecedenceOverSeed(t *testing.T) {
	seed := &config.Seed{}
	seed.Genesys.ClientID = "seed-client"
	seed.Genesys.RetryMaxAttempts = 9

	cfg, err := config.LoadFromEnvWithSeed(getenvMap(map[string]string{
		"GENESYS_CLIENT_ID": "env-client",
	}), seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Genesys.ClientID != "env-client" {
		t.Errorf("expected env to win, got %q", cfg.Genesys.ClientID)
	}
	if cfg.Genesys.RetryMaxAttempts != 9 {
		t.Errorf("expected seed default to fill unset env var, got %v", cfg.Genesys.RetryMaxAttempts)
	}
}

func TestLoadFromEnvWithSeed_FallsBackToHardcodedDefault(t *testing.T) {
	cfg, err := config.LoadFromEnvWithSeed(getenvMap(nil), &config.Seed{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Genesys.RetryMaxAttempts != 5 {
		t.Errorf("expected hardcoded default, got %v", cfg.Genesys.RetryMaxAttempts)
	}
}
