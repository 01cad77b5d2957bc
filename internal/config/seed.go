package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed holds the static, non-secret Genesys defaults the three worker CLIs
// accept via --config, per SPEC_FULL.md's DOMAIN STACK note on keeping the
// teacher's YAML-config idiom alive alongside an env-var-first schema.
// Every field here is also settable by an env var, which always wins —
// Seed only supplies a default when the corresponding env var is unset.
type Seed struct {
	Genesys struct {
		ClientID     string `yaml:"client_id"`
		LoginBaseURL string `yaml:"login_base_url"`
		APIBaseURL   string `yaml:"api_base_url"`

		SubscriptionTopics []string `yaml:"subscription_topics"`

		TopicBuilder struct {
			Enabled           bool   `yaml:"enabled"`
			RefreshSeconds    int    `yaml:"refresh_seconds"`
			QueueNameContains string `yaml:"queue_name_contains"`
			QueueLimit        int    `yaml:"queue_limit"`
			UserNameContains  string `yaml:"user_name_contains"`
			UserLimit         int    `yaml:"user_limit"`
		} `yaml:"topic_builder"`

		RetryMaxAttempts    int     `yaml:"retry_max_attempts"`
		RetryBackoffSeconds float64 `yaml:"retry_backoff_seconds"`
	} `yaml:"genesys"`
}

// LoadSeed reads and decodes a YAML seed file at path.
func LoadSeed(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open seed %q: %w", path, err)
	}
	defer f.Close()
	return LoadSeedFromReader(f)
}

// LoadSeedFromReader decodes a YAML seed from r.
func LoadSeedFromReader(r io.Reader) (*Seed, error) {
	s := &Seed{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("config: decode seed yaml: %w", err)
	}
	return s, nil
}

