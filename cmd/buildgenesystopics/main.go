// Command buildgenesystopics is a one-shot CLI that discovers queues and
// users via the Genesys API and prints the canonical conversation topic
// strings the notification connector would subscribe to. Useful for
// previewing GENESYS_SUBSCRIPTION_TOPICS before wiring up the connector.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/config"
	"github.com/MrWong99/realtime-telemetry/internal/genesys/connector"
	"github.com/MrWong99/realtime-telemetry/internal/genesys/topics"
)

func main() {
	os.Exit(run())
}

func run() int {
	queueContains := flag.String("queue-contains", "", "only include queues whose name contains this substring (overrides GENESYS_TOPIC_BUILDER_QUEUE_NAME_CONTAINS)")
	queueLimit := flag.Int("queue-limit", 0, "maximum number of queues to discover, 0 for unlimited (overrides GENESYS_TOPIC_BUILDER_QUEUE_LIMIT)")
	userContains := flag.String("user-contains", "", "only include users whose name contains this substring (overrides GENESYS_TOPIC_BUILDER_USER_NAME_CONTAINS)")
	userLimit := flag.Int("user-limit", 0, "maximum number of users to discover, 0 for unlimited (overrides GENESYS_TOPIC_BUILDER_USER_LIMIT)")
	seedPath := flag.String("config", "", "optional path to a YAML seed file with non-secret Genesys defaults")
	flag.Parse()

	cfg, err := loadConfig(*seedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buildgenesystopics: %v\n", err)
		return 1
	}

	queueFilter := topics.Filter{NameContains: cfg.Genesys.TopicBuilder.QueueNameContains, Limit: cfg.Genesys.TopicBuilder.QueueLimit}
	if *queueContains != "" {
		queueFilter.NameContains = *queueContains
	}
	if *queueLimit > 0 {
		queueFilter.Limit = *queueLimit
	}
	userFilter := topics.Filter{NameContains: cfg.Genesys.TopicBuilder.UserNameContains, Limit: cfg.Genesys.TopicBuilder.UserLimit}
	if *userContains != "" {
		userFilter.NameContains = *userContains
	}
	if *userLimit > 0 {
		userFilter.Limit = *userLimit
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	tokens := connector.NewTokenSource(httpClient, cfg.Genesys.LoginBaseURL, cfg.Genesys.ClientID, cfg.Genesys.ClientSecret)
	builder := topics.NewBuilder(httpClient, cfg.Genesys.APIBaseURL, tokens, queueFilter, userFilter)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	discovered, err := builder.BuildTopics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buildgenesystopics: %v\n", err)
		return 1
	}

	all := mergeTopics(cfg.Genesys.SubscriptionTopics, discovered)
	fmt.Println(strings.Join(all, "\n"))
	return 0
}

// mergeTopics unions the statically configured topic list with the
// dynamically discovered ones, preserving order and dropping duplicates.
func mergeTopics(static, discovered []string) []string {
	seen := make(map[string]struct{}, len(static)+len(discovered))
	out := make([]string, 0, len(static)+len(discovered))
	for _, t := range static {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range discovered {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
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
