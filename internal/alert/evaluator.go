// Package alert implements the supervisor-alert rule engine (C4): a pure
// function of (current call state, new event, configuration, recent alert
// history) that returns the updated call state plus any newly fired
// alerts. Keeping it pure — no store or clock access inside — is what
// makes the evaluator deterministic and lets the test suite replay fixed
// event sequences and assert exact outputs.
package alert

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
)

// Rule type tags, used as SupervisorAlert.Type and as cooldown keys.
const (
	RuleNegativeSentiment = "negative_sentiment"
	RuleEscalationKeyword = "escalation_keyword"
	RuleDeadAir           = "dead_air"
	RuleHighRisk          = "high_risk"
)

// Config holds the tunable thresholds and keyword list read from
// REALTIME_* environment variables (see internal/config).
type Config struct {
	NegativeSentimentThreshold float64       // default -0.45
	HighRiskThreshold          float64       // default 0.72
	CooldownSeconds            float64       // default 75
	KeywordTriggers            []string      // e.g. "supervisor", "cancel my account"
}

// DefaultConfig returns the thresholds spec.md §6 lists as defaults.
func DefaultConfig() Config {
	return Config{
		NegativeSentimentThreshold: -0.45,
		HighRiskThreshold:          0.72,
		CooldownSeconds:            75,
		KeywordTriggers:            []string{"supervisor", "manager", "cancel my account", "lawsuit", "escalate"},
	}
}

// wordBoundaryPattern builds a case-insensitive, word-boundary regexp for a
// single trigger term (which may itself contain spaces, e.g. "cancel my
// account").
func wordBoundaryPattern(term string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(strings.TrimSpace(term))
	// \b does not reliably bound on non-word punctuation at string edges in
	// all cases but is sufficient for natural-language transcript matching.
	return regexp.MustCompile(`(?i)\b` + escaped + `\b`)
}

// Evaluate applies the risk/sentiment aggregation and all four rules to one
// ingested event, returning the call's updated risk/sentiment fields and
// any alerts that fired. lastAlertAt maps rule type -> the CreatedAt of the
// most recent alert of that type for this call (zero value / missing entry
// means no prior alert), used for the cooldown check.
func Evaluate(call model.RealtimeCall, ev model.RealtimeEvent, cfg Config, lastAlertAt map[string]float64, nowUnix float64) (model.RealtimeCall, []model.SupervisorAlert) {
	updated := call

	signal := eventSignal(ev, cfg)
	updated.RiskScore = clamp(0.6*call.RiskScore+0.4*signal, 0, 1)

	if ev.Sentiment != nil {
		updated.SentimentScore = clamp(0.7*call.SentimentScore+0.3*(*ev.Sentiment), -1, 1)
	}

	var alerts []model.SupervisorAlert

	fire := func(ruleType string, severity model.Severity, message string, meta map[string]any) {
		if onCooldown(lastAlertAt, ruleType, cfg.CooldownSeconds, nowUnix) {
			return
		}
		alerts = append(alerts, model.SupervisorAlert{
			CallID:   ev.CallID,
			Type:     ruleType,
			Severity: severity,
			Message:  message,
			Metadata: meta,
		})
		// Record the firing time in the caller's map so a later Evaluate
		// call sharing the same map sees this rule type on cooldown. Within
		// a single Evaluate call each rule may only fire once by
		// construction (one fire() call per rule below).
		lastAlertAt[ruleType] = nowUnix
	}

	// Rule 1: negative_sentiment
	if ev.Sentiment != nil && *ev.Sentiment <= cfg.NegativeSentimentThreshold {
		fire(RuleNegativeSentiment, model.SeverityHigh,
			fmt.Sprintf("sentiment %.2f at or below threshold %.2f", *ev.Sentiment, cfg.NegativeSentimentThreshold),
			nil)
	}

	// Rule 2: escalation_keyword
	if ev.Text != "" {
		if term, ok := matchKeyword(ev.Text, cfg.KeywordTriggers); ok {
			fire(RuleEscalationKeyword, model.SeverityCritical,
				fmt.Sprintf("escalation keyword detected: %q", term),
				map[string]any{"matched_term": term})
		}
	}

	// Rule 3: dead_air
	if deadAir, ok := deadAirSeconds(ev); ok && deadAir >= 5 {
		fire(RuleDeadAir, model.SeverityMedium,
			fmt.Sprintf("dead air of %.1fs detected", deadAir),
			map[string]any{"dead_air_seconds": deadAir})
	}

	// Rule 4: high_risk, evaluated against the post-update risk score.
	if updated.RiskScore >= cfg.HighRiskThreshold {
		fire(RuleHighRisk, model.SeverityHigh,
			fmt.Sprintf("risk score %.2f at or above threshold %.2f", updated.RiskScore, cfg.HighRiskThreshold),
			nil)
	}

	return updated, alerts
}

// onCooldown reports whether ruleType fired within cooldownSeconds of now
// for this call, per lastAlertAt.
func onCooldown(lastAlertAt map[string]float64, ruleType string, cooldownSeconds, nowUnix float64) bool {
	last, ok := lastAlertAt[ruleType]
	if !ok {
		return false
	}
	return nowUnix-last < cooldownSeconds
}

// eventSignal derives the 0..1 risk contribution of a single event, per
// spec.md §4.4: max of normalized negative sentiment, escalation keyword
// presence, dead-air ratio, and any explicit metadata.metrics.risk.
func eventSignal(ev model.RealtimeEvent, cfg Config) float64 {
	var signal float64

	if ev.Sentiment != nil && *ev.Sentiment < 0 {
		signal = math.Max(signal, -*ev.Sentiment)
	}

	if ev.Text != "" {
		if _, ok := matchKeyword(ev.Text, cfg.KeywordTriggers); ok {
			signal = math.Max(signal, 0.9)
		}
	}

	if deadAir, ok := deadAirSeconds(ev); ok {
		signal = math.Max(signal, math.Min(1, deadAir/10))
	}

	if explicit, ok := metricFloat(ev.Metadata, "risk"); ok {
		signal = math.Max(signal, explicit)
	}

	return clamp(signal, 0, 1)
}

// matchKeyword reports whether text contains any term in triggers as a
// whole-word, case-insensitive match, returning the first matching term.
func matchKeyword(text string, triggers []string) (string, bool) {
	for _, term := range triggers {
		if term == "" {
			continue
		}
		if wordBoundaryPattern(term).MatchString(text) {
			return term, true
		}
	}
	return "", false
}

// deadAirSeconds reads metadata.metrics.dead_air_seconds, if present.
func deadAirSeconds(ev model.RealtimeEvent) (float64, bool) {
	return metricFloat(ev.Metadata, "dead_air_seconds")
}

// metricFloat reads metadata.metrics.<key> as a float64, tolerating the
// numeric types encoding/json produces (float64) as well as int/int64 for
// callers that construct events programmatically.
func metricFloat(metadata map[string]any, key string) (float64, bool) {
	if metadata == nil {
		return 0, false
	}
	metricsRaw, ok := metadata["metrics"]
	if !ok {
		return 0, false
	}
	metrics, ok := metricsRaw.(map[string]any)
	if !ok {
		return 0, false
	}
	v, ok := metrics[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
