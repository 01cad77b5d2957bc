package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
	"github.com/MrWong99/realtime-telemetry/internal/resilience"
)

// Forwarder POSTs normalized events to the realtime ingest API, retrying
// transient failures with jittered exponential backoff behind a circuit
// breaker, per §4.8 step 4.
type Forwarder struct {
	httpClient  *http.Client
	targetURL   string
	ingestToken string
	breaker     *resilience.CircuitBreaker

	maxAttempts int
	baseBackoff time.Duration
}

// NewForwarder returns a [Forwarder] posting to targetURL.
func NewForwarder(httpClient *http.Client, targetURL, ingestToken string, maxAttempts int, baseBackoff time.Duration) *Forwarder {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	return &Forwarder{
		httpClient:  httpClient,
		targetURL:   targetURL,
		ingestToken: ingestToken,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "genesys-connector-forward",
		}),
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

// Forward delivers payload, retrying on [apierr.ErrUpstream] up to
// maxAttempts times with backoff doubling each attempt and jittered ±20%.
// After the attempts are exhausted it returns the last error; the caller
// logs and continues rather than dropping the websocket connection.
func (f *Forwarder) Forward(ctx context.Context, payload eventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genesys connector: encode forward payload: %w", err)
	}

	backoff := f.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		err := f.breaker.Execute(func() error {
			return f.post(ctx, data)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Is(err, apierr.ErrUpstream) && !errors.Is(err, resilience.ErrCircuitOpen) {
			return err
		}
		if attempt == f.maxAttempts {
			break
		}

		wait := jitter(backoff)
		slog.Warn("genesys connector: forward attempt failed, retrying",
			"attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return fmt.Errorf("genesys connector: forward exhausted %d attempts: %w", f.maxAttempts, lastErr)
}

func (f *Forwarder) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.targetURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build forward request: %w", errors.Join(apierr.ErrConfig, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if f.ingestToken != "" {
		req.Header.Set("X-Cloud-Token", f.ingestToken)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forward request: %w", errors.Join(apierr.ErrUpstream, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("forward status %d: %w", resp.StatusCode, apierr.ErrUpstream)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("forward status %d: %w", resp.StatusCode, apierr.ErrProtocol)
	}
	return nil
}

// jitter returns d adjusted by a uniformly random ±20%.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}
