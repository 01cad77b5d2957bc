package audiohook

import (
	"bytes"
	"context"
	"encoding/base64"
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

// audioChunkPayload mirrors internal/realtime/ingestapi's inbound audio
// chunk JSON shape.
type audioChunkPayload struct {
	CallID        string `json:"call_id"`
	AudioB64      string `json:"audio_b64"`
	AudioEncoding string `json:"audio_encoding"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	Speaker       string `json:"speaker"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// eventPayload mirrors internal/realtime/ingestapi's inbound event JSON
// shape, used for AudioHook "event" passthrough and the synthetic "end"
// emitted on close.
type eventPayload struct {
	Provider  string         `json:"provider"`
	CallID    string         `json:"call_id"`
	EventType string         `json:"event_type"`
	Speaker   string         `json:"speaker,omitempty"`
	Status    string         `json:"status,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// forwarder POSTs JSON bodies to a fixed target URL, retrying on upstream
// failures with jittered exponential backoff behind a circuit breaker.
// Retries identical to the Genesys connector's forwarder (§4.9: "Retries
// identical to C8").
type forwarder struct {
	httpClient  *http.Client
	targetURL   string
	ingestToken string
	breaker     *resilience.CircuitBreaker
	maxAttempts int
	baseBackoff time.Duration
}

func newForwarder(httpClient *http.Client, name, targetURL, ingestToken string, maxAttempts int, baseBackoff time.Duration) *forwarder {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	return &forwarder{
		httpClient:  httpClient,
		targetURL:   targetURL,
		ingestToken: ingestToken,
		breaker:     resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: name}),
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

func (f *forwarder) post(ctx context.Context, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("audiohook: encode forward payload: %w", err)
	}

	backoff := f.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		err := f.breaker.Execute(func() error {
			return f.send(ctx, data)
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
		slog.Warn("audiohook: forward attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return fmt.Errorf("audiohook: forward exhausted %d attempts: %w", f.maxAttempts, lastErr)
}

func (f *forwarder) send(ctx context.Context, data []byte) error {
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

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

func encodeAudioChunk(callID, speaker string, pcm []byte, sampleRate int) audioChunkPayload {
	return audioChunkPayload{
		CallID:        callID,
		AudioB64:      base64.StdEncoding.EncodeToString(pcm),
		AudioEncoding: "pcm_s16le",
		SampleRate:    sampleRate,
		Channels:      1,
		Speaker:       speaker,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}
