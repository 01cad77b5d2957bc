// Package connector implements the Genesys notification connector (C8): a
// long-running worker that authenticates against the Genesys login API,
// provisions a notification channel, subscribes to conversation topics, and
// streams normalized events to the realtime ingest API.
//
// State machine (persisted subset in parentheses, matching the worker
// status vocabulary other components share):
//
//	starting(starting) -> connecting(connecting) -> authenticated -> channel_created -> subscribed(subscribed) -> running(running)
//	  any step fails -> degraded(degraded) -> backoff -> connecting
//	running -> ws close/error -> degraded -> connecting
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
	"github.com/MrWong99/realtime-telemetry/internal/workerstatus"
)

// Config holds everything the connector needs to run, sourced from the
// GENESYS_* environment variables.
type Config struct {
	LoginBaseURL     string
	APIBaseURL       string
	ClientID         string
	ClientSecret     string
	Topics           []string
	TargetIngestURL  string
	IngestToken      string
	RetryMaxAttempts int
	RetryBackoff     time.Duration
	HTTPTimeout      time.Duration
	StatusPath       string
	DryRun           bool
}

// TopicBuilder discovers canonical topic strings at runtime (queues, users)
// to union with Config.Topics. See package genesys/topics.
type TopicBuilder interface {
	BuildTopics(ctx context.Context) ([]string, error)
}

type dialFunc func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

// Connector runs the C8 worker loop.
type Connector struct {
	cfg          Config
	tokens       *TokenSource
	channels     *ChannelClient
	forwarder    *Forwarder
	status       *workerstatus.Writer
	topicBuilder TopicBuilder
	dial         dialFunc

	forwardedEvents atomic.Int64
	droppedEvents   atomic.Int64
	reconnects      atomic.Int64

	topics []string
}

// New builds a [Connector] from cfg. Pass a nil httpClient to get a
// default client timed out at cfg.HTTPTimeout.
func New(cfg Config, httpClient *http.Client) *Connector {
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	tokens := NewTokenSource(httpClient, cfg.LoginBaseURL, cfg.ClientID, cfg.ClientSecret)
	return &Connector{
		cfg:       cfg,
		tokens:    tokens,
		channels:  NewChannelClient(httpClient, cfg.APIBaseURL, tokens),
		forwarder: NewForwarder(httpClient, cfg.TargetIngestURL, cfg.IngestToken, cfg.RetryMaxAttempts, cfg.RetryBackoff),
		status:    workerstatus.NewWriter(cfg.StatusPath),
		dial:      websocket.Dial,
	}
}

// SetTopicBuilder installs an optional runtime topic discovery source.
func (c *Connector) SetTopicBuilder(tb TopicBuilder) {
	c.topicBuilder = tb
}

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Run drives the connector until ctx is cancelled, at which point it writes
// a final "stopped" status and returns nil.
func (c *Connector) Run(ctx context.Context) error {
	c.writeStatus(model.WorkerStarting, "")
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			c.writeStatus(model.WorkerStopped, "")
			return nil
		}

		c.writeStatus(model.WorkerConnecting, "")
		if err := c.connectOnce(ctx); err != nil {
			if ctx.Err() != nil {
				c.writeStatus(model.WorkerStopped, "")
				return nil
			}
			c.writeStatus(model.WorkerDegraded, err.Error())
			slog.Warn("genesys connector: cycle failed, backing off", "error", err, "backoff", backoff)
			if !sleepCtx(ctx, jitter(backoff)) {
				c.writeStatus(model.WorkerStopped, "")
				return nil
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff
	}
}

// connectOnce performs one full auth -> channel -> subscribe -> consume
// cycle. Any failure returns an error describing the stage that failed.
func (c *Connector) connectOnce(ctx context.Context) error {
	topics, err := c.resolveTopics(ctx)
	if err != nil {
		return fmt.Errorf("resolve topics: %w", err)
	}
	c.topics = topics

	if _, err := c.tokens.Token(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	channelID, connectURI, err := c.channels.CreateChannel(ctx)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	if err := c.channels.Subscribe(ctx, channelID, topics); err != nil {
		return fmt.Errorf("subscribe topics: %w", err)
	}
	c.writeStatus(model.WorkerSubscribed, "")

	err = c.consume(ctx, connectURI)
	c.reconnects.Add(1)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return nil
}

func (c *Connector) resolveTopics(ctx context.Context) ([]string, error) {
	topics := append([]string(nil), c.cfg.Topics...)
	if c.topicBuilder == nil {
		return topics, nil
	}
	built, err := c.topicBuilder.BuildTopics(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		seen[t] = struct{}{}
	}
	for _, t := range built {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}
	return topics, nil
}

// consume opens the notification channel's websocket and processes frames
// until the connection closes, errors, or ctx is cancelled.
func (c *Connector) consume(ctx context.Context, connectURI string) error {
	conn, _, err := c.dial(ctx, connectURI, nil)
	if err != nil {
		return fmt.Errorf("dial channel websocket: %w", errors.Join(apierr.ErrUpstream, err))
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	c.writeStatus(model.WorkerRunning, "")

	type frame struct {
		data []byte
		err  error
	}
	frames := make(chan frame, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			frames <- frame{data: data, err: err}
			if err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			if f.err != nil {
				return f.err
			}
			c.handleFrame(ctx, f.data)
		case <-heartbeat.C:
			c.writeStatus(model.WorkerRunning, "")
		}
	}
}

func (c *Connector) handleFrame(ctx context.Context, data []byte) {
	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		c.droppedEvents.Add(1)
		slog.Warn("genesys connector: malformed frame dropped", "error", err)
		return
	}
	if n.isHeartbeat() {
		return
	}

	payload, ok := normalize(n, time.Now())
	if !ok {
		c.droppedEvents.Add(1)
		slog.Warn("genesys connector: event without conversation id dropped", "topic", n.TopicName)
		return
	}

	if c.cfg.DryRun {
		slog.Info("genesys connector: dry-run, observed event", "call_id", payload.CallID, "event_type", payload.EventType)
		return
	}

	if err := c.forwarder.Forward(ctx, payload); err != nil {
		c.droppedEvents.Add(1)
		slog.Error("genesys connector: forward exhausted retries", "call_id", payload.CallID, "error", err)
		return
	}
	c.forwardedEvents.Add(1)
}

func (c *Connector) writeStatus(state model.WorkerState, lastErr string) {
	status := model.WorkerStatus{
		State:     state,
		UpdatedAt: time.Now().UTC(),
		LastError: lastErr,
		Counters: map[string]int64{
			"forwarded_events": c.forwardedEvents.Load(),
			"dropped_events":   c.droppedEvents.Load(),
			"reconnects":       c.reconnects.Load(),
		},
		TopicsCount: len(c.topics),
	}
	if err := c.status.Write(status); err != nil {
		slog.Error("genesys connector: write status file", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
