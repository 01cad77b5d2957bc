// Package audiohook implements the AudioHook media listener (C9): a
// websocket server terminating the dual-channel AudioHook protocol,
// decoding inbound codec frames, buffering per-speaker PCM, and forwarding
// flushed chunks and passthrough events to the realtime ingest API.
package audiohook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
	"github.com/MrWong99/realtime-telemetry/internal/workerstatus"
)

// Config carries the GENESYS_AUDIOHOOK_* settings the listener needs.
type Config struct {
	ListenAddr           string
	Path                 string
	TargetAudioIngestURL string
	TargetEventsURL      string
	IngestToken          string
	MinChunkDurationMS   int
	FlushIntervalMS      int
	MaxChunkDurationMS   int
	RetryMaxAttempts     int
	RetryBackoff         time.Duration
	ReadTimeout          time.Duration
	HTTPTimeout          time.Duration
	L16BigEndian         bool
	StatusPath           string
	DryRun               bool
}

// Listener accepts AudioHook websocket connections and runs one [session]
// per connection.
type Listener struct {
	cfg        Config
	upgrader   websocket.Upgrader
	sessionCfg sessionConfig
	status     *workerstatus.Writer

	activeConns     atomic.Int64
	nextConnID      atomic.Int64
}

// New builds a [Listener] from cfg. Pass a nil httpClient to get a default
// client timed out at cfg.HTTPTimeout.
func New(cfg Config, httpClient *http.Client) *Listener {
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	policy := flushPolicy{
		minChunkMS:    orDefault(cfg.MinChunkDurationMS, 300),
		flushInterval: orDefaultDuration(time.Duration(cfg.FlushIntervalMS)*time.Millisecond, 750*time.Millisecond),
		maxChunkMS:    orDefault(cfg.MaxChunkDurationMS, 2000),
	}

	return &Listener{
		cfg:      cfg,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		sessionCfg: sessionConfig{
			policy:       policy,
			audio:        newForwarder(httpClient, "audiohook-audio-forward", cfg.TargetAudioIngestURL, cfg.IngestToken, cfg.RetryMaxAttempts, cfg.RetryBackoff),
			events:       newForwarder(httpClient, "audiohook-event-forward", cfg.TargetEventsURL, cfg.IngestToken, cfg.RetryMaxAttempts, cfg.RetryBackoff),
			l16BigEndian: cfg.L16BigEndian,
			dryRun:       cfg.DryRun,
			readTimeout:  cfg.ReadTimeout,
		},
		status: workerstatus.NewWriter(cfg.StatusPath),
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Register adds the AudioHook websocket upgrade route to mux, at cfg.Path
// (default "/audiohook").
func (l *Listener) Register(mux *http.ServeMux) {
	path := l.cfg.Path
	if path == "" {
		path = "/audiohook"
	}
	mux.HandleFunc(path, l.handleUpgrade)
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("audiohook: upgrade failed", "error", err)
		return
	}

	connID := l.nextConnID.Add(1)
	l.activeConns.Add(1)
	defer l.activeConns.Add(-1)

	sess := newSession(conn, connIDString(connID), l.sessionCfg)
	sess.run(r.Context())
}

func connIDString(n int64) string {
	return "ah-" + itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Run serves the AudioHook listener on cfg.ListenAddr until ctx is
// cancelled, writing heartbeat status on every transition and at least
// every 30s, per §4.10. It shuts down within 5s of cancellation.
func (l *Listener) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	l.Register(mux)
	srv := &http.Server{Addr: l.cfg.ListenAddr, Handler: mux}

	l.writeStatus(model.WorkerStarting, "")

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	l.writeStatus(model.WorkerRunning, "")
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			l.writeStatus(model.WorkerStopped, "")
			return nil
		case err := <-serveErr:
			if err != nil {
				l.writeStatus(model.WorkerError, err.Error())
			}
			return err
		case <-heartbeat.C:
			l.writeStatus(model.WorkerRunning, "")
		}
	}
}

func (l *Listener) writeStatus(state model.WorkerState, lastErr string) {
	status := model.WorkerStatus{
		State:     state,
		UpdatedAt: time.Now().UTC(),
		LastError: lastErr,
		Counters: map[string]int64{
			"active_connections": l.activeConns.Load(),
		},
	}
	if err := l.status.Write(status); err != nil {
		slog.Error("audiohook: write status file", "error", err)
	}
}
