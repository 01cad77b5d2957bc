// Package sse implements the live fan-out SSE streamer (C7): one HTTP
// handler that keeps a connection open per call_id, relaying envelopes
// from the event bus as `data: <json>\n\n` frames with periodic keepalive
// comments to defeat proxy buffering.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/realtime-telemetry/internal/eventbus"
)

// keepaliveInterval is how often an SSE comment is sent during silence,
// chosen from the middle of §4.7's 15-20s window.
const keepaliveInterval = 17 * time.Second

// releaseGrace is the 2-second bound on how long a subscription may outlive
// a client disconnect (§5). No timer reads it: run returns as soon as the
// request context is cancelled, and handleStream's deferred Close then
// releases the subscription.
const releaseGrace = 2 * time.Second

// Handler serves GET /api/realtime/stream?call_id=….
type Handler struct {
	bus *eventbus.Bus
}

// New returns a [Handler] backed by bus.
func New(bus *eventbus.Bus) *Handler {
	return &Handler{bus: bus}
}

// Register adds the stream route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/realtime/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	if callID == "" {
		http.Error(w, `{"detail":"call_id is required"}`, http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"detail":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.bus.Subscribe(callID)
	defer sub.Close()

	h.run(r.Context(), w, flusher, sub)
}

// run is the event loop, split out from handleStream so it can be unit
// tested against a plain io.Writer-backed ResponseWriter without a real
// HTTP round trip.
func (h *Handler) run(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub *eventbus.Subscription) {
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-sub.C:
			if !open {
				return
			}
			if err := writeEnvelope(w, env); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEnvelope(w http.ResponseWriter, env eventbus.Envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
