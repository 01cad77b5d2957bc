// Package ingestapi implements the HTTP ingest surface (C6): event and
// audio-chunk ingest, call snapshots, rolling-audio retrieval, and alert
// listing/ack. It is the glue that wires the realtime repository (C3), the
// alert evaluator (C4), the event bus (C5), and the rolling audio store
// (C2) behind one JSON API.
package ingestapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/realtime-telemetry/internal/alert"
	"github.com/MrWong99/realtime-telemetry/internal/audiostore"
	"github.com/MrWong99/realtime-telemetry/internal/codec"
	"github.com/MrWong99/realtime-telemetry/internal/eventbus"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/store"
)

// Options holds the tunables read from REALTIME_* environment variables
// that govern this handler's behavior.
type Options struct {
	IngestToken        string // REALTIME_INGEST_TOKEN; empty disables auth
	MaxAudioChunkBytes int    // REALTIME_AUDIO_MAX_CHUNK_BYTES
	AlertConfig        alert.Config
	FallbackUploadsDir string // directory searched by the audio fallback resolver
	L16BigEndian       bool   // RFC 3551 default true; see internal/codec
}

// ruleTypes is the fixed set of alert rule tags the cooldown lookup checks
// before every evaluation.
var ruleTypes = []string{
	alert.RuleNegativeSentiment,
	alert.RuleEscalationKeyword,
	alert.RuleDeadAir,
	alert.RuleHighRisk,
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Handler serves the realtime ingest API.
type Handler struct {
	store store.Store
	audio *audiostore.Store
	bus   *eventbus.Bus
	opts  Options
	now   Clock
}

// New constructs a [Handler]. now defaults to time.Now when nil.
func New(st store.Store, audio *audiostore.Store, bus *eventbus.Bus, opts Options, now Clock) *Handler {
	if now == nil {
		now = time.Now
	}
	if opts.MaxAudioChunkBytes <= 0 {
		opts.MaxAudioChunkBytes = 2_000_000
	}
	return &Handler{store: st, audio: audio, bus: bus, opts: opts, now: now}
}

// Register adds every ingest API route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/realtime/events", h.handleIngestEvent)
	mux.HandleFunc("POST /api/realtime/audio/chunk", h.handleIngestAudioChunk)
	mux.HandleFunc("GET /api/realtime/calls/{id}/snapshot", h.handleSnapshot)
	mux.HandleFunc("GET /api/realtime/calls/{id}/audio", h.handleAudio)
	mux.HandleFunc("GET /api/realtime/calls/{id}/audio/meta", h.handleAudioMeta)
	mux.HandleFunc("GET /api/realtime/alerts", h.handleListAlerts)
	mux.HandleFunc("POST /api/realtime/alerts/{alert_id}/ack", h.handleAckAlert)
}

func (h *Handler) checkToken(r *http.Request) bool {
	if h.opts.IngestToken == "" {
		return true
	}
	if tok := r.Header.Get("X-Cloud-Token"); tok == h.opts.IngestToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == h.opts.IngestToken && auth != ""
}

func decodeJSON(r *http.Request, v any) error {
	dec := sonic.ConfigDefault.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w: %v", apierr.ErrProtocol, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		apierr.Write(w, fmt.Errorf("encode response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// toPayload flattens v's JSON representation into a map, used to build
// event-bus envelope payloads via a sonic marshal/unmarshal round-trip. On
// any encoding error it returns an empty map.
func toPayload(v any) map[string]any {
	data, err := sonic.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := sonic.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// --- POST /api/realtime/events -------------------------------------------

type eventPayload struct {
	Provider   string         `json:"provider"`
	CallID     string         `json:"call_id"`
	EventType  model.EventType `json:"event_type"`
	Speaker    model.Speaker  `json:"speaker"`
	Text       string         `json:"text"`
	Sentiment  *float64       `json:"sentiment"`
	Confidence *float64       `json:"confidence"`
	Status     string         `json:"status"`
	Timestamp  string         `json:"timestamp"`
	AgentID    string         `json:"agent_id"`
	CustomerID string         `json:"customer_id"`
	Metadata   map[string]any `json:"metadata"`
}

func (h *Handler) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	if !h.checkToken(r) {
		apierr.Write(w, fmt.Errorf("invalid ingest token: %w", apierr.ErrAuth))
		return
	}

	var payload eventPayload
	if err := decodeJSON(r, &payload); err != nil {
		apierr.Write(w, err)
		return
	}
	if payload.CallID == "" {
		apierr.Write(w, fmt.Errorf("call_id is required: %w", apierr.ErrProtocol))
		return
	}

	now := h.now()
	occurredAt := now
	if payload.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			occurredAt = t
		}
	}

	ev := model.RealtimeEvent{
		CallID:     payload.CallID,
		EventType:  payload.EventType,
		Speaker:    payload.Speaker,
		Text:       payload.Text,
		Sentiment:  payload.Sentiment,
		Confidence: payload.Confidence,
		OccurredAt: occurredAt,
		Metadata:   payload.Metadata,
	}

	var statusOverride *model.CallStatus
	if payload.EventType == model.EventTypeEnd {
		ended := model.CallStatusEnded
		statusOverride = &ended
	} else if payload.Status != "" {
		s := model.CallStatus(payload.Status)
		statusOverride = &s
	}

	call, alerts, err := h.ingestEvent(r.Context(), payload.CallID, ev, statusOverride, payload.Provider, payload.AgentID, payload.CustomerID, now)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"call_id":         payload.CallID,
		"risk_score":      call.RiskScore,
		"sentiment_score": call.SentimentScore,
		"alerts":          alerts,
		"snapshot":        h.buildSnapshot(r.Context(), payload.CallID),
	})
}

// ingestEvent runs the shared upsert → append → evaluate → persist →
// publish pipeline used by both the event and audio-chunk ingest paths.
func (h *Handler) ingestEvent(ctx context.Context, callID string, ev model.RealtimeEvent, statusOverride *model.CallStatus, provider, agentID, customerID string, now time.Time) (model.RealtimeCall, []model.SupervisorAlert, error) {
	mutation := model.CallMutation{Status: statusOverride}
	if provider != "" {
		mutation.Provider = &provider
	}
	if agentID != "" {
		mutation.AgentID = &agentID
	}
	if customerID != "" {
		mutation.CustomerID = &customerID
	}

	call, err := h.store.UpsertCall(ctx, callID, mutation, now)
	if err != nil {
		return model.RealtimeCall{}, nil, err
	}

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	storedEv, err := h.store.AppendEvent(ctx, ev)
	if err != nil {
		return model.RealtimeCall{}, nil, err
	}

	lastAlertAt := h.loadLastAlertAt(ctx, callID)
	updated, newAlerts := alert.Evaluate(call, storedEv, h.opts.AlertConfig, lastAlertAt, float64(now.Unix()))

	risk, sentiment := updated.RiskScore, updated.SentimentScore
	finalCall, err := h.store.UpsertCall(ctx, callID, model.CallMutation{RiskScore: &risk, SentimentScore: &sentiment}, now)
	if err != nil {
		return model.RealtimeCall{}, nil, err
	}

	for i, a := range newAlerts {
		a.CreatedAt = now
		persisted, err := h.store.AppendAlert(ctx, a)
		if err != nil {
			return model.RealtimeCall{}, nil, err
		}
		newAlerts[i] = persisted
	}

	h.bus.PublishRealtimeEvent(callID, toPayload(storedEv), now)
	for _, a := range newAlerts {
		h.bus.PublishSupervisorAlert(callID, toPayload(a), now)
	}
	if statusOverride != nil {
		h.bus.PublishStatus(callID, map[string]any{"status": finalCall.Status}, now)
	}

	return finalCall, newAlerts, nil
}

// loadLastAlertAt assembles the cooldown lookup map the evaluator needs
// from the repository's per-(call,type) alert history.
func (h *Handler) loadLastAlertAt(ctx context.Context, callID string) map[string]float64 {
	m := make(map[string]float64, len(ruleTypes))
	for _, rt := range ruleTypes {
		if a, ok, err := h.store.LastAlertOfType(ctx, callID, rt); err == nil && ok {
			m[rt] = float64(a.CreatedAt.Unix())
		}
	}
	return m
}

// --- POST /api/realtime/audio/chunk --------------------------------------

type transcriptSegment struct {
	Speaker    model.Speaker `json:"speaker"`
	Text       string        `json:"text"`
	Sentiment  *float64      `json:"sentiment"`
	Confidence *float64      `json:"confidence"`
	OffsetS    float64       `json:"offset_s"`
}

type audioChunkPayload struct {
	CallID             string              `json:"call_id"`
	AudioB64           string              `json:"audio_b64"`
	AudioEncoding      string              `json:"audio_encoding"`
	SampleRate         int                 `json:"sample_rate"`
	Channels           int                 `json:"channels"`
	Speaker            model.Speaker       `json:"speaker"`
	Transcript         string              `json:"transcript"`
	TranscriptSegments []transcriptSegment `json:"transcript_segments"`
	Sentiment          *float64            `json:"sentiment"`
	Confidence         *float64            `json:"confidence"`
	Timestamp          string              `json:"timestamp"`
	Metadata           map[string]any      `json:"metadata"`
}

func (h *Handler) handleIngestAudioChunk(w http.ResponseWriter, r *http.Request) {
	if !h.checkToken(r) {
		apierr.Write(w, fmt.Errorf("invalid ingest token: %w", apierr.ErrAuth))
		return
	}

	var payload audioChunkPayload
	if err := decodeJSON(r, &payload); err != nil {
		apierr.Write(w, err)
		return
	}
	if payload.CallID == "" {
		apierr.Write(w, fmt.Errorf("call_id is required: %w", apierr.ErrProtocol))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(payload.AudioB64)
	if err != nil {
		apierr.Write(w, fmt.Errorf("invalid audio_b64: %w", apierr.ErrDecode))
		return
	}

	pcm, err := h.decodeAudio(raw, payload.AudioEncoding)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if len(pcm) > h.opts.MaxAudioChunkBytes {
		apierr.Write(w, fmt.Errorf("chunk of %d bytes exceeds max %d: %w", len(pcm), h.opts.MaxAudioChunkBytes, apierr.ErrProtocol))
		return
	}

	sampleRate := payload.SampleRate
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	channels := payload.Channels
	if channels <= 0 {
		channels = 1
	}

	now := h.now()
	chunkID, err := h.audio.Append(payload.CallID, pcm, sampleRate, channels, now)
	if err != nil {
		apierr.Write(w, fmt.Errorf("%v: %w", err, apierr.ErrProtocol))
		return
	}

	occurredAt := now
	if payload.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			occurredAt = t
		}
	}

	var warnings []string
	var events []model.RealtimeEvent
	switch {
	case len(payload.TranscriptSegments) > 0:
		for _, seg := range payload.TranscriptSegments {
			speaker := seg.Speaker
			if speaker == "" {
				speaker = payload.Speaker
			}
			events = append(events, model.RealtimeEvent{
				CallID:     payload.CallID,
				EventType:  model.EventTypeTranscript,
				Speaker:    speaker,
				Text:       seg.Text,
				Sentiment:  seg.Sentiment,
				Confidence: seg.Confidence,
				OccurredAt: occurredAt,
				Metadata:   map[string]any{"offset_s": seg.OffsetS},
			})
		}
	case payload.Transcript != "":
		events = append(events, model.RealtimeEvent{
			CallID:     payload.CallID,
			EventType:  model.EventTypeTranscript,
			Speaker:    payload.Speaker,
			Text:       payload.Transcript,
			Sentiment:  payload.Sentiment,
			Confidence: payload.Confidence,
			OccurredAt: occurredAt,
			Metadata:   payload.Metadata,
		})
	default:
		events = append(events, model.RealtimeEvent{
			CallID:     payload.CallID,
			EventType:  model.EventTypeAudioChunk,
			Speaker:    payload.Speaker,
			OccurredAt: occurredAt,
			Metadata:   map[string]any{"chunk_id": chunkID},
		})
	}

	var allAlerts []model.SupervisorAlert
	for _, ev := range events {
		_, alerts, ingestErr := h.ingestEvent(r.Context(), payload.CallID, ev, nil, "", "", "", now)
		if ingestErr != nil {
			warnings = append(warnings, ingestErr.Error())
			continue
		}
		allAlerts = append(allAlerts, alerts...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"call_id":         payload.CallID,
		"audio":           audioSnapshotToModel(h.audio.Snapshot(payload.CallID)),
		"events_ingested": len(events),
		"alerts":          allAlerts,
		"snapshot":        h.buildSnapshot(r.Context(), payload.CallID),
		"warnings":        warnings,
	})
}

// decodeAudio implements the audio_encoding dispatch: pcm_s16le/wav strip
// an optional RIFF header, anything else goes through the codec package.
func (h *Handler) decodeAudio(raw []byte, encoding string) ([]byte, error) {
	lower := strings.ToLower(encoding)
	switch lower {
	case "pcm_s16le", "wav", "":
		return stripRIFFHeader(raw), nil
	default:
		enc, ok := codec.ParseEncoding(encoding)
		if !ok {
			return nil, fmt.Errorf("%w: %q", apierr.ErrDecode, encoding)
		}
		pcm, err := codec.Decode(enc, raw, h.opts.L16BigEndian)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, apierr.ErrDecode)
		}
		return pcm, nil
	}
}

// stripRIFFHeader removes a RIFF/WAVE container's headers when present,
// returning just the "data" subchunk payload; if raw is not a RIFF
// container it is returned unchanged (already-raw PCM S16LE).
func stripRIFFHeader(raw []byte) []byte {
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return raw
	}
	offset := 12
	for offset+8 <= len(raw) {
		id := string(raw[offset : offset+4])
		size := int(raw[offset+4]) | int(raw[offset+5])<<8 | int(raw[offset+6])<<16 | int(raw[offset+7])<<24
		start := offset + 8
		if id == "data" {
			end := start + size
			if end > len(raw) {
				end = len(raw)
			}
			return raw[start:end]
		}
		offset = start + size
		if size%2 == 1 {
			offset++
		}
	}
	return raw
}

// --- GET /api/realtime/calls/{id}/snapshot -------------------------------

type callSnapshot struct {
	Call   model.RealtimeCall      `json:"call"`
	Events []model.RealtimeEvent   `json:"events"`
	Alerts []model.SupervisorAlert `json:"alerts"`
	Audio  model.AudioSnapshot     `json:"audio"`
}

func (h *Handler) buildSnapshot(ctx context.Context, callID string) callSnapshot {
	call, ok, _ := h.store.GetCall(ctx, callID)
	if !ok {
		call = model.RealtimeCall{CallID: callID, Status: model.CallStatusUnknown}
	}
	events, _ := h.store.RecentEvents(ctx, callID, 50)
	alerts, _ := h.store.RecentAlerts(ctx, callID, true, 20)
	return callSnapshot{
		Call:   call,
		Events: events,
		Alerts: alerts,
		Audio:  audioSnapshotToModel(h.audio.Snapshot(callID)),
	}
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, h.buildSnapshot(r.Context(), id))
}

func audioSnapshotToModel(s audiostore.Snapshot) model.AudioSnapshot {
	return model.AudioSnapshot{
		Available:     s.Available,
		DurationS:     s.DurationS,
		SampleRate:    s.SampleRate,
		Channels:      s.Channels,
		SampleWidth:   s.SampleWidth,
		ChunkCount:    s.ChunkCount,
		UpdatedAt:     s.UpdatedAt,
		LastChunkID:   s.LastChunkID,
		WindowSeconds: s.WindowSeconds,
	}
}

// --- GET /api/realtime/calls/{id}/audio ----------------------------------

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wav, err := h.audio.RenderWAV(id)
	if err == nil {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
		return
	}
	if err != audiostore.ErrNoBuffer {
		apierr.Write(w, err)
		return
	}

	if r.URL.Query().Get("fallback") == "1" {
		if path, ok := h.resolveFallback(id); ok {
			http.ServeFile(w, r, path)
			return
		}
	}
	apierr.Write(w, fmt.Errorf("no audio for call %q: %w", id, apierr.ErrNotFound))
}

// resolveFallback globs <uploads_dir>/<call_id>_*.<ext> and returns the
// first match, per §6's path resolver contract.
func (h *Handler) resolveFallback(callID string) (string, bool) {
	if h.opts.FallbackUploadsDir == "" {
		return "", false
	}
	matches, err := filepath.Glob(filepath.Join(h.opts.FallbackUploadsDir, callID+"_*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// --- GET /api/realtime/calls/{id}/audio/meta -----------------------------

func (h *Handler) handleAudioMeta(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap := h.audio.Snapshot(id)

	source := "none"
	switch {
	case snap.Available:
		source = "live"
	default:
		if _, ok := h.resolveFallback(id); ok {
			source = "fallback"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audio":  audioSnapshotToModel(snap),
		"source": source,
	})
}

// --- GET /api/realtime/alerts ---------------------------------------------

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	openOnly := r.URL.Query().Get("open_only") == "1" || r.URL.Query().Get("open_only") == "true"
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	alerts, err := h.store.RecentAlerts(r.Context(), callID, openOnly, limit)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// --- POST /api/realtime/alerts/{alert_id}/ack ----------------------------

func (h *Handler) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("alert_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		apierr.Write(w, fmt.Errorf("invalid alert_id %q: %w", raw, apierr.ErrProtocol))
		return
	}

	now := h.now()
	acked, err := h.store.AckAlert(r.Context(), id, now)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	h.bus.PublishSupervisorAlertAck(acked.CallID, toPayload(acked), now)
	writeJSON(w, http.StatusOK, acked)
}
