// Package model defines the shared data types that flow through the
// realtime ingest, alerting, and fan-out pipeline: calls, events, alerts,
// and rolling audio metadata. These types are intentionally free of any
// storage or transport concerns so that the repository, alert evaluator,
// event bus, and HTTP layer can all depend on the same vocabulary.
package model

import "time"

// CallStatus describes the lifecycle state of a RealtimeCall.
type CallStatus string

const (
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
	CallStatusUnknown CallStatus = "unknown"
)

// EventType enumerates the recognised kinds of RealtimeEvent.
type EventType string

const (
	EventTypeTranscript    EventType = "transcript"
	EventTypeSentiment     EventType = "sentiment"
	EventTypeStatus        EventType = "status"
	EventTypeMetric        EventType = "metric"
	EventTypeAlertTrigger  EventType = "alert_trigger"
	EventTypeAudioChunk    EventType = "audio_chunk"
	EventTypeEnd           EventType = "end"
	EventTypeCustom        EventType = "custom"
)

// Speaker identifies who produced a transcript or sentiment reading.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
	SpeakerSystem   Speaker = "system"
)

// Severity is the urgency level of a SupervisorAlert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RealtimeCall is the fused per-call state. One record exists per call_id;
// it is created on first ingest, mutated on every subsequent ingest, and
// never deleted so that cold-fetch replay remains possible.
type RealtimeCall struct {
	CallID          string         `json:"call_id"`
	Provider        string         `json:"provider,omitempty"`
	Status          CallStatus     `json:"status"`
	RiskScore       float64        `json:"risk_score"`
	SentimentScore  float64        `json:"sentiment_score"`
	UpdatedAt       time.Time      `json:"updated_at"`
	AgentID         string         `json:"agent_id,omitempty"`
	CustomerID      string         `json:"customer_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// CallMutation carries the subset of RealtimeCall fields an ingest may
// update. Nil/zero fields are left untouched by upsert; non-nil Metadata
// entries are merged key-by-key into the existing map.
type CallMutation struct {
	Provider       *string
	Status         *CallStatus
	RiskScore      *float64
	SentimentScore *float64
	AgentID        *string
	CustomerID     *string
	Metadata       map[string]any
}

// RealtimeEvent is one append-only record in a call's timeline. IDs are
// assigned by the repository and are globally monotonically increasing;
// events for a given call are strictly ordered by ID.
type RealtimeEvent struct {
	ID          int64          `json:"id"`
	CallID      string         `json:"call_id"`
	EventType   EventType      `json:"event_type"`
	Speaker     Speaker        `json:"speaker,omitempty"`
	Text        string         `json:"text,omitempty"`
	Sentiment   *float64       `json:"sentiment,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SupervisorAlert is a persisted rule-fired signal surfaced to supervisors.
// Once Acknowledged flips true it never flips back.
type SupervisorAlert struct {
	ID             int64          `json:"id"`
	CallID         string         `json:"call_id"`
	Type           string         `json:"type"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// AudioChunkMeta describes one chunk retained in a LiveAudioBuffer, without
// carrying the PCM payload itself — used for snapshot responses.
type AudioChunkMeta struct {
	ID         string    `json:"id"`
	DurationS  float64   `json:"duration_s"`
	ReceivedAt time.Time `json:"received_at"`
}

// AudioSnapshot is the metadata contract returned by the rolling audio
// store's Snapshot operation and embedded in call snapshots.
type AudioSnapshot struct {
	Available     bool      `json:"available"`
	DurationS     float64   `json:"duration_s"`
	SampleRate    int       `json:"sample_rate"`
	Channels      int       `json:"channels"`
	SampleWidth   int       `json:"sample_width"`
	ChunkCount    int       `json:"chunk_count"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastChunkID   string    `json:"last_chunk_id,omitempty"`
	WindowSeconds float64   `json:"window_seconds"`
}

// WorkerState enumerates the lifecycle states a long-running worker
// (connector, AudioHook listener) reports in its status record.
type WorkerState string

const (
	WorkerStarting    WorkerState = "starting"
	WorkerConnecting  WorkerState = "connecting"
	WorkerSubscribed  WorkerState = "subscribed"
	WorkerRunning     WorkerState = "running"
	WorkerDegraded    WorkerState = "degraded"
	WorkerStopped     WorkerState = "stopped"
	WorkerError       WorkerState = "error"
)

// WorkerStatus is the JSON shape persisted to the worker's status file and
// served by the health endpoints.
type WorkerStatus struct {
	State           WorkerState    `json:"state"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastError       string         `json:"last_error,omitempty"`
	Counters        map[string]int64 `json:"counters,omitempty"`
	TopicsCount     int            `json:"topics_count,omitempty"`
}
