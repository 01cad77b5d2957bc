// Package pgstore provides an optional durable mirror for the realtime
// repository, backed by PostgreSQL. It is wired in only when
// REALTIME_POSTGRES_DSN is set; the in-memory MemStore remains the read
// path at all times (§9: "prefer in-memory primary with optional disk
// mirror rather than transactional storage").
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/store"
)

const ddl = `
CREATE TABLE IF NOT EXISTS realtime_calls (
    call_id         TEXT PRIMARY KEY,
    provider        TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'unknown',
    risk_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    agent_id        TEXT NOT NULL DEFAULT '',
    customer_id     TEXT NOT NULL DEFAULT '',
    metadata        JSONB,
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS realtime_events (
    id           BIGINT PRIMARY KEY,
    call_id      TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    speaker      TEXT NOT NULL DEFAULT '',
    text         TEXT NOT NULL DEFAULT '',
    sentiment    DOUBLE PRECISION,
    confidence   DOUBLE PRECISION,
    occurred_at  TIMESTAMPTZ NOT NULL,
    metadata     JSONB
);

CREATE INDEX IF NOT EXISTS idx_realtime_events_call_id ON realtime_events (call_id, id);

CREATE TABLE IF NOT EXISTS realtime_alerts (
    id              BIGINT PRIMARY KEY,
    call_id         TEXT NOT NULL,
    type            TEXT NOT NULL,
    severity        TEXT NOT NULL,
    message         TEXT NOT NULL DEFAULT '',
    acknowledged    BOOLEAN NOT NULL DEFAULT false,
    acknowledged_at TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL,
    metadata        JSONB
);

CREATE INDEX IF NOT EXISTS idx_realtime_alerts_call_id ON realtime_alerts (call_id, created_at);
`

// Mirror is a [store.Mirror] implementation backed by a pgxpool.Pool. All
// writes are fire-and-forget from the caller's perspective: failures are
// logged, never returned, since the in-memory store remains authoritative.
type Mirror struct {
	pool *pgxpool.Pool
}

var _ store.Mirror = (*Mirror)(nil)

// New connects to dsn, runs the migration, and returns a ready-to-use
// [Mirror].
func New(ctx context.Context, dsn string) (*Mirror, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}
	return &Mirror{pool: pool}, nil
}

// Close releases the connection pool.
func (m *Mirror) Close() {
	m.pool.Close()
}

// Ping checks the connection pool is reachable, for use as a
// [health.Checker].
func (m *Mirror) Ping(ctx context.Context) error {
	return m.pool.Ping(ctx)
}

// MirrorCall implements [store.Mirror].
func (m *Mirror) MirrorCall(ctx context.Context, call model.RealtimeCall) {
	meta, err := json.Marshal(call.Metadata)
	if err != nil {
		slog.Warn("pgstore: marshal call metadata failed", "call_id", call.CallID, "err", err)
		return
	}
	_, err = m.pool.Exec(ctx, `
		INSERT INTO realtime_calls (call_id, provider, status, risk_score, sentiment_score, agent_id, customer_id, metadata, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (call_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			risk_score = EXCLUDED.risk_score,
			sentiment_score = EXCLUDED.sentiment_score,
			agent_id = EXCLUDED.agent_id,
			customer_id = EXCLUDED.customer_id,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, call.CallID, call.Provider, call.Status, call.RiskScore, call.SentimentScore, call.AgentID, call.CustomerID, meta, call.UpdatedAt)
	if err != nil {
		slog.Warn("pgstore: mirror call failed", "call_id", call.CallID, "err", err)
	}
}

// MirrorEvent implements [store.Mirror].
func (m *Mirror) MirrorEvent(ctx context.Context, ev model.RealtimeEvent) {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		slog.Warn("pgstore: marshal event metadata failed", "event_id", ev.ID, "err", err)
		return
	}
	_, err = m.pool.Exec(ctx, `
		INSERT INTO realtime_events (id, call_id, event_type, speaker, text, sentiment, confidence, occurred_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.CallID, ev.EventType, ev.Speaker, ev.Text, ev.Sentiment, ev.Confidence, ev.OccurredAt, meta)
	if err != nil {
		slog.Warn("pgstore: mirror event failed", "event_id", ev.ID, "err", err)
	}
}

// MirrorAlert implements [store.Mirror].
func (m *Mirror) MirrorAlert(ctx context.Context, alert model.SupervisorAlert) {
	meta, err := json.Marshal(alert.Metadata)
	if err != nil {
		slog.Warn("pgstore: marshal alert metadata failed", "alert_id", alert.ID, "err", err)
		return
	}
	_, err = m.pool.Exec(ctx, `
		INSERT INTO realtime_alerts (id, call_id, type, severity, message, acknowledged, acknowledged_at, created_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			acknowledged = EXCLUDED.acknowledged,
			acknowledged_at = EXCLUDED.acknowledged_at
	`, alert.ID, alert.CallID, alert.Type, alert.Severity, alert.Message, alert.Acknowledged, alert.AcknowledgedAt, alert.CreatedAt, meta)
	if err != nil {
		slog.Warn("pgstore: mirror alert failed", "alert_id", alert.ID, "err", err)
	}
}
