// Package store defines the realtime repository contract (C3): durable-enough
// persistence for calls, events, and alerts with monotonic IDs and row-level
// atomicity. [MemStore] is the in-memory primary implementation; an optional
// Postgres mirror lives in the sibling pgstore package.
package store

import (
	"context"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
)

// Store is the realtime repository's public contract. All methods must be
// safe for concurrent use; writers are internally serialized per call_id,
// readers observe only committed rows.
type Store interface {
	// UpsertCall creates the call on first reference or merges mutation into
	// the existing record, always refreshing UpdatedAt to now. Returns the
	// post-mutation RealtimeCall.
	UpsertCall(ctx context.Context, callID string, mutation model.CallMutation, now time.Time) (model.RealtimeCall, error)

	// GetCall returns the current state of a call. ok is false when no call
	// with that ID has ever been ingested.
	GetCall(ctx context.Context, callID string) (call model.RealtimeCall, ok bool, err error)

	// AppendEvent assigns the next global monotonic ID and appends the
	// event to the call's timeline.
	AppendEvent(ctx context.Context, ev model.RealtimeEvent) (model.RealtimeEvent, error)

	// AppendAlert assigns the next global monotonic ID and appends the
	// alert.
	AppendAlert(ctx context.Context, alert model.SupervisorAlert) (model.SupervisorAlert, error)

	// RecentEvents returns up to limit events for callID, newest first.
	RecentEvents(ctx context.Context, callID string, limit int) ([]model.RealtimeEvent, error)

	// RecentAlerts returns alerts filtered by callID (if non-empty) and
	// openOnly (unacknowledged only), newest first, capped at limit.
	RecentAlerts(ctx context.Context, callID string, openOnly bool, limit int) ([]model.SupervisorAlert, error)

	// LastAlertOfType returns the most recently created alert of the given
	// (callID, alertType), used by the evaluator's cooldown check. ok is
	// false when no such alert exists yet.
	LastAlertOfType(ctx context.Context, callID, alertType string) (alert model.SupervisorAlert, ok bool, err error)

	// AckAlert marks an alert acknowledged at now, idempotently: a second
	// call returns the same AcknowledgedAt as the first. Returns
	// [apierr.ErrNotFound] wrapped if alertID does not exist.
	AckAlert(ctx context.Context, alertID int64, now time.Time) (model.SupervisorAlert, error)
}
