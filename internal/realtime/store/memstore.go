package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
)

// Compile-time assertion that MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is the
// realtime repository's primary backing; an optional Postgres mirror can be
// layered on top via [MemStore.SetMirror] without changing the read path.
// The zero value is not ready to use — construct with [NewMemStore].
type MemStore struct {
	mu sync.RWMutex

	calls  map[string]model.RealtimeCall
	events map[string][]model.RealtimeEvent // callID -> events, oldest first
	alerts map[string][]model.SupervisorAlert

	nextEventID atomic.Int64
	nextAlertID atomic.Int64

	// mirror receives a copy of every committed write, best-effort. Mirror
	// methods return nothing, so a mirror failure (logged by the Mirror
	// implementation itself) never reaches the in-memory read/write path.
	mirror Mirror
}

// Mirror is an optional durable write-through sink. Implementations should
// not block the caller for long; errors are logged, not propagated.
type Mirror interface {
	MirrorCall(ctx context.Context, call model.RealtimeCall)
	MirrorEvent(ctx context.Context, ev model.RealtimeEvent)
	MirrorAlert(ctx context.Context, alert model.SupervisorAlert)
}

// NewMemStore returns an initialised [MemStore] with no mirror configured.
func NewMemStore() *MemStore {
	return &MemStore{
		calls:  make(map[string]model.RealtimeCall),
		events: make(map[string][]model.RealtimeEvent),
		alerts: make(map[string][]model.SupervisorAlert),
	}
}

// SetMirror attaches a durable write-through mirror. Safe to call once at
// startup before traffic begins.
func (s *MemStore) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// UpsertCall implements [Store.UpsertCall].
func (s *MemStore) UpsertCall(ctx context.Context, callID string, mutation model.CallMutation, now time.Time) (model.RealtimeCall, error) {
	s.mu.Lock()

	call, existed := s.calls[callID]
	if !existed {
		call = model.RealtimeCall{
			CallID: callID,
			Status: model.CallStatusActive,
		}
	}

	if mutation.Provider != nil {
		call.Provider = *mutation.Provider
	}
	if mutation.Status != nil {
		call.Status = *mutation.Status
	}
	if mutation.RiskScore != nil {
		call.RiskScore = *mutation.RiskScore
	}
	if mutation.SentimentScore != nil {
		call.SentimentScore = *mutation.SentimentScore
	}
	if mutation.AgentID != nil {
		call.AgentID = *mutation.AgentID
	}
	if mutation.CustomerID != nil {
		call.CustomerID = *mutation.CustomerID
	}
	if len(mutation.Metadata) > 0 {
		if call.Metadata == nil {
			call.Metadata = make(map[string]any, len(mutation.Metadata))
		}
		for k, v := range mutation.Metadata {
			call.Metadata[k] = v
		}
	}
	call.UpdatedAt = now

	s.calls[callID] = call
	mirror := s.mirror
	s.mu.Unlock()

	if mirror != nil {
		mirror.MirrorCall(ctx, call)
	}
	return call, nil
}

// GetCall implements [Store.GetCall].
func (s *MemStore) GetCall(ctx context.Context, callID string) (model.RealtimeCall, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[callID]
	return call, ok, nil
}

// AppendEvent implements [Store.AppendEvent].
func (s *MemStore) AppendEvent(ctx context.Context, ev model.RealtimeEvent) (model.RealtimeEvent, error) {
	s.mu.Lock()
	// Assign the ID under the lock so each call's slice stays in ID order.
	ev.ID = s.nextEventID.Add(1)
	s.events[ev.CallID] = append(s.events[ev.CallID], ev)
	mirror := s.mirror
	s.mu.Unlock()

	if mirror != nil {
		mirror.MirrorEvent(ctx, ev)
	}
	return ev, nil
}

// AppendAlert implements [Store.AppendAlert].
func (s *MemStore) AppendAlert(ctx context.Context, alert model.SupervisorAlert) (model.SupervisorAlert, error) {
	alert.ID = s.nextAlertID.Add(1)

	s.mu.Lock()
	s.alerts[alert.CallID] = append(s.alerts[alert.CallID], alert)
	mirror := s.mirror
	s.mu.Unlock()

	if mirror != nil {
		mirror.MirrorAlert(ctx, alert)
	}
	return alert, nil
}

// RecentEvents implements [Store.RecentEvents].
func (s *MemStore) RecentEvents(ctx context.Context, callID string, limit int) ([]model.RealtimeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[callID]
	n := len(evs)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]model.RealtimeEvent, limit)
	for i := 0; i < limit; i++ {
		out[i] = evs[n-1-i]
	}
	return out, nil
}

// RecentAlerts implements [Store.RecentAlerts].
func (s *MemStore) RecentAlerts(ctx context.Context, callID string, openOnly bool, limit int) ([]model.SupervisorAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []model.SupervisorAlert
	if callID != "" {
		candidates = append(candidates, s.alerts[callID]...)
	} else {
		for _, perCall := range s.alerts {
			candidates = append(candidates, perCall...)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	out := make([]model.SupervisorAlert, 0, len(candidates))
	for _, a := range candidates {
		if openOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LastAlertOfType implements [Store.LastAlertOfType].
func (s *MemStore) LastAlertOfType(ctx context.Context, callID, alertType string) (model.SupervisorAlert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest model.SupervisorAlert
	found := false
	for _, a := range s.alerts[callID] {
		if a.Type != alertType {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
			found = true
		}
	}
	return latest, found, nil
}

// AckAlert implements [Store.AckAlert]. Acknowledgement is idempotent: a
// second call returns the same AcknowledgedAt timestamp recorded on the
// first.
func (s *MemStore) AckAlert(ctx context.Context, alertID int64, now time.Time) (model.SupervisorAlert, error) {
	s.mu.Lock()

	for callID, perCall := range s.alerts {
		for i, a := range perCall {
			if a.ID != alertID {
				continue
			}
			if !a.Acknowledged {
				a.Acknowledged = true
				ackedAt := now
				a.AcknowledgedAt = &ackedAt
				s.alerts[callID][i] = a
			}
			result := s.alerts[callID][i]
			mirror := s.mirror
			s.mu.Unlock()
			if mirror != nil {
				mirror.MirrorAlert(ctx, result)
			}
			return result, nil
		}
	}

	s.mu.Unlock()
	return model.SupervisorAlert{}, fmt.Errorf("alert %d: %w", alertID, apierr.ErrNotFound)
}
