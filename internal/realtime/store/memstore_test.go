package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
	"github.com/MrWong99/realtime-telemetry/internal/realtime/store"
)

func strPtr(s string) *string { return &s }

func TestUpsertCallCreatesThenMerges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()

	now := time.Now().UTC()
	call, err := s.UpsertCall(ctx, "RT-1", model.CallMutation{Provider: strPtr("genesys")}, now)
	if err != nil {
		t.Fatalf("UpsertCall: %v", err)
	}
	if call.Status != model.CallStatusActive {
		t.Fatalf("expected new call to default to active, got %q", call.Status)
	}
	if call.Provider != "genesys" {
		t.Fatalf("expected provider genesys, got %q", call.Provider)
	}

	later := now.Add(time.Second)
	risk := 0.5
	call2, err := s.UpsertCall(ctx, "RT-1", model.CallMutation{RiskScore: &risk}, later)
	if err != nil {
		t.Fatalf("UpsertCall second: %v", err)
	}
	if call2.Provider != "genesys" {
		t.Fatalf("expected provider to persist across merge, got %q", call2.Provider)
	}
	if call2.RiskScore != 0.5 {
		t.Fatalf("expected risk_score 0.5, got %v", call2.RiskScore)
	}
	if !call2.UpdatedAt.Equal(later) {
		t.Fatalf("expected updated_at refreshed to %v, got %v", later, call2.UpdatedAt)
	}
}

func TestAppendEventMonotonicAcrossCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()

	a, err := s.AppendEvent(ctx, model.RealtimeEvent{CallID: "RT-1"})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	b, err := s.AppendEvent(ctx, model.RealtimeEvent{CallID: "RT-2"})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if b.ID <= a.ID {
		t.Fatalf("expected monotonically increasing IDs across calls, got %d then %d", a.ID, b.ID)
	}
}

func TestRecentEventsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()

	for i := 0; i < 5; i++ {
		if _, err := s.AppendEvent(ctx, model.RealtimeEvent{CallID: "RT-1", Text: string(rune('A' + i))}); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	got, err := s.RecentEvents(ctx, "RT-1", 3)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	want := []string{"E", "D", "C"}
	for i, ev := range got {
		if ev.Text != want[i] {
			t.Fatalf("event %d: got %q want %q", i, ev.Text, want[i])
		}
	}
}

func TestAckAlertIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()

	alert, err := s.AppendAlert(ctx, model.SupervisorAlert{CallID: "RT-1", Type: "negative_sentiment", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("AppendAlert: %v", err)
	}

	t1 := time.Now().UTC()
	first, err := s.AckAlert(ctx, alert.ID, t1)
	if err != nil {
		t.Fatalf("AckAlert first: %v", err)
	}
	if !first.Acknowledged || first.AcknowledgedAt == nil {
		t.Fatalf("expected acknowledged=true with timestamp")
	}

	t2 := t1.Add(time.Minute)
	second, err := s.AckAlert(ctx, alert.ID, t2)
	if err != nil {
		t.Fatalf("AckAlert second: %v", err)
	}
	if !second.AcknowledgedAt.Equal(*first.AcknowledgedAt) {
		t.Fatalf("expected stable acknowledged_at, got %v then %v", first.AcknowledgedAt, second.AcknowledgedAt)
	}
}

func TestAckAlertNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()

	_, err := s.AckAlert(ctx, 9999, time.Now())
	if !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentAppendEventIsRaceFree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AppendEvent(ctx, model.RealtimeEvent{CallID: "RT-1"})
		}()
	}
	wg.Wait()

	got, err := s.RecentEvents(ctx, "RT-1", 0)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("expected 50 events, got %d", len(got))
	}
}
