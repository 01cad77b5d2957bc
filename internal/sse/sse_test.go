package sse_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/eventbus"
	"github.com/MrWong99/realtime-telemetry/internal/sse"
)

func TestStreamDeliversEnvelopesInOrder(t *testing.T) {
	bus := eventbus.New()
	h := sse.New(bus)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/realtime/stream?call_id=RT-2", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	// Give the handler a moment to register its subscription before
	// publishing, since Subscribe happens after headers are flushed.
	time.Sleep(50 * time.Millisecond)

	now := time.Now()
	for _, text := range []string{"A", "B", "C"} {
		bus.PublishRealtimeEvent("RT-2", map[string]any{"text": text}, now)
	}

	reader := bufio.NewReader(resp.Body)
	var dataLines []string
	deadline := time.After(2 * time.Second)
	for len(dataLines) < 3 {
		lineCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			line, err := reader.ReadString('\n')
			if err != nil {
				errCh <- err
				return
			}
			lineCh <- line
		}()

		select {
		case line := <-lineCh:
			if strings.HasPrefix(line, "data: ") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data: ")))
			}
		case err := <-errCh:
			t.Fatalf("read error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for data lines, got %v", dataLines)
		}
	}

	for i, want := range []string{`"text":"A"`, `"text":"B"`, `"text":"C"`} {
		if !strings.Contains(dataLines[i], want) {
			t.Fatalf("line %d: expected to contain %s, got %s", i, want, dataLines[i])
		}
	}
}

func TestStreamRequiresCallID(t *testing.T) {
	bus := eventbus.New()
	h := sse.New(bus)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/realtime/stream")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without call_id, got %d", resp.StatusCode)
	}
}
