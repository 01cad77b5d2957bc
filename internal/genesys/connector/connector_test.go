package connector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/realtime-telemetry/internal/genesys/connector"
)

// fakeGenesys serves the three Genesys API endpoints the connector needs
// (oauth token, channel creation, topic subscription) plus a websocket
// endpoint emitting notification frames handed to it via push().
type fakeGenesys struct {
	srv       *httptest.Server
	wsURL     string
	push      chan []byte
	oauthHits atomic.Int64
	subHits   atomic.Int64
}

func newFakeGenesys(t *testing.T) *fakeGenesys {
	t.Helper()
	fg := &fakeGenesys{push: make(chan []byte, 8)}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		fg.oauthHits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/v2/notifications/channels", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "chan-1",
			"connectUri": fg.wsURL,
			"expires":    3600,
		})
	})
	mux.HandleFunc("/api/v2/notifications/channels/chan-1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		fg.subHits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			select {
			case data, ok := <-fg.push:
				if !ok {
					return
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	fg.srv = httptest.NewServer(mux)
	fg.wsURL = "ws" + fg.srv.URL[len("http"):] + "/ws"
	return fg
}

func (fg *fakeGenesys) close() { fg.srv.Close() }

func TestConnectorForwardsNormalizedConversationEvent(t *testing.T) {
	fg := newFakeGenesys(t)
	defer fg.close()

	var ingested atomic.Int64
	var lastBody map[string]any
	ingest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ingested.Add(1)
		json.NewDecoder(r.Body).Decode(&lastBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer ingest.Close()

	cfg := connector.Config{
		LoginBaseURL:     fg.srv.URL,
		APIBaseURL:       fg.srv.URL,
		ClientID:         "id",
		ClientSecret:     "secret",
		Topics:           []string{"v2.users.u1.conversations"},
		TargetIngestURL:  ingest.URL,
		RetryMaxAttempts: 2,
		RetryBackoff:     10 * time.Millisecond,
	}
	c := connector.New(cfg, fg.srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	frame, _ := json.Marshal(map[string]any{
		"topicName": "v2.users.u1.conversations",
		"eventBody": map[string]any{
			"id": "CALL-1",
			"participants": []map[string]any{
				{"id": "agent-9", "purpose": "agent", "state": "connected"},
				{"id": "cust-4", "purpose": "customer", "state": "connected"},
			},
		},
	})
	select {
	case fg.push <- frame:
	case <-time.After(time.Second):
		t.Fatal("connector never connected to consume websocket")
	}

	deadline := time.After(time.Second)
	for ingested.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for forwarded event")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if lastBody["call_id"] != "CALL-1" {
		t.Fatalf("expected call_id CALL-1, got %+v", lastBody)
	}
	if lastBody["agent_id"] != "agent-9" || lastBody["customer_id"] != "cust-4" {
		t.Fatalf("expected agent/customer ids mapped, got %+v", lastBody)
	}
	if lastBody["status"] != "active" {
		t.Fatalf("expected active status, got %+v", lastBody)
	}
}

func TestConnectorDryRunDoesNotForward(t *testing.T) {
	fg := newFakeGenesys(t)
	defer fg.close()

	var ingested atomic.Int64
	ingest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ingested.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ingest.Close()

	cfg := connector.Config{
		LoginBaseURL:     fg.srv.URL,
		APIBaseURL:       fg.srv.URL,
		ClientID:         "id",
		ClientSecret:     "secret",
		Topics:           []string{"v2.users.u1.conversations"},
		TargetIngestURL:  ingest.URL,
		RetryMaxAttempts: 2,
		RetryBackoff:     10 * time.Millisecond,
		DryRun:           true,
	}
	c := connector.New(cfg, fg.srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	frame, _ := json.Marshal(map[string]any{
		"topicName": "v2.users.u1.conversations",
		"eventBody": map[string]any{"id": "CALL-2"},
	})
	select {
	case fg.push <- frame:
	case <-time.After(time.Second):
		t.Fatal("connector never connected")
	}

	<-done
	if ingested.Load() != 0 {
		t.Fatalf("dry-run must not forward, got %d ingest hits", ingested.Load())
	}
}

func TestConnectorSubscribesConfiguredTopics(t *testing.T) {
	fg := newFakeGenesys(t)
	defer fg.close()

	ingest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ingest.Close()

	cfg := connector.Config{
		LoginBaseURL:    fg.srv.URL,
		APIBaseURL:      fg.srv.URL,
		ClientID:        "id",
		ClientSecret:    "secret",
		Topics:          []string{"v2.routing.queues.q1.conversations"},
		TargetIngestURL: ingest.URL,
	}
	c := connector.New(cfg, fg.srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	<-done

	if fg.oauthHits.Load() == 0 {
		t.Fatal("expected at least one oauth token request")
	}
	if fg.subHits.Load() == 0 {
		t.Fatal("expected at least one subscribe request")
	}
}
