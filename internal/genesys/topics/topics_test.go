package topics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/MrWong99/realtime-telemetry/internal/genesys/topics"
)

type staticTokens struct{}

func (staticTokens) Token(ctx context.Context) (string, error) { return "tok", nil }

func TestBuildTopicsUnionsQueuesAndUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/routing/queues":
			json.NewEncoder(w).Encode(map[string]any{
				"entities":  []map[string]string{{"id": "q1"}, {"id": "q2"}},
				"pageCount": 1,
			})
		case "/api/v2/users":
			json.NewEncoder(w).Encode(map[string]any{
				"entities":  []map[string]string{{"id": "u1"}},
				"pageCount": 1,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := topics.NewBuilder(srv.Client(), srv.URL, staticTokens{}, topics.Filter{}, topics.Filter{})
	got, err := b.BuildTopics(t.Context())
	if err != nil {
		t.Fatalf("BuildTopics: %v", err)
	}
	sort.Strings(got)
	want := []string{
		"v2.routing.queues.q1.conversations",
		"v2.routing.queues.q2.conversations",
		"v2.users.u1.conversations",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestBuildTopicsRespectsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/routing/queues":
			json.NewEncoder(w).Encode(map[string]any{
				"entities":  []map[string]string{{"id": "q1"}, {"id": "q2"}, {"id": "q3"}},
				"pageCount": 1,
			})
		case "/api/v2/users":
			json.NewEncoder(w).Encode(map[string]any{"entities": []map[string]string{}, "pageCount": 1})
		}
	}))
	defer srv.Close()

	b := topics.NewBuilder(srv.Client(), srv.URL, staticTokens{}, topics.Filter{Limit: 1}, topics.Filter{})
	got, err := b.BuildTopics(t.Context())
	if err != nil {
		t.Fatalf("BuildTopics: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 queue topic under limit, got %v", got)
	}
}

func TestBuildTopicsPropagatesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := topics.NewBuilder(srv.Client(), srv.URL, staticTokens{}, topics.Filter{}, topics.Filter{})
	if _, err := b.BuildTopics(t.Context()); err == nil {
		t.Fatal("expected error when queue listing fails")
	}
}
