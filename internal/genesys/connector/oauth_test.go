package connector

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
)

func TestTokenSourceCachesUntilNearExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.Client(), srv.URL, "id", "secret")

	tok1, err := ts.Token(t.Context())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	tok2, err := ts.Token(t.Context())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok1 != tok2 || tok1 != "tok" {
		t.Fatalf("expected cached token, got %q then %q", tok1, tok2)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly one oauth request, got %d", hits.Load())
	}
}

func TestTokenSourceRefreshesAfterMargin(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 60})
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.Client(), srv.URL, "id", "secret")
	base := time.Now()
	ts.now = func() time.Time { return base }

	if _, err := ts.Token(t.Context()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	ts.now = func() time.Time { return base.Add(2 * time.Second) }
	if _, err := ts.Token(t.Context()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected refresh inside the 60s margin (expires_in=60), got %d hits", hits.Load())
	}
}

func TestTokenSourceUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.Client(), srv.URL, "id", "bad-secret")
	_, err := ts.Token(t.Context())
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !errors.Is(err, apierr.ErrAuth) {
		t.Fatalf("expected apierr.ErrAuth for 401 response, got %v", err)
	}
}
