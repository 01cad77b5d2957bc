package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
	"github.com/MrWong99/realtime-telemetry/internal/resilience"
)

// reacquireMargin is how long before token expiry a refresh is forced, per
// §4.8 ("Re-acquire at ≥ 60s before expires_in").
const reacquireMargin = 60 * time.Second

// TokenSource acquires and caches a client-credentials bearer token from the
// Genesys login service, refreshing it ahead of expiry.
type TokenSource struct {
	httpClient   *http.Client
	loginBaseURL string
	clientID     string
	clientSecret string

	mu        sync.Mutex
	token     string
	refreshAt time.Time
	now       func() time.Time
	breaker   *resilience.CircuitBreaker
}

// NewTokenSource returns a [TokenSource] for the given OAuth client.
func NewTokenSource(httpClient *http.Client, loginBaseURL, clientID, clientSecret string) *TokenSource {
	return &TokenSource{
		httpClient:   httpClient,
		loginBaseURL: strings.TrimRight(loginBaseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
		breaker:      resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "genesys-connector-oauth"}),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns a valid bearer token, acquiring or refreshing one as needed.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.refreshAt) {
		return ts.token, nil
	}
	return ts.refreshLocked(ctx)
}

func (ts *TokenSource) refreshLocked(ctx context.Context) (string, error) {
	var tr tokenResponse
	err := ts.breaker.Execute(func() error {
		var execErr error
		tr, execErr = ts.requestToken(ctx)
		return execErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", fmt.Errorf("genesys connector: oauth circuit open: %w", errors.Join(apierr.ErrUpstream, err))
		}
		return "", err
	}

	ts.token = tr.AccessToken
	expiresIn := time.Duration(tr.ExpiresIn) * time.Second
	ts.refreshAt = ts.now().Add(expiresIn - reacquireMargin)
	return ts.token, nil
}

func (ts *TokenSource) requestToken(ctx context.Context) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.loginBaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("genesys connector: build token request: %w", errors.Join(apierr.ErrConfig, err))
	}
	req.SetBasicAuth(ts.clientID, ts.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("genesys connector: oauth request: %w", errors.Join(apierr.ErrUpstream, err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return tokenResponse{}, fmt.Errorf("genesys connector: oauth rejected (status %d): %w", resp.StatusCode, apierr.ErrAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("genesys connector: oauth status %d: %w", resp.StatusCode, apierr.ErrUpstream)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return tokenResponse{}, fmt.Errorf("genesys connector: decode oauth response: %w", apierr.ErrDecode)
	}
	if tr.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("genesys connector: empty access token: %w", apierr.ErrAuth)
	}
	return tr, nil
}
