package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
)

// ChannelClient creates notification channels and manages topic
// subscriptions against the Genesys public API.
type ChannelClient struct {
	httpClient *http.Client
	apiBaseURL string
	tokens     *TokenSource
}

// NewChannelClient returns a [ChannelClient] bound to apiBaseURL.
func NewChannelClient(httpClient *http.Client, apiBaseURL string, tokens *TokenSource) *ChannelClient {
	return &ChannelClient{
		httpClient: httpClient,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		tokens:     tokens,
	}
}

type channelResponse struct {
	ID          string `json:"id"`
	ConnectURI  string `json:"connectUri"`
	ExpiresIn   int64  `json:"expires"`
}

// CreateChannel provisions a new notification channel and returns its id
// and websocket connect URI.
func (c *ChannelClient) CreateChannel(ctx context.Context) (channelID, connectURI string, err error) {
	var resp channelResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v2/notifications/channels", nil, &resp); err != nil {
		return "", "", fmt.Errorf("genesys connector: create channel: %w", err)
	}
	if resp.ID == "" || resp.ConnectURI == "" {
		return "", "", fmt.Errorf("genesys connector: channel response missing id/connectUri: %w", apierr.ErrProtocol)
	}
	return resp.ID, resp.ConnectURI, nil
}

type topicSubscription struct {
	ID string `json:"id"`
}

// Subscribe attaches topics to an existing channel, replacing any previous
// subscription set on it.
func (c *ChannelClient) Subscribe(ctx context.Context, channelID string, topics []string) error {
	subs := make([]topicSubscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, topicSubscription{ID: t})
	}
	path := fmt.Sprintf("/api/v2/notifications/channels/%s/subscriptions", channelID)
	if err := c.doJSON(ctx, http.MethodPut, path, subs, nil); err != nil {
		return fmt.Errorf("genesys connector: subscribe topics: %w", err)
	}
	return nil
}

func (c *ChannelClient) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var r io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", errors.Join(apierr.ErrConfig, err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", errors.Join(apierr.ErrUpstream, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("status %d: %w", resp.StatusCode, apierr.ErrAuth)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d: %w", resp.StatusCode, apierr.ErrUpstream)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %w", resp.StatusCode, apierr.ErrProtocol)
	}

	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode response: %w", apierr.ErrDecode)
	}
	return nil
}
