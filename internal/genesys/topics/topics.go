// Package topics implements the Genesys topic builder: discovering queues
// and users via the Genesys API and turning them into canonical
// notification-channel topic strings, per spec §4.8 step 2.
package topics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/apierr"
)

// TokenSource supplies a bearer token for Genesys API calls. Satisfied by
// *connector.TokenSource without importing the connector package.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Filter narrows topic discovery to a subset of queues/users.
type Filter struct {
	NameContains string
	Limit        int
}

// Builder lists queues and users via the Genesys API and emits the
// corresponding conversation topic strings.
type Builder struct {
	httpClient *http.Client
	apiBaseURL string
	tokens     TokenSource
	queues     Filter
	users      Filter
}

// NewBuilder returns a [Builder] against apiBaseURL, filtering queues and
// users per the supplied [Filter]s (zero value means unfiltered, default
// page size).
func NewBuilder(httpClient *http.Client, apiBaseURL string, tokens TokenSource, queueFilter, userFilter Filter) *Builder {
	return &Builder{
		httpClient: httpClient,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		tokens:     tokens,
		queues:     queueFilter,
		users:      userFilter,
	}
}

// BuildTopics lists queues and users and returns their canonical
// conversation topic strings, e.g. "v2.routing.queues.{id}.conversations"
// and "v2.users.{id}.conversations". It implements
// connector.TopicBuilder.
func (b *Builder) BuildTopics(ctx context.Context) ([]string, error) {
	queueIDs, err := b.listEntityIDs(ctx, "/api/v2/routing/queues", b.queues)
	if err != nil {
		return nil, fmt.Errorf("genesys topic builder: list queues: %w", err)
	}
	userIDs, err := b.listEntityIDs(ctx, "/api/v2/users", b.users)
	if err != nil {
		return nil, fmt.Errorf("genesys topic builder: list users: %w", err)
	}

	topics := make([]string, 0, len(queueIDs)+len(userIDs))
	for _, id := range queueIDs {
		topics = append(topics, fmt.Sprintf("v2.routing.queues.%s.conversations", id))
	}
	for _, id := range userIDs {
		topics = append(topics, fmt.Sprintf("v2.users.%s.conversations", id))
	}
	return topics, nil
}

type entityPage struct {
	Entities []struct {
		ID string `json:"id"`
	} `json:"entities"`
	PageCount int `json:"pageCount"`
}

const defaultPageSize = 100

// listEntityIDs pages through a Genesys listing endpoint, applying f, and
// returns every entity id encountered (capped at f.Limit if set).
func (b *Builder) listEntityIDs(ctx context.Context, path string, f Filter) ([]string, error) {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("pageNumber", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(defaultPageSize))
		if f.NameContains != "" {
			q.Set("name", f.NameContains)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiBaseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", errors.Join(apierr.ErrConfig, err))
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list request: %w", errors.Join(apierr.ErrUpstream, err))
		}
		var pageBody entityPage
		decodeErr := json.NewDecoder(resp.Body).Decode(&pageBody)
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("list status %d: %w", resp.StatusCode, apierr.ErrUpstream)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode list response: %w", apierr.ErrDecode)
		}

		for _, e := range pageBody.Entities {
			ids = append(ids, e.ID)
			if f.Limit > 0 && len(ids) >= f.Limit {
				return ids, nil
			}
		}
		if page >= pageBody.PageCount || len(pageBody.Entities) == 0 {
			break
		}
	}
	return ids, nil
}
