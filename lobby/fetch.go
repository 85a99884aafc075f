// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxListBytes bounds a game-list response. The public list is a few
// hundred entries at its worst.
const maxListBytes = 8 << 20

// APIConfig configures a game-list Client. BnetURL is required.
type APIConfig struct {
	// BnetURL is the battle.net game-list endpoint (wc3stats format:
	// a JSON object with the lobby array under "body").
	BnetURL string

	// EntURL is the hosting service's lobby endpoint (a bare JSON
	// lobby array). Empty disables the second source.
	EntURL string

	// HTTPClient defaults to a client with a 30 s timeout. The public
	// list APIs stall outright often enough that an unbounded client
	// would eventually hang a fetch forever.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client fetches open lobbies from the public game lists.
type Client struct {
	bnetURL    string
	entURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(config APIConfig) (*Client, error) {
	if config.BnetURL == "" {
		return nil, fmt.Errorf("lobby: BnetURL is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		bnetURL:    config.BnetURL,
		entURL:     config.EntURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// OpenLobbies returns the current open lobbies from every configured
// source, deduplicated by id. Both sources are queried concurrently.
// The battle.net list is authoritative: its failure fails the call.
// The hosting service list is best-effort — its failure is logged and
// its lobbies skipped, so an outage there cannot blank the battle.net
// lobbies.
func (c *Client) OpenLobbies(ctx context.Context) ([]Lobby, error) {
	type fetched struct {
		body []byte
		err  error
	}
	entResult := make(chan fetched, 1)
	if c.entURL != "" {
		go func() {
			body, err := c.fetch(ctx, c.entURL)
			entResult <- fetched{body, err}
		}()
	}

	bnetBody, err := c.fetch(ctx, c.bnetURL)
	if err != nil {
		return nil, fmt.Errorf("lobby: battle.net game list: %w", err)
	}

	// wc3stats wraps the array in an envelope object.
	var wrapped struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(bnetBody, &wrapped); err != nil {
		return nil, fmt.Errorf("lobby: bad game list envelope: %w", err)
	}
	var lobbies []Lobby
	if err := json.Unmarshal(wrapped.Body, &lobbies); err != nil {
		return nil, fmt.Errorf("lobby: game list body is not a lobby array: %w", err)
	}

	seen := make(map[int64]struct{}, len(lobbies))
	for _, l := range lobbies {
		seen[l.ID] = struct{}{}
	}

	if c.entURL != "" {
		ent := <-entResult
		if ent.err != nil {
			c.logger.Warn("hosting service game list unavailable", "error", ent.err)
		} else {
			var entLobbies []Lobby
			if err := json.Unmarshal(ent.body, &entLobbies); err != nil {
				c.logger.Warn("hosting service game list unparsable", "error", err)
			} else {
				for _, l := range entLobbies {
					if _, dup := seen[l.ID]; dup {
						continue
					}
					seen[l.ID] = struct{}{}
					lobbies = append(lobbies, l)
				}
			}
		}
	}

	return lobbies, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", response.StatusCode)
	}
	return io.ReadAll(io.LimitReader(response.Body, maxListBytes))
}
