// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes bounds what we read from the platform. Attachment
// downloads carry full state snapshots, so the limit is generous.
const maxResponseBytes = 32 << 20

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the platform API root (e.g. "https://chat.example.com/api/v10").
	BaseURL string
	// Token is the bot token shared by every instance.
	Token string
	// HTTPClient is used for all requests. If nil, a client with a
	// 30 s timeout is used; chat calls that take longer are hung, and
	// an unbounded hang would stall the caller's watcher or handler.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an authenticated chat platform client, shared by the
// coordination transport, the channel watchers, and the command
// handlers. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("messaging: BaseURL is required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("messaging: Token is required")
	}

	// Store the string form (trailing slash stripped) and build
	// request URLs by concatenation; round-tripping through url.URL
	// re-encodes paths.
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid BaseURL %q: %w", config.BaseURL, err)
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
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops pooled connections. Call after a network
// disruption so the next request dials fresh instead of reusing a
// poisoned connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// SendMessage posts plain text to a channel and returns the created
// message.
func (c *Client) SendMessage(ctx context.Context, channelID ID, content string) (*Message, error) {
	return c.CreateMessage(ctx, channelID, Outgoing{Content: content}, nil)
}

// CreateMessage posts a message with optional embeds and file
// attachments.
func (c *Client) CreateMessage(ctx context.Context, channelID ID, outgoing Outgoing, files []FileUpload) (*Message, error) {
	path := "/channels/" + channelID.String() + "/messages"

	var body []byte
	var err error
	if len(files) == 0 {
		body, err = c.doRequest(ctx, http.MethodPost, path, outgoing, nil)
	} else {
		body, err = c.doMultipart(ctx, path, outgoing, files)
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: sending to channel %s: %w", channelID, err)
	}

	var message Message
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse message response: %w", err)
	}
	return &message, nil
}

// EditMessage rewrites an existing message's content and embeds.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID ID, outgoing Outgoing) (*Message, error) {
	path := "/channels/" + channelID.String() + "/messages/" + messageID.String()
	body, err := c.doRequest(ctx, http.MethodPatch, path, outgoing, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: editing message %s: %w", messageID, err)
	}

	var message Message
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse edit response: %w", err)
	}
	return &message, nil
}

// DeleteMessage removes a message. Deleting an already-deleted message
// returns a not-found error; callers that race each other should treat
// that as success.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID ID) error {
	path := "/channels/" + channelID.String() + "/messages/" + messageID.String()
	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("messaging: deleting message %s: %w", messageID, err)
	}
	return nil
}

// MessagesAfter returns up to limit messages posted after the given
// id, oldest first. An afterID of 0 returns the most recent messages.
// This is the polling primitive the channel watchers build on.
func (c *Client) MessagesAfter(ctx context.Context, channelID, afterID ID, limit int) ([]Message, error) {
	query := url.Values{}
	if afterID != 0 {
		query.Set("after", afterID.String())
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}

	path := "/channels/" + channelID.String() + "/messages"
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: listing channel %s: %w", channelID, err)
	}

	var messages []Message
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse message list: %w", err)
	}

	// The platform returns newest first; watchers want oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GuildMember fetches a user's guild-scoped profile.
func (c *Client) GuildMember(ctx context.Context, guildID, userID ID) (*Member, error) {
	path := "/guilds/" + guildID.String() + "/members/" + userID.String()
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: fetching member %s: %w", userID, err)
	}

	var member Member
	if err := json.Unmarshal(body, &member); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse member response: %w", err)
	}
	return &member, nil
}

// AddRole grants a guild role to a user.
func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID ID) error {
	path := "/guilds/" + guildID.String() + "/members/" + userID.String() + "/roles/" + roleID.String()
	if _, err := c.doRequest(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("messaging: adding role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

// RemoveRole revokes a guild role from a user.
func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID ID) error {
	path := "/guilds/" + guildID.String() + "/members/" + userID.String() + "/roles/" + roleID.String()
	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("messaging: removing role %s from %s: %w", roleID, userID, err)
	}
	return nil
}

// AddReaction reacts to a message as the bot. The emoji is either a
// unicode emoji or a custom "name:id" pair.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID ID, emoji string) error {
	path := "/channels/" + channelID.String() + "/messages/" + messageID.String() +
		"/reactions/" + url.PathEscape(emoji) + "/@me"
	if _, err := c.doRequest(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("messaging: adding reaction to %s: %w", messageID, err)
	}
	return nil
}

// RemoveOwnReaction removes the bot's reaction from a message.
func (c *Client) RemoveOwnReaction(ctx context.Context, channelID, messageID ID, emoji string) error {
	path := "/channels/" + channelID.String() + "/messages/" + messageID.String() +
		"/reactions/" + url.PathEscape(emoji) + "/@me"
	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("messaging: removing reaction from %s: %w", messageID, err)
	}
	return nil
}

// DownloadAttachment fetches an attachment's bytes from its CDN URL.
// Attachment URLs are absolute and unauthenticated.
func (c *Client) DownloadAttachment(ctx context.Context, attachment Attachment) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, attachment.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create download request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: downloading %s: %w", attachment.Filename, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("messaging: downloading %s: unexpected status %d",
			attachment.Filename, response.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("messaging: reading %s: %w", attachment.Filename, err)
	}
	return data, nil
}

// doRequest performs a JSON request and returns the response body.
// On 2xx, returns the body. On 4xx/5xx, returns a *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bot "+c.token)

	return c.finish(request, method, path)
}

// doMultipart posts a message with file attachments: the JSON payload
// rides in a "payload_json" part, each file in "files[N]".
func (c *Client) doMultipart(ctx context.Context, path string, outgoing Outgoing, files []FileUpload) ([]byte, error) {
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	payload, err := json.Marshal(outgoing)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to encode payload: %w", err)
	}
	if err := writer.WriteField("payload_json", string(payload)); err != nil {
		return nil, fmt.Errorf("messaging: failed to write payload part: %w", err)
	}
	for i, file := range files {
		part, err := writer.CreateFormFile(fmt.Sprintf("files[%d]", i), file.Name)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to create file part: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, fmt.Errorf("messaging: failed to write file part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("messaging: failed to finish multipart body: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buffer)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bot "+c.token)

	return c.finish(request, http.MethodPost, path)
}

// finish executes the request and maps non-2xx responses to *APIError.
func (c *Client) finish(request *http.Request, method, path string) ([]byte, error) {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var apiErr APIError
	if jsonErr := json.Unmarshal(responseBody, &apiErr); jsonErr != nil {
		// Non-JSON error body. Should not happen with the real
		// platform; fail loud with the raw body.
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	apiErr.StatusCode = response.StatusCode
	return responseBody, &apiErr
}
