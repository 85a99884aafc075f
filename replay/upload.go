// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// maxUploadResponseBytes bounds the parsed-replay response. Stat-heavy
// twelve-player games run a few hundred kilobytes.
const maxUploadResponseBytes = 16 << 20

// UploaderConfig configures an Uploader. URL is required.
type UploaderConfig struct {
	// URL is the stats service upload endpoint.
	URL string

	// ViewURL is the human-facing game page prefix; the game id is
	// appended. Defaults to the community site.
	ViewURL string

	// HTTPClient defaults to a client with a 2 m timeout: an upload
	// plus parse can legitimately take most of a minute, but must not
	// hang forever.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Uploader submits replay files to the stats service.
type Uploader struct {
	url        string
	viewURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewUploader validates the configuration and returns an Uploader.
func NewUploader(config UploaderConfig) (*Uploader, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("replay: URL is required")
	}
	viewURL := config.ViewURL
	if viewURL == "" {
		viewURL = "https://wc3stats.com/games/"
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		url:        config.URL,
		viewURL:    viewURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Upload submits one replay file and returns the parsed game. The raw
// response is returned alongside so a caller can fall back to a plain
// announcement when parsing fails.
func (u *Uploader) Upload(ctx context.Context, filename string, data []byte) (*Replay, []byte, error) {
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: failed to create upload part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, nil, fmt.Errorf("replay: failed to write upload part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, nil, fmt.Errorf("replay: failed to finish upload body: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &buffer)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: failed to create upload request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := u.httpClient.Do(request)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: uploading %s: %w", filename, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxUploadResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("replay: reading upload response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("replay: uploading %s: unexpected status %d: %s",
			filename, response.StatusCode, body)
	}

	replay, err := Parse(body)
	if err != nil {
		// The upload itself succeeded; hand the body back for the
		// plain-link fallback.
		return nil, body, fmt.Errorf("replay: parsing upload response for %s: %w", filename, err)
	}
	u.logger.Info("replay uploaded", "file", filename, "game_id", replay.ID, "win", replay.Win)
	return replay, body, nil
}

// ViewURL returns the human-facing page for an uploaded game id.
func (u *Uploader) ViewURL(gameID int64) string {
	return fmt.Sprintf("%s%d", u.viewURL, gameID)
}
