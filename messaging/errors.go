// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// APIError is a structured error response from the chat platform.
// Callers can use errors.As to extract the structured information:
//
//	var apiErr *messaging.APIError
//	if errors.As(err, &apiErr) {
//	    if apiErr.StatusCode == http.StatusNotFound { ... }
//	}
type APIError struct {
	// Code is the platform's numeric error code.
	Code int `json:"code"`
	// Message is the human-readable description from the server.
	Message string `json:"message"`
	// RetryAfter is set on rate-limit responses: seconds to wait.
	RetryAfter float64 `json:"retry_after"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat: %d (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a platform rate-limit response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

// IsNotFound reports whether err is a platform 404 — a deleted message
// or channel, usually.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
