// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chorus-foundation/chorus/lib/clock"
)

// pollBatchLimit caps messages fetched per poll. The platform allows
// up to 100.
const pollBatchLimit = 100

// maxPollFailures is the number of consecutive poll failures allowed
// before Run gives up. Transient platform errors are routine; a long
// streak means the instance is better off restarting.
const maxPollFailures = 30

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Client    *Client
	ChannelID ID

	// Handle is called for every new message, oldest first, from the
	// watcher's goroutine. It must not block for long — the channel is
	// not re-polled until it returns.
	Handle func(ctx context.Context, message Message)

	// Interval is the poll period. Defaults to 1s.
	Interval time.Duration

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher tails one channel by polling, delivering each message after
// its start position exactly once to the handler. Messages posted
// before the watcher started are skipped — on boot the protocol
// re-announces rather than replaying history.
type Watcher struct {
	client    *Client
	channelID ID
	handle    func(ctx context.Context, message Message)
	interval  time.Duration
	clk       clock.Clock
	logger    *slog.Logger

	lastID ID
}

// NewWatcher validates the configuration and returns a Watcher.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("messaging: Client is required")
	}
	if config.ChannelID == 0 {
		return nil, fmt.Errorf("messaging: ChannelID is required")
	}
	if config.Handle == nil {
		return nil, fmt.Errorf("messaging: Handle is required")
	}

	interval := config.Interval
	if interval <= 0 {
		interval = time.Second
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		client:    config.Client,
		channelID: config.ChannelID,
		handle:    config.Handle,
		interval:  interval,
		clk:       clk,
		logger:    logger.With("channel", config.ChannelID),
	}, nil
}

// Run polls until ctx ends. Returns nil on context cancellation, an
// error after too many consecutive poll failures.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.anchor(ctx); err != nil {
		return err
	}

	ticker := w.clk.NewTicker(w.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			// Pooled connections go bad across network blips; dial
			// fresh on the next attempt.
			w.client.CloseIdleConnections()
			if failures >= maxPollFailures {
				return fmt.Errorf("messaging: channel poll failed %d consecutive times: %w", failures, err)
			}
			w.logger.Warn("channel poll failed", "attempt", failures, "error", err)
			if IsRateLimited(err) {
				w.backoff(ctx, err)
			}
			continue
		}
		failures = 0
	}
}

// anchor records the newest message id so polling starts at "now".
func (w *Watcher) anchor(ctx context.Context) error {
	messages, err := w.client.MessagesAfter(ctx, w.channelID, 0, 1)
	if err != nil {
		return fmt.Errorf("messaging: anchoring channel watch: %w", err)
	}
	if len(messages) > 0 {
		w.lastID = messages[len(messages)-1].ID
	}
	w.logger.Info("channel watch started", "after", w.lastID)
	return nil
}

func (w *Watcher) poll(ctx context.Context) error {
	messages, err := w.client.MessagesAfter(ctx, w.channelID, w.lastID, pollBatchLimit)
	if err != nil {
		return err
	}
	for _, message := range messages {
		w.lastID = message.ID
		w.handle(ctx, message)
	}
	return nil
}

// backoff sleeps out a rate-limit window, bounded by ctx.
func (w *Watcher) backoff(ctx context.Context, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
		return
	}
	wait := time.Duration(apiErr.RetryAfter * float64(time.Second))
	w.logger.Info("rate limited", "retry_after", wait)
	select {
	case <-ctx.Done():
	case <-w.clk.After(wait):
	}
}
