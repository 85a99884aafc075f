// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chorus-foundation/chorus/coord"
	"github.com/chorus-foundation/chorus/lib/clock"
	"github.com/chorus-foundation/chorus/messaging"
)

// downKey is the coordinator binding holding the message id of the
// "game list down" warning while one is posted.
const downKey = "lobbyapidown"

// Displayer is the slice of the coordinator the tracker needs: routing
// chat writes through the deployment's choke point and sharing message
// ids between instances.
type Displayer interface {
	EnsureDisplay(ctx context.Context, action coord.Action, opts coord.DisplayOptions) error
	Bind(name string, value any)
	Unbind(name string)
	Binding(name string) (any, bool)
	Initialized() bool
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	API         *Client
	Chat        *messaging.Client
	ChannelID   messaging.ID
	Coordinator Displayer
	Matcher     Matcher

	// RefreshInterval is the poll period for Run. Defaults to 5s.
	RefreshInterval time.Duration

	// FetchTimeout bounds one game-list fetch. Refresh holds the
	// tracker lock across the fetch, so without a bound a stalled API
	// connection would wedge every lock holder, Open and Restore
	// included. Defaults to 4s, under the refresh interval.
	FetchTimeout time.Duration

	// RetriesBeforeWarning is how many consecutive game-list failures
	// pass silently before the public warning is posted. Defaults to
	// 10 — the list API flaps constantly and a warning per blip would
	// be noise.
	RetriesBeforeWarning int

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Tracker mirrors open lobbies into the public channel. All instances
// run a Tracker; chat writes flow through the coordinator so only the
// master touches the platform, and the per-lobby message ids it binds
// let any successor continue editing the same messages.
type Tracker struct {
	api         *Client
	chat        *messaging.Client
	channelID   messaging.ID
	coordinator Displayer
	matcher     Matcher
	interval    time.Duration
	fetchLimit  time.Duration
	retries     int
	clk         clock.Clock
	logger      *slog.Logger

	mu            sync.Mutex
	open          map[int64]Lobby
	fetchFailures int
}

// NewTracker validates the configuration and returns a Tracker.
func NewTracker(config TrackerConfig) (*Tracker, error) {
	if config.API == nil {
		return nil, fmt.Errorf("lobby: API is required")
	}
	if config.Chat == nil {
		return nil, fmt.Errorf("lobby: Chat is required")
	}
	if config.ChannelID == 0 {
		return nil, fmt.Errorf("lobby: ChannelID is required")
	}
	if config.Coordinator == nil {
		return nil, fmt.Errorf("lobby: Coordinator is required")
	}

	interval := config.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	fetchLimit := config.FetchTimeout
	if fetchLimit <= 0 {
		fetchLimit = 4 * time.Second
	}
	retries := config.RetriesBeforeWarning
	if retries <= 0 {
		retries = 10
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		api:         config.API,
		chat:        config.Chat,
		channelID:   config.ChannelID,
		coordinator: config.Coordinator,
		matcher:     config.Matcher,
		interval:    interval,
		fetchLimit:  fetchLimit,
		retries:     retries,
		clk:         clk,
		logger:      logger,
		open:        make(map[int64]Lobby),
	}, nil
}

// Run refreshes on the configured interval until ctx ends. Refreshes
// are skipped while the instance is uninitialized — an instance
// without replicated state would re-post every lobby it cannot know
// about.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clk.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !t.coordinator.Initialized() {
			continue
		}
		if err := t.Refresh(ctx); err != nil {
			t.logger.Error("lobby refresh failed", "error", err)
		}
	}
}

// Refresh fetches the game list once and reconciles the channel:
// closed lobbies get their embed flipped, surviving ones get their
// player counts updated, new ones get posted. Serialized — a slow
// refresh delays the next rather than overlapping it — with the fetch
// itself bounded by FetchTimeout.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, t.fetchLimit)
	lobbies, err := t.api.OpenLobbies(fetchCtx)
	cancel()
	if err != nil {
		t.noteFetchFailure(ctx, err)
		return nil
	}
	t.fetchFailures = 0
	t.clearDownWarning(ctx)

	matched := make(map[int64]Lobby)
	for _, l := range lobbies {
		if t.matcher.Match(l) {
			matched[l.ID] = l
		}
	}
	t.logger.Info("game list fetched", "total", len(lobbies), "matched", len(matched))

	for id, known := range t.open {
		latest, stillOpen := matched[id]
		if stillOpen {
			t.open[id] = latest
			t.editLobbyMessage(ctx, latest, true)
			continue
		}
		t.logger.Info("lobby closed", "lobby", known.String())
		t.editLobbyMessage(ctx, known, false)
		delete(t.open, id)
		t.coordinator.Unbind(MessageIDKey(id))
	}

	for id, l := range matched {
		if _, tracked := t.open[id]; tracked {
			continue
		}
		if t.postLobbyMessage(ctx, l) {
			t.open[id] = l
		}
	}
	return nil
}

// postLobbyMessage announces a new lobby through the coordinator,
// binding the created message id under the lobby's key. Returns false
// when the lobby cannot be rendered or the announcement failed; the
// lobby stays untracked and the next refresh retries.
func (t *Tracker) postLobbyMessage(ctx context.Context, l Lobby) bool {
	content, embed, err := l.Render(true)
	if err != nil {
		t.logger.Info("lobby skipped", "lobby", l.String(), "error", err)
		return false
	}
	t.logger.Info("lobby created", "lobby", l.String())

	err = t.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		message, err := t.chat.CreateMessage(ctx, t.channelID, messaging.Outgoing{
			Content: content,
			Embeds:  []messaging.Embed{embed},
		}, nil)
		if err != nil {
			return nil, err
		}
		return int64(message.ID), nil
	}, coord.DisplayOptions{ReturnName: MessageIDKey(l.ID)})
	if err != nil {
		t.logger.Error("lobby announcement failed", "lobby", l.String(), "error", err)
		return false
	}
	return true
}

// editLobbyMessage updates a lobby's existing embed. Edits are
// idempotent, so they ride through the coordinator without a return
// name. A lobby with no bound message id (its announcement never
// confirmed) is skipped.
func (t *Tracker) editLobbyMessage(ctx context.Context, l Lobby, open bool) {
	messageID, ok := t.boundMessageID(MessageIDKey(l.ID))
	if !ok {
		t.logger.Warn("no message bound for lobby", "lobby", l.String())
		return
	}
	content, embed, err := l.Render(open)
	if err != nil {
		t.logger.Info("lobby skipped", "lobby", l.String(), "error", err)
		return
	}

	err = t.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		_, err := t.chat.EditMessage(ctx, t.channelID, messageID, messaging.Outgoing{
			Content: content,
			Embeds:  []messaging.Embed{embed},
		})
		if messaging.IsNotFound(err) {
			// Someone deleted the message by hand; nothing to edit.
			return nil, nil
		}
		return nil, err
	}, coord.DisplayOptions{})
	if err != nil {
		t.logger.Error("lobby edit failed", "lobby", l.String(), "error", err)
	}
}

// noteFetchFailure counts consecutive game-list failures and posts the
// public warning once the streak is long enough.
func (t *Tracker) noteFetchFailure(ctx context.Context, err error) {
	t.fetchFailures++
	t.logger.Error("game list fetch failed", "consecutive", t.fetchFailures, "error", err)

	if t.fetchFailures < t.retries {
		return
	}
	if _, posted := t.coordinator.Binding(downKey); posted {
		return
	}

	err = t.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		message, err := t.chat.SendMessage(ctx, t.channelID,
			":warning: WARNING: game list API down, no lobby list :warning:")
		if err != nil {
			return nil, err
		}
		return int64(message.ID), nil
	}, coord.DisplayOptions{ReturnName: downKey})
	if err != nil {
		t.logger.Error("down warning failed", "error", err)
	}
}

// clearDownWarning deletes the outage warning once the list recovers.
func (t *Tracker) clearDownWarning(ctx context.Context) {
	messageID, posted := t.boundMessageID(downKey)
	if !posted {
		return
	}
	err := t.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		err := t.chat.DeleteMessage(ctx, t.channelID, messageID)
		if err != nil && !messaging.IsNotFound(err) {
			return nil, err
		}
		return nil, nil
	}, coord.DisplayOptions{})
	if err != nil {
		t.logger.Error("down warning cleanup failed", "error", err)
		return
	}
	t.coordinator.Unbind(downKey)
}

// boundMessageID reads an int64 message id binding.
func (t *Tracker) boundMessageID(key string) (messaging.ID, bool) {
	value, ok := t.coordinator.Binding(key)
	if !ok {
		return 0, false
	}
	id, ok := value.(int64)
	if !ok {
		return 0, false
	}
	return messaging.ID(id), true
}

// Open returns the tracked open lobbies in ascending id order, for the
// workspace snapshot.
func (t *Tracker) Open() []Lobby {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Lobby, 0, len(t.open))
	for _, l := range t.open {
		out = append(out, l)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Restore replaces the tracked set, used when applying a workspace
// snapshot from the master.
func (t *Tracker) Restore(lobbies []Lobby) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = make(map[int64]Lobby, len(lobbies))
	for _, l := range lobbies {
		t.open[l.ID] = l
	}
}
