// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/chorus-foundation/chorus/lib/codec"
	"github.com/chorus-foundation/chorus/lobby"
	"github.com/chorus-foundation/chorus/warnstore"
)

// Replication attachments ride a chat platform with upload size limits,
// and SQLite files compress extremely well, so both snapshot kinds are
// zstd-compressed on the wire.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("bot: zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("bot: zstd decoder: %v", err))
	}
}

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

func decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("bot: decompressing snapshot: %w", err)
	}
	return out, nil
}

// DatabaseStore adapts the moderation store to the replication
// protocol, compressing the SQLite file on the wire.
type DatabaseStore struct {
	store *warnstore.Store
}

// NewDatabaseStore wraps a moderation store for replication.
func NewDatabaseStore(store *warnstore.Store) *DatabaseStore {
	return &DatabaseStore{store: store}
}

// Snapshot returns the compressed database file.
func (d *DatabaseStore) Snapshot(ctx context.Context) ([]byte, error) {
	raw, err := d.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return compress(raw), nil
}

// Replace installs a compressed database snapshot.
func (d *DatabaseStore) Replace(ctx context.Context, data []byte) error {
	raw, err := decompress(data)
	if err != nil {
		return err
	}
	return d.store.Replace(ctx, raw)
}

// workspaceSnapshot is the replicated in-memory state: everything a
// freshly booted follower needs to carry on as if it had been running
// all along. Serialized with the deterministic codec, compressed like
// the database.
type workspaceSnapshot struct {
	// Lobbies are the currently tracked open lobbies.
	Lobbies []lobby.Lobby `cbor:"lobbies"`

	// Bindings are the coordinator's shared named values: per-lobby
	// message ids, the gather list message id, the API-down warning.
	Bindings map[string]int64 `cbor:"bindings"`

	// Gather is the running gather session, if any.
	Gather *gatherSnapshot `cbor:"gather,omitempty"`
}

type gatherSnapshot struct {
	Gatherer  int64   `cbor:"gatherer"`
	Gathered  bool    `cbor:"gathered"`
	StartedAt int64   `cbor:"started_at"`
	OK        []int64 `cbor:"ok"`
	Later     []int64 `cbor:"later"`
	No        []int64 `cbor:"no"`
}

// WorkspaceStore exposes the bot's replicated state to the
// coordinator's SEND_WORKSPACE path.
type WorkspaceStore struct {
	bot *Bot
}

// WorkspaceStore returns the bot's side of workspace replication. Hand
// it to the coordinator's Config.
func (b *Bot) WorkspaceStore() *WorkspaceStore {
	return &WorkspaceStore{bot: b}
}

// Snapshot serializes the bot's replicable state.
func (w *WorkspaceStore) Snapshot(ctx context.Context) ([]byte, error) {
	b := w.bot

	snapshot := workspaceSnapshot{
		Lobbies:  b.tracker.Open(),
		Bindings: make(map[string]int64),
	}
	for name, value := range b.coordinator.BindingsWithPrefix("") {
		if id, ok := value.(int64); ok {
			snapshot.Bindings[name] = id
		}
	}

	b.mu.Lock()
	if s := b.gather; s != nil {
		snapshot.Gather = &gatherSnapshot{
			Gatherer:  s.Gatherer,
			Gathered:  s.Gathered,
			StartedAt: s.StartedAt.Unix(),
			OK:        append([]int64(nil), s.OK...),
			Later:     append([]int64(nil), s.Later...),
			No:        append([]int64(nil), s.No...),
		}
	}
	b.mu.Unlock()

	raw, err := codec.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("bot: encoding workspace snapshot: %w", err)
	}
	return compress(raw), nil
}

// Apply installs a workspace snapshot wholesale. Validation happens
// before any state changes: a snapshot that fails halfway would leave
// the instance half-initialized, which is worse than staying empty and
// asking again.
func (w *WorkspaceStore) Apply(ctx context.Context, data []byte) error {
	raw, err := decompress(data)
	if err != nil {
		return err
	}
	var snapshot workspaceSnapshot
	if err := codec.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("bot: decoding workspace snapshot: %w", err)
	}
	if err := validateSnapshot(&snapshot); err != nil {
		return err
	}

	b := w.bot
	b.tracker.Restore(snapshot.Lobbies)
	for name, id := range snapshot.Bindings {
		b.coordinator.Bind(name, id)
	}

	b.mu.Lock()
	if g := snapshot.Gather; g != nil {
		b.gather = &gatherSession{
			Gatherer:  g.Gatherer,
			Gathered:  g.Gathered,
			StartedAt: time.Unix(g.StartedAt, 0).UTC(),
			OK:        append([]int64(nil), g.OK...),
			Later:     append([]int64(nil), g.Later...),
			No:        append([]int64(nil), g.No...),
		}
	} else {
		b.gather = nil
	}
	b.mu.Unlock()

	b.logger.Info("workspace restored",
		"lobbies", len(snapshot.Lobbies),
		"bindings", len(snapshot.Bindings),
		"gather", snapshot.Gather != nil)
	return nil
}

func validateSnapshot(snapshot *workspaceSnapshot) error {
	for _, l := range snapshot.Lobbies {
		if l.ID <= 0 {
			return fmt.Errorf("bot: workspace snapshot has lobby with id %d", l.ID)
		}
	}
	for name, id := range snapshot.Bindings {
		if name == "" || id <= 0 {
			return fmt.Errorf("bot: workspace snapshot has unresolvable binding %q=%d", name, id)
		}
	}
	if g := snapshot.Gather; g != nil {
		if g.Gatherer <= 0 {
			return fmt.Errorf("bot: workspace snapshot has gather session without gatherer")
		}
		for _, list := range [][]int64{g.OK, g.Later, g.No} {
			for _, member := range list {
				if member <= 0 {
					return fmt.Errorf("bot: workspace snapshot has unresolvable member %d", member)
				}
			}
		}
	}
	return nil
}
