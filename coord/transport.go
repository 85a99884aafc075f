// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import "context"

// Transport posts envelopes into the shared coordination channel. The
// chat-backed implementation lives in the messaging package; tests use
// in-process fakes. Send does not wait for any peer to observe the
// message — the channel gives at-least-once delivery with no ordering
// guarantee between observers.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// DatabaseStore is the durable store replicated by SEND_DB: the master
// snapshots it for newcomers, and a receiver replaces its local copy
// wholesale with the snapshot. Replace must be atomic — after a crash
// the store holds either the old or the new contents, never a blend.
type DatabaseStore interface {
	Snapshot(ctx context.Context) ([]byte, error)
	Replace(ctx context.Context, data []byte) error
}

// WorkspaceStore is the in-memory operational state replicated by
// SEND_WORKSPACE. Apply is all-or-nothing: if any part of the snapshot
// cannot be reconstructed, the whole application fails, the receiver
// stays uninitialized, and no ack is sent — the sender's state remains
// the authoritative copy.
type WorkspaceStore interface {
	Snapshot(ctx context.Context) ([]byte, error)
	Apply(ctx context.Context, data []byte) error
}
