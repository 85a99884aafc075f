// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package coord implements the inter-instance coordination protocol.
//
// Several unsynchronized bot processes present one voice to a chat
// guild. They cannot call each other; their only channel is a shared
// broadcast room on the chat platform, into which every instance posts
// and from which every instance reads. This package owns everything
// that crosses that channel: the envelope wire format, the recency hub
// that answers "has someone already confirmed this?", the timed backup
// callbacks that detect master silence, and the coordinator state
// machine that elects exactly one master, replicates state to
// newcomers, and recovers from master failure.
//
// The single externally visible rule: any user-visible action that
// must happen exactly once goes through Coordinator.EnsureDisplay.
// The master executes it and broadcasts confirmation; followers watch
// for that confirmation and only act (after a failover) when it never
// arrives.
//
// Delivery is at-least-once and unordered between observers, so every
// handler is idempotent. Brief dual-master windows during contested
// promotion are a documented, tolerated anomaly; the ENSURE_DISPLAY
// master-adoption rule converges observers onto the surviving
// claimant.
package coord
