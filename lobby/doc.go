// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package lobby tracks open multiplayer game lobbies and mirrors them
// into a chat channel: one embed per lobby, edited in place as player
// counts change and marked closed when the lobby disappears from the
// public game list.
//
// Posting a new lobby must happen exactly once across the deployment,
// so creation goes through the coordinator; the resulting chat message
// id is bound under a per-lobby name so every instance can edit the
// same message afterwards.
package lobby
