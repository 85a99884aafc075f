// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import (
	"strings"
	"time"

	"github.com/chorus-foundation/chorus/lib/clock"
)

// Hub remembers recently received protocol messages per kind, each
// stamped with local receipt time, so a follower can ask "did a
// confirmation for this already arrive?" without keeping unbounded
// history. Entries older than maxAge are purged eagerly: every Record
// sweeps all kinds, so a quiet kind cannot pin stale entries.
//
// Hub is not safe for concurrent use on its own; the coordinator
// serializes access under its own lock.
type Hub struct {
	clk    clock.Clock
	maxAge time.Duration
	queues map[Kind][]hubEntry
}

type hubEntry struct {
	payload  string
	received time.Time
}

// NewHub returns an empty hub retaining entries for maxAge.
func NewHub(clk clock.Clock, maxAge time.Duration) *Hub {
	queues := make(map[Kind][]hubEntry, len(Kinds))
	for _, k := range Kinds {
		queues[k] = nil
	}
	return &Hub{clk: clk, maxAge: maxAge, queues: queues}
}

// Record notes receipt of a message, purging expired entries of every
// kind first.
func (h *Hub) Record(kind Kind, payload string) {
	now := h.clk.Now()
	h.purge(now)
	h.queues[kind] = append(h.queues[kind], hubEntry{payload: payload, received: now})
}

// SeenWithin reports whether a message of the given kind arrived
// within the last window. A non-empty returnName additionally requires
// the entry's payload to bind that name ("<returnName>=..."); named
// filtering only makes sense for ENSURE_DISPLAY payloads and panics
// for any other kind.
func (h *Hub) SeenWithin(kind Kind, window time.Duration, returnName string) bool {
	if returnName != "" && kind != KindEnsureDisplay {
		panic("coord: named hub lookup on non-ensure kind " + string(kind))
	}

	cutoff := h.clk.Now().Add(-window)
	for i := len(h.queues[kind]) - 1; i >= 0; i-- {
		e := h.queues[kind][i]
		if e.received.Before(cutoff) {
			break
		}
		if returnName == "" || strings.HasPrefix(e.payload, returnName+"=") {
			return true
		}
	}
	return false
}

// Len returns the number of retained entries for a kind.
func (h *Hub) Len(kind Kind) int { return len(h.queues[kind]) }

func (h *Hub) purge(now time.Time) {
	cutoff := now.Add(-h.maxAge)
	for kind, entries := range h.queues {
		keep := 0
		for keep < len(entries) && entries[keep].received.Before(cutoff) {
			keep++
		}
		if keep > 0 {
			h.queues[kind] = append([]hubEntry(nil), entries[keep:]...)
		}
	}
}
