// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// The coordination protocol's behavior is defined almost entirely by
// timeouts: the self-promotion window at boot, the ensure-display
// backup window, and the message hub's recency checks. Injecting a
// Clock lets the protocol tests drive those windows deterministically
// with a FakeClock instead of sleeping through them.
package clock
