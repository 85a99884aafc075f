// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration for Chorus.
//
// Every structured blob that crosses an instance boundary — most
// importantly the workspace snapshot on SEND_WORKSPACE — goes through
// this package, so all instances agree on one deterministic encoding.
// Consumers import codec, never fxamacker/cbor directly.
package codec
