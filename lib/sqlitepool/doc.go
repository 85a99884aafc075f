// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the Chorus-standard SQLite connection pool.
//
// It wraps zombiezen.com/go/sqlite with the pragmas the moderation
// store wants: WAL journaling, NORMAL synchronous, busy timeout, and
// foreign keys on. Callers Take a connection, work, and Put it back;
// connections are not safe for concurrent use.
package sqlitepool
