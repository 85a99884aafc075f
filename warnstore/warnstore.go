// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package warnstore is the bot's durable store: moderation warnings
// and gather-notification subscriptions, in a single SQLite file.
//
// The file is what SEND_DB replicates. Snapshot produces a consistent
// byte-for-byte copy via VACUUM INTO; Replace swaps the whole file
// under the closed pool, archiving the previous copy first, so a crash
// mid-replace never leaves a half-written database.
package warnstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/chorus-foundation/chorus/lib/atomicfile"
	"github.com/chorus-foundation/chorus/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS warnings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	moderator_id INTEGER NOT NULL,
	reason TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS warnings_user ON warnings(user_id);

CREATE TABLE IF NOT EXISTS subscribers (
	user_id INTEGER PRIMARY KEY
);
`

// Warning is one moderation strike against a user.
type Warning struct {
	ID          int64
	UserID      int64
	ModeratorID int64
	Reason      string
	CreatedAt   time.Time
}

// Config configures a Store. Path is required.
type Config struct {
	// Path is the database file.
	Path string

	// ArchivePath receives the previous database file before Replace
	// installs a replicated copy. Defaults to Path + ".prev".
	ArchivePath string

	// Logger defaults to discard.
	Logger *slog.Logger
}

// Store wraps the SQLite file with the bot's queries plus the
// wholesale snapshot/replace cycle the replication protocol needs.
// Safe for concurrent use.
type Store struct {
	path        string
	archivePath string
	logger      *slog.Logger

	// mu guards pool replacement: Replace closes and reopens the
	// pool, and queries must not race the swap.
	mu   sync.RWMutex
	pool *sqlitepool.Pool

	// lastDigest is the digest of the most recently applied snapshot,
	// so redelivered SEND_DB blobs skip the close/swap/reopen cycle.
	lastDigest [32]byte
	hasDigest  bool
}

// Open opens (creating if needed) the store.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("warnstore: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	archivePath := cfg.ArchivePath
	if archivePath == "" {
		archivePath = cfg.Path + ".prev"
	}

	pool, err := openPool(cfg.Path, logger)
	if err != nil {
		return nil, err
	}
	return &Store{
		path:        cfg.Path,
		archivePath: archivePath,
		logger:      logger,
		pool:        pool,
	}, nil
}

func openPool(path string, logger *slog.Logger) (*sqlitepool.Pool, error) {
	return sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil
	}
	err := s.pool.Close()
	s.pool = nil
	return err
}

// take hands out a pooled connection. The pool is nil only in the
// narrow state where a snapshot install failed and the database could
// not be reopened either.
func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("warnstore: database unavailable after failed snapshot install")
	}
	return s.pool.Take(ctx)
}

// AddWarning records a strike and returns its id.
func (s *Store) AddWarning(ctx context.Context, userID, moderatorID int64, reason string, at time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO warnings (user_id, moderator_id, reason, created_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{userID, moderatorID, reason, at.Unix()}})
	if err != nil {
		return 0, fmt.Errorf("warnstore: adding warning for %d: %w", userID, err)
	}
	return conn.LastInsertRowID(), nil
}

// Warnings returns a user's strikes, oldest first.
func (s *Store) Warnings(ctx context.Context, userID int64) ([]Warning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var warnings []Warning
	err = sqlitex.Execute(conn,
		`SELECT id, user_id, moderator_id, reason, created_at FROM warnings WHERE user_id = ? ORDER BY id`,
		&sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				warnings = append(warnings, Warning{
					ID:          stmt.ColumnInt64(0),
					UserID:      stmt.ColumnInt64(1),
					ModeratorID: stmt.ColumnInt64(2),
					Reason:      stmt.ColumnText(3),
					CreatedAt:   time.Unix(stmt.ColumnInt64(4), 0).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("warnstore: listing warnings for %d: %w", userID, err)
	}
	return warnings, nil
}

// Subscribe adds a user to the gather-notification list. Subscribing
// twice is a no-op.
func (s *Store) Subscribe(ctx context.Context, userID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO subscribers (user_id) VALUES (?)`,
		&sqlitex.ExecOptions{Args: []any{userID}})
	if err != nil {
		return fmt.Errorf("warnstore: subscribing %d: %w", userID, err)
	}
	return nil
}

// Unsubscribe removes a user from the notification list.
func (s *Store) Unsubscribe(ctx context.Context, userID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM subscribers WHERE user_id = ?`,
		&sqlitex.ExecOptions{Args: []any{userID}})
	if err != nil {
		return fmt.Errorf("warnstore: unsubscribing %d: %w", userID, err)
	}
	return nil
}

// Subscribers returns every subscribed user id, ascending.
func (s *Store) Subscribers(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var users []int64
	err = sqlitex.Execute(conn,
		`SELECT user_id FROM subscribers ORDER BY user_id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				users = append(users, stmt.ColumnInt64(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("warnstore: listing subscribers: %w", err)
	}
	return users, nil
}

// Snapshot returns a consistent copy of the database file. VACUUM INTO
// writes a complete, compacted database regardless of in-flight WAL
// state, which makes the result safe to install on another instance
// with Replace.
func (s *Store) Snapshot(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	tmp := filepath.Join(filepath.Dir(s.path), fmt.Sprintf(".snapshot-%d.db", time.Now().UnixNano()))
	defer os.Remove(tmp)

	err = sqlitex.Execute(conn, `VACUUM INTO ?`, &sqlitex.ExecOptions{Args: []any{tmp}})
	if err != nil {
		return nil, fmt.Errorf("warnstore: snapshot: %w", err)
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("warnstore: reading snapshot: %w", err)
	}
	return data, nil
}

// Replace installs a replicated database wholesale: close the pool,
// archive the current file, atomically write the new one, reopen.
// Redelivered snapshots (same digest as the last applied one) are
// skipped without touching the file. A failure mid-install reopens
// whatever file is present, so the store keeps serving its previous
// contents and the next SEND_DB retries cleanly.
func (s *Store) Replace(ctx context.Context, data []byte) error {
	digest := blake3.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasDigest && digest == s.lastDigest {
		s.logger.Info("database snapshot unchanged, skipping replace")
		return nil
	}

	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			return fmt.Errorf("warnstore: closing pool for replace: %w", err)
		}
		s.pool = nil
	}

	// WAL sidecars describe the old file; they must not survive the
	// swap.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return s.reopenLocked(fmt.Errorf("warnstore: removing %s sidecar: %w", suffix, err))
		}
	}

	if err := atomicfile.Replace(s.path, s.archivePath, data, 0o600); err != nil {
		return s.reopenLocked(fmt.Errorf("warnstore: installing snapshot: %w", err))
	}

	pool, err := openPool(s.path, s.logger)
	if err != nil {
		return fmt.Errorf("warnstore: reopening after replace: %w", err)
	}
	s.pool = pool
	s.lastDigest = digest
	s.hasDigest = true
	s.logger.Info("database snapshot installed", "bytes", len(data))
	return nil
}

// reopenLocked restores service on whatever file is on disk after a
// failed install, so queries keep working and a later Replace retries
// from a working pool. The install error is returned either way.
func (s *Store) reopenLocked(cause error) error {
	pool, err := openPool(s.path, s.logger)
	if err != nil {
		s.logger.Error("reopen after failed snapshot install failed", "error", err)
		return cause
	}
	s.pool = pool
	return cause
}
