// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile writes files so readers never observe a partial
// state: write to a temporary file in the same directory, fsync,
// rename into place, then sync the parent directory.
//
// The SEND_DB replication path depends on this: a follower replacing
// its moderation database with the master's copy must either keep its
// old file or hold the complete new one, never a truncated hybrid.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically writes data to path with the given mode. The
// parent directory must exist.
func Write(path string, data []byte, mode os.FileMode) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("atomicfile: creating %s: %w", temporaryPath, err)
	}

	// Write, sync, close, in that order; on any failure remove the
	// temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("atomicfile: writing %s: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("atomicfile: syncing %s: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("atomicfile: closing %s: %w", temporaryPath, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("atomicfile: renaming into %s: %w", path, err)
	}

	// Sync the parent directory so the rename survives power loss
	// before the OS flushes directory metadata.
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}

	return nil
}

// Replace archives the current file at path to archivePath (moved
// aside, not deleted) and atomically writes data in its place. A
// missing current file is fine — there is simply nothing to archive.
// The archive directory is created if needed.
func Replace(path, archivePath string, data []byte, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
			return fmt.Errorf("atomicfile: creating archive directory: %w", err)
		}
		if err := os.Rename(path, archivePath); err != nil {
			return fmt.Errorf("atomicfile: archiving %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("atomicfile: checking %s: %w", path, err)
	}

	return Write(path, data, mode)
}
