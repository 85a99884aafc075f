// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay handles game replay files: uploading them to the
// community stats service, parsing the parsed-game response, and
// rendering a result card for chat. A replay that uploads but fails to
// parse still gets announced as a plain link — the upload is the part
// players care about.
package replay
