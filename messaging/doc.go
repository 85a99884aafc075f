// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the chat platform client: a thin REST layer for
// sending, editing, and polling channel messages, plus the adapters
// that turn one channel into the coordination transport.
//
// Every instance shares one bot identity on the platform. The
// coordination channel carries protocol envelopes (package coord); the
// public channels carry user commands and the bot's replies.
package messaging
