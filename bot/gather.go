// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"fmt"
	"strings"
	"time"
)

// gatherMessageKey is the coordinator binding holding the gather list
// message id while a session runs.
const gatherMessageKey = "gathermsg"

// gatherTarget is the headcount a session needs: a full party for the
// twelve-slot map minus the host slots. "Later" answers count half;
// experience says about every second one shows up.
const gatherTarget = 8

// gatherStatus is a member's answer to the gather call.
type gatherStatus int

const (
	statusOK gatherStatus = iota
	statusLater
	statusNo
)

// gatherSession is one in-progress attempt to fill a game. Sessions
// are part of the replicated workspace: a promoted follower continues
// the same session, editing the same list message.
type gatherSession struct {
	// Gatherer is the member who opened the session.
	Gatherer int64

	// Gathered flips once the headcount is reached; the completion
	// announcement goes out exactly once.
	Gathered bool

	StartedAt time.Time

	// Answer lists, in answer order. A member appears in at most one.
	OK    []int64
	Later []int64
	No    []int64
}

// setStatus records a member's answer, moving them between lists if
// they answered before.
func (s *gatherSession) setStatus(member int64, status gatherStatus) {
	s.OK = removeMember(s.OK, member)
	s.Later = removeMember(s.Later, member)
	s.No = removeMember(s.No, member)

	switch status {
	case statusOK:
		s.OK = append(s.OK, member)
	case statusLater:
		s.Later = append(s.Later, member)
	case statusNo:
		s.No = append(s.No, member)
	}
}

// ready reports whether the session has gathered enough players.
func (s *gatherSession) ready() bool {
	return len(s.OK)+len(s.Later)/2 >= gatherTarget
}

// render builds the list message content. Members are shown as
// platform mentions so no name lookups are needed.
func (s *gatherSession) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Gathering for a game** (started by %s)\n", mention(s.Gatherer))
	fmt.Fprintf(&b, "OK (%d): %s\n", len(s.OK), mentionList(s.OK))
	fmt.Fprintf(&b, "Later (%d): %s\n", len(s.Later), mentionList(s.Later))
	fmt.Fprintf(&b, "No (%d): %s", len(s.No), mentionList(s.No))
	if s.Gathered {
		b.WriteString("\n\n**Gathered!**")
	}
	return b.String()
}

func removeMember(list []int64, member int64) []int64 {
	for i, m := range list {
		if m == member {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func mention(member int64) string {
	return fmt.Sprintf("<@%d>", member)
}

func mentionList(members []int64) string {
	if len(members) == 0 {
		return "nobody"
	}
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = mention(m)
	}
	return strings.Join(parts, " ")
}
