// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"strings"
	"testing"
)

func testLobby() Lobby {
	return Lobby{
		ID:         314,
		Name:       "IB 1.10.5 all welcome",
		Server:     "usw",
		Map:        "Impossible.Bosses.v1.10.5.w3x",
		Host:       "hostbot",
		SlotsTaken: 5,
		SlotsTotal: 12,
	}
}

func TestMatcherRequiresAllKeywords(t *testing.T) {
	m := NewMatcher([]string{"Impossible", "Bosses"})

	if !m.Match(testLobby()) {
		t.Error("target lobby not matched")
	}
	other := testLobby()
	other.Map = "DotA Allstars v6.83.w3x"
	if m.Match(other) {
		t.Error("unrelated lobby matched")
	}
	partial := testLobby()
	partial.Map = "Impossible Quiz.w3x"
	if m.Match(partial) {
		t.Error("partial keyword match accepted")
	}
}

func TestMatcherEmptyKeywordsMatchesNothing(t *testing.T) {
	if NewMatcher(nil).Match(testLobby()) {
		t.Error("empty matcher accepted a lobby")
	}
}

func TestRenderOpenLobby(t *testing.T) {
	content, embed, err := testLobby().Render(true)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if content != "" {
		t.Errorf("current version produced warning %q", content)
	}
	if embed.Color != colorOpen {
		t.Errorf("color = %#x, want open green", embed.Color)
	}
	if !strings.HasPrefix(embed.Title, "Impossible.Bosses.v1.10.5") {
		t.Errorf("title = %q", embed.Title)
	}
	// The observer slot is hidden from the player count.
	var players string
	for _, field := range embed.Fields {
		if field.Name == "Players" {
			players = field.Value
		}
	}
	if players != "4 / 11" {
		t.Errorf("players = %q, want 4 / 11", players)
	}
}

func TestRenderClosedLobby(t *testing.T) {
	_, embed, err := testLobby().Render(false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if embed.Color != colorClosed {
		t.Errorf("color = %#x, want closed red", embed.Color)
	}
	if embed.Description != "*started/unhosted*" {
		t.Errorf("description = %q", embed.Description)
	}
}

func TestRenderVersionWarnings(t *testing.T) {
	tests := []struct {
		name    string
		mapFile string
		warning string
	}{
		{"unknown", "Impossible.Bosses.v9.99.w3x", "Unknown map version"},
		{"counterfeit", "Impossible_BossesReforgedV1.09UFW30.w3x", "Counterfeit version"},
		{"ent only", "Impossible.Bosses.v1.10.5-ent.w3x", "Incompatible version"},
		{"deprecated", "Impossible_BossesReforgedV1.08Test.w3x", "Old map version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := testLobby()
			l.Map = tt.mapFile
			content, _, err := l.Render(true)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if !strings.Contains(content, tt.warning) {
				t.Errorf("content = %q, want %q warning", content, tt.warning)
			}
		})
	}
}

func TestRenderRejectsImplausibleEntries(t *testing.T) {
	bad := testLobby()
	bad.Map = "Impossible.Bosses.v1.10.5.scx"
	if _, _, err := bad.Render(true); err == nil {
		t.Error("non-w3x map rendered")
	}

	bad = testLobby()
	bad.SlotsTotal = 10
	if _, _, err := bad.Render(true); err == nil {
		t.Error("10-slot lobby rendered")
	}
}

func TestVersionForPrecedence(t *testing.T) {
	version, ok := VersionFor("Impossible.Bosses.v1.10.5.w3x")
	if !ok || version.Deprecated || version.EntOnly || version.Counterfeit {
		t.Errorf("current version flags = %+v, ok = %v", version, ok)
	}
	if _, ok := VersionFor("NotARealMap.w3x"); ok {
		t.Error("unknown map reported known")
	}
}

func TestMessageIDKey(t *testing.T) {
	if got := MessageIDKey(314); got != "lobbymsg314" {
		t.Errorf("MessageIDKey = %q", got)
	}
}
