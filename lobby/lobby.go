// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chorus-foundation/chorus/messaging"
)

// Lobby is one open game as the game-list APIs report it.
type Lobby struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Server      string `json:"server"`
	Map         string `json:"map"`
	Host        string `json:"host"`
	SlotsTaken  int    `json:"slotsTaken"`
	SlotsTotal  int    `json:"slotsTotal"`
	Created     int64  `json:"created"`
	LastUpdated int64  `json:"lastUpdated"`
}

func (l Lobby) String() string {
	return fmt.Sprintf("[id=%d name=%q server=%s map=%q host=%s slots=%d/%d]",
		l.ID, l.Name, l.Server, l.Map, l.Host, l.SlotsTaken, l.SlotsTotal)
}

// MessageIDKey is the coordinator binding name for a lobby's chat
// message id.
func MessageIDKey(lobbyID int64) string {
	return "lobbymsg" + strconv.FormatInt(lobbyID, 10)
}

// MapVersion describes one known release of the tracked map.
type MapVersion struct {
	FileName string

	// EntOnly marks builds prepared for the hosting service's bots;
	// they desync in plain battle.net lobbies.
	EntOnly bool

	// Deprecated marks superseded releases.
	Deprecated bool

	// Counterfeit marks third-party re-uploads masquerading as
	// official releases.
	Counterfeit bool
}

// KnownVersions is every release of the map the community has seen in
// the wild, newest first. Unlisted filenames get an "unknown version"
// warning in the lobby embed.
var KnownVersions = []MapVersion{
	{FileName: "Impossible.Bosses.v1.10.5.w3x"},
	{FileName: "Impossible.Bosses.v1.10.5-ent.w3x", EntOnly: true},
	{FileName: "Impossible.Bosses.v1.10.4-ent.w3x", EntOnly: true, Deprecated: true},
	{FileName: "Impossible.Bosses.v1.10.3-ent.w3x", EntOnly: true, Deprecated: true},
	{FileName: "Impossible.Bosses.v1.10.2-ent.w3x", EntOnly: true, Deprecated: true},
	{FileName: "Impossible.Bosses.v1.10.1-ent.w3x", EntOnly: true, Deprecated: true},

	{FileName: "Impossible_BossesReforgedV1.09Test.w3x", Deprecated: true},
	{FileName: "ImpossibleBossesEnt1.09.w3x", EntOnly: true, Deprecated: true},
	{FileName: "Impossible_BossesReforgedV1.09_UFWContinues.w3x", Counterfeit: true},
	{FileName: "Impossible_BossesReforgedV1.09UFW30.w3x", Counterfeit: true},
	{FileName: "Impossible_BossesReforgedV1.08Test.w3x", Deprecated: true},
	{FileName: "Impossible_BossesReforgedV1.07Test.w3x", Deprecated: true},
	{FileName: "Impossible_BossesTestversion1.06.w3x", Deprecated: true},
	{FileName: "Impossible_BossesReforgedV1.05.w3x", Deprecated: true},
	{FileName: "Impossible_BossesReforgedV1.02.w3x", Deprecated: true},

	{FileName: "Impossible Bosses BetaV3V.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV3R.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV3P.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV3E.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV3C.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV3A.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2X.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2W.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2S.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2J.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2F.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2E.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2D.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2C.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV2A.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV1Y.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV1X.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV1W.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV1V.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV1R.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV1P.w3x", Deprecated: true},
	{FileName: "Impossible Bosses BetaV1C.w3x", Deprecated: true},
}

// VersionFor looks up a map filename in the known-version table.
func VersionFor(mapFile string) (MapVersion, bool) {
	for _, version := range KnownVersions {
		if version.FileName == mapFile {
			return version, true
		}
	}
	return MapVersion{}, false
}

// Matcher selects the lobbies worth tracking out of the full game
// list.
type Matcher struct {
	keywords []string
}

// NewMatcher returns a Matcher requiring every keyword to appear in
// the lobby's map filename.
func NewMatcher(keywords []string) Matcher {
	return Matcher{keywords: keywords}
}

// Match reports whether the lobby's map contains every keyword.
func (m Matcher) Match(l Lobby) bool {
	for _, keyword := range m.keywords {
		if !strings.Contains(l.Map, keyword) {
			return false
		}
	}
	return len(m.keywords) > 0
}

// Embed colors for open and closed lobbies.
const (
	colorOpen   = 0x00FF00
	colorClosed = 0xFF0000
)

// Render builds the chat representation of the lobby: warning text for
// problem map versions, and the embed card. open selects the
// open/closed styling. Fails on game-list entries that cannot be the
// tracked map (wrong extension, impossible slot counts) — the caller
// skips those.
func (l Lobby) Render(open bool) (content string, embed messaging.Embed, err error) {
	if !strings.HasSuffix(l.Map, ".w3x") {
		return "", messaging.Embed{}, fmt.Errorf("lobby: bad map file %q", l.Map)
	}
	if l.SlotsTotal != 9 && l.SlotsTotal != 12 {
		return "", messaging.Embed{}, fmt.Errorf("lobby: expected 9 or 12 total slots, not %d, for map %q",
			l.SlotsTotal, l.Map)
	}

	mark := ""
	version, known := VersionFor(l.Map)
	switch {
	case !known:
		mark = ":question:"
		content = ":warning: *WARNING: Unknown map version* :warning:"
	case version.Counterfeit:
		mark = ":x:"
		content = ":warning: *WARNING: Counterfeit version* :warning:"
	case version.EntOnly:
		mark = ":x:"
		content = ":warning: *WARNING: Incompatible version* :warning:"
	case version.Deprecated:
		mark = ":x:"
		content = ":warning: *WARNING: Old map version* :warning:"
	}

	description := ""
	color := colorOpen
	if !open {
		description = "*started/unhosted*"
		color = colorClosed
	}

	embed = messaging.Embed{
		Title:       strings.TrimSuffix(l.Map, ".w3x") + "  " + mark,
		Description: description,
		Color:       color,
		Fields: []messaging.EmbedField{
			{Name: "Lobby Name", Value: l.Name},
			{Name: "Host", Value: l.Host, Inline: true},
			{Name: "Region", Value: l.Server, Inline: true},
			// One slot is the map's built-in observer; players never
			// see it, so it is excluded from the count.
			{Name: "Players", Value: fmt.Sprintf("%d / %d", l.SlotsTaken-1, l.SlotsTotal-1), Inline: true},
		},
	}
	return content, embed, nil
}
