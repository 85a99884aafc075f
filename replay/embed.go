// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chorus-foundation/chorus/messaging"
)

// Embed colors for win and loss cards.
const (
	colorWin  = 0xFFD700
	colorLoss = 0x36393F
)

// RenderEmbed builds the result card for an announced replay.
func RenderEmbed(r *Replay, viewURL string) messaging.Embed {
	result := "Defeat"
	color := colorLoss
	if r.Win {
		result = "Victory!"
		color = colorWin
	}

	descriptionParts := []string{string(r.Difficulty)}
	if r.Continues {
		descriptionParts = append(descriptionParts, "continues")
	} else {
		descriptionParts = append(descriptionParts, "no continues")
	}

	embed := messaging.Embed{
		Title:       fmt.Sprintf("%s — %s", result, r.GameName),
		Description: strings.Join(descriptionParts, ", "),
		URL:         viewURL,
		Color:       color,
		Footer:      &messaging.EmbedFooter{Text: r.Map},
	}

	// One field per player, ordered by damage dealt.
	players := append([]Player(nil), r.Players...)
	sort.Slice(players, func(i, j int) bool {
		return players[i].Overall.Damage > players[j].Overall.Damage
	})
	for _, p := range players {
		embed.Fields = append(embed.Fields, messaging.EmbedField{
			Name: fmt.Sprintf("%s (%s)", p.Name, p.Class),
			Value: fmt.Sprintf("dmg %s · heal %s · deaths %d",
				compact(p.Overall.Damage), compact(p.Overall.Healing), int(p.Overall.Deaths)),
			Inline: true,
		})
	}
	return embed
}

// FallbackContent is the plain announcement used when the parsed game
// data is unusable but the upload went through.
func FallbackContent(viewURL string) string {
	return "Replay uploaded: " + viewURL
}

// compact renders large stat numbers the way players say them.
func compact(v float64) string {
	switch {
	case v >= 1e6:
		return fmt.Sprintf("%.1fm", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fk", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
