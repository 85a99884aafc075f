// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawResponse mirrors the stats service's parsed-replay envelope.
type rawResponse struct {
	Body struct {
		ID   int64 `json:"id"`
		Data struct {
			Game rawGame `json:"game"`
		} `json:"data"`
	} `json:"body"`
}

type rawGame struct {
	Name    string      `json:"name"`
	Map     string      `json:"map"`
	Host    string      `json:"host"`
	Players []rawPlayer `json:"players"`
}

type rawPlayer struct {
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
	Slot   int    `json:"slot"`
	Colour string `json:"colour"`
	// Flags holds the win/loss marker; exactly one per player.
	Flags []string `json:"flags"`
	// Variables is the flat MMD key/value bag: hero state, overall
	// stats, and per-encounter stats under boss-name prefixes.
	Variables map[string]json.RawMessage `json:"variables"`
}

// Parse decodes a stats-service response into a Replay. The game-level
// facts (win flag, difficulty, continues) are recorded per player by
// the map; a disagreement between players means a corrupt or tampered
// replay and fails the parse.
func Parse(data []byte) (*Replay, error) {
	var response rawResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("replay: bad response envelope: %w", err)
	}
	game := response.Body.Data.Game
	if len(game.Players) == 0 {
		return nil, fmt.Errorf("replay: no players in game %q", game.Name)
	}

	replay := &Replay{
		ID:       response.Body.ID,
		GameName: game.Name,
		Map:      game.Map,
		Host:     game.Host,
	}

	var flag, difficulty, continues string
	for _, raw := range game.Players {
		if len(raw.Flags) != 1 {
			return nil, fmt.Errorf("replay: player %q has %d flags, want 1", raw.Name, len(raw.Flags))
		}
		if err := reconcile(&flag, raw.Flags[0], "flag"); err != nil {
			return nil, err
		}

		playerDifficulty, err := stringVar(raw.Variables, "difficulty")
		if err != nil {
			return nil, fmt.Errorf("replay: player %q: %w", raw.Name, err)
		}
		if err := reconcile(&difficulty, playerDifficulty, "difficulty"); err != nil {
			return nil, err
		}

		playerContinues, err := stringVar(raw.Variables, "continues")
		if err != nil {
			return nil, fmt.Errorf("replay: player %q: %w", raw.Name, err)
		}
		if err := reconcile(&continues, playerContinues, "continues"); err != nil {
			return nil, err
		}

		player, err := parsePlayer(raw)
		if err != nil {
			return nil, fmt.Errorf("replay: player %q: %w", raw.Name, err)
		}
		replay.Players = append(replay.Players, player)
	}

	switch flag {
	case "winner":
		replay.Win = true
	case "loser":
		replay.Win = false
	default:
		return nil, fmt.Errorf("replay: invalid result flag %q", flag)
	}

	parsed, err := parseDifficulty(difficulty)
	if err != nil {
		return nil, err
	}
	replay.Difficulty = parsed

	switch continues {
	case "yes":
		replay.Continues = true
	case "no":
		replay.Continues = false
	default:
		return nil, fmt.Errorf("replay: invalid continues value %q", continues)
	}

	return replay, nil
}

// GameID extracts just the uploaded game's id from a stats-service
// response. Used for the plain-link fallback when the full parse
// fails — the envelope id survives most schema drift in the game data.
func GameID(data []byte) (int64, bool) {
	var envelope struct {
		Body struct {
			ID int64 `json:"id"`
		} `json:"body"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Body.ID == 0 {
		return 0, false
	}
	return envelope.Body.ID, true
}

// reconcile sets *seen on first observation and rejects disagreement
// afterwards.
func reconcile(seen *string, value, what string) error {
	if *seen == "" {
		*seen = value
		return nil
	}
	if *seen != value {
		return fmt.Errorf("replay: inconsistent %s: %q and %q", what, *seen, value)
	}
	return nil
}

func parsePlayer(raw rawPlayer) (Player, error) {
	class, err := stringVar(raw.Variables, "class")
	if err != nil {
		return Player{}, err
	}

	player := Player{
		Name:          raw.Name,
		IsHost:        raw.IsHost,
		Slot:          raw.Slot,
		Colour:        raw.Colour,
		Class:         Class(class),
		Health:        numberVar(raw.Variables, "health"),
		Mana:          numberVar(raw.Variables, "mana"),
		Ability:       numberVar(raw.Variables, "ability"),
		MovementSpeed: numberVar(raw.Variables, "movementSpeed"),
		Coins:         numberVar(raw.Variables, "coins"),
		Overall:       statsFrom(raw.Variables, ""),
		PerBoss:       make(map[Boss]Stats, len(Bosses)),
	}
	for _, boss := range Bosses {
		player.PerBoss[boss] = statsFrom(raw.Variables, string(boss))
	}
	return player, nil
}

// statsFrom reads a Stats block from the variable bag. With an empty
// prefix the keys are bare ("deaths"); with a boss prefix they are
// camel-cased onto it ("fireDeaths").
func statsFrom(variables map[string]json.RawMessage, prefix string) Stats {
	key := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + strings.ToUpper(name[:1]) + name[1:]
	}
	return Stats{
		Deaths:            numberVar(variables, key("deaths")),
		Damage:            numberVar(variables, key("damage")),
		Healing:           numberVar(variables, key("healing")),
		HealingReceived:   numberVar(variables, key("healingReceived")),
		SWHealingReceived: numberVar(variables, key("sWHealingReceived")),
		Degen:             numberVar(variables, key("degen")),
	}
}

func stringVar(variables map[string]json.RawMessage, name string) (string, error) {
	raw, ok := variables[name]
	if !ok {
		return "", fmt.Errorf("missing variable %q", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("variable %q is not a string: %w", name, err)
	}
	return s, nil
}

// numberVar reads a numeric variable, tolerating absence and non-
// numeric junk as zero — stat variables are best effort, and a replay
// with a missing damage counter is still worth announcing.
func numberVar(variables map[string]json.RawMessage, name string) float64 {
	raw, ok := variables[name]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}
