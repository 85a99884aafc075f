// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import "fmt"

// Difficulty is the game difficulty every player locked in.
type Difficulty string

const (
	DifficultyVeryEasy Difficulty = "Very Easy"
	DifficultyEasy     Difficulty = "Easy"
	DifficultyModerate Difficulty = "Moderate"
	DifficultyNormal   Difficulty = "Normal"
	DifficultyHard     Difficulty = "Hard"
)

func parseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(s); d {
	case DifficultyVeryEasy, DifficultyEasy, DifficultyModerate, DifficultyNormal, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("replay: unknown difficulty %q", s)
	}
}

// Class is a playable hero class.
type Class string

const (
	ClassDeathKnight Class = "Death Knight"
	ClassDruid       Class = "Druid"
	ClassFireMage    Class = "Fire Mage"
	ClassIceMage     Class = "Ice Mage"
	ClassPaladin     Class = "Paladin"
	ClassPriest      Class = "Priest"
	ClassRanger      Class = "Ranger"
	ClassRogue       Class = "Rogue"
	ClassWarlock     Class = "Warlock"
	ClassWarrior     Class = "Warrior"
)

// Boss names the ten encounters, in map order. They prefix the
// per-encounter stat variables in the replay data.
type Boss string

const (
	BossFire    Boss = "fire"
	BossWater   Boss = "water"
	BossBrute   Boss = "brute"
	BossThunder Boss = "thunder"
	BossDruid   Boss = "druid"
	BossShadow  Boss = "shadow"
	BossIce     Boss = "ice"
	BossLight   Boss = "light"
	BossAncient Boss = "ancient"
	BossDemonic Boss = "demonic"
)

// Bosses lists every encounter in map order.
var Bosses = []Boss{
	BossFire, BossWater, BossBrute, BossThunder, BossDruid,
	BossShadow, BossIce, BossLight, BossAncient, BossDemonic,
}

// Stats is one player's combat numbers, either for the whole game or
// for a single encounter.
type Stats struct {
	Deaths            float64
	Damage            float64
	Healing           float64
	HealingReceived   float64
	SWHealingReceived float64
	Degen             float64
}

// Player is one player's slot, class, and stats.
type Player struct {
	Name          string
	IsHost        bool
	Slot          int
	Colour        string
	Class         Class
	Health        float64
	Mana          float64
	Ability       float64
	MovementSpeed float64
	Coins         float64
	Overall       Stats
	PerBoss       map[Boss]Stats
}

// Replay is one parsed game.
type Replay struct {
	ID         int64
	GameName   string
	Map        string
	Host       string
	Players    []Player
	Win        bool
	Difficulty Difficulty
	Continues  bool
}
