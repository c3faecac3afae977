package royale

import (
	"errors"
	"fmt"
	"time"
)

// BattleTimeLayout is the timestamp format used by the battlelog endpoint
const BattleTimeLayout = "20060102T150405.000Z"

// BattleTypePvP is the only battle type kept in the dataset
const BattleTypePvP = "PvP"

// ErrMissingField marks a battle log entry that lacks a field every row needs
var ErrMissingField = errors.New("battle log entry missing field")

// Card is one card of a deck as it was played in a battle
type Card struct {
	Name      string
	ID        int
	Level     int
	StarLevel *int // nil when the API omits it
	MaxLevel  int
}

// BattleLogPlayer is one participant on one side of a battle
type BattleLogPlayer struct {
	Tag                     string
	Name                    string
	StartingTrophies        int
	TrophyChange            int
	Crowns                  int
	KingTowerHitPoints      *int
	PrincessTowersHitPoints []int
	Cards                   []Card
}

// BattleLogEntry is a single battle from a player's battle log
type BattleLogEntry struct {
	Type         string
	BattleTime   time.Time
	GameModeID   int
	GameModeName string
	Team         []BattleLogPlayer
	Opponent     []BattleLogPlayer
}

// Player is the profile returned by /players/{tag}
type Player struct {
	Tag            string `json:"tag"`
	Name           string `json:"name"`
	ExpLevel       int    `json:"expLevel"`
	Trophies       int    `json:"trophies"`
	BestTrophies   int    `json:"bestTrophies"`
	Wins           int    `json:"wins"`
	Losses         int    `json:"losses"`
	BattleCount    int    `json:"battleCount"`
	ThreeCrownWins int    `json:"threeCrownWins"`
}

// battleResponse mirrors one element of the /players/{tag}/battlelog array
type battleResponse struct {
	Type       string `json:"type"`
	BattleTime string `json:"battleTime"`
	GameMode   struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"gameMode"`
	Team     []participantResponse `json:"team"`
	Opponent []participantResponse `json:"opponent"`
}

// participantResponse uses pointers for the fields a row cannot do without,
// so an absent field is told apart from a zero value.
type participantResponse struct {
	Tag                     *string        `json:"tag"`
	Name                    *string        `json:"name"`
	StartingTrophies        *int           `json:"startingTrophies"`
	TrophyChange            *int           `json:"trophyChange"`
	Crowns                  *int           `json:"crowns"`
	KingTowerHitPoints      *int           `json:"kingTowerHitPoints"`
	PrincessTowersHitPoints []int          `json:"princessTowersHitPoints"`
	Cards                   []cardResponse `json:"cards"`
}

type cardResponse struct {
	Name      *string `json:"name"`
	ID        int     `json:"id"`
	Level     int     `json:"level"`
	StarLevel *int    `json:"starLevel"`
	MaxLevel  int     `json:"maxLevel"`
}

// cardsResponse represents the response from /cards
type cardsResponse struct {
	Items []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"items"`
}

func (b battleResponse) toEntry() (BattleLogEntry, error) {
	battleTime, err := time.Parse(BattleTimeLayout, b.BattleTime)
	if err != nil {
		return BattleLogEntry{}, fmt.Errorf("invalid battleTime %q: %w", b.BattleTime, err)
	}

	// Only PvP battles become dataset rows. Other modes routinely omit trophies.
	strict := b.Type == BattleTypePvP
	team, err := toPlayers("team", b.Team, strict)
	if err != nil {
		return BattleLogEntry{}, err
	}
	opponent, err := toPlayers("opponent", b.Opponent, strict)
	if err != nil {
		return BattleLogEntry{}, err
	}

	return BattleLogEntry{
		Type:         b.Type,
		BattleTime:   battleTime,
		GameModeID:   b.GameMode.ID,
		GameModeName: b.GameMode.Name,
		Team:         team,
		Opponent:     opponent,
	}, nil
}

func toPlayers(side string, in []participantResponse, strict bool) ([]BattleLogPlayer, error) {
	players := make([]BattleLogPlayer, 0, len(in))
	for i, p := range in {
		if missing := p.missingField(); strict && missing != "" {
			return nil, fmt.Errorf("%s[%d].%s: %w", side, i, missing, ErrMissingField)
		}

		cards := make([]Card, 0, len(p.Cards))
		for j, c := range p.Cards {
			if strict && c.Name == nil {
				return nil, fmt.Errorf("%s[%d].cards[%d].name: %w", side, i, j, ErrMissingField)
			}
			cards = append(cards, Card{
				Name:      deref(c.Name),
				ID:        c.ID,
				Level:     c.Level,
				StarLevel: c.StarLevel,
				MaxLevel:  c.MaxLevel,
			})
		}
		players = append(players, BattleLogPlayer{
			Tag:                     deref(p.Tag),
			Name:                    deref(p.Name),
			StartingTrophies:        deref(p.StartingTrophies),
			TrophyChange:            deref(p.TrophyChange),
			Crowns:                  deref(p.Crowns),
			KingTowerHitPoints:      p.KingTowerHitPoints,
			PrincessTowersHitPoints: p.PrincessTowersHitPoints,
			Cards:                   cards,
		})
	}
	return players, nil
}

// missingField names the first required field absent from the payload
func (p participantResponse) missingField() string {
	switch {
	case p.Tag == nil:
		return "tag"
	case p.Name == nil:
		return "name"
	case p.StartingTrophies == nil:
		return "startingTrophies"
	case p.TrophyChange == nil:
		return "trophyChange"
	case p.Crowns == nil:
		return "crowns"
	case p.Cards == nil:
		return "cards"
	}
	return ""
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// FilterPvP keeps only head-to-head ladder battles, preserving order
func FilterPvP(entries []BattleLogEntry) []BattleLogEntry {
	pvp := make([]BattleLogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Type == BattleTypePvP {
			pvp = append(pvp, e)
		}
	}
	return pvp
}
