package dataset

import (
	"errors"
	"fmt"

	"royale-miner/internal/royale"
)

// ErrMalformedEntry is returned when an entry cannot be flattened without guessing
var ErrMalformedEntry = errors.New("malformed battle log entry")

// Flatten converts PvP entries to rows, one per entry, in input order.
// A single malformed entry fails the whole batch; nothing is padded or skipped.
func Flatten(entries []royale.BattleLogEntry) ([]FlatRow, error) {
	rows := make([]FlatRow, 0, len(entries))
	for i, entry := range entries {
		row, err := FlattenEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, entry.BattleTime.Format(royale.BattleTimeLayout), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FlattenEntry converts a single entry using the first participant of each side
func FlattenEntry(entry royale.BattleLogEntry) (FlatRow, error) {
	if len(entry.Team) == 0 {
		return FlatRow{}, fmt.Errorf("%w: no team participant", ErrMalformedEntry)
	}
	if len(entry.Opponent) == 0 {
		return FlatRow{}, fmt.Errorf("%w: no opponent participant", ErrMalformedEntry)
	}

	team, err := flattenSide(entry.Team[0])
	if err != nil {
		return FlatRow{}, fmt.Errorf("team: %w", err)
	}
	opponent, err := flattenSide(entry.Opponent[0])
	if err != nil {
		return FlatRow{}, fmt.Errorf("opponent: %w", err)
	}

	return FlatRow{
		BattleTime: entry.BattleTime.UTC(),
		Team:       team,
		Opponent:   opponent,
		// a draw (0) counts as not won
		TeamWon: team.TrophyChange > 0,
	}, nil
}

func flattenSide(p royale.BattleLogPlayer) (Side, error) {
	if len(p.Cards) != DeckSize {
		return Side{}, fmt.Errorf("%w: %s has %d cards, want %d", ErrMalformedEntry, p.Tag, len(p.Cards), DeckSize)
	}

	side := Side{
		Tag:              p.Tag,
		Name:             p.Name,
		StartingTrophies: p.StartingTrophies,
		TrophyChange:     p.TrophyChange,
		Crowns:           p.Crowns,
	}
	for i, card := range p.Cards {
		side.Cards[i] = card.Name
		side.CardLevels[i] = card.Level
	}
	return side, nil
}
