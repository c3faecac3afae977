// Package dataset holds the flat match schema stored on disk, the flattener
// that produces it from battle log entries, and the merge that appends new
// rows to a previously stored table without duplicating matches.
package dataset

import (
	"fmt"
	"time"
)

// DeckSize is the number of cards every side must carry
const DeckSize = 8

// Side is one participant flattened to fixed columns
type Side struct {
	Tag              string
	Name             string
	StartingTrophies int
	TrophyChange     int
	Crowns           int
	Cards            [DeckSize]string
	CardLevels       [DeckSize]int
}

// FlatRow is a single PvP match in the stored column layout
type FlatRow struct {
	BattleTime time.Time
	Team       Side
	Opponent   Side
	TeamWon    bool
}

// MatchKey identifies a match for deduplication. Battle time and the team
// side are deliberately not part of it.
type MatchKey struct {
	OpponentTag              string
	OpponentName             string
	OpponentStartingTrophies int
	OpponentTrophyChange     int
}

// Key returns the identity key of the row
func (r FlatRow) Key() MatchKey {
	return MatchKey{
		OpponentTag:              r.Opponent.Tag,
		OpponentName:             r.Opponent.Name,
		OpponentStartingTrophies: r.Opponent.StartingTrophies,
		OpponentTrophyChange:     r.Opponent.TrophyChange,
	}
}

// Table is the ordered dataset of record. A nil *Table means "no dataset yet",
// which is not the same thing as a table with zero rows.
type Table struct {
	Rows []FlatRow
}

// Len returns the number of rows, treating a nil table as empty
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Columns returns the stored column names in order
func Columns() []string {
	cols := []string{"battle_time"}
	cols = append(cols, sideColumns("team")...)
	cols = append(cols, sideColumns("opponent")...)
	return append(cols, "team_won")
}

func sideColumns(prefix string) []string {
	cols := []string{
		prefix + "_tag",
		prefix + "_name",
		prefix + "_starting_trophies",
		prefix + "_trophy_change",
		prefix + "_crowns",
	}
	for i := 1; i <= DeckSize; i++ {
		cols = append(cols, fmt.Sprintf("%s_card_%d", prefix, i))
	}
	for i := 1; i <= DeckSize; i++ {
		cols = append(cols, fmt.Sprintf("%s_card_%d_level", prefix, i))
	}
	return cols
}
