// Package stats aggregates the mined dataset into per-card win rates.
package stats

import (
	"sort"

	"royale-miner/internal/dataset"
)

// CardStat is how the player fared in battles involving a card
type CardStat struct {
	Card    string
	Wins    int
	Matches int
	WinRate float64
	// PickRate is Matches over all battles in the table
	PickRate float64
}

// Summary holds both views of a table
type Summary struct {
	Battles int
	Wins    int
	// Deck is per card the player brought
	Deck []CardStat
	// Matchups is per card the opponent brought, from the player's side
	Matchups []CardStat
}

// WinRate is the player's overall win rate
func (s Summary) WinRate() float64 {
	if s.Battles == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Battles)
}

// Summarize aggregates table. A card repeated within one deck counts once per battle.
func Summarize(table *dataset.Table) Summary {
	var s Summary
	if table == nil {
		return s
	}

	deck := make(map[string]*CardStat)
	matchups := make(map[string]*CardStat)
	for _, row := range table.Rows {
		s.Battles++
		if row.TeamWon {
			s.Wins++
		}
		count(deck, row.Team.Cards, row.TeamWon)
		count(matchups, row.Opponent.Cards, row.TeamWon)
	}

	s.Deck = finish(deck, s.Battles)
	s.Matchups = finish(matchups, s.Battles)
	return s
}

func count(into map[string]*CardStat, cards [dataset.DeckSize]string, won bool) {
	seen := make(map[string]bool, len(cards))
	for _, card := range cards {
		if card == "" || seen[card] {
			continue
		}
		seen[card] = true

		stat, ok := into[card]
		if !ok {
			stat = &CardStat{Card: card}
			into[card] = stat
		}
		stat.Matches++
		if won {
			stat.Wins++
		}
	}
}

// finish computes rates and sorts by matches, then win rate, then name
func finish(in map[string]*CardStat, battles int) []CardStat {
	out := make([]CardStat, 0, len(in))
	for _, stat := range in {
		stat.WinRate = float64(stat.Wins) / float64(stat.Matches)
		stat.PickRate = float64(stat.Matches) / float64(battles)
		out = append(out, *stat)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Matches != out[j].Matches {
			return out[i].Matches > out[j].Matches
		}
		if out[i].WinRate != out[j].WinRate {
			return out[i].WinRate > out[j].WinRate
		}
		return out[i].Card < out[j].Card
	})
	return out
}

// Toughest returns up to n opponent cards the player loses to most, among
// cards seen at least minMatches times
func (s Summary) Toughest(n, minMatches int) []CardStat {
	var eligible []CardStat
	for _, stat := range s.Matchups {
		if stat.Matches >= minMatches {
			eligible = append(eligible, stat)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].WinRate < eligible[j].WinRate
	})
	if len(eligible) > n {
		eligible = eligible[:n]
	}
	return eligible
}
