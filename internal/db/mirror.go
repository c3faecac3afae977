// Package db mirrors the battle dataset into a SQL database. The CSV file stays
// the dataset of record; a mirror only ever receives rows the merge kept.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"royale-miner/internal/dataset"
)

// ErrNoMirrorURL is returned by OpenMirror for an empty URL
var ErrNoMirrorURL = errors.New("no mirror URL configured")

// RunInfo describes one miner run, recorded alongside the mirrored rows
type RunInfo struct {
	ID         uuid.UUID
	Tag        string
	Fetched    int
	NewEntries int
	TotalRows  int
	RanAt      time.Time
}

// Mirror receives the merged table after each run
type Mirror interface {
	// Sync inserts rows whose identity key is not yet stored and records the
	// run. It returns how many rows were actually inserted.
	Sync(ctx context.Context, run RunInfo, rows []dataset.FlatRow) (int, error)
	Close() error
}

// OpenMirror picks a backend from the URL scheme:
//
//	postgres://, postgresql://        PostgreSQL via pgx
//	libsql://, https://, wss://       Turso via libsql
//	sqlite://path, file:path, a path  local SQLite file
func OpenMirror(ctx context.Context, rawURL, authToken string) (Mirror, error) {
	rawURL = strings.TrimSpace(rawURL)
	switch {
	case rawURL == "":
		return nil, ErrNoMirrorURL
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return NewPostgresMirror(ctx, rawURL)
	case strings.HasPrefix(rawURL, "libsql://"), strings.HasPrefix(rawURL, "https://"), strings.HasPrefix(rawURL, "wss://"):
		return NewTursoMirror(ctx, rawURL, authToken)
	case strings.HasPrefix(rawURL, "sqlite://"):
		return NewSQLiteMirror(ctx, strings.TrimPrefix(rawURL, "sqlite://"))
	case strings.HasPrefix(rawURL, "file:"):
		return NewSQLiteMirror(ctx, strings.TrimPrefix(rawURL, "file:"))
	case strings.Contains(rawURL, "://"):
		return nil, fmt.Errorf("unsupported mirror URL scheme: %s", rawURL)
	default:
		return NewSQLiteMirror(ctx, rawURL)
	}
}

// identityColumns is the UNIQUE constraint of the battles table; it matches
// dataset.MatchKey so the database keeps the same first occurrence as the CSV
var identityColumns = []string{"opponent_tag", "opponent_name", "opponent_starting_trophies", "opponent_trophy_change"}

// dialect holds what differs between the SQL backends
type dialect struct {
	idColumn    string
	timeType    string
	boolType    string
	placeholder func(n int) string
	timeArg     func(t time.Time) any
}

var sqliteDialect = dialect{
	idColumn:    "id INTEGER PRIMARY KEY AUTOINCREMENT",
	timeType:    "TEXT",
	boolType:    "INTEGER",
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return t.UTC().Format("2006-01-02T15:04:05Z") },
}

var postgresDialect = dialect{
	idColumn:    "id BIGSERIAL PRIMARY KEY",
	timeType:    "TIMESTAMPTZ",
	boolType:    "BOOLEAN",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	timeArg:     func(t time.Time) any { return t.UTC() },
}

// schema returns the CREATE statements for the dialect, one per element
func (d dialect) schema() []string {
	var cols []string
	for _, name := range dataset.Columns() {
		cols = append(cols, fmt.Sprintf("%s %s NOT NULL", name, d.columnType(name)))
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS battles (
			%s,
			run_id TEXT NOT NULL,
			%s,
			UNIQUE (%s)
		)`, d.idColumn, strings.Join(cols, ",\n\t\t\t"), strings.Join(identityColumns, ", ")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ingest_runs (
			run_id TEXT PRIMARY KEY,
			tag TEXT NOT NULL,
			fetched INTEGER NOT NULL,
			new_entries INTEGER NOT NULL,
			total_rows INTEGER NOT NULL,
			inserted INTEGER NOT NULL,
			ran_at %s NOT NULL
		)`, d.timeType),
		`CREATE INDEX IF NOT EXISTS idx_battles_battle_time ON battles(battle_time)`,
		`CREATE INDEX IF NOT EXISTS idx_battles_team_tag ON battles(team_tag)`,
	}
}

func (d dialect) columnType(name string) string {
	switch {
	case name == "battle_time":
		return d.timeType
	case name == "team_won":
		return d.boolType
	case strings.HasSuffix(name, "_tag"), strings.HasSuffix(name, "_name"):
		return "TEXT"
	case strings.Contains(name, "_card_") && !strings.HasSuffix(name, "_level"):
		return "TEXT"
	default:
		return "INTEGER"
	}
}

// insertBattle is the per-row insert; duplicates of a stored key are skipped
func (d dialect) insertBattle() string {
	cols := append([]string{"run_id"}, dataset.Columns()...)
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO battles (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		strings.Join(cols, ", "), strings.Join(marks, ", "))
}

func (d dialect) insertRun() string {
	marks := make([]string, 7)
	for i := range marks {
		marks[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf(`INSERT INTO ingest_runs (run_id, tag, fetched, new_entries, total_rows, inserted, ran_at)
		VALUES (%s)`, strings.Join(marks, ", "))
}

// battleArgs flattens a row into insert arguments in dataset.Columns() order
func (d dialect) battleArgs(runID string, r dataset.FlatRow) []any {
	args := make([]any, 0, 2+len(dataset.Columns()))
	args = append(args, runID, d.timeArg(r.BattleTime))
	args = appendSideArgs(args, r.Team)
	args = appendSideArgs(args, r.Opponent)
	return append(args, r.TeamWon)
}

func appendSideArgs(args []any, s dataset.Side) []any {
	args = append(args, s.Tag, s.Name, s.StartingTrophies, s.TrophyChange, s.Crowns)
	for _, card := range s.Cards {
		args = append(args, card)
	}
	for _, level := range s.CardLevels {
		args = append(args, level)
	}
	return args
}

func (d dialect) runArgs(run RunInfo, inserted int) []any {
	ranAt := run.RanAt
	if ranAt.IsZero() {
		ranAt = time.Now()
	}
	return []any{run.ID.String(), run.Tag, run.Fetched, run.NewEntries, run.TotalRows, inserted, d.timeArg(ranAt)}
}
