package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"royale-miner/internal/dataset"
)

// SQLMirror mirrors the dataset through database/sql. It backs both the local
// SQLite file and Turso, which speak the same dialect.
type SQLMirror struct {
	db      *sql.DB
	name    string
	dialect dialect
}

// NewSQLiteMirror opens (creating if needed) a SQLite database at path
func NewSQLiteMirror(ctx context.Context, path string) (*SQLMirror, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	m := &SQLMirror{db: db, name: "SQLite", dialect: sqliteDialect}
	if err := m.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[Mirror] Opened SQLite mirror at %s", path)
	return m, nil
}

// createTables creates the battles and ingest_runs tables if they don't exist
func (m *SQLMirror) createTables(ctx context.Context) error {
	for _, query := range m.dialect.schema() {
		if _, err := m.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Sync inserts the rows and the run record in one transaction
func (m *SQLMirror) Sync(ctx context.Context, run RunInfo, rows []dataset.FlatRow) (int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, m.dialect.insertBattle())
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	runID := run.ID.String()
	inserted := 0
	for _, row := range rows {
		res, err := stmt.ExecContext(ctx, m.dialect.battleArgs(runID, row)...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert battle: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if _, err := tx.ExecContext(ctx, m.dialect.insertRun(), m.dialect.runArgs(run, inserted)...); err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	log.Printf("[Mirror] %s: inserted %d of %d rows", m.name, inserted, len(rows))
	return inserted, nil
}

// BattleCount returns the number of mirrored battles
func (m *SQLMirror) BattleCount(ctx context.Context) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM battles").Scan(&count)
	return count, err
}

// RunCount returns the number of recorded runs
func (m *SQLMirror) RunCount(ctx context.Context) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ingest_runs").Scan(&count)
	return count, err
}

// Close closes the database
func (m *SQLMirror) Close() error {
	return m.db.Close()
}
