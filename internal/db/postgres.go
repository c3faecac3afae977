package db

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"royale-miner/internal/dataset"
)

// PostgresMirror mirrors the dataset into PostgreSQL
type PostgresMirror struct {
	pool    *pgxpool.Pool
	dialect dialect
}

// NewPostgresMirror connects, pings and creates the schema
func NewPostgresMirror(ctx context.Context, dbURL string) (*PostgresMirror, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// one run writes at a time
	config.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := &PostgresMirror{pool: pool, dialect: postgresDialect}
	if err := m.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Println("[Mirror] Connected to PostgreSQL")
	return m, nil
}

func (m *PostgresMirror) initSchema(ctx context.Context) error {
	for _, query := range m.dialect.schema() {
		if _, err := m.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Sync queues every insert into one batch inside a transaction
func (m *PostgresMirror) Sync(ctx context.Context, run RunInfo, rows []dataset.FlatRow) (int, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	runID := run.ID.String()
	insert := m.dialect.insertBattle()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insert, m.dialect.battleArgs(runID, row)...)
	}

	inserted := 0
	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for range rows {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return 0, fmt.Errorf("failed to insert battle: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		if err := results.Close(); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx, m.dialect.insertRun(), m.dialect.runArgs(run, inserted)...); err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	log.Printf("[Mirror] PostgreSQL: inserted %d of %d rows", inserted, len(rows))
	return inserted, nil
}

// BattleCount returns the number of mirrored battles
func (m *PostgresMirror) BattleCount(ctx context.Context) (int, error) {
	var count int
	err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM battles`).Scan(&count)
	return count, err
}

// Close closes the connection pool
func (m *PostgresMirror) Close() error {
	m.pool.Close()
	return nil
}
