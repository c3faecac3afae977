// Package miner runs one fetch, flatten, merge and save cycle for a player.
package miner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"royale-miner/internal/dataset"
	"royale-miner/internal/db"
	"royale-miner/internal/discord"
	"royale-miner/internal/royale"
)

// BattleSource fetches a player's PvP battles, newest first
type BattleSource interface {
	GetPvPBattleLog(ctx context.Context, tag string) ([]royale.BattleLogEntry, error)
}

// TableStore loads and saves the dataset of record. Load returns a nil table
// when nothing has been stored yet.
type TableStore interface {
	Load() (*dataset.Table, error)
	Save(table *dataset.Table) error
	Location() string
}

// Archiver snapshots the stored dataset before it is replaced
type Archiver interface {
	Snapshot(path string) (string, error)
}

// Mirror copies the merged table into a database
type Mirror interface {
	Sync(ctx context.Context, run db.RunInfo, rows []dataset.FlatRow) (int, error)
}

// Notifier reports run outcomes
type Notifier interface {
	SendRunSummary(ctx context.Context, s discord.RunSummary) error
	SendRunFailed(ctx context.Context, tag string, runErr error) error
}

// Runner wires the pipeline together. Archiver, Mirror and Notifier are optional.
type Runner struct {
	Source   BattleSource
	Store    TableStore
	Archiver Archiver
	Mirror   Mirror
	Notifier Notifier

	now func() time.Time
}

// Report describes a completed run
type Report struct {
	RunID      uuid.UUID
	Tag        string
	Fetched    int
	NewEntries int
	TotalRows  int
	Created    bool
	Mirrored   int
	Duration   time.Duration
}

// NewRunner creates a runner with the required collaborators
func NewRunner(source BattleSource, store TableStore) *Runner {
	return &Runner{Source: source, Store: store}
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Run executes one cycle for tag. Any error before the save leaves the stored
// dataset untouched. Mirror and notification failures are logged only.
func (r *Runner) Run(ctx context.Context, tag string) (Report, error) {
	start := r.clock()
	report := Report{RunID: uuid.New(), Tag: royale.NormalizeTag(tag)}

	table, err := r.mine(ctx, &report)
	report.Duration = r.clock().Sub(start)
	if err != nil {
		r.notifyFailure(ctx, report.Tag, err)
		return report, err
	}

	r.mirror(ctx, &report, table, start)
	r.notifySummary(ctx, report, start)
	return report, nil
}

// mine fetches, flattens, merges and saves, filling in the report as it goes
func (r *Runner) mine(ctx context.Context, report *Report) (*dataset.Table, error) {
	log.Printf("[Miner] Retrieving tag %s data", report.Tag)
	entries, err := r.Source.GetPvPBattleLog(ctx, report.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch battle log: %w", err)
	}
	report.Fetched = len(entries)
	log.Printf("[Miner] Got %d PvP battles from server", len(entries))

	batch, err := dataset.Flatten(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten battle log: %w", err)
	}

	prev, err := r.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	if prev == nil {
		log.Println("[Miner] Creating new dataset")
	}

	result := dataset.Merge(prev, batch)
	report.NewEntries = result.NewEntries
	report.TotalRows = result.Table.Len()
	report.Created = result.Created
	log.Printf("[Miner] Found %d new entries", result.NewEntries)

	// the cancelled-run guarantee covers the save too
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.Archiver != nil && prev != nil {
		if _, err := r.Archiver.Snapshot(r.Store.Location()); err != nil {
			return nil, fmt.Errorf("failed to archive dataset: %w", err)
		}
	}

	log.Printf("[Miner] Saving dataset (%d rows)", report.TotalRows)
	if err := r.Store.Save(result.Table); err != nil {
		return nil, fmt.Errorf("failed to save dataset: %w", err)
	}
	return result.Table, nil
}

func (r *Runner) mirror(ctx context.Context, report *Report, table *dataset.Table, start time.Time) {
	if r.Mirror == nil {
		return
	}
	run := db.RunInfo{
		ID:         report.RunID,
		Tag:        report.Tag,
		Fetched:    report.Fetched,
		NewEntries: report.NewEntries,
		TotalRows:  report.TotalRows,
		RanAt:      start,
	}
	inserted, err := r.Mirror.Sync(ctx, run, table.Rows)
	if err != nil {
		log.Printf("[Miner] Mirror sync failed (dataset already saved): %v", err)
		return
	}
	report.Mirrored = inserted
}

func (r *Runner) notifySummary(ctx context.Context, report Report, start time.Time) {
	if r.Notifier == nil {
		return
	}
	summary := discord.RunSummary{
		RunID:      report.RunID.String(),
		Tag:        report.Tag,
		Fetched:    report.Fetched,
		NewEntries: report.NewEntries,
		TotalRows:  report.TotalRows,
		Created:    report.Created,
		Duration:   report.Duration,
		FinishedAt: start.Add(report.Duration),
	}
	if err := r.Notifier.SendRunSummary(ctx, summary); err != nil {
		log.Printf("[Miner] Failed to send run summary: %v", err)
	}
}

func (r *Runner) notifyFailure(ctx context.Context, tag string, runErr error) {
	if r.Notifier == nil {
		return
	}
	// a cancelled run still gets its failure notice out
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	if err := r.Notifier.SendRunFailed(ctx, tag, runErr); err != nil {
		log.Printf("[Miner] Failed to send failure notice: %v", err)
	}
}
