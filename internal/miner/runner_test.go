package miner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"royale-miner/internal/dataset"
	"royale-miner/internal/db"
	"royale-miner/internal/discord"
	"royale-miner/internal/royale"
	"royale-miner/internal/storage"
)

type fakeSource struct {
	entries []royale.BattleLogEntry
	err     error
	gotTag  string
}

func (f *fakeSource) GetPvPBattleLog(ctx context.Context, tag string) ([]royale.BattleLogEntry, error) {
	f.gotTag = tag
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.entries, f.err
}

type fakeStore struct {
	table   *dataset.Table
	loadErr error
	saveErr error
	saves   int
	saved   *dataset.Table
}

func (f *fakeStore) Load() (*dataset.Table, error) { return f.table, f.loadErr }

func (f *fakeStore) Save(table *dataset.Table) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.saved = table
	return nil
}

func (f *fakeStore) Location() string { return "data.csv" }

type fakeArchiver struct {
	paths []string
	err   error
}

func (f *fakeArchiver) Snapshot(path string) (string, error) {
	f.paths = append(f.paths, path)
	return path + ".gz", f.err
}

type fakeMirror struct {
	runs []db.RunInfo
	rows int
	err  error
}

func (f *fakeMirror) Sync(ctx context.Context, run db.RunInfo, rows []dataset.FlatRow) (int, error) {
	f.runs = append(f.runs, run)
	f.rows = len(rows)
	return len(rows), f.err
}

type fakeNotifier struct {
	summaries []discord.RunSummary
	failures  []error
	err       error
}

func (f *fakeNotifier) SendRunSummary(ctx context.Context, s discord.RunSummary) error {
	f.summaries = append(f.summaries, s)
	return f.err
}

func (f *fakeNotifier) SendRunFailed(ctx context.Context, tag string, runErr error) error {
	f.failures = append(f.failures, runErr)
	return f.err
}

func deck(prefix string) []royale.Card {
	cards := make([]royale.Card, dataset.DeckSize)
	for i := range cards {
		cards[i] = royale.Card{Name: fmt.Sprintf("%s%d", prefix, i), Level: 11, MaxLevel: 14}
	}
	return cards
}

func battle(opponentTag string, change int) royale.BattleLogEntry {
	return royale.BattleLogEntry{
		Type:       royale.BattleTypePvP,
		BattleTime: time.Date(2024, 1, 5, 10, 15, 0, 0, time.UTC),
		Team:       []royale.BattleLogPlayer{{Tag: "#ME", Name: "Me", StartingTrophies: 5000, TrophyChange: change, Cards: deck("Mine")}},
		Opponent:   []royale.BattleLogPlayer{{Tag: opponentTag, Name: "Opp", StartingTrophies: 4990, TrophyChange: -change, Cards: deck("Theirs")}},
	}
}

func storedRow(t *testing.T, opponentTag string, change int) dataset.FlatRow {
	t.Helper()
	row, err := dataset.FlattenEntry(battle(opponentTag, change))
	if err != nil {
		t.Fatal(err)
	}
	return row
}

func TestRunner_FirstRun(t *testing.T) {
	source := &fakeSource{entries: []royale.BattleLogEntry{battle("#A", 30), battle("#B", -30)}}
	store := &fakeStore{}
	archiver := &fakeArchiver{}
	r := &Runner{Source: source, Store: store, Archiver: archiver}

	report, err := r.Run(context.Background(), "2PLQVY2Y0")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if source.gotTag != "#2PLQVY2Y0" {
		t.Errorf("expected normalized tag, got %s", source.gotTag)
	}
	if !report.Created || report.Fetched != 2 || report.NewEntries != 2 || report.TotalRows != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if store.saves != 1 || store.saved.Len() != 2 {
		t.Fatalf("expected one save of 2 rows, got %d saves", store.saves)
	}
	if len(archiver.paths) != 0 {
		t.Error("nothing should be archived on a first run")
	}
}

func TestRunner_MergesIntoStored(t *testing.T) {
	stored := storedRow(t, "#A", 30)
	store := &fakeStore{table: &dataset.Table{Rows: []dataset.FlatRow{stored}}}
	source := &fakeSource{entries: []royale.BattleLogEntry{battle("#A", 30), battle("#C", 0)}}
	archiver := &fakeArchiver{}
	r := &Runner{Source: source, Store: store, Archiver: archiver}

	report, err := r.Run(context.Background(), "#ME")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Created || report.NewEntries != 1 || report.TotalRows != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if store.saved.Rows[0] != stored {
		t.Error("stored row should be first and unchanged")
	}
	if len(archiver.paths) != 1 || archiver.paths[0] != "data.csv" {
		t.Errorf("expected the stored file to be archived once, got %v", archiver.paths)
	}
}

// TestRunner_NoWriteOnFailure tests that nothing is saved when an earlier stage fails
func TestRunner_NoWriteOnFailure(t *testing.T) {
	malformed := battle("#A", 30)
	malformed.Opponent[0].Cards = malformed.Opponent[0].Cards[:5]

	tests := []struct {
		name    string
		source  *fakeSource
		store   *fakeStore
		arch    *fakeArchiver
		wantErr error
	}{
		{
			name:    "fetch error",
			source:  &fakeSource{err: &royale.ClientError{Op: "battlelog", StatusCode: 503, Err: errors.New("unavailable")}},
			store:   &fakeStore{},
			wantErr: &royale.ClientError{},
		},
		{
			name: "entry missing a field",
			source: &fakeSource{err: &royale.ClientError{
				Op: "pvp battlelog", StatusCode: 200, Err: fmt.Errorf("opponent[0].tag: %w", royale.ErrMissingField),
			}},
			store:   &fakeStore{},
			wantErr: royale.ErrMissingField,
		},
		{
			name:    "malformed entry",
			source:  &fakeSource{entries: []royale.BattleLogEntry{battle("#B", 1), malformed}},
			store:   &fakeStore{},
			wantErr: dataset.ErrMalformedEntry,
		},
		{
			name:    "load error",
			source:  &fakeSource{entries: []royale.BattleLogEntry{battle("#B", 1)}},
			store:   &fakeStore{loadErr: storage.ErrSchemaMismatch},
			wantErr: storage.ErrSchemaMismatch,
		},
		{
			name:   "archive error",
			source: &fakeSource{entries: []royale.BattleLogEntry{battle("#B", 1)}},
			store:  &fakeStore{table: &dataset.Table{}},
			arch:   &fakeArchiver{err: errors.New("disk full")},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			notifier := &fakeNotifier{}
			mirror := &fakeMirror{}
			r := &Runner{Source: tc.source, Store: tc.store, Mirror: mirror, Notifier: notifier}
			if tc.arch != nil {
				r.Archiver = tc.arch
			}

			_, err := r.Run(context.Background(), "#ME")
			if err == nil {
				t.Fatal("expected an error")
			}
			if target, ok := tc.wantErr.(*royale.ClientError); ok {
				if !errors.As(err, &target) {
					t.Errorf("expected a ClientError, got %v", err)
				}
			} else if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}

			if tc.store.saves != 0 {
				t.Error("dataset must not be written")
			}
			if len(mirror.runs) != 0 {
				t.Error("mirror must not be synced")
			}
			if len(notifier.failures) != 1 || len(notifier.summaries) != 0 {
				t.Errorf("expected one failure notice, got %d failures and %d summaries", len(notifier.failures), len(notifier.summaries))
			}
		})
	}
}

func TestRunner_CancelledBeforeFetch(t *testing.T) {
	store := &fakeStore{}
	r := NewRunner(&fakeSource{entries: []royale.BattleLogEntry{battle("#A", 1)}}, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx, "#ME"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.saves != 0 {
		t.Error("a cancelled run must not write")
	}
}

// TestRunner_OptionalFailuresNotFatal tests that mirror and notifier errors don't fail a saved run
func TestRunner_OptionalFailuresNotFatal(t *testing.T) {
	store := &fakeStore{}
	mirror := &fakeMirror{err: errors.New("connection refused")}
	notifier := &fakeNotifier{err: errors.New("webhook down")}
	r := &Runner{
		Source:   &fakeSource{entries: []royale.BattleLogEntry{battle("#A", 1)}},
		Store:    store,
		Mirror:   mirror,
		Notifier: notifier,
	}

	report, err := r.Run(context.Background(), "#ME")
	if err != nil {
		t.Fatalf("Run should succeed, got %v", err)
	}
	if store.saves != 1 {
		t.Error("dataset should be saved")
	}
	if report.Mirrored != 0 {
		t.Errorf("expected 0 mirrored on failure, got %d", report.Mirrored)
	}
	if len(notifier.summaries) != 1 {
		t.Error("expected a summary attempt")
	}
}

func TestRunner_MirrorAndNotify(t *testing.T) {
	start := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	calls := 0
	mirror := &fakeMirror{}
	notifier := &fakeNotifier{}
	r := &Runner{
		Source:   &fakeSource{entries: []royale.BattleLogEntry{battle("#A", 1), battle("#B", 2)}},
		Store:    &fakeStore{table: &dataset.Table{Rows: []dataset.FlatRow{storedRow(t, "#Z", 5)}}},
		Mirror:   mirror,
		Notifier: notifier,
		now: func() time.Time {
			calls++
			return start.Add(time.Duration(calls-1) * time.Second)
		},
	}

	report, err := r.Run(context.Background(), "#ME")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(mirror.runs) != 1 || mirror.runs[0].ID != report.RunID || mirror.runs[0].NewEntries != 2 {
		t.Fatalf("unexpected mirror runs: %+v", mirror.runs)
	}
	if mirror.rows != 3 {
		t.Errorf("expected the whole merged table mirrored, got %d rows", mirror.rows)
	}
	if report.Mirrored != 3 {
		t.Errorf("expected report to carry mirrored count, got %d", report.Mirrored)
	}

	if len(notifier.summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(notifier.summaries))
	}
	s := notifier.summaries[0]
	if s.RunID != report.RunID.String() || s.TotalRows != 3 || s.NewEntries != 2 || s.Duration != time.Second {
		t.Errorf("unexpected summary: %+v", s)
	}
}

// TestRunner_WithCSVStore runs two cycles against a real file
func TestRunner_WithCSVStore(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewCSVStore(filepath.Join(dir, "data.csv"))
	archiver, err := storage.NewArchiver(filepath.Join(dir, "archive"), 0)
	if err != nil {
		t.Fatal(err)
	}
	source := &fakeSource{entries: []royale.BattleLogEntry{battle("#A", 30), battle("#B", -30)}}
	r := &Runner{Source: source, Store: store, Archiver: archiver}

	if _, err := r.Run(context.Background(), "#ME"); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	source.entries = []royale.BattleLogEntry{battle("#C", 12), battle("#A", 30)}
	report, err := r.Run(context.Background(), "#ME")
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if report.NewEntries != 1 || report.TotalRows != 3 {
		t.Errorf("unexpected report: %+v", report)
	}

	table, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"#A", "#B", "#C"}
	for i, tag := range want {
		if table.Rows[i].Opponent.Tag != tag {
			t.Errorf("row %d: expected %s, got %s", i, tag, table.Rows[i].Opponent.Tag)
		}
	}

	snapshots, _ := filepath.Glob(filepath.Join(dir, "archive", "*.gz"))
	if len(snapshots) != 1 {
		t.Errorf("expected 1 snapshot from the second run, got %d", len(snapshots))
	}
}
