package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"royale-miner/internal/dataset"
)

// BattleTimeLayout is how battle_time is written to the dataset file
const BattleTimeLayout = "2006-01-02 15:04:05"

// ErrSchemaMismatch is returned when a stored file's header is not the current column list
var ErrSchemaMismatch = errors.New("dataset header does not match schema")

// CSVStore persists the match table as a delimited text file with a header row
type CSVStore struct {
	Path string
}

// NewCSVStore creates a store for the file at path
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{Path: path}
}

// Load reads the stored table. It returns (nil, nil) when the file does not
// exist, and an empty non-nil table when the file exists but holds no rows.
func (s *CSVStore) Load() (*dataset.Table, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	columns := dataset.Columns()
	reader := csv.NewReader(f)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &dataset.Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := checkHeader(header, columns); err != nil {
		return nil, err
	}

	reader.FieldsPerRecord = len(columns)
	table := &dataset.Table{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row, err := decodeRow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// Save writes the table to a temporary file next to Path and renames it into
// place, so a failed save leaves the previous file untouched.
func (s *CSVStore) Save(table *dataset.Table) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	writer := csv.NewWriter(tmp)
	if err := writer.Write(dataset.Columns()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	if table != nil {
		for _, row := range table.Rows {
			if err := writer.Write(encodeRow(row)); err != nil {
				tmp.Close()
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush dataset: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("failed to replace dataset: %w", err)
	}

	log.Printf("[Storage] Saved %d rows to %s", table.Len(), s.Path)
	return nil
}

func checkHeader(header, columns []string) error {
	if len(header) != len(columns) {
		return fmt.Errorf("%w: got %d columns, want %d", ErrSchemaMismatch, len(header), len(columns))
	}
	for i := range columns {
		if header[i] != columns[i] {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrSchemaMismatch, i+1, header[i], columns[i])
		}
	}
	return nil
}

func encodeRow(r dataset.FlatRow) []string {
	record := make([]string, 0, len(dataset.Columns()))
	record = append(record, r.BattleTime.UTC().Format(BattleTimeLayout))
	record = appendSide(record, r.Team)
	record = appendSide(record, r.Opponent)
	return append(record, strconv.FormatBool(r.TeamWon))
}

func appendSide(record []string, s dataset.Side) []string {
	record = append(record,
		s.Tag,
		s.Name,
		strconv.Itoa(s.StartingTrophies),
		strconv.Itoa(s.TrophyChange),
		strconv.Itoa(s.Crowns),
	)
	record = append(record, s.Cards[:]...)
	for _, level := range s.CardLevels {
		record = append(record, strconv.Itoa(level))
	}
	return record
}

// sideWidth is the number of columns one side occupies
const sideWidth = 5 + 2*dataset.DeckSize

func decodeRow(record []string) (dataset.FlatRow, error) {
	var row dataset.FlatRow

	battleTime, err := parseBattleTime(record[0])
	if err != nil {
		return row, fmt.Errorf("battle_time: %w", err)
	}
	row.BattleTime = battleTime

	if row.Team, err = decodeSide(record[1 : 1+sideWidth]); err != nil {
		return row, fmt.Errorf("team: %w", err)
	}
	if row.Opponent, err = decodeSide(record[1+sideWidth : 1+2*sideWidth]); err != nil {
		return row, fmt.Errorf("opponent: %w", err)
	}

	// strconv accepts both true/false and the True/False pandas writes
	if row.TeamWon, err = strconv.ParseBool(record[len(record)-1]); err != nil {
		return row, fmt.Errorf("team_won: %w", err)
	}
	return row, nil
}

func decodeSide(fields []string) (dataset.Side, error) {
	side := dataset.Side{Tag: fields[0], Name: fields[1]}

	ints := []*int{&side.StartingTrophies, &side.TrophyChange, &side.Crowns}
	for i, dst := range ints {
		v, err := strconv.Atoi(fields[2+i])
		if err != nil {
			return side, err
		}
		*dst = v
	}

	copy(side.Cards[:], fields[5:5+dataset.DeckSize])
	for i := 0; i < dataset.DeckSize; i++ {
		level, err := strconv.Atoi(fields[5+dataset.DeckSize+i])
		if err != nil {
			return side, fmt.Errorf("card %d level: %w", i+1, err)
		}
		side.CardLevels[i] = level
	}
	return side, nil
}

func parseBattleTime(s string) (time.Time, error) {
	if t, err := time.Parse(BattleTimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Location returns the dataset file path
func (s *CSVStore) Location() string {
	return s.Path
}
