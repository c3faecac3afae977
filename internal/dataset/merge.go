package dataset

// MergeResult is the outcome of merging a fetched batch into a stored table
type MergeResult struct {
	Table *Table
	// NewEntries is len(batch) minus the rows dropped as duplicates. Duplicates
	// already inside prev are dropped and counted too, so it can undercount
	// (even go negative); it is reported as computed.
	NewEntries int
	// Created is true when there was no stored table to merge into
	Created bool
}

// Merge appends batch to prev, dropping every row whose key was already seen
// earlier in prev-then-batch order. Stored rows therefore always win over
// fetched ones. A nil prev is a first run: batch becomes the table unchanged.
func Merge(prev *Table, batch []FlatRow) MergeResult {
	if prev == nil {
		rows := make([]FlatRow, len(batch))
		copy(rows, batch)
		return MergeResult{
			Table:      &Table{Rows: rows},
			NewEntries: len(batch),
			Created:    true,
		}
	}

	combined := len(prev.Rows) + len(batch)
	seen := make(map[MatchKey]struct{}, combined)

	rows := make([]FlatRow, 0, combined)
	for _, row := range prev.Rows {
		if markSeen(seen, row.Key()) {
			rows = append(rows, row)
		}
	}
	for _, row := range batch {
		if markSeen(seen, row.Key()) {
			rows = append(rows, row)
		}
	}

	removed := combined - len(rows)
	return MergeResult{
		Table:      &Table{Rows: rows},
		NewEntries: len(batch) - removed,
	}
}

// markSeen records k and reports whether it was new
func markSeen(seen map[MatchKey]struct{}, k MatchKey) bool {
	if _, ok := seen[k]; ok {
		return false
	}
	seen[k] = struct{}{}
	return true
}
