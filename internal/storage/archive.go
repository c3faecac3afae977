package storage

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// snapshotTimeFormat names archived snapshots; it sorts chronologically
const snapshotTimeFormat = "2006-01-02_15-04-05"

// Archiver keeps gzip snapshots of the dataset file taken before each save
type Archiver struct {
	dir  string
	keep int // 0 keeps every snapshot
	now  func() time.Time
}

// NewArchiver creates an archiver writing to dir, keeping at most keep snapshots
func NewArchiver(dir string, keep int) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	return &Archiver{dir: dir, keep: keep, now: time.Now}, nil
}

// Snapshot compresses the file at srcPath into the archive directory and
// prunes old snapshots. A missing source is not an error: there is nothing to
// keep on a first run. Returns the snapshot path, or "" when nothing was written.
func (a *Archiver) Snapshot(srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer src.Close()

	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	filename := fmt.Sprintf("%s_%s%s.gz", base, a.now().UTC().Format(snapshotTimeFormat), filepath.Ext(srcPath))
	dstPath := filepath.Join(a.dir, filename)

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	gzWriter := gzip.NewWriter(dst)
	gzWriter.Name = filepath.Base(srcPath)
	if _, err := io.Copy(gzWriter, src); err != nil {
		return "", err
	}
	if err := gzWriter.Close(); err != nil {
		return "", err
	}

	log.Printf("[Archive] Compressed %s to %s", filepath.Base(srcPath), filename)

	if err := a.prune(base); err != nil {
		return dstPath, fmt.Errorf("failed to prune archive: %w", err)
	}
	return dstPath, nil
}

// prune removes the oldest snapshots of base beyond the keep limit
func (a *Archiver) prune(base string) error {
	if a.keep <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(a.dir, base+"_*.gz"))
	if err != nil {
		return err
	}
	if len(matches) <= a.keep {
		return nil
	}

	sort.Strings(matches)
	for _, path := range matches[:len(matches)-a.keep] {
		if err := os.Remove(path); err != nil {
			return err
		}
		log.Printf("[Archive] Pruned %s", filepath.Base(path))
	}
	return nil
}
