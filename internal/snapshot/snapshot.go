// Package snapshot manages the dated CSV files that cache each pair's candle
// history on disk. Files live under <data dir>/<interval>/ and are named
// <PAIR>_<interval>_<YYYY-mm-dd-HH-MM>.csv, where the timestamp is the time
// of the last row in the file. A pair may have several snapshots; the one
// with the newest embedded timestamp is current.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

// NameLayout is the layout of the timestamp embedded in snapshot file names.
const NameLayout = "2006-01-02-15-04"

const extension = ".csv"

// ErrNoSnapshot is returned when a pair has no snapshot for an interval.
var ErrNoSnapshot = errors.New("no snapshot found")

// FileError reports a failure on a specific snapshot file.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Snapshot identifies one snapshot file.
type Snapshot struct {
	Path     string
	Pair     string
	Interval int
	Last     time.Time // timestamp embedded in the file name
}

// FileName builds the file name for a snapshot whose last row is at last.
func FileName(pair string, interval int, last time.Time) string {
	return fmt.Sprintf("%s_%d_%s%s", pair, interval, last.UTC().Format(NameLayout), extension)
}

// ParseFileName reverses FileName. The pair is everything before the last
// two underscore-separated fields.
func ParseFileName(name string) (Snapshot, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, extension) {
		return Snapshot{}, fmt.Errorf("%q is not a %s file", base, extension)
	}
	stem := strings.TrimSuffix(base, extension)

	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return Snapshot{}, fmt.Errorf("%q does not match <pair>_<interval>_<timestamp>", base)
	}

	n := len(parts)
	interval, err := strconv.Atoi(parts[n-2])
	if err != nil || interval <= 0 {
		return Snapshot{}, fmt.Errorf("%q has invalid interval %q", base, parts[n-2])
	}
	last, err := time.Parse(NameLayout, parts[n-1])
	if err != nil {
		return Snapshot{}, fmt.Errorf("%q has invalid timestamp: %w", base, err)
	}
	pair := strings.Join(parts[:n-2], "_")
	if pair == "" {
		return Snapshot{}, fmt.Errorf("%q has an empty pair", base)
	}

	return Snapshot{Path: name, Pair: pair, Interval: interval, Last: last}, nil
}

// Store reads and writes snapshots under a data directory.
type Store struct {
	dataDir string
	logger  *slog.Logger
}

// NewStore returns a Store rooted at dataDir.
func NewStore(dataDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dataDir: dataDir, logger: logger}
}

// Dir returns the directory holding snapshots for interval.
func (s *Store) Dir(interval int) string {
	return filepath.Join(s.dataDir, strconv.Itoa(interval))
}

// List returns every well-formed snapshot for interval, newest first.
// Files whose names do not parse are skipped. A missing directory yields an
// empty list.
func (s *Store) List(interval int) ([]Snapshot, error) {
	dir := s.Dir(interval)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &FileError{Op: "list", Path: dir, Err: err}
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		snap, err := ParseFileName(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.Debug("ignoring file in snapshot directory", "file", entry.Name(), "reason", err.Error())
			continue
		}
		if snap.Interval != interval {
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].Last.Equal(snaps[j].Last) {
			return snaps[i].Last.After(snaps[j].Last)
		}
		return snaps[i].Pair < snaps[j].Pair
	})
	return snaps, nil
}

// Latest returns the newest snapshot for pair.
func (s *Store) Latest(pair string, interval int) (Snapshot, error) {
	snaps, err := s.List(interval)
	if err != nil {
		return Snapshot{}, err
	}
	for _, snap := range snaps {
		if snap.Pair == pair {
			return snap, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w for %s at interval %d in %s", ErrNoSnapshot, pair, interval, s.Dir(interval))
}

// LatestForPairs returns the newest snapshot of each requested pair, in the
// order requested, plus the pairs that have none.
func (s *Store) LatestForPairs(pairs []string, interval int) ([]Snapshot, []string, error) {
	snaps, err := s.List(interval)
	if err != nil {
		return nil, nil, err
	}

	newest := make(map[string]Snapshot, len(snaps))
	for _, snap := range snaps {
		if _, seen := newest[snap.Pair]; !seen {
			newest[snap.Pair] = snap
		}
	}

	var found []Snapshot
	var missing []string
	for _, pair := range pairs {
		if snap, ok := newest[pair]; ok {
			found = append(found, snap)
		} else {
			missing = append(missing, pair)
		}
	}
	return found, missing, nil
}

// Pairs lists the distinct pairs with at least one snapshot, sorted.
func (s *Store) Pairs(interval int) ([]string, error) {
	snaps, err := s.List(interval)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var pairs []string
	for _, snap := range snaps {
		if !seen[snap.Pair] {
			seen[snap.Pair] = true
			pairs = append(pairs, snap.Pair)
		}
	}
	sort.Strings(pairs)
	return pairs, nil
}

// Read parses the candles of a snapshot in ascending time order.
func (s *Store) Read(snap Snapshot) ([]models.Candle, error) {
	f, err := os.Open(snap.Path)
	if err != nil {
		return nil, &FileError{Op: "open", Path: snap.Path, Err: err}
	}
	defer f.Close()

	candles, err := decode(f, snap.Pair, snap.Interval)
	if err != nil {
		return nil, &FileError{Op: "read", Path: snap.Path, Err: err}
	}
	return candles, nil
}

// Write stores candles as a new snapshot named after the last candle. The
// file is written to a temporary name first and renamed into place.
func (s *Store) Write(pair string, interval int, candles []models.Candle) (Snapshot, error) {
	if len(candles) == 0 {
		return Snapshot{}, fmt.Errorf("refusing to write empty snapshot for %s", pair)
	}

	dir := s.Dir(interval)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Snapshot{}, &FileError{Op: "mkdir", Path: dir, Err: err}
	}

	last := candles[len(candles)-1].Timestamp
	path := filepath.Join(dir, FileName(pair, interval, last))

	tmp, err := os.CreateTemp(dir, "."+pair+"-*.tmp")
	if err != nil {
		return Snapshot{}, &FileError{Op: "create", Path: dir, Err: err}
	}
	tmpName := tmp.Name()

	if err := encode(tmp, candles, interval); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Snapshot{}, &FileError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Snapshot{}, &FileError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return Snapshot{}, &FileError{Op: "rename", Path: path, Err: err}
	}

	s.logger.Debug("snapshot written", "pair", pair, "interval", interval, "path", path, "rows", len(candles))
	return Snapshot{Path: path, Pair: pair, Interval: interval, Last: last.UTC().Truncate(time.Minute)}, nil
}

// Remove deletes a snapshot file.
func (s *Store) Remove(snap Snapshot) error {
	if err := os.Remove(snap.Path); err != nil {
		return &FileError{Op: "remove", Path: snap.Path, Err: err}
	}
	return nil
}

// LoadSeries loads the newest snapshot of pair as a series.
func (s *Store) LoadSeries(ctx context.Context, pair string, interval int) (*models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := s.Latest(pair, interval)
	if err != nil {
		return nil, err
	}
	candles, err := s.Read(snap)
	if err != nil {
		return nil, err
	}

	series, err := models.SeriesFromCandles(pair, interval, candles)
	if err != nil {
		return nil, &FileError{Op: "convert", Path: snap.Path, Err: err}
	}
	return series, nil
}
