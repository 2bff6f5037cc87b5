package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"mysql-oss-backup/internal/backup"
)

// LocalStore keeps a staging copy of each artifact in a directory. Copies
// age out by the timestamp embedded in their names, like remote objects.
type LocalStore struct {
	dir       string
	keepDays  int
	parseTime func(string) (time.Time, bool)
}

var _ backup.Stager = (*LocalStore)(nil)

func NewLocalStore(dir string, keepDays int, parseTime func(string) (time.Time, bool)) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, keepDays: keepDays, parseTime: parseTime}, nil
}

// Stage writes the artifact to <dir>/<name> and returns a reader over the
// written bytes. On error no partial file remains.
func (s *LocalStore) Stage(name string, r io.Reader) (io.ReadCloser, int64, error) {
	path := filepath.Join(s.dir, name)

	// Dumps hold live data, keep them owner-only.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create staging file %s: %w", path, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, 0, fmt.Errorf("failed to write staging file %s: %w", path, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(path)
		return nil, 0, fmt.Errorf("failed to rewind staging file %s: %w", path, err)
	}

	return f, n, nil
}

func (s *LocalStore) Discard(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prune removes staged artifacts older than the local retention window.
// Files whose names do not parse are left alone.
func (s *LocalStore) Prune(now time.Time) ([]string, []error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read staging directory %s: %w", s.dir, err)}
	}

	var removed []string
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ts, ok := s.parseTime(entry.Name())
		if !ok {
			continue
		}
		if ageDays := int(now.Sub(ts).Hours() / 24); ageDays <= s.keepDays {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		removed = append(removed, entry.Name())
	}

	return removed, errs
}

// Dir returns the staging directory path.
func (s *LocalStore) Dir() string {
	return s.dir
}
