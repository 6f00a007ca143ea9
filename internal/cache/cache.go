// Package cache stores the raw feed documents downloaded each day.
//
// The layout under the cache root is <feed id>/<DDMMYYYY>/feed.xml. An entry
// is written at most once; later writes for the same feed and day are no-ops.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/spf13/afero"
)

// FileName is the name of the raw document inside a day directory.
const FileName = "feed.xml"

// DateLayout formats day keys as DDMMYYYY.
const DateLayout = "02012006"

var (
	ErrNotFound  = errors.New("cache entry not found")
	ErrInvalidID = errors.New("invalid feed id")
)

// Store is a day-keyed document cache on top of an afero filesystem.
// Paths are resolved from the filesystem root, so the filesystem is
// expected to be scoped to the cache directory.
type Store struct {
	fs afero.Fs
}

// New wraps fs. Use NewOS for a directory on disk.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOS creates the cache rooted at dir, creating it if needed.
func NewOS(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache root: %w", ErrInvalidID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// DateKey returns the day key for t.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

func feedDir(id model.FeedID) string {
	return filepath.Join(string(filepath.Separator), string(id))
}

func entryPath(id model.FeedID, date string) string {
	return filepath.Join(feedDir(id), date, FileName)
}

func checkID(id model.FeedID) error {
	if !model.ValidFeedID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func checkDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("invalid date key %q: %w", date, err)
	}
	return nil
}

// Exists reports whether an entry is present for the feed and day.
func (s *Store) Exists(id model.FeedID, date string) bool {
	if checkID(id) != nil || checkDate(date) != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, entryPath(id, date))
	return err == nil && ok
}

// WriteOnce stores data for the feed and day unless an entry already exists.
// It reports whether data was written.
func (s *Store) WriteOnce(id model.FeedID, date string, data []byte) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	if err := checkDate(date); err != nil {
		return false, err
	}
	path := entryPath(id, date)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.fs.Remove(path)
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(path)
		return false, fmt.Errorf("closing %s: %w", path, err)
	}
	return true, nil
}

// Read returns the raw document for the feed and day, or ErrNotFound.
func (s *Store) Read(id model.FeedID, date string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := checkDate(date); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, entryPath(id, date))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	return data, nil
}

// Purge removes every cached day of a feed. The id must look like a
// derived feed id so nothing outside the feed's directory can be removed.
func (s *Store) Purge(id model.FeedID) error {
	if err := checkID(id); err != nil {
		return err
	}
	dir := feedDir(id)
	if filepath.Dir(dir) != string(filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}

// FeedIDs lists the feeds that have a cache directory, sorted.
// Entries that are not directories or not valid ids are ignored.
func (s *Store) FeedIDs() ([]model.FeedID, error) {
	infos, err := afero.ReadDir(s.fs, string(filepath.Separator))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache root: %w", err)
	}
	var ids []model.FeedID
	for _, info := range infos {
		id := model.FeedID(info.Name())
		if !info.IsDir() || !model.ValidFeedID(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Dates lists the day keys cached for a feed, oldest first.
func (s *Store) Dates(id model.FeedID) ([]string, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, feedDir(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", id, err)
	}
	type day struct {
		key string
		t   time.Time
	}
	var days []day
	for _, info := range infos {
		t, err := time.Parse(DateLayout, info.Name())
		if err != nil || !info.IsDir() {
			continue
		}
		days = append(days, day{info.Name(), t})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].t.Before(days[j].t) })
	keys := make([]string, len(days))
	for i, d := range days {
		keys[i] = d.key
	}
	return keys, nil
}
