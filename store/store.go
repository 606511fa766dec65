// Package store persists the set of entry digests already published for
// each account, one JSON file per account name.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Store manages per-account id sets under a single state directory.
type Store struct {
	dir string
}

// New creates the state directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Open loads the id set for the named account. A missing file means this
// is the first run for that account and yields an empty set.
func (s *Store) Open(name string) (*IDSet, error) {
	path := filepath.Join(s.dir, name+".json")

	set := &IDSet{path: path, ids: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		set.firstRun = true
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read id store %s: %w", path, err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parse id store %s: %w", path, err)
	}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}

	return set, nil
}

// IDSet is the set of digests already published for one account. It is
// owned by a single pipeline run; there are no concurrent writers.
type IDSet struct {
	path     string
	ids      map[string]struct{}
	firstRun bool
}

// FirstRun reports whether no persisted state existed when the set was
// opened.
func (s *IDSet) FirstRun() bool {
	return s.firstRun
}

// Contains reports whether digest has already been published.
func (s *IDSet) Contains(digest string) bool {
	_, ok := s.ids[digest]
	return ok
}

// Len returns the number of known digests.
func (s *IDSet) Len() int {
	return len(s.ids)
}

// Record adds digest to the set and persists the full set before
// returning. The file is written to a temporary path and renamed, so a
// crash leaves either the old or the new complete set on disk.
func (s *IDSet) Record(digest string) error {
	s.ids[digest] = struct{}{}

	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode id store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write id store %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace id store %s: %w", s.path, err)
	}

	return nil
}
