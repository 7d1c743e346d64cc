package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// counterStore owns the global {index, count} state. All mutations go through
// its mutex so concurrent inserts and removes never lose an increment or
// persist out of order.
type counterStore struct {
	mu   sync.Mutex
	path string
	c    Counters
}

func newCounterStore(root string) *counterStore {
	return &counterStore{path: filepath.Join(root, journalFile)}
}

// load reads the counters file. An absent or empty file yields zero counters.
func (s *counterStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.c = Counters{}
			return nil
		}
		return err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		s.c = Counters{}
		return nil
	}
	var c Counters
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse counters %s: %w", s.path, err)
	}
	s.c = c
	return nil
}

func (s *counterStore) snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

// next allocates a new identifier and persists the advanced index. The id is
// consumed even when persisting fails.
func (s *counterStore) next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Index++
	return s.c.Index, s.saveLocked()
}

// add adjusts the live object count by delta and persists it.
func (s *counterStore) add(delta int64) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Count += delta
	if s.c.Count < 0 {
		s.c.Count = 0
	}
	return s.c, s.saveLocked()
}

// reset replaces the counters wholesale. Used by Reindex.
func (s *counterStore) reset(c Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = c
	return s.saveLocked()
}

func (s *counterStore) saveLocked() error {
	b, err := json.Marshal(s.c)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b)
}
