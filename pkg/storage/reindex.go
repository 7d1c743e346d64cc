package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Reindex rebuilds every bucket journal from the headers of the records on
// disk and recomputes the global counters. The index never moves backwards.
// Leftover temporary files from interrupted writes are removed.
//
// Reindex excludes all mutations while it runs.
func (s *LocalStorage) Reindex(ctx context.Context) (Counters, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	dirs, err := os.ReadDir(s.Root)
	if err != nil {
		return Counters{}, s.fail(fmt.Errorf("reindex: %w", err))
	}

	var count, maxID int64
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return Counters{}, err
		}
		if !d.IsDir() || !isBucketDirName(d.Name()) {
			continue
		}
		n, top, err := s.reindexBucket(filepath.Join(s.Root, d.Name()))
		if err != nil {
			return Counters{}, s.fail(fmt.Errorf("reindex %s: %w", d.Name(), err))
		}
		count += n
		if top > maxID {
			maxID = top
		}
	}

	c := s.counters.snapshot()
	c.Count = count
	if maxID > c.Index {
		c.Index = maxID
	}
	if err := s.counters.reset(c); err != nil {
		return c, s.fail(fmt.Errorf("reindex: persist counters: %w", err))
	}
	s.log.Info().Int64("index", c.Index).Int64("count", c.Count).Msg("reindex complete")
	s.obs.emit(Event{Kind: EventReindex, Counters: c})
	return c, nil
}

func (s *LocalStorage) reindexBucket(dir string) (count, maxID int64, err error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}
	var ids []int64
	for _, f := range files {
		name := f.Name()
		if f.IsDir() {
			continue
		}
		if strings.HasSuffix(name, tmpExt) || strings.HasSuffix(name, sealExt) {
			os.Remove(filepath.Join(dir, name))
			continue
		}
		if !strings.HasSuffix(name, recordExt) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, recordExt), 10, 64)
		if err != nil || id < 1 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var buf bytes.Buffer
	for _, id := range ids {
		h, err := readHeader(filepath.Join(dir, strconv.FormatInt(id, 10)+recordExt))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.log.Warn().Int64("id", id).Msg("reindex: skipping truncated record")
				continue
			}
			s.fail(fmt.Errorf("reindex #%d: %w", id, err))
			continue
		}
		line, err := encodeEntry(id, h)
		if err != nil {
			return 0, 0, err
		}
		buf.Write(line)
		count++
		if id > maxID {
			maxID = id
		}
	}
	if err := writeFileAtomic(filepath.Join(dir, journalFile), buf.Bytes()); err != nil {
		return 0, 0, err
	}
	s.dirs.Store(dir, struct{}{})
	return count, maxID, nil
}

// isBucketDirName matches names produced by BucketDirName.
func isBucketDirName(name string) bool {
	groups := strings.Split(name, "-")
	if len(groups) < bucketNameDigits/bucketNameGroup {
		return false
	}
	for _, g := range groups {
		if len(g) != bucketNameGroup {
			return false
		}
		for _, c := range g {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
