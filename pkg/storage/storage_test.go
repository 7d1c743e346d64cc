package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns strictly increasing times, one millisecond apart.
func stepClock() func() time.Time {
	var n atomic.Int64
	base := time.UnixMilli(1700000000000)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

func newTestStorage(t *testing.T, opts ...Option) *LocalStorage {
	t.Helper()
	opts = append([]Option{WithClock(stepClock())}, opts...)
	s, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func insert(t *testing.T, s *LocalStorage, name string, data []byte) Entry {
	t.Helper()
	e, err := s.Insert(context.Background(), WriteRequest{Name: name, Body: bytes.NewReader(data)})
	require.NoError(t, err)
	return e
}

func readAll(t *testing.T, s *LocalStorage, id int64) []byte {
	t.Helper()
	obj, err := s.Read(context.Background(), id)
	require.NoError(t, err)
	defer obj.Close()
	got, err := io.ReadAll(obj.Payload())
	require.NoError(t, err)
	return got
}

func TestLocalStorage_InsertStatRead(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	data := []byte("hello world")

	e, err := s.Insert(ctx, WriteRequest{
		Name:   "/some/dir/greeting.txt",
		Body:   bytes.NewReader(data),
		Custom: json.RawMessage(`{"owner":"ops"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.ID)

	h, err := s.Stat(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "greeting.txt", h.Name)
	assert.Equal(t, "txt", h.Extension)
	assert.True(t, strings.HasPrefix(h.Type, "text/plain"), h.Type)
	assert.Equal(t, int64(len(data)), h.Length)
	assert.JSONEq(t, `{"owner":"ops"}`, string(h.Custom))
	assert.NotZero(t, h.Stamp)

	assert.Equal(t, data, readAll(t, s, e.ID))

	raw, err := os.ReadFile(filepath.Join(s.Root, "000-000-001", "1.data"))
	require.NoError(t, err)
	assert.Len(t, raw, HeaderSize+len(data))

	assert.Equal(t, Counters{Index: 1, Count: 1}, s.Counters())
}

func TestLocalStorage_IDsNeverReused(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 6; i++ {
		e := insert(t, s, fmt.Sprintf("f%d.bin", i), []byte{byte(i)})
		assert.Greater(t, e.ID, last)
		last = e.ID
		if i%2 == 0 {
			require.NoError(t, s.Remove(ctx, e.ID, ""))
		}
	}
	assert.Equal(t, int64(6), last)
	assert.Equal(t, Counters{Index: 6, Count: 3}, s.Counters())

	// counters survive a reopen
	s2, err := Open(s.Root)
	require.NoError(t, err)
	assert.Equal(t, Counters{Index: 6, Count: 3}, s2.Counters())
	e := insert(t, s2, "next.bin", []byte("x"))
	assert.Equal(t, int64(7), e.ID)
}

func TestLocalStorage_Update(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	e := insert(t, s, "a.txt", []byte("first"))
	before, err := s.Stat(ctx, e.ID)
	require.NoError(t, err)

	up, err := s.Update(ctx, e.ID, WriteRequest{Name: "b.bin", Body: strings.NewReader("second version")})
	require.NoError(t, err)
	assert.Equal(t, e.ID, up.ID)

	h, err := s.Stat(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "b.bin", h.Name)
	assert.Equal(t, int64(len("second version")), h.Length)
	assert.Greater(t, h.Stamp, before.Stamp)
	assert.Equal(t, []byte("second version"), readAll(t, s, e.ID))
	assert.Equal(t, Counters{Index: 1, Count: 1}, s.Counters())

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.bin", entries[0].Name)
	assert.Equal(t, h.Stamp, entries[0].Stamp)

	_, err = s.Update(ctx, 42, WriteRequest{Name: "x", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_Remove(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	keep := insert(t, s, "keep.txt", []byte("keep"))
	gone := insert(t, s, "gone.txt", []byte("gone"))

	require.NoError(t, s.Remove(ctx, gone.ID, ""))
	assert.Equal(t, int64(1), s.Counters().Count)

	_, err := s.Stat(ctx, gone.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Read(ctx, gone.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, keep.ID, entries[0].ID)

	err = s.Remove(ctx, gone.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), s.Counters().Count)
}

func TestLocalStorage_ValidationCreatesNoState(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, WriteRequest{Name: "x.txt"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.Insert(ctx, WriteRequest{Name: " ", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.Insert(ctx, WriteRequest{Name: "x", Body: strings.NewReader("x"), Custom: json.RawMessage(`{`)})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, Counters{}, s.Counters())
	_, err = os.Stat(filepath.Join(s.Root, "000-000-001"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorage_BucketAssignment(t *testing.T) {
	s := newTestStorage(t)
	// jump the index so the next insert lands in bucket 2
	require.NoError(t, s.counters.reset(Counters{Index: 1000, Count: 0}))

	e := insert(t, s, "late.txt", []byte("late"))
	assert.Equal(t, int64(1001), e.ID)
	_, err := os.Stat(filepath.Join(s.Root, "000-000-002", "1001.data"))
	require.NoError(t, err)

	listing, err := s.Listing(context.Background())
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Contains(t, listing[0], `"id":1001,`)
}

func TestLocalStorage_ConcurrentUpdatesSameBucket(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	const n = 16
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = insert(t, s, fmt.Sprintf("f%d.txt", i), []byte("v0")).ID
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := strings.Repeat("x", i+1)
			_, err := s.Update(ctx, id, WriteRequest{Name: fmt.Sprintf("u%d.txt", i), Body: strings.NewReader(body)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		assert.Equal(t, ids[i], e.ID)
		assert.Equal(t, fmt.Sprintf("u%d.txt", i), e.Name)
		assert.Equal(t, int64(i+1), e.Length)
	}
}

func TestLocalStorage_ConcurrentInsertsAndRemoves(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]bool{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := s.Insert(ctx, WriteRequest{Name: "c.bin", Body: strings.NewReader("data")})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			assert.False(t, seen[e.ID], "id %d assigned twice", e.ID)
			seen[e.ID] = true
			mu.Unlock()
			if e.ID%2 == 0 {
				assert.NoError(t, s.Remove(ctx, e.ID, ""))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.Equal(t, Counters{Index: n, Count: n / 2}, s.Counters())
	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, n/2)
}

func TestLocalStorage_Events(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var mu sync.Mutex
	var kinds []EventKind
	s.Subscribe(ObserverFunc(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	}))

	e := insert(t, s, "a.txt", []byte("a"))
	_, err := s.Update(ctx, e.ID, WriteRequest{Name: "a.txt", Body: strings.NewReader("b")})
	require.NoError(t, err)
	obj, err := s.Read(ctx, e.ID)
	require.NoError(t, err)
	obj.Close()
	require.NoError(t, s.Remove(ctx, e.ID, ""))
	require.Error(t, s.Remove(ctx, e.ID, ""))

	assert.Equal(t, []EventKind{EventInsert, EventUpdate, EventRead, EventRemove, EventError}, kinds)
}

func TestLocalStorage_BeforeSeal(t *testing.T) {
	var seenPath string
	s := newTestStorage(t, WithBeforeSeal(func(ctx context.Context, tmp string, h *Header) error {
		seenPath = tmp
		h.Custom = json.RawMessage(`"scanned"`)
		return os.WriteFile(tmp, []byte("rewritten payload"), 0o644)
	}))

	e := insert(t, s, "in.txt", []byte("raw"))
	assert.Equal(t, filepath.Join(s.Root, "000-000-001", "1.tmp"), seenPath)
	assert.Equal(t, int64(len("rewritten payload")), e.Length)
	assert.Equal(t, []byte("rewritten payload"), readAll(t, s, e.ID))
	assert.JSONEq(t, `"scanned"`, string(e.Custom))

	rejecting := newTestStorage(t, WithBeforeSeal(func(context.Context, string, *Header) error {
		return errors.New("infected")
	}))
	_, err := rejecting.Insert(context.Background(), WriteRequest{Name: "v.exe", Body: strings.NewReader("x")})
	require.Error(t, err)
	assert.Equal(t, int64(0), rejecting.Counters().Count)
	_, err = os.Stat(filepath.Join(rejecting.Root, "000-000-001", "1.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorage_Changelog(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Changelog(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	e, err := s.Insert(ctx, WriteRequest{Name: "a.txt", Body: strings.NewReader("a"), Changelog: "initial upload"})
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, e.ID, "cleanup"))

	lines, err := s.Changelog(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} - #1 initial upload$`, lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "- #1 cleanup"))

	require.NoError(t, s.ClearChangelog(ctx))
	assert.ErrorIs(t, s.ClearChangelog(ctx), ErrNotFound)
}

func TestLocalStorage_Reindex(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	a := insert(t, s, "a.txt", []byte("aaa"))
	b := insert(t, s, "b.txt", []byte("bbbb"))
	insert(t, s, "c.txt", []byte("c"))

	// simulate lost metadata: journal wiped, counters stale, leftover temp file
	dir := filepath.Join(s.Root, "000-000-001")
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFile), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "9.tmp"), []byte("junk"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "3.data")))
	require.NoError(t, s.counters.reset(Counters{Index: 1, Count: 7}))

	c, err := s.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counters{Index: 2, Count: 2}, c)
	assert.Equal(t, c, s.Counters())

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, a.ID, entries[0].ID)
	assert.Equal(t, b.ID, entries[1].ID)
	assert.Equal(t, int64(4), entries[1].Length)

	_, err = os.Stat(filepath.Join(dir, "9.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorage_ListingSkipsUnreadableBucket(t *testing.T) {
	s := newTestStorage(t)
	var errs atomic.Int32
	s.Subscribe(ObserverFunc(func(e Event) {
		if e.Kind == EventError {
			errs.Add(1)
		}
	}))
	insert(t, s, "a.txt", []byte("a"))
	require.NoError(t, s.counters.reset(Counters{Index: 2500, Count: 1}))

	listing, err := s.Listing(context.Background())
	require.NoError(t, err)
	assert.Len(t, listing, 1)
	assert.Equal(t, int32(2), errs.Load())
}

func TestLocalStorage_UpdateStampAdvancesOnRealClock(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		e := insert(t, s, "same.txt", []byte("v1"))
		up, err := s.Update(ctx, e.ID, WriteRequest{Name: "same.txt", Body: strings.NewReader("v2")})
		require.NoError(t, err)
		assert.Greater(t, up.Stamp, e.Stamp)

		again, err := s.Update(ctx, e.ID, WriteRequest{Name: "same.txt", Body: strings.NewReader("v3")})
		require.NoError(t, err)
		assert.Greater(t, again.Stamp, up.Stamp)

		h, err := s.Stat(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, again.Stamp, h.Stamp)
	}
}

func TestLocalStorage_UpdateStampWithFrozenClock(t *testing.T) {
	frozen := time.UnixMilli(1700000000000)
	s := newTestStorage(t, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	e := insert(t, s, "a.txt", []byte("first"))
	assert.Equal(t, frozen.UnixMilli(), e.Stamp)
	up, err := s.Update(ctx, e.ID, WriteRequest{Name: "a.txt", Body: strings.NewReader("second")})
	require.NoError(t, err)
	assert.Equal(t, e.Stamp+1, up.Stamp)
}

func TestLocalStorage_BeforeSealLosingTempFile(t *testing.T) {
	s := newTestStorage(t, WithBeforeSeal(func(_ context.Context, tmp string, _ *Header) error {
		return os.Remove(tmp)
	}))
	_, err := s.Insert(context.Background(), WriteRequest{Name: "gone.txt", Body: strings.NewReader("x")})
	require.Error(t, err)

	dir := filepath.Join(s.Root, "000-000-001")
	_, err = os.Stat(filepath.Join(dir, "1.tmp"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "1.data"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, int64(0), s.Counters().Count)
}

func TestLocalStorage_ReindexEmitsCounters(t *testing.T) {
	s := newTestStorage(t)
	insert(t, s, "a.txt", []byte("a"))
	insert(t, s, "b.txt", []byte("b"))
	require.NoError(t, s.counters.reset(Counters{Index: 2, Count: 9}))

	var got []Event
	s.Subscribe(ObserverFunc(func(e Event) {
		if e.Kind == EventReindex {
			got = append(got, e)
		}
	}))
	_, err := s.Reindex(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Counters{Index: 2, Count: 2}, got[0].Counters)
}
