package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/garder500/holystore/pkg/content"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BeforeSealFunc runs after the payload reached its temporary file and before
// the record is sealed. It may rewrite the temporary file in place and adjust
// the header; the payload length is recomputed afterwards. Returning an error
// aborts the write.
type BeforeSealFunc func(ctx context.Context, tmpPath string, h *Header) error

// Option configures a LocalStorage.
type Option func(*LocalStorage)

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(s *LocalStorage) { s.log = l }
}

// WithInspector replaces the content inspector used on insert/update.
func WithInspector(i content.Inspector) Option {
	return func(s *LocalStorage) { s.inspector = i }
}

// WithBeforeSeal installs a preprocessing hook.
func WithBeforeSeal(fn BeforeSealFunc) Option {
	return func(s *LocalStorage) { s.beforeSeal = fn }
}

// WithClock overrides the time source for header stamps and the changelog.
func WithClock(now func() time.Time) Option {
	return func(s *LocalStorage) {
		s.now = now
		s.changes.now = now
	}
}

// LocalStorage is a filesystem-backed Storage implementation.
//
// Layout under Root:
//
//	config                      global counters
//	changelog.log               audit log
//	000-000-001/config          bucket journal
//	000-000-001/<id>.data       record: 2048-byte header + payload
type LocalStorage struct {
	Root string // root directory holding buckets

	log        zerolog.Logger
	inspector  content.Inspector
	beforeSeal BeforeSealFunc
	now        func() time.Time

	counters *counterStore
	changes  *changelog
	locks    *keyedMutex
	// gate is held shared by mutations and exclusively by Reindex.
	gate sync.RWMutex
	dirs sync.Map
	obs  observers
}

var _ Storage = (*LocalStorage)(nil)

// Open prepares root and loads the global counters.
func Open(root string, opts ...Option) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrValidation)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	s := &LocalStorage{
		Root:      root,
		log:       log.With().Str("component", "storage").Logger(),
		inspector: content.Default,
		now:       time.Now,
		counters:  newCounterStore(root),
		changes:   newChangelog(root),
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dirs.Store(root, struct{}{})
	if err := s.counters.load(); err != nil {
		return nil, err
	}
	c := s.counters.snapshot()
	s.log.Debug().Str("root", root).Int64("index", c.Index).Int64("count", c.Count).Msg("storage opened")
	return s, nil
}

// Subscribe registers an observer for engine events.
func (s *LocalStorage) Subscribe(o Observer) {
	s.obs.add(o)
}

// Emit broadcasts e to all observers. Collaborators such as the delivery
// layer report their own events through it.
func (s *LocalStorage) Emit(e Event) {
	s.obs.emit(e)
}

func (s *LocalStorage) fail(err error) error {
	s.obs.emit(Event{Kind: EventError, Err: err})
	return err
}

// Counters returns the current global counters.
func (s *LocalStorage) Counters() Counters {
	return s.counters.snapshot()
}

// BucketDir returns the absolute directory of the bucket holding id.
func (s *LocalStorage) BucketDir(id int64) string {
	return filepath.Join(s.Root, BucketDirNameOf(id))
}

// RecordPath returns the absolute record path of id.
func (s *LocalStorage) RecordPath(id int64) string {
	return filepath.Join(s.BucketDir(id), strconv.FormatInt(id, 10)+recordExt)
}

// ensureDir creates dir once per process; known directories are cached.
func (s *LocalStorage) ensureDir(dir string) error {
	if _, ok := s.dirs.Load(dir); ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s.dirs.Store(dir, struct{}{})
	return nil
}

func validateWrite(req WriteRequest) error {
	if req.Body == nil {
		return fmt.Errorf("%w: payload is missing", ErrValidation)
	}
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name is missing", ErrValidation)
	}
	if len(req.Custom) > 0 && !json.Valid(req.Custom) {
		return fmt.Errorf("%w: custom data is not valid JSON", ErrValidation)
	}
	return nil
}

// Insert stores a new object under the next id.
//
// The id is consumed as soon as it is allocated; a failed write leaves a gap
// rather than reusing it. The live count only grows once the record is sealed.
func (s *LocalStorage) Insert(ctx context.Context, req WriteRequest) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := validateWrite(req); err != nil {
		return Entry{}, s.fail(err)
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	id, err := s.counters.next()
	if err != nil {
		s.fail(fmt.Errorf("persist counters: %w", err))
	}
	s.appendChangelog(id, req.Changelog)

	unlock := s.locks.Lock(recordKey(id))
	defer unlock()

	h, err := s.writeRecord(ctx, id, req, 0)
	if err != nil {
		return Entry{}, s.fail(fmt.Errorf("insert #%d: %w", id, err))
	}
	counters, err := s.counters.add(1)
	if err != nil {
		s.fail(fmt.Errorf("persist counters: %w", err))
	}
	s.journalAppend(id, h)

	s.log.Debug().Int64("id", id).Str("name", h.Name).Int64("length", h.Length).Msg("object inserted")
	s.obs.emit(Event{Kind: EventInsert, ID: id, Header: &h, Bytes: h.Length, Counters: counters})
	return Entry{ID: id, Header: h}, nil
}

// Update replaces the content of an existing object. The id, bucket and
// global counters are unchanged.
func (s *LocalStorage) Update(ctx context.Context, id int64, req WriteRequest) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := validateWrite(req); err != nil {
		return Entry{}, s.fail(err)
	}
	if id < 1 {
		return Entry{}, s.fail(fmt.Errorf("update #%d: %w", id, ErrNotFound))
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	unlock := s.locks.Lock(recordKey(id))
	defer unlock()

	prev, err := readHeader(s.RecordPath(id))
	if err != nil {
		return Entry{}, s.fail(fmt.Errorf("update #%d: %w", id, err))
	}
	s.appendChangelog(id, req.Changelog)

	h, err := s.writeRecord(ctx, id, req, prev.Stamp)
	if err != nil {
		return Entry{}, s.fail(fmt.Errorf("update #%d: %w", id, err))
	}
	s.journalReplace(id, &h)

	s.log.Debug().Int64("id", id).Str("name", h.Name).Int64("length", h.Length).Msg("object updated")
	s.obs.emit(Event{Kind: EventUpdate, ID: id, Header: &h, Bytes: h.Length, Counters: s.counters.snapshot()})
	return Entry{ID: id, Header: h}, nil
}

// Remove deletes the record and its journal line. A missing record reports
// ErrNotFound and leaves counters and journal untouched.
func (s *LocalStorage) Remove(ctx context.Context, id int64, changelog string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id < 1 {
		return s.fail(fmt.Errorf("remove #%d: %w", id, ErrNotFound))
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	s.appendChangelog(id, changelog)

	unlock := s.locks.Lock(recordKey(id))
	defer unlock()

	if err := os.Remove(s.RecordPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ErrNotFound
		}
		return s.fail(fmt.Errorf("remove #%d: %w", id, err))
	}
	counters, err := s.counters.add(-1)
	if err != nil {
		s.fail(fmt.Errorf("persist counters: %w", err))
	}
	s.journalReplace(id, nil)

	s.log.Debug().Int64("id", id).Msg("object removed")
	s.obs.emit(Event{Kind: EventRemove, ID: id, Counters: counters})
	return nil
}

// Stat reads the header of id from the first HeaderSize bytes of its record.
func (s *LocalStorage) Stat(ctx context.Context, id int64) (Header, error) {
	if err := ctx.Err(); err != nil {
		return Header{}, err
	}
	if id < 1 {
		return Header{}, ErrNotFound
	}
	h, err := readHeader(s.RecordPath(id))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fail(fmt.Errorf("stat #%d: %w", id, err))
		}
		return Header{}, err
	}
	return h, nil
}

// Open opens the record of id without emitting a read event.
// The caller must Close the returned Object.
func (s *LocalStorage) Open(ctx context.Context, id int64) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id < 1 {
		return nil, ErrNotFound
	}
	f, err := os.Open(s.RecordPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, s.fail(fmt.Errorf("open #%d: %w", id, err))
	}
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, ErrNotFound
		}
		return nil, s.fail(fmt.Errorf("open #%d: %w", id, err))
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, s.fail(fmt.Errorf("open #%d: %w", id, err))
	}
	return &Object{ID: id, Header: h, f: f}, nil
}

// Read opens the record of id and reports a read event.
func (s *LocalStorage) Read(ctx context.Context, id int64) (*Object, error) {
	obj, err := s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	s.obs.emit(Event{Kind: EventRead, ID: id, Header: &obj.Header, Bytes: obj.Size()})
	return obj, nil
}

// Listing reads the journal of every bucket from 1 up to the bucket of the
// current index. Unreadable journals are reported as error events and skipped.
func (s *LocalStorage) Listing(ctx context.Context) ([]string, error) {
	index := s.counters.snapshot().Index
	if index < 1 {
		s.obs.emit(Event{Kind: EventListing})
		return nil, nil
	}
	buckets := BucketOf(index)
	contents := make([]string, buckets)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for b := int64(1); b <= buckets; b++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dir := filepath.Join(s.Root, BucketDirName(b))
			unlock := s.locks.Lock(journalKey(b))
			data, err := newJournal(dir).read()
			unlock()
			if err != nil {
				s.fail(fmt.Errorf("read journal %s: %w", BucketDirName(b), err))
				return nil
			}
			contents[b-1] = strings.TrimSpace(string(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(contents))
	for _, c := range contents {
		if c != "" {
			out = append(out, c)
		}
	}
	s.obs.emit(Event{Kind: EventListing, Lines: out})
	return out, nil
}

// Entries parses the Listing into journal entries.
func (s *LocalStorage) Entries(ctx context.Context) ([]Entry, error) {
	raw, err := s.Listing(ctx)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, chunk := range raw {
		out = append(out, parseEntries([]byte(chunk))...)
	}
	return out, nil
}

// Changelog returns the audit log lines.
func (s *LocalStorage) Changelog(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines, err := s.changes.lines()
	if err != nil {
		return nil, err
	}
	s.obs.emit(Event{Kind: EventChangelog, Lines: lines})
	return lines, nil
}

// ClearChangelog deletes the audit log.
func (s *LocalStorage) ClearChangelog(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.changes.clear()
}

// writeRecord streams req.Body through a temporary file into the sealed
// record of id. The caller holds the record lock. The new stamp is always
// greater than prevStamp so a rewrite never reuses the previous Etag.
func (s *LocalStorage) writeRecord(ctx context.Context, id int64, req WriteRequest, prevStamp int64) (Header, error) {
	dir := s.BucketDir(id)
	if err := s.ensureDir(dir); err != nil {
		return Header{}, err
	}

	br := bufio.NewReaderSize(req.Body, content.SniffLen)
	prefix, err := br.Peek(content.SniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Header{}, fmt.Errorf("read payload: %w", err)
	}
	info := s.inspector.Inspect(req.Name, prefix)

	path := s.RecordPath(id)
	tmp := strings.TrimSuffix(path, recordExt) + tmpExt
	n, err := writeTemp(tmp, br)
	if err != nil {
		return Header{}, fmt.Errorf("write payload: %w", err)
	}

	h := Header{
		Name:      info.Name,
		Extension: info.Extension,
		Type:      info.Type,
		Width:     info.Width,
		Height:    info.Height,
		Length:    n,
		Custom:    req.Custom,
	}
	if s.beforeSeal != nil {
		if err := s.beforeSeal(ctx, tmp, &h); err != nil {
			os.Remove(tmp)
			return Header{}, fmt.Errorf("before seal: %w", err)
		}
		fi, err := os.Stat(tmp)
		if err != nil {
			os.Remove(tmp)
			return Header{}, fmt.Errorf("before seal: %w", err)
		}
		h.Length = fi.Size()
	}
	h.Stamp = max(s.now().UnixMilli(), prevStamp+1)

	if err := sealRecord(path, tmp, h); err != nil {
		os.Remove(tmp)
		return Header{}, fmt.Errorf("seal record: %w", err)
	}
	return h, nil
}

// journalAppend and journalReplace are best effort: a failure is reported as
// an error event and never fails the operation. Reindex repairs the journal.
func (s *LocalStorage) journalAppend(id int64, h Header) {
	unlock := s.locks.Lock(journalKey(BucketOf(id)))
	defer unlock()
	if err := newJournal(s.BucketDir(id)).appendEntry(id, h); err != nil {
		s.log.Warn().Err(err).Int64("id", id).Msg("journal append failed")
		s.fail(fmt.Errorf("journal #%d: %w", id, err))
	}
}

func (s *LocalStorage) journalReplace(id int64, h *Header) {
	unlock := s.locks.Lock(journalKey(BucketOf(id)))
	defer unlock()
	if err := newJournal(s.BucketDir(id)).replace(id, h); err != nil {
		s.log.Warn().Err(err).Int64("id", id).Msg("journal rewrite failed")
		s.fail(fmt.Errorf("journal #%d: %w", id, err))
	}
}

func (s *LocalStorage) appendChangelog(id int64, description string) {
	if err := s.changes.append(id, description); err != nil {
		s.fail(fmt.Errorf("changelog #%d: %w", id, err))
	}
}

func recordKey(id int64) string {
	return "record:" + strconv.FormatInt(id, 10)
}

func journalKey(bucket int64) string {
	return "journal:" + strconv.FormatInt(bucket, 10)
}
