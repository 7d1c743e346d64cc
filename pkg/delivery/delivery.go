// Package delivery streams stored objects to HTTP clients, with byte-range
// and conditional request support, or to any io.Writer.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/garder500/holystore/pkg/storage"
)

// NotFoundBody is the plain-text body of a 404 delivery.
const NotFoundBody = "File not found."

// Store is the part of the engine the delivery layer consumes.
type Store interface {
	Open(ctx context.Context, id int64) (*storage.Object, error)
	Emit(storage.Event)
}

// Options tunes the caching headers of HTTP deliveries.
type Options struct {
	// CacheControl is sent verbatim. Defaults to "public".
	CacheControl string
	// Expires is added to the current time for the Expires header.
	// Defaults to two months.
	Expires time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Deliverer serves objects from a Store.
type Deliverer struct {
	store Store
	opts  Options
}

// New creates a Deliverer. Zero Options fields take their defaults.
func New(store Store, opts Options) *Deliverer {
	if opts.CacheControl == "" {
		opts.CacheControl = "public"
	}
	if opts.Expires == 0 {
		opts.Expires = 60 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Deliverer{store: store, opts: opts}
}

// Sink is the destination of a delivery. It is implemented only by HTTPSink
// and StreamSink; callers choose the variant explicitly.
type Sink interface {
	deliver(d *Deliverer, obj *storage.Object) (int64, error)
	notFound(err error) error
}

// HTTPSink delivers to an HTTP response. When R is set its Range and
// If-None-Match headers are honoured.
type HTTPSink struct {
	W http.ResponseWriter
	R *http.Request
	// Download adds a Content-Disposition attachment header.
	Download bool
	// Filename overrides the stored display name in the attachment header.
	Filename string
}

// StreamSink copies the raw payload to W without any protocol framing.
type StreamSink struct {
	W io.Writer
}

// Pipe delivers object id to sink. For an HTTPSink a missing object is
// answered with a 404 and Pipe returns nil; a StreamSink gets
// storage.ErrNotFound.
func (d *Deliverer) Pipe(ctx context.Context, id int64, sink Sink) error {
	obj, err := d.store.Open(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return sink.notFound(err)
		}
		return err
	}
	defer obj.Close()

	n, err := sink.deliver(d, obj)
	if err != nil {
		err = fmt.Errorf("pipe #%d: %w", id, err)
		d.store.Emit(storage.Event{Kind: storage.EventError, ID: id, Err: err})
		return err
	}
	d.store.Emit(storage.Event{Kind: storage.EventPipe, ID: id, Header: &obj.Header, Bytes: n})
	return nil
}

// Copy writes the payload of id to directory/name. An empty name uses the
// stored display name. It returns the path written.
func (d *Deliverer) Copy(ctx context.Context, id int64, directory, name string) (string, error) {
	obj, err := d.store.Open(ctx, id)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	if name == "" {
		name = obj.Header.Name
	}
	target := filepath.Join(directory, filepath.Base(name))
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, obj.Payload())
	if err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	d.store.Emit(storage.Event{Kind: storage.EventCopy, ID: id, Header: &obj.Header, Bytes: n, Target: target})
	return target, nil
}

func (s *HTTPSink) notFound(error) error {
	s.W.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.W.WriteHeader(http.StatusNotFound)
	if s.R == nil || s.R.Method != http.MethodHead {
		io.WriteString(s.W, NotFoundBody)
	}
	return nil
}

func (s *HTTPSink) deliver(d *Deliverer, obj *storage.Object) (int64, error) {
	h := obj.Header
	etag := strconv.FormatInt(h.Stamp, 10)

	if s.R != nil && etagMatches(s.R.Header.Get("If-None-Match"), etag) {
		s.W.WriteHeader(http.StatusNotModified)
		return 0, nil
	}

	hdr := s.W.Header()
	contentType := h.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr.Set("Content-Type", contentType)
	hdr.Set("Etag", etag)
	hdr.Set("Last-Modified", h.Modified().UTC().Format(http.TimeFormat))
	hdr.Set("Accept-Ranges", "bytes")
	hdr.Set("Cache-Control", d.opts.CacheControl)
	hdr.Set("Expires", d.opts.Now().Add(d.opts.Expires).UTC().Format(http.TimeFormat))
	hdr.Set("Vary", "Accept-Encoding")
	if s.Download {
		hdr.Set("Content-Disposition", attachment(s.Filename, h.Name))
	}

	status := http.StatusOK
	length := h.Length
	var body io.Reader = obj.Payload()
	if s.R != nil {
		if r, ok := parseRange(s.R.Header.Get("Range"), h.Length); ok {
			status = http.StatusPartialContent
			length = r.length()
			body = obj.Range(r.start, r.end)
			hdr.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, h.Length))
		}
	}
	hdr.Set("Content-Length", strconv.FormatInt(length, 10))
	s.W.WriteHeader(status)

	if s.R != nil && s.R.Method == http.MethodHead {
		return 0, nil
	}
	return io.Copy(s.W, body)
}

func (s *StreamSink) notFound(err error) error {
	return err
}

func (s *StreamSink) deliver(_ *Deliverer, obj *storage.Object) (int64, error) {
	return io.Copy(s.W, obj.Payload())
}

func attachment(filename, fallback string) string {
	if filename == "" {
		filename = fallback
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
