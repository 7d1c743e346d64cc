// Package push uploads stored objects to a remote HTTP endpoint as a
// multipart/form-data POST.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/garder500/holystore/pkg/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FieldName is the form field carrying the payload.
const FieldName = "File"

// maxResponseBody bounds how much of the remote reply is kept.
const maxResponseBody = 1 << 20

// Store is the part of the engine Pusher consumes.
type Store interface {
	Open(ctx context.Context, id int64) (*storage.Object, error)
	Emit(storage.Event)
}

// ProtocolError reports an unusable response from the remote endpoint.
type ProtocolError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("push %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("push %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Pusher sends objects to remote endpoints. All pushes of one Pusher share
// the same multipart boundary.
type Pusher struct {
	store    Store
	client   *http.Client
	boundary string
}

// New creates a Pusher. A nil client uses a client with the given timeout.
func New(store Store, client *http.Client, timeout time.Duration) *Pusher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Pusher{
		store:    store,
		client:   client,
		boundary: "----" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// Boundary returns the multipart boundary used by p.
func (p *Pusher) Boundary() string {
	return p.boundary
}

// Push streams the payload of id to url and returns the response body.
// Extra headers are added to the request; Content-Type and Cache-Control are
// always set by Push.
func (p *Pusher) Push(ctx context.Context, id int64, url string, headers http.Header) (string, error) {
	obj, err := p.store.Open(ctx, id)
	if err != nil {
		return "", p.fail(id, err)
	}
	defer obj.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(p.boundary); err != nil {
		return "", p.fail(id, err)
	}
	go func() {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Disposition": {multipartDisposition(obj.Header.Name)},
			"Content-Type":        {contentType(obj.Header.Type)},
		})
		if err == nil {
			_, err = io.Copy(part, obj.Payload())
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", p.fail(id, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Cache-Control", "max-age=0")
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", p.fail(id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", p.fail(id, &ProtocolError{URL: url, StatusCode: resp.StatusCode, Err: err})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(body), p.fail(id, &ProtocolError{URL: url, StatusCode: resp.StatusCode, Body: string(body)})
	}

	log.Debug().Int64("id", id).Str("url", url).Int("status", resp.StatusCode).Msg("object pushed")
	p.store.Emit(storage.Event{Kind: storage.EventSend, ID: id, Header: &obj.Header, Bytes: obj.Size(), Target: url})
	return string(body), nil
}

func (p *Pusher) fail(id int64, err error) error {
	if !errors.Is(err, storage.ErrNotFound) {
		p.store.Emit(storage.Event{Kind: storage.EventError, ID: id, Err: err})
	}
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartDisposition(filename string) string {
	return fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldName, quoteEscaper.Replace(filename))
}

func contentType(t string) string {
	if t == "" {
		return "application/octet-stream"
	}
	return t
}
