package push

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/garder500/holystore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPush(t *testing.T) {
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	e, err := s.Insert(context.Background(), storage.WriteRequest{Name: "notes.txt", Body: strings.NewReader("remote copy")})
	require.NoError(t, err)

	var sent []storage.Event
	s.Subscribe(storage.ObserverFunc(func(ev storage.Event) {
		if ev.Kind == storage.EventSend {
			sent = append(sent, ev)
		}
	}))

	p := New(s, nil, 5*time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "max-age=0", r.Header.Get("Cache-Control"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))

		mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mt)
		assert.Equal(t, p.Boundary(), params["boundary"])

		file, hdr, err := r.FormFile(FieldName)
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.txt", hdr.Filename)
		assert.True(t, strings.HasPrefix(hdr.Header.Get("Content-Type"), "text/plain"))
		data, _ := io.ReadAll(file)
		assert.Equal(t, "remote copy", string(data))

		io.WriteString(w, "stored")
	}))
	defer srv.Close()

	body, err := p.Push(context.Background(), e.ID, srv.URL, http.Header{"X-Extra": {"yes"}})
	require.NoError(t, err)
	assert.Equal(t, "stored", body)
	require.Len(t, sent, 1)
	assert.Equal(t, srv.URL, sent[0].Target)
}

func TestPushErrors(t *testing.T) {
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	e, err := s.Insert(context.Background(), storage.WriteRequest{Name: "a.bin", Body: strings.NewReader("a")})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := New(s, srv.Client(), 0)

	_, err = p.Push(context.Background(), 404, srv.URL, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = p.Push(context.Background(), e.ID, srv.URL, nil)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
	assert.Contains(t, perr.Body, "nope")
}
