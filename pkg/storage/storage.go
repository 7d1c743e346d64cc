package storage

import (
	"context"
	"encoding/json"
	"io"
)

// WriteRequest describes the content of an insert or update.
type WriteRequest struct {
	// Name is the display name; any directory part is dropped.
	Name string
	// Body is the payload. It is streamed to disk, never buffered whole.
	Body io.Reader
	// Custom is arbitrary caller data stored verbatim in the header.
	Custom json.RawMessage
	// Changelog is an optional free-text annotation for the audit log.
	Changelog string
}

// Storage is a numbered, file-backed object store.
// Objects are addressed by a monotonically increasing id assigned on insert.
type Storage interface {
	// Insert stores a new object under the next id.
	Insert(ctx context.Context, req WriteRequest) (Entry, error)
	// Update replaces the content of an existing object, keeping its id.
	Update(ctx context.Context, id int64, req WriteRequest) (Entry, error)
	// Remove deletes the object. Its id is never reassigned.
	Remove(ctx context.Context, id int64, changelog string) error
	// Stat reads only the fixed-size header of the object.
	Stat(ctx context.Context, id int64) (Header, error)
	// Read opens the object for reading its payload.
	Read(ctx context.Context, id int64) (*Object, error)
	// Listing returns the raw journal contents of every bucket.
	Listing(ctx context.Context) ([]string, error)
	// Entries returns the parsed journal lines of every bucket.
	Entries(ctx context.Context) ([]Entry, error)
	// Counters returns the current global counters.
	Counters() Counters
	// Changelog returns the audit log lines.
	Changelog(ctx context.Context) ([]string, error)
	// ClearChangelog deletes the audit log.
	ClearChangelog(ctx context.Context) error
	// Reindex rebuilds journals and counters from the records on disk.
	Reindex(ctx context.Context) (Counters, error)
	// Subscribe registers an observer for engine events.
	Subscribe(o Observer)
}
