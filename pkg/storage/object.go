package storage

import (
	"io"
	"os"
)

// Object is an open record. The payload is addressed relative to its start;
// the header region is skipped transparently.
type Object struct {
	ID     int64
	Header Header
	f      *os.File
}

// Size is the stored payload length.
func (o *Object) Size() int64 {
	return o.Header.Length
}

// Payload returns a reader over the whole payload.
func (o *Object) Payload() *io.SectionReader {
	return io.NewSectionReader(o.f, HeaderSize, o.Header.Length)
}

// Range returns a reader over payload bytes [start, end], inclusive.
func (o *Object) Range(start, end int64) *io.SectionReader {
	if start < 0 {
		start = 0
	}
	if end >= o.Header.Length {
		end = o.Header.Length - 1
	}
	n := end - start + 1
	if n < 0 {
		n = 0
	}
	return io.NewSectionReader(o.f, HeaderSize+start, n)
}

func (o *Object) Close() error {
	return o.f.Close()
}
