package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// HeaderSize is the fixed size of the metadata region at the head of every
// record. The payload always starts at this offset.
const HeaderSize = 2048

const (
	recordExt = ".data"
	tmpExt    = ".tmp"
	sealExt   = ".seal"
)

// EncodeHeader serializes h as JSON right-padded with spaces to HeaderSize.
func EncodeHeader(h Header) ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if len(b) > HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, len(b))
	}
	out := make([]byte, HeaderSize)
	copy(out, b)
	for i := len(b); i < HeaderSize; i++ {
		out[i] = ' '
	}
	return out, nil
}

// DecodeHeader parses the header region of a record.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	b = bytes.TrimRight(b, " \x00")
	if err := json.Unmarshal(b, &h); err != nil {
		return Header{}, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// readHeader reads only the first HeaderSize bytes of the record at path.
// Missing or truncated records are reported as ErrNotFound.
func readHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Header{}, ErrNotFound
		}
		return Header{}, err
	}
	defer f.Close()
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, ErrNotFound
		}
		return Header{}, err
	}
	return DecodeHeader(buf)
}

// writeTemp streams r into path, returning the number of bytes written.
func writeTemp(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return n, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return n, err
	}
	return n, nil
}

// sealRecord produces the final record at path: the padded header followed
// by the bytes of the temporary payload file. The record is assembled in a
// sibling file and renamed into place so readers never see a partial record.
// The temporary payload file is removed afterwards.
func sealRecord(path, tmpPath string, h Header) error {
	head, err := EncodeHeader(h)
	if err != nil {
		return err
	}
	src, err := os.Open(tmpPath)
	if err != nil {
		return err
	}
	defer src.Close()

	sealPath := path + sealExt
	dst, err := os.Create(sealPath)
	if err != nil {
		return err
	}
	if _, err := dst.Write(head); err != nil {
		dst.Close()
		os.Remove(sealPath)
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(sealPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(sealPath)
		return err
	}
	if err := os.Rename(sealPath, path); err != nil {
		os.Remove(sealPath)
		return err
	}
	src.Close()
	return os.Remove(tmpPath)
}
