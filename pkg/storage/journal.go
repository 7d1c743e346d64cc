package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// journalFile is the per-bucket journal name; the same name holds the global
// counters at the store root.
const journalFile = "config"

// journal is the per-bucket metadata log: one JSON line per live object.
// Callers serialize mutations of a given bucket.
type journal struct {
	path string
}

func newJournal(bucketDir string) journal {
	return journal{path: filepath.Join(bucketDir, journalFile)}
}

// appendEntry adds one line for id. Used on insert.
func (j journal) appendEntry(id int64, h Header) error {
	line, err := encodeEntry(id, h)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// replace rewrites the line for id with h, or drops it when h is nil.
// Non-matching lines are copied through in their original order. A missing
// journal is treated as empty.
func (j journal) replace(id int64, h *Header) error {
	data, err := os.ReadFile(j.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	var out bytes.Buffer
	out.Grow(len(data) + HeaderSize)
	hit := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4*HeaderSize), 64*HeaderSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !hit && lineMatches(line, id) {
			hit = true
			if h != nil {
				enc, err := encodeEntry(id, *h)
				if err != nil {
					return err
				}
				out.Write(enc)
			}
			continue
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if !hit && h != nil {
		// update of an object whose line was lost; restore it
		enc, err := encodeEntry(id, *h)
		if err != nil {
			return err
		}
		out.Write(enc)
	}
	return writeFileAtomic(j.path, out.Bytes())
}

// read returns the raw journal contents. A missing journal reports ErrNotFound.
func (j journal) read() ([]byte, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// entries parses every line of the journal, skipping lines that fail to parse.
func (j journal) entries() ([]Entry, error) {
	data, err := j.read()
	if err != nil {
		return nil, err
	}
	return parseEntries(data), nil
}

func parseEntries(data []byte) []Entry {
	var out []Entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func encodeEntry(id int64, h Header) ([]byte, error) {
	b, err := json.Marshal(Entry{ID: id, Header: h})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// lineMatches reports whether a journal line belongs to id. Lines are parsed
// for their "id" field; lines that do not parse fall back to the exact
// `"id":<id>,` token so id 1 never matches id 10.
func lineMatches(line []byte, id int64) bool {
	var probe struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err == nil && probe.ID != nil {
		return *probe.ID == id
	}
	token := []byte(`"id":` + strconv.FormatInt(id, 10) + `,`)
	return bytes.Contains(line, token)
}

// writeFileAtomic writes data to a temporary sibling and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + tmpExt
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
