package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, j journal) []string {
	t.Helper()
	data, err := os.ReadFile(j.path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestJournalAppendReplaceRemove(t *testing.T) {
	j := newJournal(t.TempDir())

	require.NoError(t, j.appendEntry(1, Header{Name: "one", Length: 1}))
	require.NoError(t, j.appendEntry(10, Header{Name: "ten", Length: 10}))
	require.NoError(t, j.appendEntry(2, Header{Name: "two", Length: 2}))

	lines := readLines(t, j)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], `{"id":1,"name":"one"`), lines[0])

	// id 1 must not touch id 10
	require.NoError(t, j.replace(1, &Header{Name: "uno", Length: 4}))
	entries, err := j.entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "uno", entries[0].Name)
	assert.Equal(t, int64(10), entries[1].ID)
	assert.Equal(t, "ten", entries[1].Name)
	assert.Equal(t, int64(2), entries[2].ID)

	require.NoError(t, j.replace(10, nil))
	entries, err = j.entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, int64(2), entries[1].ID)

	// removing an absent id is a no-op
	require.NoError(t, j.replace(99, nil))
	assert.Len(t, readLines(t, j), 2)
}

func TestJournalMissingFileIsEmpty(t *testing.T) {
	j := newJournal(t.TempDir())

	require.NoError(t, j.replace(3, nil))
	data, err := os.ReadFile(j.path)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = newJournal(filepath.Join(t.TempDir(), "absent")).read()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournalReplaceRestoresLostLine(t *testing.T) {
	j := newJournal(t.TempDir())
	require.NoError(t, j.appendEntry(1, Header{Name: "one"}))

	require.NoError(t, j.replace(5, &Header{Name: "five"}))
	entries, err := j.entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(5), entries[1].ID)
}

func TestLineMatches(t *testing.T) {
	assert.True(t, lineMatches([]byte(`{"id":1,"name":"a"}`), 1))
	assert.False(t, lineMatches([]byte(`{"id":10,"name":"a"}`), 1))
	assert.False(t, lineMatches([]byte(`{"id":1,"name":"a"}`), 10))
	// unparsable lines fall back to the exact token
	assert.True(t, lineMatches([]byte(`{"id":7,"name":"broken`), 7))
	assert.False(t, lineMatches([]byte(`{"id":70,"name":"broken`), 7))
}
