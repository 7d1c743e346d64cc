package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	changelogFile       = "changelog.log"
	changelogTimeFormat = "2006-01-02 15:04:05"
)

// changelog is the free-text audit log kept at the store root.
type changelog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func newChangelog(root string) *changelog {
	return &changelog{path: filepath.Join(root, changelogFile), now: time.Now}
}

// append writes "<timestamp> - #<id> <description>". Empty descriptions are ignored.
func (c *changelog) append(id int64, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil
	}
	line := fmt.Sprintf("%s - #%d %s\n", c.now().Format(changelogTimeFormat), id, description)

	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// lines returns the log split on newlines. A missing log reports ErrNotFound.
func (c *changelog) lines() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}

func (c *changelog) clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
