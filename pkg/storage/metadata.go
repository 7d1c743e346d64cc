package storage

import (
	"encoding/json"
	"time"
)

// Header is the metadata embedded at the head of every object record.
type Header struct {
	Name      string          `json:"name" yaml:"name"`
	Extension string          `json:"extension" yaml:"extension"`
	Type      string          `json:"type" yaml:"type"`
	Width     int             `json:"width" yaml:"width"`
	Height    int             `json:"height" yaml:"height"`
	Length    int64           `json:"length" yaml:"length"`
	Custom    json.RawMessage `json:"custom,omitempty" yaml:"-"`
	Stamp     int64           `json:"stamp" yaml:"stamp"`
}

// Modified returns the stamp as a time value.
func (h Header) Modified() time.Time {
	return time.UnixMilli(h.Stamp)
}

// Entry is one line of a bucket journal. Field order keeps "id" as the first
// key of the encoded line.
type Entry struct {
	ID     int64 `json:"id" yaml:"id"`
	Header `yaml:",inline"`
}

// Counters is the store-wide identifier state persisted at the root.
type Counters struct {
	Index int64 `json:"index" yaml:"index"`
	Count int64 `json:"count" yaml:"count"`
}
