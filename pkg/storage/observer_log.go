package storage

import (
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// LogObserver writes every engine event to a zerolog logger.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates an observer logging to l.
func NewLogObserver(l zerolog.Logger) *LogObserver {
	return &LogObserver{logger: l}
}

func (o *LogObserver) Observe(e Event) {
	switch e.Kind {
	case EventError:
		o.logger.Error().Err(e.Err).Str("event", string(e.Kind)).Msg("storage error")
	case EventReindex:
		o.logger.Info().Str("event", string(e.Kind)).Int64("index", e.Counters.Index).Int64("count", e.Counters.Count).Msg("storage event")
	case EventListing, EventChangelog:
		o.logger.Debug().Str("event", string(e.Kind)).Int("lines", len(e.Lines)).Msg("storage event")
	default:
		ev := o.logger.Info().Str("event", string(e.Kind)).Int64("id", e.ID)
		if e.Header != nil {
			ev = ev.Str("name", e.Header.Name).Str("type", e.Header.Type)
		}
		if e.Bytes > 0 {
			ev = ev.Str("size", humanize.IBytes(uint64(e.Bytes)))
		}
		if e.Target != "" {
			ev = ev.Str("target", e.Target)
		}
		ev.Msg("storage event")
	}
}
