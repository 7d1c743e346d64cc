package storage

import "sync"

// EventKind names an engine notification.
type EventKind string

const (
	EventInsert    EventKind = "insert"
	EventUpdate    EventKind = "update"
	EventRemove    EventKind = "remove"
	EventError     EventKind = "error"
	EventListing   EventKind = "listing"
	EventChangelog EventKind = "changelog"
	EventRead      EventKind = "read"
	EventCopy      EventKind = "copy"
	EventPipe      EventKind = "pipe"
	EventSend      EventKind = "send"
	EventReindex   EventKind = "reindex"
)

// Event is delivered to every registered Observer. Fields not relevant to
// the kind are left zero.
type Event struct {
	Kind   EventKind
	ID     int64
	Header *Header
	Err    error
	// Lines carries listing entries or changelog lines.
	Lines []string
	// Target is the destination of a copy or send.
	Target string
	// Bytes is the payload size moved by read/copy/pipe/send.
	Bytes    int64
	Counters Counters
}

// Observer receives engine notifications. Observe is called synchronously on
// the goroutine that performed the operation and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	o.mu.Lock()
	o.list = append(o.list, obs)
	o.mu.Unlock()
}

func (o *observers) emit(e Event) {
	o.mu.RLock()
	list := o.list
	o.mu.RUnlock()
	for _, obs := range list {
		obs.Observe(e)
	}
}
