// Package monitor holds the records passed between the stages of a poll
// cycle and the error taxonomy every stage reports with.
package monitor

import (
	"time"
)

// Kind tells the notifier how to render an event.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindVolume      Kind = "volume"
	KindKOL         Kind = "kol"
)

// Event is one unit of observed activity. ID is derived from the content of
// the activity so that re-extracting it yields the same ID.
type Event struct {
	ID         string
	Kind       Kind
	ObservedAt time.Time
	// OccurredAt is the estimated time of the activity itself, zero when the
	// page does not expose one.
	OccurredAt time.Time
	Payload    map[string]string
}

// Get returns the payload value for key and whether it was extracted.
func (e Event) Get(key string) (string, bool) {
	v, ok := e.Payload[key]
	return v, ok
}

// Order is the order an extractor emits events in, which is the order the
// page displays them in.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

func (o Order) String() string {
	if o == OldestFirst {
		return "oldest-first"
	}
	return "newest-first"
}

// Snapshot is the fetched page state of one poll cycle.
type Snapshot struct {
	URL        string
	FetchedAt  time.Time
	RawContent string
}

// NotificationRecord is the outcome of delivering one event.
type NotificationRecord struct {
	EventID   string
	Channel   string
	Attempts  int
	LastError string
	Delivered bool
}
