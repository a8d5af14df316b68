// Package detector filters extracted events down to the ones that have not
// been delivered yet.
package detector

import (
	"sort"
	"solwatch/internal/monitor"
)

// Membership answers whether an id has already been seen, dedup.Store
// satisfies it.
type Membership interface {
	Has(id string) bool
}

// Diff returns the events whose ids are not in seen, oldest first. Events are
// first put in chronological order by reversing newest-first input, then, if
// every new event carries an OccurredAt, stable sorted by it so that ties keep
// page order. An id that appears more than once on the page is returned once,
// at its first chronological position. Diff does not modify seen.
func Diff(events []monitor.Event, order monitor.Order, seen Membership) []monitor.Event {
	chronological := make([]monitor.Event, len(events))
	copy(chronological, events)
	if order == monitor.NewestFirst {
		for i, j := 0, len(chronological)-1; i < j; i, j = i+1, j-1 {
			chronological[i], chronological[j] = chronological[j], chronological[i]
		}
	}

	var out []monitor.Event
	emitted := map[string]bool{}
	allTimed := true
	for _, e := range chronological {
		if e.ID == "" || emitted[e.ID] || seen.Has(e.ID) {
			continue
		}
		emitted[e.ID] = true
		if e.OccurredAt.IsZero() {
			allTimed = false
		}
		out = append(out, e)
	}

	if allTimed {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		})
	}
	return out
}

// SetOf is a Membership over a fixed set of ids.
type SetOf map[string]bool

func (s SetOf) Has(id string) bool {
	return s[id]
}
