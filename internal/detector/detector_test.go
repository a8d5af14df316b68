package detector

import (
	"testing"
	"time"
	"solwatch/internal/monitor"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func ids(events []monitor.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func page(list ...string) []monitor.Event {
	out := make([]monitor.Event, len(list))
	for i, id := range list {
		out[i] = monitor.Event{ID: id, Kind: monitor.KindTransaction}
	}
	return out
}

func requireIDs(t *testing.T, expected []string, events []monitor.Event) {
	t.Helper()
	if diff := cmp.Diff(expected, ids(events)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffNewestFirst(t *testing.T) {
	seen := SetOf{}

	out := Diff(page("A", "B", "C"), monitor.NewestFirst, seen)
	requireIDs(t, []string{"C", "B", "A"}, out)
	for _, e := range out {
		seen[e.ID] = true
	}

	out = Diff(page("D", "C", "B"), monitor.NewestFirst, seen)
	requireIDs(t, []string{"D"}, out)
}

func TestDiffOldestFirst(t *testing.T) {
	out := Diff(page("A", "B", "C"), monitor.OldestFirst, SetOf{"B": true})
	requireIDs(t, []string{"A", "C"}, out)
}

func TestDiffDuplicatesOnPage(t *testing.T) {
	out := Diff(page("A", "B", "A", "C"), monitor.NewestFirst, SetOf{})
	requireIDs(t, []string{"C", "A", "B"}, out)
}

func TestDiffOccurredAt(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(id string, minutesAgo int) monitor.Event {
		return monitor.Event{ID: id, OccurredAt: now.Add(-time.Duration(minutesAgo) * time.Minute)}
	}

	// a derived event placed at the top of a newest-first page
	events := []monitor.Event{at("V", 2), at("A", 0), at("B", 0), at("C", 5)}
	out := Diff(events, monitor.NewestFirst, SetOf{})
	requireIDs(t, []string{"C", "V", "B", "A"}, out)

	// without a time on every event page order wins
	events = append(events, monitor.Event{ID: "X"})
	out = Diff(events, monitor.NewestFirst, SetOf{})
	requireIDs(t, []string{"X", "C", "B", "A", "V"}, out)
}

func TestDiffPure(t *testing.T) {
	events := page("A", "B")
	seen := SetOf{"A": true}
	Diff(events, monitor.NewestFirst, seen)

	require.Equal(t, SetOf{"A": true}, seen)
	requireIDs(t, []string{"A", "B"}, events)
}

func TestDiffEmpty(t *testing.T) {
	require.Empty(t, Diff(nil, monitor.NewestFirst, SetOf{}))
	require.Empty(t, Diff(page("A"), monitor.NewestFirst, SetOf{"A": true}))
}

func TestDiffSkipsEmptyIDs(t *testing.T) {
	out := Diff(page("", "A"), monitor.NewestFirst, SetOf{})
	requireIDs(t, []string{"A"}, out)
}
