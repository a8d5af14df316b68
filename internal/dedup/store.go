// Package dedup persists the set of event ids that have already been
// delivered so that restarts do not repeat notifications.
package dedup

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"solwatch/internal/components/chrono"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"

	"github.com/cenkalti/backoff/v4"
)

// Store is the seen set. Has and MarkSeen work on memory, Persist makes every
// id marked since the last Persist durable. Only one process may write to a
// store at a time.
type Store interface {
	Load(ctx context.Context) error
	Has(id string) bool
	// MarkSeen is idempotent.
	MarkSeen(id string)
	Persist(ctx context.Context) error
	Len() int
	// Prune deletes ids first seen before olderThan and returns how many were
	// removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	// List returns up to limit entries, most recently seen first. A limit
	// <= 0 returns everything.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

type Entry struct {
	ID        string
	FirstSeen time.Time
}

const (
	KindSQL  = "sql"
	KindFile = "file"
)

type Options struct {
	// Kind is KindSQL or KindFile.
	Kind string
	// DSN is a sqlite path, a libsql url or a postgres url (sql only).
	DSN string
	// Path is the id file (file only).
	Path string
}

// Open creates the store described by opts and loads it.
func Open(ctx context.Context, opts Options, clock chrono.API, tel telemetry.API) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Kind {
	case KindSQL, "":
		store, err = NewSQLStore(ctx, opts.DSN, clock, tel)
	case KindFile:
		store, err = NewFileStore(opts.Path, clock, tel)
	default:
		return nil, &monitor.ConfigError{Field: "store.kind", Reason: fmt.Sprintf("unknown store %q", opts.Kind)}
	}
	if err != nil {
		return nil, err
	}

	err = store.Load(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// set is the in-memory state shared by the store implementations.
type set struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	pending []Entry
	clock   chrono.API
}

func newSet(clock chrono.API) *set {
	return &set{seen: map[string]time.Time{}, clock: clock}
}

func (s *set) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

func (s *set) MarkSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return
	}
	now := s.clock.Now()
	s.seen[id] = now
	s.pending = append(s.pending, Entry{ID: id, FirstSeen: now})
}

func (s *set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *set) takePending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.pending...)
}

// clearPending drops the first n pending entries once they are durable.
func (s *set) clearPending(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[n:]
}

func (s *set) replace(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]time.Time, len(entries))
	for _, e := range entries {
		s.seen[e.ID] = e.FirstSeen
	}
	for _, e := range s.pending {
		s.seen[e.ID] = e.FirstSeen
	}
}

func (s *set) entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.seen))
	for id, t := range s.seen {
		out = append(out, Entry{ID: id, FirstSeen: t})
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FirstSeen.Equal(entries[j].FirstSeen) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].FirstSeen.After(entries[j].FirstSeen)
	})
}

var (
	retryInitialInterval = 100 * time.Millisecond
	maxRetries           = 3
)

var transientMarkers = []string{
	"database is locked",
	"sqlite_busy",
	"busy",
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"too many connections",
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs fn until it succeeds, fails with a non transient error or
// has been retried maxRetries times. The error is always a StorageError.
func withRetry(ctx context.Context, tel telemetry.API, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = 2 * time.Second

	err := backoff.RetryNotify(
		func() error {
			err := fn()
			if err != nil && !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx),
		func(err error, wait time.Duration) {
			tel.ReportWarning(op, err, wait)
		},
	)
	if err == nil {
		return nil
	}
	// a cancelled shutdown is not a broken store
	transient := ctx.Err() != nil
	return &monitor.StorageError{Op: op, Transient: transient, Err: err}
}
