package dedup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"solwatch/internal/components/chrono"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"
)

const (
	report_file_load    = "file.load"
	report_file_persist = "file.persist"
	report_file_prune   = "file.prune"
)

// FileStore keeps the seen set in a newline delimited file, one
// "<id>\t<unix first seen>" per line. Lines without a tab are alert history
// files of the KOL scanner, which stored lower-cased token names, they load as
// kol ids.
type FileStore struct {
	*set
	path string
	tel  telemetry.API
}

func NewFileStore(path string, clock chrono.API, tel telemetry.API) (*FileStore, error) {
	if path == "" {
		return nil, &monitor.ConfigError{Field: "store.path", Reason: "is empty"}
	}
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return nil, &monitor.StorageError{Op: "open", Err: err}
	}
	return &FileStore{
		set:  newSet(clock),
		path: path,
		tel:  telemetry.NewScopedAPI("dedup", tel),
	}, nil
}

func parseLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, false
	}
	id, ts, found := strings.Cut(line, "\t")
	if !found {
		if !strings.Contains(line, ":") {
			return Entry{ID: "kol:" + strings.ToLower(line)}, true
		}
		return Entry{ID: line}, true
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Entry{ID: id}, true
	}
	return Entry{ID: id, FirstSeen: time.Unix(unix, 0).UTC()}, true
}

func formatLine(e Entry) string {
	if e.FirstSeen.IsZero() {
		return e.ID + "\n"
	}
	return fmt.Sprintf("%s\t%d\n", e.ID, e.FirstSeen.Unix())
}

func (s *FileStore) read() ([]Entry, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if e, ok := parseLine(scanner.Text()); ok {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}

func (s *FileStore) Load(ctx context.Context) error {
	var entries []Entry
	err := withRetry(ctx, s.tel, report_file_load, func() error {
		var err error
		entries, err = s.read()
		return err
	})
	if err != nil {
		s.tel.ReportBroken(report_file_load, err)
		return err
	}
	s.replace(entries)
	return nil
}

func (s *FileStore) Persist(ctx context.Context) error {
	pending := s.takePending()
	if len(pending) == 0 {
		return nil
	}

	var buff strings.Builder
	for _, e := range pending {
		buff.WriteString(formatLine(e))
	}

	err := withRetry(ctx, s.tel, report_file_persist, func() error {
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		_, err = f.WriteString(buff.String())
		if err != nil {
			f.Close()
			return err
		}
		err = f.Sync()
		if err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		s.tel.ReportBroken(report_file_persist, err, len(pending))
		return err
	}
	s.clearPending(len(pending))
	return nil
}

// Prune rewrites the file without the ids first seen before olderThan, ids
// with an unknown first seen time are kept.
func (s *FileStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	err := s.Persist(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := s.read()
	if err != nil {
		return 0, &monitor.StorageError{Op: report_file_prune, Err: err}
	}

	var (
		kept    []Entry
		removed int
	)
	for _, e := range entries {
		if !e.FirstSeen.IsZero() && e.FirstSeen.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}

	err = withRetry(ctx, s.tel, report_file_prune, func() error {
		return s.rewrite(kept)
	})
	if err != nil {
		return 0, err
	}
	s.replace(kept)
	return removed, nil
}

func (s *FileStore) rewrite(entries []Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		_, err = w.WriteString(formatLine(e))
		if err != nil {
			tmp.Close()
			return err
		}
	}
	err = w.Flush()
	if err == nil {
		err = tmp.Sync()
	}
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) List(_ context.Context, limit int) ([]Entry, error) {
	entries := s.entries()
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *FileStore) Close() error {
	return nil
}
