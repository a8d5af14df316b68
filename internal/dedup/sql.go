package dedup

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"
	"solwatch/internal/components/chrono"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"
	"solwatch/lib/dbutil"
)

//go:embed schema.sql
var Schema string

const (
	report_sql_load    = "sql.load"
	report_sql_persist = "sql.persist"
	report_sql_prune   = "sql.prune"
)

// SQLStore keeps the seen set in a `seen` table of a sqlite, libsql or
// postgres database.
type SQLStore struct {
	*set
	db  dbutil.DB
	tel telemetry.API
}

func NewSQLStore(ctx context.Context, dsn string, clock chrono.API, tel telemetry.API) (*SQLStore, error) {
	db, err := dbutil.Open(ctx, dsn, Schema)
	if err != nil {
		return nil, &monitor.StorageError{Op: "open", Err: err}
	}
	return &SQLStore{
		set: newSet(clock),
		db:  db,
		tel: telemetry.NewScopedAPI("dedup", tel),
	}, nil
}

func (s *SQLStore) query(ctx context.Context, limit int) ([]Entry, error) {
	q := "SELECT id, first_seen FROM seen ORDER BY first_seen DESC, id"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Dialect.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id        string
			firstSeen int64
		)
		err = rows.Scan(&id, &firstSeen)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{ID: id, FirstSeen: time.Unix(firstSeen, 0).UTC()})
	}
	return entries, rows.Err()
}

func (s *SQLStore) Load(ctx context.Context) error {
	var entries []Entry
	err := withRetry(ctx, s.tel, report_sql_load, func() error {
		var err error
		entries, err = s.query(ctx, 0)
		return err
	})
	if err != nil {
		s.tel.ReportBroken(report_sql_load, err)
		return err
	}
	s.replace(entries)
	return nil
}

func (s *SQLStore) Persist(ctx context.Context) error {
	pending := s.takePending()
	if len(pending) == 0 {
		return nil
	}

	insert := s.db.Dialect.Rebind(
		"INSERT INTO seen (id, first_seen) VALUES (?, ?) ON CONFLICT (id) DO NOTHING",
	)
	err := withRetry(ctx, s.tel, report_sql_persist, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, e := range pending {
			_, err = tx.ExecContext(ctx, insert, e.ID, e.FirstSeen.Unix())
			if err != nil {
				return fmt.Errorf("insert %s: %w", e.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		s.tel.ReportBroken(report_sql_persist, err, len(pending))
		return err
	}
	s.clearPending(len(pending))
	return nil
}

func (s *SQLStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	var res sql.Result
	err := withRetry(ctx, s.tel, report_sql_prune, func() error {
		var err error
		res, err = s.db.ExecContext(
			ctx,
			s.db.Dialect.Rebind("DELETE FROM seen WHERE first_seen < ?"),
			olderThan.Unix(),
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &monitor.StorageError{Op: report_sql_prune, Err: err}
	}
	return int(n), s.Load(ctx)
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := s.query(ctx, limit)
	if err != nil {
		return nil, &monitor.StorageError{Op: "sql.list", Transient: true, Err: err}
	}
	return entries, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
