package dbutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

type Dialect int

const (
	SQLite Dialect = iota
	Libsql
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case Libsql:
		return "libsql"
	case Postgres:
		return "postgres"
	}
	return "sqlite"
}

// DetectDialect picks a driver from the shape of the dsn, anything that is not
// a known url scheme is treated as a sqlite file path.
func DetectDialect(dsn string) Dialect {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres
	case strings.HasPrefix(lower, "libsql://"),
		strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "ws://"),
		strings.HasPrefix(lower, "wss://"):
		return Libsql
	}
	return SQLite
}

// Rebind rewrites `?` placeholders into the placeholder style of the dialect.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var out strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// DB is a database handle that remembers which dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open opens dsn and applies schema. Local sqlite files (and their parent
// directories) are created when missing.
func Open(ctx context.Context, dsn, schema string) (DB, error) {
	if dsn == "" {
		return DB{}, fmt.Errorf("a database path was not specified")
	}

	dialect := DetectDialect(dsn)
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case Postgres:
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return DB{}, err
		}
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(time.Minute * 5)
	case Libsql:
		db, err = sql.Open("libsql", dsn)
		if err != nil {
			return DB{}, err
		}
	default:
		db, err = openSqlite(dsn)
		if err != nil {
			return DB{}, err
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	err = db.PingContext(pingCtx)
	if err != nil {
		db.Close()
		return DB{}, fmt.Errorf("ping %s: %w", dialect, err)
	}

	for _, stmt := range Statements(schema) {
		_, err = db.ExecContext(ctx, stmt)
		if err != nil {
			db.Close()
			return DB{}, fmt.Errorf("apply schema: %w", err)
		}
	}

	return DB{DB: db, Dialect: dialect}, nil
}

// Statements splits a schema file into its statements, not every driver
// accepts several statements in one Exec.
func Statements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt = strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func openSqlite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite only allows a single writer, serializing through one connection
	// avoids SQLITE_BUSY and keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	_, err = db.Exec("PRAGMA busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
