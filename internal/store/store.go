// Package store is AgentsLeak's persistence layer: a single SQLite database
// (via modernc.org/sqlite, no cgo) holding sessions, events, alerts,
// policies, and the activity graph.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
)

// Store wraps a single *sql.DB connection. SQLite only tolerates one writer
// at a time, so like the teacher's embedded-database components we keep a
// single shared connection rather than a pool.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the database at path, applies the
// schema, and runs any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, apierr.Internalf(err, "open database")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return apierr.Internalf(err, "apply schema")
	}
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				continue
			}
			log.Warn().Err(err).Str("component", "store").Msg("migration step failed")
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components (e.g. health checks)
// that need to ping it directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

func toJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromJSON[T any](raw sql.NullString, out *T) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ctxOrBackground lets callers that don't already carry a context still
// exercise the timeout-aware query path.
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
