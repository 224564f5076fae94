package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/bluegreen/internal/history"
)

// Sink writes history events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deploy_history(
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			slot TEXT NOT NULL,
			ok BOOLEAN NOT NULL,
			reason TEXT,
			warning TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deploy_history_started ON deploy_history(started_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deploy_history(id, kind, slot, ok, reason, warning, started_at, finished_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, string(e.Kind), e.Slot, e.OK, e.Reason, e.Warning, e.StartedAt.UTC(), e.FinishedAt.UTC())
	return err
}

// Recent returns up to limit events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, slot, ok, COALESCE(reason, ''), COALESCE(warning, ''), started_at, finished_at
		FROM deploy_history ORDER BY started_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var (
			e       history.Event
			kind    string
			started time.Time
			done    time.Time
		)
		if err := rows.Scan(&e.ID, &kind, &e.Slot, &e.OK, &e.Reason, &e.Warning, &started, &done); err != nil {
			return nil, err
		}
		e.Kind = history.Kind(kind)
		e.StartedAt, e.FinishedAt = started.UTC(), done.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
