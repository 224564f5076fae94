package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/bluegreen/internal/history"
)

// DefaultTable is used when the DSN names no table.
const DefaultTable = "deploy_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Sink sends events to ClickHouse over the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options selects the server and credentials.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

func New(o Options) (*Sink, error) {
	if o.Table == "" {
		o.Table = DefaultTable
	}
	if !tableName.MatchString(o.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", o.Table)
	}
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: o.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			id String,
			kind LowCardinality(String),
			slot LowCardinality(String),
			ok Bool,
			reason String,
			warning String,
			started_at DateTime64(6),
			finished_at DateTime64(6)
		) ENGINE = MergeTree()
		ORDER BY (started_at, id)`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := `INSERT INTO ` + s.table + ` (id, kind, slot, ok, reason, warning, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	err := s.conn.Exec(ctx, query,
		e.ID, string(e.Kind), e.Slot, e.OK, e.Reason, e.Warning, e.StartedAt.UTC(), e.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf(
		`SELECT id, kind, slot, ok, reason, warning, started_at, finished_at FROM %s ORDER BY started_at DESC LIMIT %d`,
		s.table, limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var (
			e    history.Event
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Slot, &e.OK, &e.Reason, &e.Warning, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		e.Kind = history.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
