package session

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// PgSession is the production Session over a single pgx connection.
type PgSession struct {
	conn     *pgx.Conn
	database string
	closed   bool
}

// Connect opens a Postgres session for the given DSN.
func Connect(ctx context.Context, dsn string) (*PgSession, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PgSession{conn: conn, database: cfg.Database}, nil
}

// Exec runs a statement and returns the server's command tag. Errors from the
// server come back as *pgconn.PgError, untouched.
func (s *PgSession) Exec(ctx context.Context, query string, args ...any) (string, error) {
	tag, err := s.conn.Exec(ctx, query, args...)
	if err != nil {
		return "", err
	}
	return tag.String(), nil
}

// Query runs a statement and returns its rows.
func (s *PgSession) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

// Database returns the database name from the connection config.
func (s *PgSession) Database() string {
	return s.database
}

// Close terminates the session. Closing twice is a no-op.
func (s *PgSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close(context.Background())
}

type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Columns() []string {
	fields := r.rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func (r *pgxRows) Next() bool {
	return r.rows.Next()
}

func (r *pgxRows) Values() ([]any, error) {
	return r.rows.Values()
}

func (r *pgxRows) Err() error {
	return r.rows.Err()
}

func (r *pgxRows) CommandTag() string {
	return r.rows.CommandTag().String()
}

func (r *pgxRows) Close() error {
	r.rows.Close()
	return r.rows.Err()
}
