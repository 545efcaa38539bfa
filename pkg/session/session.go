// Package session defines the contract between the transaction core and the
// database engine: execute a statement, read result rows, report command
// status. The production implementation speaks to Postgres through pgx;
// everything above it (connections, cursors, recovery) is engine-agnostic.
package session

import "context"

// Session is a single synchronous database session. All calls block until
// the server responds. A Session is not safe for concurrent use.
type Session interface {
	// Exec runs a statement that returns no rows and reports the server's
	// command status tag (e.g. "CREATE TABLE", "INSERT 0 1"). Server
	// rejections are returned verbatim.
	Exec(ctx context.Context, query string, args ...any) (string, error)

	// Query runs a statement and returns its result rows.
	Query(ctx context.Context, query string, args ...any) (Rows, error)

	// Database returns the name of the database this session is bound to.
	Database() string

	// Close terminates the session, aborting any in-flight transaction
	// server-side. Closing twice is a no-op.
	Close() error
}

// Rows is one result set, pulled row by row. The command tag is available
// after the rows have been fully read or closed.
type Rows interface {
	Columns() []string
	Next() bool
	Values() ([]any, error)
	Err() error
	CommandTag() string
	Close() error
}
