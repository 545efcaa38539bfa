// Package client implements the connection-level transaction core of a
// Postgres client: a state machine over the connection's transaction phase,
// single- and two-phase commit with encoded global transaction identifiers,
// recovery of prepared transactions, and cursors with pluggable row
// adaptation. The wire transport lives behind session.Session; this package
// decides what to send and in which states sending is legal.
package client

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/Ademan/pgtx/pkg/rows"
	"github.com/Ademan/pgtx/pkg/session"
	"github.com/Ademan/pgtx/pkg/xid"
)

// Status is the connection's transaction phase.
type Status int

const (
	// StatusReady means no transaction is in progress.
	StatusReady Status = iota
	// StatusInTransaction means an implicit one-phase transaction is open.
	StatusInTransaction
	// StatusBegin means a two-phase transaction was begun and not yet
	// prepared.
	StatusBegin
	// StatusPrepared means the two-phase transaction was prepared and
	// awaits TpcCommit or TpcRollback.
	StatusPrepared
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusInTransaction:
		return "IN_TRANSACTION"
	case StatusBegin:
		return "BEGIN"
	case StatusPrepared:
		return "PREPARED"
	default:
		return "UNKNOWN"
	}
}

// DefaultBatchSize is the number of rows pulled per FETCH when iterating a
// named cursor.
const DefaultBatchSize = 2000

// Connection owns one database session and its cursors. A Connection is a
// single-threaded unit: the mutex keeps its bookkeeping consistent, but
// interleaving statements from multiple goroutines on one Connection is the
// caller's responsibility to avoid. Open one Connection per thread of work.
type Connection struct {
	mu   sync.Mutex
	sess session.Session

	status Status
	tpcXid *xid.Xid
	closed bool

	cursors   map[*Cursor]struct{}
	rowMode   rows.Mode
	batchSize int

	defaultIsolation  string
	overrideIsolation string
}

// Connect opens a Postgres session for the DSN and wraps it in a Connection.
func Connect(ctx context.Context, dsn string) (*Connection, error) {
	sess, err := session.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	conn, err := NewConnection(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, err
	}
	return conn, nil
}

// NewConnection wraps an open session. The session's isolation level is
// captured here so Reset can restore it later.
func NewConnection(ctx context.Context, sess session.Session) (*Connection, error) {
	level, err := queryScalar(ctx, sess, "SHOW default_transaction_isolation")
	if err != nil {
		return nil, err
	}
	return &Connection{
		sess:             sess,
		status:           StatusReady,
		cursors:          make(map[*Cursor]struct{}),
		defaultIsolation: strings.ToLower(level),
	}, nil
}

// Status returns the current transaction phase.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Closed reports whether the connection was closed.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TpcXid returns the Xid of the two-phase transaction in progress, if any.
func (c *Connection) TpcXid() (xid.Xid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tpcXid == nil {
		return xid.Xid{}, false
	}
	return *c.tpcXid, true
}

// Database returns the name of the connected database.
func (c *Connection) Database() string {
	return c.sess.Database()
}

// SetRowMode sets the default row adaptation for cursors created with
// Cursor(). Cursors created with CursorWith carry their own mode.
func (c *Connection) SetRowMode(mode rows.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rowMode = mode
}

// SetDefaultBatchSize sets the FETCH batch used by cursors that do not
// specify one. Values <= 0 fall back to DefaultBatchSize.
func (c *Connection) SetDefaultBatchSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchSize = n
}

// Cursor opens a buffered cursor using the connection's default row mode.
func (c *Connection) Cursor() (*Cursor, error) {
	c.mu.Lock()
	mode := c.rowMode
	c.mu.Unlock()
	return c.CursorWith(CursorConfig{Rows: mode})
}

// CursorWith opens a cursor with explicit configuration. A non-empty Name
// makes it a named (server-side) cursor fetching rows incrementally.
func (c *Connection) CursorWith(cfg CursorConfig) (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, programmingErrorf("connection is closed")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = c.batchSize
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	cur := &Cursor{
		conn:      c,
		name:      cfg.Name,
		mode:      cfg.Rows,
		batchSize: batch,
		rowcount:  -1,
	}
	c.cursors[cur] = struct{}{}
	return cur, nil
}

// Close terminates the connection. Every open cursor is force-closed first
// (the cascading-close invariant), then the session goes away, aborting any
// in-flight transaction server-side. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for cur := range c.cursors {
		cur.forceClose()
	}
	c.cursors = make(map[*Cursor]struct{})
	c.status = StatusReady
	c.tpcXid = nil
	return c.sess.Close()
}

// Commit ends the current one-phase transaction. It is a no-op from
// StatusReady and illegal during a two-phase transaction.
func (c *Connection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	switch c.status {
	case StatusReady:
		return nil
	case StatusInTransaction:
		if _, err := c.sess.Exec(ctx, "COMMIT"); err != nil {
			return err
		}
		c.status = StatusReady
		return nil
	default:
		return programmingErrorf("Commit cannot be used during a two-phase transaction; use TpcCommit or TpcRollback")
	}
}

// Rollback aborts the current one-phase transaction. It is a no-op from
// StatusReady and illegal during a two-phase transaction.
func (c *Connection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	switch c.status {
	case StatusReady:
		return nil
	case StatusInTransaction:
		if _, err := c.sess.Exec(ctx, "ROLLBACK"); err != nil {
			return err
		}
		c.status = StatusReady
		return nil
	default:
		return programmingErrorf("Rollback cannot be used during a two-phase transaction; use TpcCommit or TpcRollback")
	}
}

// TpcBegin starts a two-phase transaction identified by x. The connection
// must be idle: beginning while any transaction is in progress is a usage
// error.
func (c *Connection) TpcBegin(ctx context.Context, x xid.Xid) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.status != StatusReady {
		return programmingErrorf("TpcBegin requires an idle connection, status is %s", c.status)
	}
	if _, err := c.sess.Exec(ctx, "BEGIN"); err != nil {
		return err
	}
	c.status = StatusBegin
	c.tpcXid = &x
	return nil
}

// TpcPrepare prepares the current two-phase transaction under its Xid's
// server-visible name. A server rejection (for instance with
// max_prepared_transactions = 0) comes back verbatim and leaves the
// connection in StatusBegin so the caller can still TpcRollback.
func (c *Connection) TpcPrepare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.status != StatusBegin {
		return programmingErrorf("TpcPrepare requires a transaction begun with TpcBegin, status is %s", c.status)
	}
	if _, err := c.sess.Exec(ctx, "PREPARE TRANSACTION "+quoteLiteral(c.tpcXid.String())); err != nil {
		return err
	}
	c.status = StatusPrepared
	return nil
}

// TpcCommit ends the connection's own two-phase transaction: from
// StatusPrepared it commits the prepared transaction; from StatusBegin it
// commits in one phase, never touching the prepared-transaction table.
func (c *Connection) TpcCommit(ctx context.Context) error {
	return c.tpcFinish(ctx, "COMMIT")
}

// TpcRollback aborts the connection's own two-phase transaction, from either
// StatusBegin or StatusPrepared.
func (c *Connection) TpcRollback(ctx context.Context) error {
	return c.tpcFinish(ctx, "ROLLBACK")
}

func (c *Connection) tpcFinish(ctx context.Context, verb string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	switch c.status {
	case StatusPrepared:
		cmd := verb + " PREPARED " + quoteLiteral(c.tpcXid.String())
		if _, err := c.sess.Exec(ctx, cmd); err != nil {
			return err
		}
	case StatusBegin:
		// One-phase shortcut: the transaction was never prepared, so a
		// plain COMMIT/ROLLBACK resolves it.
		if _, err := c.sess.Exec(ctx, verb); err != nil {
			return err
		}
	default:
		return programmingErrorf("Tpc%s%s requires a two-phase transaction, status is %s",
			verb[:1], strings.ToLower(verb[1:]), c.status)
	}
	c.status = StatusReady
	c.tpcXid = nil
	return nil
}

// TpcCommitXid commits a prepared transaction recovered from the server's
// global table. The transaction need not have been prepared by this
// connection; the connection only has to be idle.
func (c *Connection) TpcCommitXid(ctx context.Context, x xid.Xid) error {
	return c.tpcResolveXid(ctx, "COMMIT", x)
}

// TpcRollbackXid rolls back a recovered prepared transaction by Xid.
func (c *Connection) TpcRollbackXid(ctx context.Context, x xid.Xid) error {
	return c.tpcResolveXid(ctx, "ROLLBACK", x)
}

func (c *Connection) tpcResolveXid(ctx context.Context, verb string, x xid.Xid) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.status != StatusReady {
		return programmingErrorf("recovered transactions can only be resolved from an idle connection, status is %s", c.status)
	}
	_, err := c.sess.Exec(ctx, verb+" PREPARED "+quoteLiteral(x.String()))
	return err
}

// Reset discards any in-progress transaction and forces StatusReady. A
// transaction already prepared stays in the server's table: the session left
// it the moment PREPARE TRANSACTION succeeded. If the isolation level was
// changed ephemerally, the level captured at connection open is restored.
func (c *Connection) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	switch c.status {
	case StatusInTransaction, StatusBegin:
		if _, err := c.sess.Exec(ctx, "ROLLBACK"); err != nil {
			return err
		}
	}
	c.status = StatusReady
	c.tpcXid = nil

	if c.overrideIsolation != "" {
		if err := c.applyIsolation(ctx, c.defaultIsolation); err != nil {
			return err
		}
		c.overrideIsolation = ""
	}
	return nil
}

// IsolationLevel returns the session's effective isolation level.
func (c *Connection) IsolationLevel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overrideIsolation != "" {
		return c.overrideIsolation
	}
	return c.defaultIsolation
}

// SetIsolationLevel changes the session's isolation level ephemerally: the
// next Reset restores the level captured at connection open.
func (c *Connection) SetIsolationLevel(ctx context.Context, level string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	normalized, err := normalizeIsolation(level)
	if err != nil {
		return err
	}
	if err := c.applyIsolation(ctx, normalized); err != nil {
		return err
	}
	c.overrideIsolation = normalized
	return nil
}

// SetDefaultIsolationLevel changes the isolation level persistently for this
// connection: Reset keeps it.
func (c *Connection) SetDefaultIsolationLevel(ctx context.Context, level string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	normalized, err := normalizeIsolation(level)
	if err != nil {
		return err
	}
	if err := c.applyIsolation(ctx, normalized); err != nil {
		return err
	}
	c.defaultIsolation = normalized
	c.overrideIsolation = ""
	return nil
}

// MaxPreparedTransactions probes the server's max_prepared_transactions
// setting. A zero value means the server rejects PREPARE TRANSACTION;
// callers wanting a skip-instead-of-fail policy check this up front, the
// state machine itself never does.
func (c *Connection) MaxPreparedTransactions(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return 0, err
	}
	value, err := queryScalar(ctx, c.sess, "SHOW max_prepared_transactions")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// usable is called with the lock held.
func (c *Connection) usable() error {
	if c.closed {
		return programmingErrorf("connection is closed")
	}
	return nil
}

// beginIfNeeded opens the implicit one-phase transaction before an ordinary
// statement runs. Called with the lock held. Statements are legal while a
// two-phase transaction is begun (they are its work) but not once it is
// prepared.
func (c *Connection) beginIfNeeded(ctx context.Context) error {
	switch c.status {
	case StatusReady:
		if _, err := c.sess.Exec(ctx, "BEGIN"); err != nil {
			return err
		}
		c.status = StatusInTransaction
		return nil
	case StatusPrepared:
		return programmingErrorf("cannot execute statements while a transaction is prepared; TpcCommit or TpcRollback it first")
	default:
		return nil
	}
}

// forget drops a cursor from the registry. Called with the lock held.
func (c *Connection) forget(cur *Cursor) {
	delete(c.cursors, cur)
}

func (c *Connection) applyIsolation(ctx context.Context, level string) error {
	_, err := c.sess.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL "+level)
	return err
}

var isolationLevels = map[string]bool{
	"read uncommitted": true,
	"read committed":   true,
	"repeatable read":  true,
	"serializable":     true,
}

func normalizeIsolation(level string) (string, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(level), " "))
	if !isolationLevels[normalized] {
		return "", programmingErrorf("unknown isolation level %q", level)
	}
	return normalized, nil
}

// queryScalar runs a single-value query and returns the value as text.
func queryScalar(ctx context.Context, sess session.Session, query string) (string, error) {
	rs, err := sess.Query(ctx, query)
	if err != nil {
		return "", err
	}
	defer rs.Close()
	var value string
	for rs.Next() {
		vals, err := rs.Values()
		if err != nil {
			return "", err
		}
		if len(vals) > 0 {
			value = asString(vals[0])
		}
	}
	if err := rs.Err(); err != nil {
		return "", err
	}
	return value, nil
}
