package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Ademan/pgtx/pkg/rows"
)

// CursorConfig configures a cursor at creation time.
type CursorConfig struct {
	// Name makes the cursor a named (server-side) cursor: rows are pulled
	// incrementally with FETCH instead of being materialized client-side.
	Name string
	// Rows selects the row adaptation applied to every fetched row.
	Rows rows.Mode
	// BatchSize is the FETCH batch used when iterating a named cursor.
	// Defaults to DefaultBatchSize.
	BatchSize int
}

// Cursor executes statements on its owning connection and exposes the
// results. Row adaptation is fixed per statement execution and identical
// across FetchOne/FetchMany/FetchAll/iteration and across buffered and named
// cursors.
type Cursor struct {
	conn      *Connection
	name      string
	mode      rows.Mode
	batchSize int

	closed        bool
	statusmessage string
	rowcount      int64

	factory   *rows.Factory
	hasResult bool
	buf       []rows.Row
	pos       int

	declared  bool
	exhausted bool

	lastRow rows.Row
	iterErr error
}

// Name returns the cursor's server-side name, empty for buffered cursors.
func (cur *Cursor) Name() string {
	return cur.name
}

// Closed reports whether the cursor was closed, explicitly or by its
// connection closing.
func (cur *Cursor) Closed() bool {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.closed
}

// Statusmessage returns the server's command tag for the last executed
// statement.
func (cur *Cursor) Statusmessage() string {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.statusmessage
}

// RowCount returns the number of rows the last statement produced or
// affected, -1 when unknown.
func (cur *Cursor) RowCount() int64 {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.rowcount
}

// Execute runs a statement. On a buffered cursor the whole result set is
// materialized and wrapped client-side; on a named cursor the statement is
// declared server-side and rows are fetched lazily.
func (cur *Cursor) Execute(ctx context.Context, query string, args ...any) error {
	c := cur.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cur.executable(); err != nil {
		return err
	}
	if err := c.beginIfNeeded(ctx); err != nil {
		return err
	}
	if cur.name != "" {
		return cur.declare(ctx, query, args...)
	}

	rs, err := c.sess.Query(ctx, query, args...)
	if err != nil {
		return err
	}

	var factory *rows.Factory
	if cols := rs.Columns(); len(cols) > 0 {
		factory, err = rows.NewFactory(cur.mode, cols)
		if err != nil {
			rs.Close()
			return err
		}
	}

	var buf []rows.Row
	if factory != nil {
		for rs.Next() {
			vals, err := rs.Values()
			if err != nil {
				rs.Close()
				return err
			}
			row, err := factory.Wrap(vals)
			if err != nil {
				rs.Close()
				return err
			}
			buf = append(buf, row)
		}
		if err := rs.Err(); err != nil {
			rs.Close()
			return err
		}
	}
	if err := rs.Close(); err != nil {
		return err
	}

	cur.factory = factory
	cur.hasResult = factory != nil
	cur.buf = buf
	cur.pos = 0
	cur.declared = false
	cur.exhausted = true
	cur.lastRow = nil
	cur.iterErr = nil
	cur.statusmessage = rs.CommandTag()
	cur.rowcount = tagRowCount(rs.CommandTag(), len(buf), cur.hasResult)
	return nil
}

// declare runs the named-cursor path. Called with the connection lock held.
func (cur *Cursor) declare(ctx context.Context, query string, args ...any) error {
	stmt := fmt.Sprintf("DECLARE %s CURSOR WITHOUT HOLD FOR %s", quoteIdent(cur.name), query)
	tag, err := cur.conn.sess.Exec(ctx, stmt, args...)
	if err != nil {
		return err
	}
	cur.factory = nil
	cur.hasResult = true
	cur.buf = nil
	cur.pos = 0
	cur.declared = true
	cur.exhausted = false
	cur.lastRow = nil
	cur.iterErr = nil
	cur.statusmessage = tag
	cur.rowcount = -1
	return nil
}

// FetchOne returns the next row, or nil when the result set is exhausted.
func (cur *Cursor) FetchOne(ctx context.Context) (rows.Row, error) {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	if err := cur.fetchable(); err != nil {
		return nil, err
	}
	if cur.pos >= len(cur.buf) && !cur.exhausted {
		if err := cur.fetchBatch(ctx, 1); err != nil {
			return nil, err
		}
	}
	if cur.pos < len(cur.buf) {
		row := cur.buf[cur.pos]
		cur.pos++
		return row, nil
	}
	return nil, nil
}

// FetchMany returns up to n rows.
func (cur *Cursor) FetchMany(ctx context.Context, n int) ([]rows.Row, error) {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	if err := cur.fetchable(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if need := n - (len(cur.buf) - cur.pos); need > 0 && !cur.exhausted {
		if err := cur.fetchBatch(ctx, need); err != nil {
			return nil, err
		}
	}
	end := cur.pos + n
	if end > len(cur.buf) {
		end = len(cur.buf)
	}
	out := append([]rows.Row(nil), cur.buf[cur.pos:end]...)
	cur.pos = end
	return out, nil
}

// FetchAll returns every remaining row.
func (cur *Cursor) FetchAll(ctx context.Context) ([]rows.Row, error) {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	if err := cur.fetchable(); err != nil {
		return nil, err
	}
	if !cur.exhausted {
		if err := cur.fetchBatch(ctx, 0); err != nil {
			return nil, err
		}
	}
	out := append([]rows.Row(nil), cur.buf[cur.pos:]...)
	cur.pos = len(cur.buf)
	return out, nil
}

// Next advances the cursor's iterator. The iterator walks the result set
// exactly once; after the last row every further Next returns false
// immediately. Check Err after the loop.
func (cur *Cursor) Next(ctx context.Context) bool {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	if err := cur.fetchable(); err != nil {
		cur.iterErr = err
		cur.lastRow = nil
		return false
	}
	if cur.pos >= len(cur.buf) && !cur.exhausted {
		if err := cur.fetchBatch(ctx, cur.batchSize); err != nil {
			cur.iterErr = err
			cur.lastRow = nil
			return false
		}
	}
	if cur.pos < len(cur.buf) {
		cur.lastRow = cur.buf[cur.pos]
		cur.pos++
		return true
	}
	cur.lastRow = nil
	return false
}

// Row returns the row the last successful Next advanced to.
func (cur *Cursor) Row() rows.Row {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.lastRow
}

// Err returns the error that stopped iteration, if any.
func (cur *Cursor) Err() error {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.iterErr
}

// Close releases the cursor. Closing an already-closed cursor, or one whose
// connection already closed, is a safe no-op. A declared named cursor is
// also closed server-side, best effort.
func (cur *Cursor) Close() error {
	c := cur.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur.closed {
		return nil
	}
	cur.closed = true
	c.forget(cur)
	if cur.declared && !c.closed {
		// The portal dies with the transaction anyway; a failure here
		// (aborted transaction, dropped connection) is not the caller's
		// problem.
		c.sess.Exec(context.Background(), "CLOSE "+quoteIdent(cur.name))
	}
	cur.buf = nil
	cur.lastRow = nil
	return nil
}

// forceClose marks the cursor closed when the owning connection closes.
// Called with the connection lock held.
func (cur *Cursor) forceClose() {
	cur.closed = true
	cur.buf = nil
	cur.lastRow = nil
}

// executable is called with the connection lock held.
func (cur *Cursor) executable() error {
	if cur.closed {
		return programmingErrorf("cursor is closed")
	}
	return cur.conn.usable()
}

// fetchable is called with the connection lock held.
func (cur *Cursor) fetchable() error {
	if err := cur.executable(); err != nil {
		return err
	}
	if !cur.hasResult {
		return programmingErrorf("no results to fetch")
	}
	return nil
}

// fetchBatch pulls the next rows of a named cursor. n <= 0 fetches
// everything. Called with the connection lock held.
func (cur *Cursor) fetchBatch(ctx context.Context, n int) error {
	var stmt string
	if n <= 0 {
		stmt = fmt.Sprintf("FETCH FORWARD ALL FROM %s", quoteIdent(cur.name))
	} else {
		stmt = fmt.Sprintf("FETCH FORWARD %d FROM %s", n, quoteIdent(cur.name))
	}
	rs, err := cur.conn.sess.Query(ctx, stmt)
	if err != nil {
		return err
	}

	if cur.factory == nil {
		factory, err := rows.NewFactory(cur.mode, rs.Columns())
		if err != nil {
			rs.Close()
			return err
		}
		cur.factory = factory
	}

	count := 0
	for rs.Next() {
		vals, err := rs.Values()
		if err != nil {
			rs.Close()
			return err
		}
		row, err := cur.factory.Wrap(vals)
		if err != nil {
			rs.Close()
			return err
		}
		cur.buf = append(cur.buf, row)
		count++
	}
	if err := rs.Err(); err != nil {
		rs.Close()
		return err
	}
	if err := rs.Close(); err != nil {
		return err
	}

	if n <= 0 || count < n {
		cur.exhausted = true
	}
	return nil
}

// tagRowCount derives the row count from the command tag for statements
// without a client-side result set; result-set statements count the
// materialized rows directly.
func tagRowCount(tag string, buffered int, hasResult bool) int64 {
	if hasResult {
		return int64(buffered)
	}
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return -1
	}
	if n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64); err == nil {
		return n
	}
	return -1
}
