package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Ademan/pgtx/pkg/xid"
)

// PreparedXact is one entry of the server's prepared-transaction table,
// paired with the Xid decoded from its name (unparsed when the name was not
// produced by the codec).
type PreparedXact struct {
	Xid      xid.Xid
	Gid      string
	Prepared time.Time
	Owner    string
	Database string
}

const recoverQuery = "SELECT gid, prepared, owner, database FROM pg_prepared_xacts WHERE database = $1"

// TpcRecover enumerates the prepared transactions visible in the session's
// database. It is legal from any state and never changes the connection
// status; the result set is always fully drained. Entries come back in the
// query's natural order; use SortByGtrid for determinism.
func (c *Connection) TpcRecover(ctx context.Context) ([]PreparedXact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}

	rs, err := c.sess.Query(ctx, recoverQuery, c.sess.Database())
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var recovered []PreparedXact
	for rs.Next() {
		vals, err := rs.Values()
		if err != nil {
			return nil, err
		}
		if len(vals) != 4 {
			return nil, fmt.Errorf("recovery query returned %d columns, expected 4", len(vals))
		}
		gid := asString(vals[0])
		recovered = append(recovered, PreparedXact{
			Xid:      xid.FromString(gid),
			Gid:      gid,
			Prepared: asTime(vals[1]),
			Owner:    asString(vals[2]),
			Database: asString(vals[3]),
		})
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return recovered, nil
}

// SortByGtrid orders recovered transactions by their Xid gtrid.
func SortByGtrid(xacts []PreparedXact) {
	sort.Slice(xacts, func(i, j int) bool {
		return xacts[i].Xid.Gtrid < xacts[j].Xid.Gtrid
	})
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
