// Package sessiontest provides an in-memory stand-in for the database engine
// behind session.Session. A Server holds the state that outlives a session
// (the prepared-transaction table, committed rows, canned result sets) so
// tests can prepare a transaction on one session, close it, and recover it
// from another, the way the real suite does against a live server.
package sessiontest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ademan/pgtx/pkg/session"
)

// Server is the shared engine state. All sessions opened from one Server see
// the same prepared-transaction table and committed rows.
type Server struct {
	mu          sync.Mutex
	database    string
	owner       string
	MaxPrepared int
	isolation   string
	prepared    map[string]*preparedXact
	committed   []string
	results     map[string]*ResultSet
	clock       time.Time
}

type preparedXact struct {
	gid      string
	prepared time.Time
	owner    string
	database string
	rows     []string
}

// ResultSet is a canned query result registered with OnQuery.
type ResultSet struct {
	Cols []string
	Rows [][]any
}

// NewServer creates an engine for the given database name.
func NewServer(database string) *Server {
	return &Server{
		database:    database,
		owner:       "postgres",
		MaxPrepared: 10,
		isolation:   "read committed",
		prepared:    make(map[string]*preparedXact),
		results:     make(map[string]*ResultSet),
		clock:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// OnQuery registers a canned result set for an exact query text.
func (s *Server) OnQuery(query string, cols []string, rows [][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[query] = &ResultSet{Cols: cols, Rows: rows}
}

// PreparedCount returns the number of entries in the prepared-transaction
// table.
func (s *Server) PreparedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prepared)
}

// PreparedGids returns the prepared transaction names, sorted.
func (s *Server) PreparedGids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	gids := make([]string, 0, len(s.prepared))
	for gid := range s.prepared {
		gids = append(gids, gid)
	}
	sort.Strings(gids)
	return gids
}

// Committed returns the rows made visible by committed transactions.
func (s *Server) Committed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.committed...)
}

// Session opens a new session against this engine.
func (s *Server) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Session{
		srv:       s,
		isolation: s.isolation,
		portals:   make(map[string]*portal),
		failures:  make(map[string]error),
	}
}

type portal struct {
	cols []string
	rows [][]any
}

// Session is one engine session. It implements session.Session. The Log
// records every statement in execution order.
type Session struct {
	srv       *Server
	closed    bool
	inTx      bool
	txRows    []string
	portals   map[string]*portal
	isolation string
	failures  map[string]error
	Log       []string
}

var _ session.Session = (*Session)(nil)

// FailOn makes any statement starting with the given prefix (case
// insensitive) fail with err, simulating a server rejection.
func (f *Session) FailOn(prefix string, err error) {
	f.failures[strings.ToUpper(prefix)] = err
}

// Isolation returns the session's current isolation level setting.
func (f *Session) Isolation() string {
	return f.isolation
}

// Closed reports whether the session was closed.
func (f *Session) Closed() bool {
	return f.closed
}

// Database returns the engine's database name.
func (f *Session) Database() string {
	return f.srv.database
}

// Close drops the session. Any open transaction is aborted; prepared
// transactions survive in the engine.
func (f *Session) Close() error {
	f.closed = true
	f.inTx = false
	f.txRows = nil
	f.portals = make(map[string]*portal)
	return nil
}

// Exec runs a statement that returns no rows.
func (f *Session) Exec(_ context.Context, query string, args ...any) (string, error) {
	if err := f.enter(query); err != nil {
		return "", err
	}
	return f.run(query)
}

func (f *Session) run(query string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case upper == "BEGIN":
		f.inTx = true
		return "BEGIN", nil

	case upper == "COMMIT":
		f.srv.commitRows(f.txRows)
		f.inTx = false
		f.txRows = nil
		return "COMMIT", nil

	case upper == "ROLLBACK":
		f.inTx = false
		f.txRows = nil
		return "ROLLBACK", nil

	case strings.HasPrefix(upper, "PREPARE TRANSACTION"):
		gid, ok := firstLiteral(query)
		if !ok {
			return "", fmt.Errorf("syntax error in %q", query)
		}
		if !f.inTx {
			return "", fmt.Errorf("PREPARE TRANSACTION outside a transaction")
		}
		if err := f.srv.prepare(gid, f.txRows); err != nil {
			f.inTx = false
			f.txRows = nil
			return "", err
		}
		f.inTx = false
		f.txRows = nil
		return "PREPARE TRANSACTION", nil

	case strings.HasPrefix(upper, "COMMIT PREPARED"):
		gid, ok := firstLiteral(query)
		if !ok {
			return "", fmt.Errorf("syntax error in %q", query)
		}
		if err := f.srv.resolvePrepared(gid, true); err != nil {
			return "", err
		}
		return "COMMIT PREPARED", nil

	case strings.HasPrefix(upper, "ROLLBACK PREPARED"):
		gid, ok := firstLiteral(query)
		if !ok {
			return "", fmt.Errorf("syntax error in %q", query)
		}
		if err := f.srv.resolvePrepared(gid, false); err != nil {
			return "", err
		}
		return "ROLLBACK PREPARED", nil

	case strings.HasPrefix(upper, "INSERT"):
		val, _ := firstLiteral(query)
		if f.inTx {
			f.txRows = append(f.txRows, val)
		} else {
			f.srv.commitRows([]string{val})
		}
		return "INSERT 0 1", nil

	case strings.HasPrefix(upper, "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL "):
		f.isolation = strings.ToLower(strings.TrimSpace(
			query[len("SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL "):]))
		return "SET", nil

	case strings.HasPrefix(upper, "SET"):
		return "SET", nil

	case strings.HasPrefix(upper, "DECLARE"):
		return f.declare(query)

	case strings.HasPrefix(upper, "CLOSE"):
		name := unquoteIdent(lastToken(query))
		delete(f.portals, name)
		return "CLOSE CURSOR", nil

	default:
		// CREATE TABLE, DROP TABLE and friends: acknowledge with the
		// first words of the command as the tag.
		words := strings.Fields(upper)
		if len(words) >= 2 {
			return words[0] + " " + words[1], nil
		}
		return words[0], nil
	}
}

// Query runs a statement and returns its rows.
func (f *Session) Query(_ context.Context, query string, args ...any) (session.Rows, error) {
	if err := f.enter(query); err != nil {
		return nil, err
	}

	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "SHOW "):
		name := strings.ToLower(strings.TrimSpace(query[len("SHOW "):]))
		name = strings.TrimSuffix(name, ";")
		var value string
		switch name {
		case "default_transaction_isolation", "transaction_isolation":
			value = f.isolation
		case "max_prepared_transactions":
			value = strconv.Itoa(f.srv.MaxPrepared)
		default:
			return nil, fmt.Errorf("unrecognized configuration parameter %q", name)
		}
		return newRows([]string{name}, [][]any{{value}}, "SHOW"), nil

	case strings.HasPrefix(upper, "SELECT GID, PREPARED, OWNER, DATABASE FROM PG_PREPARED_XACTS"):
		if len(args) != 1 {
			return nil, fmt.Errorf("expected one database argument, got %d", len(args))
		}
		database, _ := args[0].(string)
		rows := f.srv.preparedRows(database)
		return newRows(
			[]string{"gid", "prepared", "owner", "database"},
			rows,
			fmt.Sprintf("SELECT %d", len(rows))), nil

	case strings.HasPrefix(upper, "FETCH"):
		return f.fetch(query)

	default:
		f.srv.mu.Lock()
		rs, ok := f.srv.results[query]
		f.srv.mu.Unlock()
		if ok {
			rows := copyRows(rs.Rows)
			return newRows(rs.Cols, rows, fmt.Sprintf("SELECT %d", len(rows))), nil
		}
		if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
			return nil, fmt.Errorf("unhandled query in test session: %q", query)
		}
		// Non-SELECT statements routed through Query: run them and hand
		// back an empty result set carrying the command tag.
		tag, err := f.run(query)
		if err != nil {
			return nil, err
		}
		return newRows(nil, nil, tag), nil
	}
}

// enter records the statement and applies closed/failure checks.
func (f *Session) enter(query string) error {
	f.Log = append(f.Log, query)
	if f.closed {
		return fmt.Errorf("session is closed")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	for prefix, err := range f.failures {
		if strings.HasPrefix(upper, prefix) {
			return err
		}
	}
	return nil
}

func (f *Session) declare(query string) (string, error) {
	upper := strings.ToUpper(query)
	forIdx := strings.Index(upper, " FOR ")
	if forIdx < 0 {
		return "", fmt.Errorf("syntax error in %q", query)
	}
	fields := strings.Fields(query)
	if len(fields) < 2 {
		return "", fmt.Errorf("syntax error in %q", query)
	}
	name := unquoteIdent(fields[1])
	inner := strings.TrimSpace(query[forIdx+len(" FOR "):])

	f.srv.mu.Lock()
	rs, ok := f.srv.results[inner]
	f.srv.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unhandled query in test session: %q", inner)
	}
	f.portals[name] = &portal{cols: rs.Cols, rows: copyRows(rs.Rows)}
	return "DECLARE CURSOR", nil
}

func (f *Session) fetch(query string) (session.Rows, error) {
	// FETCH FORWARD <n-or-ALL> FROM <name>
	fields := strings.Fields(query)
	if len(fields) != 5 || !strings.EqualFold(fields[3], "FROM") {
		return nil, fmt.Errorf("syntax error in %q", query)
	}
	name := unquoteIdent(fields[4])
	p, ok := f.portals[name]
	if !ok {
		return nil, fmt.Errorf("cursor %q does not exist", name)
	}

	n := len(p.rows)
	if !strings.EqualFold(fields[2], "ALL") {
		parsed, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("syntax error in %q", query)
		}
		if parsed < n {
			n = parsed
		}
	}

	batch := p.rows[:n]
	p.rows = p.rows[n:]
	return newRows(p.cols, copyRows(batch), fmt.Sprintf("FETCH %d", n)), nil
}

func (s *Server) commitRows(rows []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, rows...)
}

func (s *Server) prepare(gid string, rows []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MaxPrepared == 0 {
		return fmt.Errorf("prepared transactions are disabled (max_prepared_transactions = 0)")
	}
	if _, exists := s.prepared[gid]; exists {
		return fmt.Errorf("transaction identifier %q is already in use", gid)
	}
	s.clock = s.clock.Add(time.Second)
	s.prepared[gid] = &preparedXact{
		gid:      gid,
		prepared: s.clock,
		owner:    s.owner,
		database: s.database,
		rows:     append([]string(nil), rows...),
	}
	return nil
}

func (s *Server) resolvePrepared(gid string, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prepared[gid]
	if !ok {
		return fmt.Errorf("prepared transaction with identifier %q does not exist", gid)
	}
	delete(s.prepared, gid)
	if commit {
		s.committed = append(s.committed, p.rows...)
	}
	return nil
}

func (s *Server) preparedRows(database string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	gids := make([]string, 0, len(s.prepared))
	for gid := range s.prepared {
		gids = append(gids, gid)
	}
	sort.Strings(gids)

	var rows [][]any
	for _, gid := range gids {
		p := s.prepared[gid]
		if p.database != database {
			continue
		}
		rows = append(rows, []any{p.gid, p.prepared, p.owner, p.database})
	}
	return rows
}

// firstLiteral extracts the content of the outermost single-quoted literal,
// undoing '' escapes.
func firstLiteral(q string) (string, bool) {
	i := strings.Index(q, "'")
	j := strings.LastIndex(q, "'")
	if i < 0 || j <= i {
		return "", false
	}
	return strings.ReplaceAll(q[i+1:j], "''", "'"), true
}

func unquoteIdent(s string) string {
	s = strings.TrimSuffix(s, ";")
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func lastToken(q string) string {
	fields := strings.Fields(q)
	return fields[len(fields)-1]
}

func copyRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

func newRows(cols []string, rows [][]any, tag string) session.Rows {
	return &fakeRows{cols: cols, rows: rows, tag: tag}
}

type fakeRows struct {
	cols []string
	rows [][]any
	pos  int
	cur  []any
	tag  string
}

func (r *fakeRows) Columns() []string {
	return r.cols
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.cur = r.rows[r.pos]
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	if r.cur == nil {
		return nil, fmt.Errorf("Values called before Next")
	}
	return r.cur, nil
}

func (r *fakeRows) Err() error {
	return nil
}

func (r *fakeRows) CommandTag() string {
	return r.tag
}

func (r *fakeRows) Close() error {
	r.pos = len(r.rows)
	return nil
}
