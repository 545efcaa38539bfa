// Package rows wraps fetched result rows with alternate access modes: plain
// positional tuples, dict-style rows addressable by column name or position,
// and immutable fixed-shape records. Adapters are read-only views sharing the
// statement's column-name sequence; nothing is copied per row except what the
// record view needs for immutability.
package rows

import "fmt"

// Mode selects how a cursor wraps fetched rows.
type Mode int

const (
	Plain Mode = iota
	Dict
	RecordMode
)

// Row is any wrapped result row: a value per column, addressable by
// zero-based position.
type Row interface {
	At(i int) any
	Len() int
}

// Columns is the ordered column-name sequence of one statement's result set,
// with a name index built once and shared by every row of the set. When a
// name repeats, the first occurrence wins. The slice returned by Names must
// not be modified.
type Columns struct {
	names []string
	index map[string]int
}

// NewColumns builds the shared column sequence for a result set.
func NewColumns(names []string) *Columns {
	c := &Columns{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, name := range c.names {
		if _, ok := c.index[name]; !ok {
			c.index[name] = i
		}
	}
	return c
}

// Names returns the column names in statement order.
func (c *Columns) Names() []string {
	return c.names
}

// Lookup returns the position of a column name.
func (c *Columns) Lookup(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Len returns the number of columns.
func (c *Columns) Len() int {
	return len(c.names)
}

// key is the registry key identifying this column shape structurally.
func (c *Columns) key() string {
	k := ""
	for i, name := range c.names {
		if i > 0 {
			k += "\x00"
		}
		k += name
	}
	return k
}

// Tuple is a plain positional row.
type Tuple []any

// At returns the value at a zero-based position.
func (t Tuple) At(i int) any {
	return t[i]
}

// Len returns the number of values.
func (t Tuple) Len() int {
	return len(t)
}

// DictRow is the mapping view over one row: values are addressable both by
// column name and by zero-based position, and the row degrades to plain
// sequence semantics when walked positionally.
type DictRow struct {
	cols *Columns
	vals []any
}

// At returns the value at a zero-based position.
func (r DictRow) At(i int) any {
	return r.vals[i]
}

// Len returns the number of values.
func (r DictRow) Len() int {
	return len(r.vals)
}

// Get returns the value for a column name, as returned by the server.
func (r DictRow) Get(name string) (any, bool) {
	i, ok := r.cols.Lookup(name)
	if !ok {
		return nil, false
	}
	return r.vals[i], true
}

// Names returns the column names in statement order; iterating them walks
// the row in key order.
func (r DictRow) Names() []string {
	return r.cols.Names()
}

// Range returns the values in [from, to), clamped to the row bounds, matching
// plain sequence slicing.
func (r DictRow) Range(from, to int) []any {
	if from < 0 {
		from = 0
	}
	if to > len(r.vals) {
		to = len(r.vals)
	}
	if from >= to {
		return nil
	}
	return r.vals[from:to]
}

// Factory wraps every row of one statement execution identically. It is
// built once per execution from the statement's column names; Record mode
// resolves the structural shape (and the record capability) up front so a
// missing capability fails before any row is consumed.
type Factory struct {
	mode  Mode
	cols  *Columns
	shape *Shape
}

// NewFactory builds the row factory for one statement execution.
func NewFactory(mode Mode, names []string) (*Factory, error) {
	f := &Factory{mode: mode, cols: NewColumns(names)}
	if mode == RecordMode {
		shape, err := ShapeOf(f.cols)
		if err != nil {
			return nil, err
		}
		f.shape = shape
	}
	return f, nil
}

// Columns returns the shared column sequence.
func (f *Factory) Columns() *Columns {
	return f.cols
}

// Wrap adapts one fetched row.
func (f *Factory) Wrap(vals []any) (Row, error) {
	if len(vals) != f.cols.Len() {
		return nil, fmt.Errorf("row has %d values for %d columns", len(vals), f.cols.Len())
	}
	switch f.mode {
	case Dict:
		return DictRow{cols: f.cols, vals: vals}, nil
	case RecordMode:
		return f.shape.Wrap(vals)
	default:
		return Tuple(vals), nil
	}
}
