package rows

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNoRecordSupport is returned when record rows are requested but record
// support has been switched off for the process. Callers are expected to
// fall back to Dict or Plain rows.
var ErrNoRecordSupport = errors.New("record rows are not enabled in this environment")

var recordsEnabled atomic.Bool

func init() {
	recordsEnabled.Store(true)
}

// EnableRecords switches record-row support for the whole process. The
// switch is normally set once at startup from the environment capability
// probe and consulted by every record factory afterwards.
func EnableRecords(on bool) {
	recordsEnabled.Store(on)
}

// RecordsEnabled reports whether record rows may be constructed.
func RecordsEnabled() bool {
	return recordsEnabled.Load()
}

// Shape is the fixed structure shared by all records with the same
// column-name sequence. Shapes are structural: two statements returning the
// same names in the same order share one Shape.
type Shape struct {
	cols *Columns
}

var shapes = struct {
	sync.RWMutex
	m map[string]*Shape
}{m: make(map[string]*Shape)}

// ShapeOf returns the process-wide Shape for a column sequence, creating it
// on first use. It fails when record support is disabled.
func ShapeOf(cols *Columns) (*Shape, error) {
	if !RecordsEnabled() {
		return nil, ErrNoRecordSupport
	}

	key := cols.key()
	shapes.RLock()
	s, ok := shapes.m[key]
	shapes.RUnlock()
	if ok {
		return s, nil
	}

	shapes.Lock()
	defer shapes.Unlock()
	if s, ok := shapes.m[key]; ok {
		return s, nil
	}
	s = &Shape{cols: cols}
	shapes.m[key] = s
	return s, nil
}

// Columns returns the shape's column sequence.
func (s *Shape) Columns() *Columns {
	return s.cols
}

// Wrap builds an immutable record over one fetched row. The values are
// copied so later reuse of the source slice cannot mutate the record.
func (s *Shape) Wrap(vals []any) (Record, error) {
	if len(vals) != s.cols.Len() {
		return Record{}, fmt.Errorf("row has %d values for %d columns", len(vals), s.cols.Len())
	}
	return Record{shape: s, vals: append([]any(nil), vals...)}, nil
}

// Record is the record view over one row: immutable, fixed shape, values
// addressable by field name or zero-based position.
type Record struct {
	shape *Shape
	vals  []any
}

// Shape returns the record's shape.
func (r Record) Shape() *Shape {
	return r.shape
}

// At returns the value at a zero-based position.
func (r Record) At(i int) any {
	return r.vals[i]
}

// Len returns the number of values.
func (r Record) Len() int {
	return len(r.vals)
}

// Get returns the value for a field name; unknown names are an error, the
// record analogue of a missing attribute.
func (r Record) Get(name string) (any, error) {
	i, ok := r.shape.cols.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("record has no field %q", name)
	}
	return r.vals[i], nil
}
