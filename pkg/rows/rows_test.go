package rows

import "testing"

func TestColumnsLookup(t *testing.T) {
	cols := NewColumns([]string{"foo", "bar", "foo"})

	if cols.Len() != 3 {
		t.Errorf("Expected 3 columns, got %d", cols.Len())
	}

	i, ok := cols.Lookup("foo")
	if !ok || i != 0 {
		t.Errorf("Expected foo at 0, got %d %v", i, ok)
	}

	i, ok = cols.Lookup("bar")
	if !ok || i != 1 {
		t.Errorf("Expected bar at 1, got %d %v", i, ok)
	}

	if _, ok := cols.Lookup("baz"); ok {
		t.Error("Expected lookup of unknown column to fail")
	}
}

func TestDictRow(t *testing.T) {
	f, err := NewFactory(Dict, []string{"foo"})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}

	row, err := f.Wrap([]any{"bar"})
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	dict := row.(DictRow)

	if v, ok := dict.Get("foo"); !ok || v != "bar" {
		t.Errorf("Expected row[foo] == bar, got %v %v", v, ok)
	}
	if dict.At(0) != "bar" {
		t.Errorf("Expected row[0] == bar, got %v", dict.At(0))
	}
	if dict.Len() != 1 {
		t.Errorf("Expected 1 value, got %d", dict.Len())
	}
	if _, ok := dict.Get("nope"); ok {
		t.Error("Expected lookup of unknown name to fail")
	}
}

func TestDictRowKeyOrder(t *testing.T) {
	f, err := NewFactory(Dict, []string{"c", "a", "b"})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	row, err := f.Wrap([]any{1, 2, 3})
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	dict := row.(DictRow)

	names := dict.Names()
	if names[0] != "c" || names[1] != "a" || names[2] != "b" {
		t.Errorf("Expected key order to follow statement order, got %v", names)
	}
}

func TestDictRowRange(t *testing.T) {
	f, _ := NewFactory(Dict, []string{"a", "b", "c"})
	row, _ := f.Wrap([]any{1, 2, 3})
	dict := row.(DictRow)

	got := dict.Range(1, 3)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("Expected [2 3], got %v", got)
	}
	if got := dict.Range(-5, 99); len(got) != 3 {
		t.Errorf("Expected clamped full range, got %v", got)
	}
	if got := dict.Range(2, 1); got != nil {
		t.Errorf("Expected empty range, got %v", got)
	}
}

func TestRecordRow(t *testing.T) {
	f, err := NewFactory(RecordMode, []string{"i", "s"})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}

	row, err := f.Wrap([]any{1, "foo"})
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	rec := row.(Record)

	if v, err := rec.Get("i"); err != nil || v != 1 {
		t.Errorf("Expected rec.i == 1, got %v %v", v, err)
	}
	if v, err := rec.Get("s"); err != nil || v != "foo" {
		t.Errorf("Expected rec.s == foo, got %v %v", v, err)
	}
	if rec.At(0) != 1 || rec.At(1) != "foo" {
		t.Errorf("Expected positional access to match, got %v %v", rec.At(0), rec.At(1))
	}
	if _, err := rec.Get("missing"); err == nil {
		t.Error("Expected unknown field access to fail")
	}
}

func TestRecordShapeIsStructural(t *testing.T) {
	f1, err := NewFactory(RecordMode, []string{"x", "y"})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	f2, err := NewFactory(RecordMode, []string{"x", "y"})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}

	r1, _ := f1.Wrap([]any{1, 2})
	r2, _ := f2.Wrap([]any{3, 4})

	if r1.(Record).Shape() != r2.(Record).Shape() {
		t.Error("Expected identical column sequences to share one shape")
	}

	f3, err := NewFactory(RecordMode, []string{"y", "x"})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	r3, _ := f3.Wrap([]any{1, 2})
	if r3.(Record).Shape() == r1.(Record).Shape() {
		t.Error("Expected different column order to produce a different shape")
	}
}

func TestRecordImmutability(t *testing.T) {
	f, _ := NewFactory(RecordMode, []string{"v"})
	src := []any{"before"}
	row, _ := f.Wrap(src)
	src[0] = "after"

	if got := row.At(0); got != "before" {
		t.Errorf("Expected record to be detached from the source slice, got %v", got)
	}
}

func TestRecordsDisabled(t *testing.T) {
	EnableRecords(false)
	defer EnableRecords(true)

	if _, err := NewFactory(RecordMode, []string{"foo"}); err != ErrNoRecordSupport {
		t.Errorf("Expected ErrNoRecordSupport, got %v", err)
	}

	// Dict and plain rows keep working as the fallback path.
	if _, err := NewFactory(Dict, []string{"foo"}); err != nil {
		t.Errorf("Expected dict factory to work, got %v", err)
	}
	if _, err := NewFactory(Plain, []string{"foo"}); err != nil {
		t.Errorf("Expected plain factory to work, got %v", err)
	}
}

func TestWrapLengthMismatch(t *testing.T) {
	f, _ := NewFactory(Plain, []string{"a", "b"})
	if _, err := f.Wrap([]any{1}); err == nil {
		t.Error("Expected error for value/column count mismatch")
	}
}
