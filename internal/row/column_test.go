package row

import (
	"errors"
	"testing"
	"time"

	"github.com/mesh-intelligence/depot/pkg/types"
)

func TestColumn_DirtyTracking(t *testing.T) {
	c := NewString("name", false)
	if !c.IsNull() || c.IsModified() {
		t.Fatal("new column should be null and clean")
	}

	c.SetValue("a")
	if c.IsNull() || !c.IsModified() {
		t.Fatal("SetValue should make the column non-null and modified")
	}

	c.ClearModified()
	c.SetValue("a")
	if c.IsModified() {
		t.Error("setting an identical value must not mark the column modified")
	}

	c.SetValue("b")
	if !c.IsModified() || c.Get() != "b" {
		t.Errorf("expected modified column holding b, got %q modified=%v", c.Get(), c.IsModified())
	}

	c.AssignValue("c")
	if c.IsModified() {
		t.Error("AssignValue must clear the dirty flag")
	}

	c.SetNull()
	if !c.IsNull() || !c.IsModified() {
		t.Error("SetNull on a valued column should mark it modified")
	}

	c.AssignNull()
	c.SetNull()
	if c.IsModified() {
		t.Error("SetNull on a null column must not mark it modified")
	}
}

func TestColumn_BinaryIdentity(t *testing.T) {
	c := NewBinary("log", true)
	buf := []byte("abc")
	c.AssignValue(buf)

	c.SetValue(buf)
	if c.IsModified() {
		t.Error("same slice should not mark modified")
	}

	c.SetValue([]byte("abc"))
	if !c.IsModified() {
		t.Error("equal content in a different slice counts as a new value")
	}
}

func TestColumn_Bind(t *testing.T) {
	required := NewLong("report_id", false)
	if _, err := required.Bind(); !errors.Is(err, types.ErrNullValue) {
		t.Errorf("expected ErrNullValue, got %v", err)
	}

	optional := NewFloat("cpu_usage_sec", true)
	v, err := optional.Bind()
	if err != nil || v != nil {
		t.Errorf("null nullable column should bind nil, got %v, %v", v, err)
	}

	optional.SetValue(1.5)
	v, err = optional.Bind()
	if err != nil || v != 1.5 {
		t.Errorf("expected 1.5, got %v, %v", v, err)
	}
}

func TestColumn_Scan(t *testing.T) {
	b := NewBoolean("activated", false)
	if err := b.Scanner().Scan([]byte("1")); err != nil || !b.Get() {
		t.Errorf("bool scan: %v %v", b.Get(), err)
	}

	i := NewInteger("exit_status", false)
	if err := i.Scanner().Scan(int64(3)); err != nil || i.Get() != 3 {
		t.Errorf("int scan: %v %v", i.Get(), err)
	}

	d := NewDate("collected", false)
	if err := d.Scanner().Scan("2024-03-01 10:20:30.5+00:00"); err != nil {
		t.Fatalf("date scan: %v", err)
	}
	want := time.Date(2024, 3, 1, 10, 20, 30, 500000000, time.UTC)
	if !d.Get().Equal(want) {
		t.Errorf("date scan: got %v, want %v", d.Get(), want)
	}
	if d.IsModified() {
		t.Error("scanned column must be clean")
	}

	s := NewText("body", true)
	s.SetValue("x")
	if err := s.Scanner().Scan(nil); err != nil || !s.IsNull() || s.IsModified() {
		t.Error("scanning NULL should leave a clean null column")
	}

	if err := i.Scanner().Scan(struct{}{}); err == nil {
		t.Error("expected conversion error")
	}
}

func TestParseTime(t *testing.T) {
	for _, in := range []string{
		"2024-03-01T10:20:30Z",
		"2024-03-01 10:20:30",
		"2024-03-01T10:20:30",
		"2024-03-01 12:20:30+02:00",
	} {
		got, err := ParseTime(in)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", in, err)
			continue
		}
		if !got.Equal(time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)) {
			t.Errorf("ParseTime(%q) = %v", in, got)
		}
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("expected error for garbage input")
	}
}
