// Package row maps in-memory objects onto single table rows. A Row owns a
// table name, an ordered set of typed columns and a small queue of database
// operations that is executed in one transaction. KeyRow adds a generated
// surrogate key and insert-or-find semantics.
package row

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// Kind is the storage kind of a column. It selects the database type name.
type Kind int

// Column kinds.
const (
	Boolean Kind = iota + 1
	Integer
	Long
	Float
	Date
	String
	Text
	Binary
)

// Field is the type-erased view of a Column used by rows, criteria and
// operations.
type Field interface {
	Name() string
	Kind() Kind
	Nullable() bool
	IsNull() bool
	IsModified() bool

	// Bind returns the value to submit as a statement parameter. A
	// non-nullable column without a value fails with types.ErrNullValue
	// instead of submitting NULL.
	Bind() (any, error)

	// Scanner returns a sql.Scanner that assigns the scanned value to the
	// column and clears its dirty flag.
	Scanner() sql.Scanner

	// Text renders a non-null value in the textual form used by the
	// snapshot and delayed-work documents. SetText parses it back and marks
	// the column modified.
	Text() string
	SetText(s string) error

	// Reset sets the column to null and clears its dirty flag.
	Reset()

	// ClearModified clears the dirty flag, keeping the value.
	ClearModified()
}

// Column is a typed, nullable, dirty-tracking wrapper around one column
// value.
type Column[T any] struct {
	name     string
	kind     Kind
	nullable bool
	value    T
	valid    bool
	modified bool
	same     func(a, b T) bool
	convert  func(src any) (T, error)
}

var _ Field = (*Column[int64])(nil)

func newColumn[T comparable](name string, kind Kind, nullable bool, convert func(any) (T, error)) *Column[T] {
	return &Column[T]{
		name:     name,
		kind:     kind,
		nullable: nullable,
		same:     func(a, b T) bool { return a == b },
		convert:  convert,
	}
}

// NewBoolean returns a boolean column.
func NewBoolean(name string, nullable bool) *Column[bool] {
	return newColumn(name, Boolean, nullable, toBool)
}

// NewInteger returns a 32-bit integer column.
func NewInteger(name string, nullable bool) *Column[int32] {
	return newColumn(name, Integer, nullable, toInt32)
}

// NewLong returns a 64-bit integer column.
func NewLong(name string, nullable bool) *Column[int64] {
	return newColumn(name, Long, nullable, toInt64)
}

// NewFloat returns a floating point column.
func NewFloat(name string, nullable bool) *Column[float64] {
	return newColumn(name, Float, nullable, toFloat64)
}

// NewDate returns a timestamp column. Values read back are in UTC.
func NewDate(name string, nullable bool) *Column[time.Time] {
	return newColumn(name, Date, nullable, toTime)
}

// NewString returns a bounded string column.
func NewString(name string, nullable bool) *Column[string] {
	return newColumn(name, String, nullable, toString)
}

// NewText returns an unbounded text column.
func NewText(name string, nullable bool) *Column[string] {
	return newColumn(name, Text, nullable, toString)
}

// NewBinary returns a binary column. Two values are identical only when
// they share the same backing array and length.
func NewBinary(name string, nullable bool) *Column[[]byte] {
	return &Column[[]byte]{
		name:     name,
		kind:     Binary,
		nullable: nullable,
		same: func(a, b []byte) bool {
			if len(a) != len(b) {
				return false
			}
			return len(a) == 0 || &a[0] == &b[0]
		},
		convert: toBytes,
	}
}

func (c *Column[T]) Name() string { return c.name }
func (c *Column[T]) Kind() Kind { return c.kind }
func (c *Column[T]) Nullable() bool { return c.nullable }
func (c *Column[T]) IsNull() bool { return !c.valid }
func (c *Column[T]) IsModified() bool { return c.modified }

// Get returns the value, or the zero value when the column is null.
func (c *Column[T]) Get() T {
	return c.value
}

// Value returns the value and whether the column is non-null.
func (c *Column[T]) Value() (T, bool) {
	return c.value, c.valid
}

// SetValue stores v and marks the column modified. Storing a value identical
// to the current one leaves the dirty flag untouched.
func (c *Column[T]) SetValue(v T) {
	if c.valid && c.same(c.value, v) {
		return
	}
	c.value = v
	c.valid = true
	c.modified = true
}

// SetNull clears the value and marks the column modified if it held one.
func (c *Column[T]) SetNull() {
	if !c.valid {
		return
	}
	var zero T
	c.value = zero
	c.valid = false
	c.modified = true
}

// AssignValue stores v without marking the column modified. Used when
// hydrating from storage or finishing a write.
func (c *Column[T]) AssignValue(v T) {
	c.value = v
	c.valid = true
	c.modified = false
}

// AssignNull clears the value without marking the column modified.
func (c *Column[T]) AssignNull() {
	var zero T
	c.value = zero
	c.valid = false
	c.modified = false
}

func (c *Column[T]) Reset() {
	c.AssignNull()
}

func (c *Column[T]) ClearModified() {
	c.modified = false
}

func (c *Column[T]) Bind() (any, error) {
	if !c.valid {
		if c.nullable {
			return nil, nil
		}
		return nil, errors.Wrapf(types.ErrNullValue, "column %s", c.name)
	}
	if t, ok := any(c.value).(time.Time); ok {
		return t.UTC(), nil
	}
	return c.value, nil
}

func (c *Column[T]) Scanner() sql.Scanner {
	return columnScanner[T]{c}
}

type columnScanner[T any] struct {
	c *Column[T]
}

func (s columnScanner[T]) Scan(src any) error {
	if src == nil {
		s.c.AssignNull()
		return nil
	}
	v, err := s.c.convert(src)
	if err != nil {
		return errors.Wrapf(err, "column %s", s.c.name)
	}
	s.c.AssignValue(v)
	return nil
}

func (c *Column[T]) Text() string {
	switch v := any(c.value).(type) {
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case string:
		return v
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	default:
		return fmt.Sprint(v)
	}
}

func (c *Column[T]) SetText(s string) error {
	var src any = s
	if c.kind == Binary {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return errors.Wrapf(err, "column %s", c.name)
		}
		src = b
	}
	v, err := c.convert(src)
	if err != nil {
		return errors.Wrapf(err, "column %s", c.name)
	}
	c.SetValue(v)
	return nil
}

// alias exposes a field under another column name.
type alias struct {
	Field
	name string
}

func (a alias) Name() string { return a.name }

// As returns f under the column name name. Link rows use it to bind an
// owner's key column into a foreign key column.
func As(f Field, name string) Field {
	return alias{Field: f, name: name}
}
