package row

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// Criterion renders a WHERE predicate and binds its parameters.
//
// Where receives the placeholder generator of the dialect and the 1-based
// position of the first parameter it may use; it returns the predicate text
// and the next free position. Bind appends the parameter values, in the same
// order, to args.
type Criterion interface {
	Where(placeholder func(int) string, offset int) (string, int)
	Bind(args []any) ([]any, error)
}

// predicate renders "name = ?" for a field, or "name IS NULL" for a null
// nullable field.
func predicate(f Field, placeholder func(int) string, offset int) (string, int) {
	if f.IsNull() && f.Nullable() {
		return f.Name() + " IS NULL", offset
	}
	return fmt.Sprintf("%s = %s", f.Name(), placeholder(offset)), offset + 1
}

func bindField(f Field, args []any) ([]any, error) {
	if f.IsNull() {
		if f.Nullable() {
			return args, nil
		}
		return args, errors.Wrapf(types.ErrNullValue, "criterion on %s", f.Name())
	}
	v, err := f.Bind()
	if err != nil {
		return args, err
	}
	return append(args, v), nil
}

// SimpleKey matches a row by a single key column.
type SimpleKey struct {
	Key Field
}

func (k SimpleKey) Where(placeholder func(int) string, offset int) (string, int) {
	return predicate(k.Key, placeholder, offset)
}

func (k SimpleKey) Bind(args []any) ([]any, error) {
	return bindField(k.Key, args)
}

// CompositeKey matches a row by the conjunction of several columns. Used
// both for composite primary keys and for natural-key duplicate lookups.
type CompositeKey struct {
	Keys []Field
}

// NewCompositeKey returns the conjunction of fields.
func NewCompositeKey(fields ...Field) CompositeKey {
	return CompositeKey{Keys: fields}
}

func (k CompositeKey) Where(placeholder func(int) string, offset int) (string, int) {
	parts := make([]string, 0, len(k.Keys))
	for _, f := range k.Keys {
		var p string
		p, offset = predicate(f, placeholder, offset)
		parts = append(parts, p)
	}
	return strings.Join(parts, " AND "), offset
}

func (k CompositeKey) Bind(args []any) ([]any, error) {
	var err error
	for _, f := range k.Keys {
		if args, err = bindField(f, args); err != nil {
			return args, err
		}
	}
	return args, nil
}

// Equals matches an arbitrary column against a fixed value. A nil value
// matches NULL.
type Equals struct {
	Column string
	Value  any
}

func (e Equals) Where(placeholder func(int) string, offset int) (string, int) {
	if e.Value == nil {
		return e.Column + " IS NULL", offset
	}
	return fmt.Sprintf("%s = %s", e.Column, placeholder(offset)), offset + 1
}

func (e Equals) Bind(args []any) ([]any, error) {
	if e.Value == nil {
		return args, nil
	}
	return append(args, e.Value), nil
}

// All is the conjunction of several criteria.
type All []Criterion

func (a All) Where(placeholder func(int) string, offset int) (string, int) {
	parts := make([]string, 0, len(a))
	for _, c := range a {
		var p string
		p, offset = c.Where(placeholder, offset)
		parts = append(parts, "("+p+")")
	}
	return strings.Join(parts, " AND "), offset
}

func (a All) Bind(args []any) ([]any, error) {
	var err error
	for _, c := range a {
		if args, err = c.Bind(args); err != nil {
			return args, err
		}
	}
	return args, nil
}
