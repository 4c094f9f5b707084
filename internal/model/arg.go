package model

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Arg is one reporter argument, a name/value pair shared between
// signatures.
type Arg struct {
	*row.KeyRow
	Name  *row.Column[string]
	Value *row.Column[string]
}

func NewArg(db *row.DB) *Arg {
	a := &Arg{
		Name:  row.NewString("name", false),
		Value: row.NewText("value", false),
	}
	a.KeyRow = row.NewKeyRow(db, types.ArgsTable, a.Name, a.Value)
	a.SetDuplicateFinder(func(ctx context.Context, db *row.DB) (int64, bool, error) {
		return row.FirstKey(ctx, db, types.ArgsTable, row.NewCompositeKey(a.Name, a.Value))
	})
	return a
}

// ArgSignature is a set of args. The signature column holds the sorted arg
// ids so that identical sets map to one row.
type ArgSignature struct {
	*row.KeyRow
	Signature *row.Column[string]

	argIDs []int64
}

func NewArgSignature(db *row.DB) *ArgSignature {
	s := &ArgSignature{Signature: row.NewText("signature", false)}
	s.KeyRow = row.NewKeyRow(db, types.ArgSignaturesTable, s.Signature)
	s.SetDuplicateFinder(func(ctx context.Context, db *row.DB) (int64, bool, error) {
		return row.FirstKey(ctx, db, types.ArgSignaturesTable, row.SimpleKey{Key: s.Signature})
	})
	return s
}

// SetArgIDs sets the member args and the canonical signature derived from
// them.
func (s *ArgSignature) SetArgIDs(ids []int64) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	s.argIDs = sorted
	s.Signature.SetValue(strings.Join(parts, ","))
}

// ArgIDs returns the member arg ids known in memory.
func (s *ArgSignature) ArgIDs() []int64 {
	return s.argIDs
}

// LoadArgIDs reads the member arg ids from storage.
func (s *ArgSignature) LoadArgIDs(ctx context.Context) ([]int64, error) {
	ids, err := loadLongs(ctx, s.DB(), argSignatureArgs, s.ID())
	if err != nil {
		return nil, errors.Wrap(err, "loading signature args")
	}
	s.argIDs = ids
	return ids, nil
}

// Save inserts the signature together with its membership rows, or adopts
// an existing identical signature.
func (s *ArgSignature) Save(ctx context.Context) error {
	var extra []row.Operation
	if s.IsNew() {
		values := make([]any, len(s.argIDs))
		for i, id := range s.argIDs {
			values[i] = id
		}
		extra = linkOps(argSignatureArgs, s.IDColumn(), values)
	}
	return s.KeyRow.Save(ctx, extra...)
}

// ResolveArgSignature stores every arg (insert-or-find) and returns the
// signature of the set.
func ResolveArgSignature(ctx context.Context, db *row.DB, args map[string]string) (*ArgSignature, error) {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := make([]int64, 0, len(names))
	for _, name := range names {
		a := NewArg(db)
		a.Name.SetValue(name)
		a.Value.SetValue(args[name])
		if err := a.Save(ctx); err != nil {
			return nil, errors.Wrapf(err, "saving arg %s", name)
		}
		ids = append(ids, a.ID())
	}

	sig := NewArgSignature(db)
	sig.SetArgIDs(ids)
	if err := sig.Save(ctx); err != nil {
		return nil, errors.Wrap(err, "saving arg signature")
	}
	return sig, nil
}
