package row

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// KeyColumn is the name of the surrogate key column of every keyed table.
const KeyColumn = "id"

// DuplicateFinder looks for an existing row equal to the one about to be
// inserted. It runs inside the insert transaction and returns the id of the
// first match.
type DuplicateFinder func(ctx context.Context, db *DB) (id int64, found bool, err error)

// KeyRow is a Row identified by a surrogate 64-bit key. A null key means the
// row is new.
type KeyRow struct {
	Row
	id     *Column[int64]
	finder DuplicateFinder
	reused bool
}

// NewKeyRow returns a keyed row of table. columns must not include the key.
func NewKeyRow(db *DB, table string, columns ...Field) *KeyRow {
	id := NewLong(KeyColumn, false)
	r := &KeyRow{id: id}
	r.Row = Row{
		db:      db,
		table:   table,
		key:     []Field{id},
		columns: append([]Field{id}, columns...),
	}
	return r
}

// SetDuplicateFinder installs the insert-or-find lookup used by Save.
func (r *KeyRow) SetDuplicateFinder(f DuplicateFinder) {
	r.finder = f
}

// ID returns the surrogate key, or 0 for a new row.
func (r *KeyRow) ID() int64 {
	return r.id.Get()
}

// IDColumn exposes the key column for criteria and dependent operations.
func (r *KeyRow) IDColumn() *Column[int64] {
	return r.id
}

// SetID identifies the row without marking anything modified. The next Load
// reads it.
func (r *KeyRow) SetID(id int64) {
	r.id.AssignValue(id)
}

// IsNew reports whether the row has no key yet.
func (r *KeyRow) IsNew() bool {
	return r.id.IsNull()
}

// Reused reports whether the last Save found an existing duplicate instead
// of inserting.
func (r *KeyRow) Reused() bool {
	return r.reused
}

// Save persists the row in one transaction.
//
// A new row first asks the duplicate finder for an existing equal row; if one
// is found its id is adopted and its stored values replace the local ones,
// and extra is not run. Otherwise the row is inserted through the key
// builder and extra runs afterwards in the same transaction, so it may refer
// to the new key. An existing row writes its modified columns followed by
// extra.
//
// When an insert fails the key is cleared again; a consumed sequence value is
// never reused.
func (r *KeyRow) Save(ctx context.Context, extra ...Operation) error {
	wasNew := r.IsNew()
	r.reused = false
	err := r.db.RunInTx(ctx, func(db *DB) error {
		if wasNew && r.finder != nil {
			id, found, err := r.finder(ctx, db)
			if err != nil {
				return errors.Wrapf(err, "finding duplicate in %s", r.table)
			}
			if found {
				r.id.AssignValue(id)
				r.reused = true
				r.Enqueue(&Select{Table: r.table, Columns: r.columns, Where: SimpleKey{r.id}})
				return r.flush(ctx, db)
			}
		}
		if wasNew {
			r.Enqueue(db.keys.InsertOperations(r.table, r.id, r.columns[1:])...)
		} else if modified := r.Modified(); len(modified) > 0 {
			r.Enqueue(&Update{Table: r.table, Columns: modified, Where: SimpleKey{r.id}})
		}
		r.Enqueue(extra...)
		return r.flush(ctx, db)
	})
	if err != nil {
		r.queue = nil
		if wasNew {
			r.id.AssignNull()
			r.reused = false
		}
		return errors.Wrapf(err, "saving %s", r.table)
	}
	r.clearModified()
	return nil
}

// Load reads every column of the row with the current key.
func (r *KeyRow) Load(ctx context.Context) error {
	if r.IsNew() {
		return errors.Wrapf(types.ErrNewRow, "load from %s", r.table)
	}
	r.Enqueue(&Select{Table: r.table, Columns: r.columns, Where: SimpleKey{r.id}})
	return r.Execute(ctx)
}

// Delete runs before and then removes the row in one transaction. On
// success every column, the key included, is reset and the row is new again.
func (r *KeyRow) Delete(ctx context.Context, before ...Operation) error {
	if r.IsNew() {
		return errors.Wrapf(types.ErrNewRow, "delete from %s", r.table)
	}
	r.Enqueue(before...)
	r.Enqueue(&Delete{Table: r.table, Where: SimpleKey{r.id}})
	if err := r.Execute(ctx); err != nil {
		return err
	}
	r.reset()
	return nil
}

// Restore inserts the row with its current key, bypassing key generation.
// Snapshot import uses it to reproduce source ids.
func (r *KeyRow) Restore(ctx context.Context) error {
	if r.IsNew() {
		return errors.Wrapf(types.ErrNewRow, "restore into %s", r.table)
	}
	d := r.db.dialect
	if on := d.ExplicitKeys(r.table, true); on != "" {
		r.Enqueue(&Statement{Query: on})
	}
	r.Enqueue(&Insert{Table: r.table, Columns: r.columns})
	if off := d.ExplicitKeys(r.table, false); off != "" {
		r.Enqueue(&Statement{Query: off})
	}
	return r.Execute(ctx)
}
