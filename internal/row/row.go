package row

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// Row maps one table row identified by a natural, possibly composite, key.
// Link rows such as series config tags are plain Rows; entities with a
// surrogate key use KeyRow.
type Row struct {
	db        *DB
	table     string
	columns   []Field
	key       []Field
	queue     []Operation
	persisted bool
}

// NewRow returns a row of table. key lists the columns identifying the row
// and must be a subset of columns.
func NewRow(db *DB, table string, key []Field, columns ...Field) *Row {
	return &Row{db: db, table: table, key: key, columns: columns}
}

func (r *Row) DB() *DB { return r.db }
func (r *Row) Table() string { return r.table }
func (r *Row) Columns() []Field { return r.columns }
func (r *Row) Criterion() Criterion { return NewCompositeKey(r.key...) }

// SetDB rebinds the row, typically to a transaction-bound DB.
func (r *Row) SetDB(db *DB) {
	r.db = db
}

// IsNew reports whether the row has not been saved or loaded yet.
func (r *Row) IsNew() bool {
	return !r.persisted
}

// IsModified reports whether any column changed since the last save or load.
func (r *Row) IsModified() bool {
	for _, c := range r.columns {
		if c.IsModified() {
			return true
		}
	}
	return false
}

// Modified returns the columns changed since the last save or load.
func (r *Row) Modified() []Field {
	var out []Field
	for _, c := range r.columns {
		if c.IsModified() {
			out = append(out, c)
		}
	}
	return out
}

// Enqueue appends ops to the row's operation queue.
func (r *Row) Enqueue(ops ...Operation) {
	r.queue = append(r.queue, ops...)
}

// Execute runs the queued operations in one transaction and empties the
// queue. On success all dirty flags are cleared.
func (r *Row) Execute(ctx context.Context) error {
	if len(r.queue) == 0 {
		return nil
	}
	err := r.db.RunInTx(ctx, func(db *DB) error {
		return r.flush(ctx, db)
	})
	r.queue = nil
	if err != nil {
		return errors.Wrapf(err, "%s", r.table)
	}
	r.clearModified()
	return nil
}

// flush runs and empties the queue on db.
func (r *Row) flush(ctx context.Context, db *DB) error {
	ops := r.queue
	r.queue = nil
	return db.Run(ctx, ops...)
}

func (r *Row) clearModified() {
	for _, c := range r.columns {
		c.ClearModified()
	}
}

func (r *Row) reset() {
	for _, c := range r.columns {
		c.Reset()
	}
}

// Save inserts a new row or writes the modified columns of an existing one.
func (r *Row) Save(ctx context.Context) error {
	if r.IsNew() {
		r.Enqueue(&Insert{Table: r.table, Columns: r.columns})
	} else {
		modified := r.Modified()
		if len(modified) == 0 {
			return nil
		}
		r.Enqueue(&Update{Table: r.table, Columns: modified, Where: r.Criterion()})
	}
	if err := r.Execute(ctx); err != nil {
		return err
	}
	r.persisted = true
	return nil
}

// Load reads every column of the row identified by its key columns.
func (r *Row) Load(ctx context.Context) error {
	r.Enqueue(&Select{Table: r.table, Columns: r.columns, Where: r.Criterion()})
	if err := r.Execute(ctx); err != nil {
		return err
	}
	r.persisted = true
	return nil
}

// Delete removes the row and resets every column, leaving the row new.
// Deleting a row that was never persisted fails with types.ErrNewRow.
func (r *Row) Delete(ctx context.Context) error {
	if r.IsNew() {
		return errors.Wrapf(types.ErrNewRow, "delete from %s", r.table)
	}
	r.Enqueue(&Delete{Table: r.table, Where: r.Criterion()})
	if err := r.Execute(ctx); err != nil {
		return err
	}
	r.reset()
	r.persisted = false
	return nil
}
