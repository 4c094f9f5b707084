package row

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// KeyBuilder produces the operations that insert a keyed row. The strategy
// is fixed for the lifetime of a DB.
type KeyBuilder interface {
	// InsertOperations returns the operations inserting columns into table
	// and assigning the new surrogate key to key. columns must not include
	// key.
	InsertOperations(table string, key *Column[int64], columns []Field) []Operation
}

// NewKeyBuilder returns the key builder matching the key strategy of d.
func NewKeyBuilder(d *dialect.Dialect) KeyBuilder {
	if d.GeneratedKeys() {
		return generatedKeys{}
	}
	return sequenceKeys{}
}

type generatedKeys struct{}

func (generatedKeys) InsertOperations(table string, key *Column[int64], columns []Field) []Operation {
	return []Operation{&AutoGenKeyInsert{Table: table, Key: key, Columns: columns}}
}

type sequenceKeys struct{}

func (sequenceKeys) InsertOperations(table string, key *Column[int64], columns []Field) []Operation {
	withKey := make([]Field, 0, len(columns)+1)
	withKey = append(withKey, key)
	withKey = append(withKey, columns...)
	return []Operation{
		&ReadSequence{Table: table, Key: key},
		&Insert{Table: table, Columns: withKey},
	}
}

// FindKeys returns the ids of the rows of table matching where, ascending.
func FindKeys(ctx context.Context, db *DB, table string, where Criterion) ([]int64, error) {
	cond, args, err := whereClause(where, db.dialect, 1, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "finding keys in %s", table)
	}
	query := fmt.Sprintf("SELECT id FROM %s%s ORDER BY id", table, cond)
	rows, err := db.Querier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "finding keys in %s", table)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrapf(err, "scanning key of %s", table)
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrapf(rows.Err(), "finding keys in %s", table)
}

// FirstKey returns the lowest id of the rows of table matching where. It is
// the usual DuplicateFinder body: when several rows match, the first wins.
func FirstKey(ctx context.Context, db *DB, table string, where Criterion) (int64, bool, error) {
	ids, err := FindKeys(ctx, db, table, where)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

func errNoMatch(op Operation) error {
	switch o := op.(type) {
	case *Update:
		return errors.Wrapf(types.ErrNotFound, "update %s matched no rows", o.Table)
	case *Delete:
		return errors.Wrapf(types.ErrNotFound, "delete from %s matched no rows", o.Table)
	case *Select:
		return errors.Wrapf(types.ErrNotFound, "select from %s matched no rows", o.Table)
	default:
		return errors.Wrapf(types.ErrNotFound, "%T matched no rows", op)
	}
}
