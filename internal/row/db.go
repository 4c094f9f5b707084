package row

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/dialect"
)

// DB bundles the connection pool, the resolved dialect and the key builder
// chosen for it. A DB bound to a transaction (see WithTx) routes every
// statement through that transaction.
type DB struct {
	pool    *sql.DB
	dialect *dialect.Dialect
	keys    KeyBuilder
	tx      *sql.Tx
}

// NewDB wraps pool. The key builder is selected once from the dialect's key
// strategy.
func NewDB(pool *sql.DB, d *dialect.Dialect) *DB {
	return &DB{pool: pool, dialect: d, keys: NewKeyBuilder(d)}
}

func (db *DB) Dialect() *dialect.Dialect { return db.dialect }
func (db *DB) Pool() *sql.DB { return db.pool }
func (db *DB) Keys() KeyBuilder { return db.keys }

// Querier returns the transaction when bound to one, the pool otherwise.
func (db *DB) Querier() dialect.Querier {
	if db.tx != nil {
		return db.tx
	}
	return db.pool
}

// WithTx returns a copy of db bound to tx.
func (db *DB) WithTx(tx *sql.Tx) *DB {
	c := *db
	c.tx = tx
	return &c
}

// InTx reports whether db is bound to a transaction.
func (db *DB) InTx() bool {
	return db.tx != nil
}

// RunInTx runs fn inside a transaction and commits when fn succeeds. When db
// is already bound to a transaction fn joins it and the outer owner commits.
func (db *DB) RunInTx(ctx context.Context, fn func(*DB) error) error {
	if db.tx != nil {
		return fn(db)
	}
	tx, err := db.pool.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(db.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// Run executes ops in order against db. An operation that matches no row
// aborts the sequence with types.ErrNotFound.
func (db *DB) Run(ctx context.Context, ops ...Operation) error {
	for _, op := range ops {
		ok, err := op.Execute(ctx, db.Querier(), db.dialect)
		if err != nil {
			return err
		}
		if !ok {
			return errNoMatch(op)
		}
	}
	return nil
}
