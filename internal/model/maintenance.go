package model

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Clear empties the depot: every per-series table pair is dropped and every
// static table is emptied. Run it inside a transaction.
func Clear(ctx context.Context, db *row.DB) error {
	d := db.Dialect()
	q := db.Querier()

	series, err := ListSeriesTables(ctx, db)
	if err != nil {
		return err
	}
	for _, st := range series {
		stmts := []string{"DROP TABLE " + st.Links, "DROP TABLE " + st.Instances}
		if !d.GeneratedKeys() {
			stmts = append(stmts, d.DropSequence(st.Instances)...)
		}
		for _, stmt := range stmts {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "dropping tables of series %d", st.SeriesID)
			}
		}
	}

	tables := append([]string{}, types.LinkTableNames...)
	for i := len(types.KeyedTableNames) - 1; i >= 0; i-- {
		tables = append(tables, types.KeyedTableNames[i])
	}
	for _, table := range tables {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "clearing %s", table)
		}
	}
	log.WithField("series_tables", len(series)).Info("cleared depot")
	return nil
}

// ReseedKeys moves every key generator past the largest stored key, so that
// rows inserted with explicit keys do not collide with later inserts.
func ReseedKeys(ctx context.Context, db *row.DB) error {
	d := db.Dialect()
	q := db.Querier()

	tables := append([]string{}, types.KeyedTableNames...)
	series, err := ListSeriesTables(ctx, db)
	if err != nil {
		return err
	}
	for _, st := range series {
		tables = append(tables, st.Instances)
	}

	for _, table := range tables {
		var maxID sql.NullInt64
		if err := q.QueryRowContext(ctx, "SELECT MAX(id) FROM "+table).Scan(&maxID); err != nil {
			return errors.Wrapf(err, "reading max key of %s", table)
		}
		for _, stmt := range d.ReseedKeys(table, maxID.Int64) {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "reseeding %s", table)
			}
		}
	}
	return nil
}

// CountRows returns the number of rows of every managed table, per-series
// tables included.
func CountRows(ctx context.Context, db *row.DB) (map[string]int64, error) {
	tables := append(append([]string{}, types.KeyedTableNames...), types.LinkTableNames...)
	series, err := ListSeriesTables(ctx, db)
	if err != nil {
		return nil, err
	}
	for _, st := range series {
		tables = append(tables, st.Instances, st.Links)
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		c := &row.Count{Table: table}
		if err := db.Run(ctx, c); err != nil {
			return nil, err
		}
		counts[table] = c.Result
	}
	return counts, nil
}
