package model

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Series is one reporter run with a fixed argument signature against one
// context. Each series owns two tables created with it: one holding its
// instances and one linking instances to series configurations.
type Series struct {
	*row.KeyRow
	Reporter       *row.Column[string]
	Version        *row.Column[string]
	URI            *row.Column[string]
	Context        *row.Column[string]
	Nice           *row.Column[bool]
	ArgSignatureID *row.Column[int64]
	InstanceTable  *row.Column[string]
	LinkTable      *row.Column[string]
}

func NewSeries(db *row.DB) *Series {
	s := &Series{
		Reporter:       row.NewString("reporter", false),
		Version:        row.NewString("version", false),
		URI:            row.NewString("uri", false),
		Context:        row.NewText("context", false),
		Nice:           row.NewBoolean("nice", false),
		ArgSignatureID: row.NewLong("arg_signature_id", false),
		InstanceTable:  row.NewString("instance_table", true),
		LinkTable:      row.NewString("link_table", true),
	}
	s.KeyRow = row.NewKeyRow(db, types.SeriesTable,
		s.Reporter, s.Version, s.URI, s.Context, s.Nice, s.ArgSignatureID, s.InstanceTable, s.LinkTable)
	s.SetDuplicateFinder(func(ctx context.Context, db *row.DB) (int64, bool, error) {
		return row.FirstKey(ctx, db, types.SeriesTable,
			row.NewCompositeKey(s.Reporter, s.Version, s.URI, s.Context, s.Nice, s.ArgSignatureID))
	})
	return s
}

// InstanceTableName returns the instance table name of series id.
func InstanceTableName(d *dialect.Dialect, id int64) string {
	return d.Fold(types.InstanceTablePrefix + strconv.FormatInt(id, 10))
}

// LinkTableName returns the instance link table name of series id.
func LinkTableName(d *dialect.Dialect, id int64) string {
	return d.Fold(types.LinkTablePrefix + strconv.FormatInt(id, 10))
}

// Save persists the series. A new series gets its instance and link tables
// in the same transaction as its row, so a failed table creation leaves
// neither the row nor an orphan table behind.
func (s *Series) Save(ctx context.Context) error {
	if !s.IsNew() {
		return s.KeyRow.Save(ctx)
	}
	if err := s.KeyRow.Save(ctx, row.OperationFunc(s.createInstanceTables)); err != nil {
		s.InstanceTable.AssignNull()
		s.LinkTable.AssignNull()
		return err
	}
	return nil
}

// createInstanceTables runs right after the insert, once the key is known.
func (s *Series) createInstanceTables(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	instances := InstanceTableName(d, s.ID())
	links := LinkTableName(d, s.ID())
	for _, stmt := range InstanceTableDDL(d, instances, links) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return false, errors.Wrapf(err, "creating tables of series %d", s.ID())
		}
	}
	s.InstanceTable.SetValue(instances)
	s.LinkTable.SetValue(links)
	update := &row.Update{
		Table:   types.SeriesTable,
		Columns: []row.Field{s.InstanceTable, s.LinkTable},
		Where:   row.SimpleKey{Key: s.IDColumn()},
	}
	ok, err := update.Execute(ctx, q, d)
	if err == nil {
		log.WithField("series", s.ID()).Debugf("created tables %s and %s", instances, links)
	}
	return ok, err
}

// InstanceTableDDL returns the statements creating the instance and link
// tables of one series, using the dialect's type names.
func InstanceTableDDL(d *dialect.Dialect, instances, links string) []string {
	t := d.Types
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
	id %s,
	collected %s NOT NULL,
	committed %s NOT NULL,
	memory_usage_mb %s,
	cpu_usage_sec %s,
	wall_clock_time_sec %s,
	log %s,
	report_id %s NOT NULL
)`, instances, d.KeyColumn(), t.Date, t.Date, t.Float, t.Float, t.Float, t.Text, t.Long),
		fmt.Sprintf("CREATE INDEX %s_collected ON %s (collected)", instances, instances),
		fmt.Sprintf(`CREATE TABLE %s (
	instance_id %s NOT NULL,
	series_config_id %s NOT NULL,
	PRIMARY KEY (instance_id, series_config_id)
)`, links, t.Long, t.Long),
	}
	if !d.GeneratedKeys() {
		stmts = append(stmts, d.CreateSequence(instances)...)
	}
	return stmts
}

// CreateInstanceTables creates the tables of an existing series whose rows
// were restored from a snapshot.
func CreateInstanceTables(ctx context.Context, db *row.DB, s *Series) error {
	instances, links := s.InstanceTable.Get(), s.LinkTable.Get()
	if s.InstanceTable.IsNull() || s.LinkTable.IsNull() {
		instances = InstanceTableName(db.Dialect(), s.ID())
		links = LinkTableName(db.Dialect(), s.ID())
	}
	return db.RunInTx(ctx, func(tx *row.DB) error {
		for _, stmt := range InstanceTableDDL(tx.Dialect(), instances, links) {
			if _, err := tx.Querier().ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "creating tables of series %d", s.ID())
			}
		}
		return nil
	})
}

// SeriesTables is the pair of per-series tables of one series.
type SeriesTables struct {
	SeriesID  int64
	Instances string
	Links     string
}

// ListSeriesTables returns the tables of every series whose instance table
// still exists, ordered by series id.
func ListSeriesTables(ctx context.Context, db *row.DB) ([]SeriesTables, error) {
	q := fmt.Sprintf("SELECT id, instance_table, link_table FROM %s WHERE instance_table IS NOT NULL ORDER BY id", types.SeriesTable)
	rows, err := db.Querier().QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "listing series tables")
	}
	var all []SeriesTables
	for rows.Next() {
		var st SeriesTables
		if err := rows.Scan(&st.SeriesID, &st.Instances, &st.Links); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "listing series tables")
		}
		all = append(all, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "listing series tables")
	}

	out := all[:0]
	for _, st := range all {
		ok, err := db.Dialect().TableExists(ctx, db.Querier(), st.Instances)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, nil
}
