// Package model holds the depot entities. Every entity is a row.KeyRow with
// typed columns; the package also knows the physical table layout, the
// membership (link) tables and the per-series instance storage.
package model

import (
	"context"
	"strings"
	"unicode"

	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Record is the behaviour shared by every keyed entity.
type Record interface {
	ID() int64
	SetID(id int64)
	IsNew() bool
	Table() string
	Columns() []row.Field
	Load(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Membership describes a link table hanging off a keyed table: every link
// row pairs the owner's id with one value.
type Membership struct {
	Table     string
	Owner     string
	Value     string
	ValueKind row.Kind
	Element   string
}

// Kind describes one statically named entity type.
type Kind struct {
	Name        string
	Element     string
	Block       string
	Table       string
	Memberships []Membership
	New         func(db *row.DB) Record
}

// Column returns a fresh field for the membership value.
func (m Membership) Column() row.Field {
	if m.ValueKind == row.String {
		return row.NewString(m.Value, false)
	}
	return row.NewLong(m.Value, false)
}

var (
	argSignatureArgs = Membership{
		Table: types.ArgSignatureArgsTable, Owner: "arg_signature_id",
		Value: "arg_id", ValueKind: row.Long, Element: "argId",
	}
	seriesConfigSuites = Membership{
		Table: types.SeriesConfigSuitesTable, Owner: "series_config_id",
		Value: "suite_id", ValueKind: row.Long, Element: "suiteId",
	}
	seriesConfigTags = Membership{
		Table: types.SeriesConfigTagsTable, Owner: "series_config_id",
		Value: "tag", ValueKind: row.String, Element: "tag",
	}
)

// Kinds lists the statically named entities in snapshot order. Per-series
// instances are dumped between comparison results and knowledge-base
// articles.
var Kinds = []Kind{
	{Name: "Suite", Element: "suite", Block: "suiteRows", Table: types.SuitesTable,
		New: func(db *row.DB) Record { return NewSuite(db) }},
	{Name: "Arg", Element: "arg", Block: "argRows", Table: types.ArgsTable,
		New: func(db *row.DB) Record { return NewArg(db) }},
	{Name: "ArgSignature", Element: "argSignature", Block: "argSignatureRows", Table: types.ArgSignaturesTable,
		Memberships: []Membership{argSignatureArgs},
		New:         func(db *row.DB) Record { return NewArgSignature(db) }},
	{Name: "Series", Element: "series", Block: "seriesRows", Table: types.SeriesTable,
		New: func(db *row.DB) Record { return NewSeries(db) }},
	{Name: "SeriesConfig", Element: "seriesConfig", Block: "seriesConfigRows", Table: types.SeriesConfigsTable,
		Memberships: []Membership{seriesConfigSuites, seriesConfigTags},
		New:         func(db *row.DB) Record { return NewSeriesConfig(db) }},
	{Name: "RunInfo", Element: "runInfo", Block: "runInfoRows", Table: types.RunInfosTable,
		New: func(db *row.DB) Record { return NewRunInfo(db) }},
	{Name: "Report", Element: "report", Block: "reportRows", Table: types.ReportsTable,
		New: func(db *row.DB) Record { return NewReport(db) }},
	{Name: "ComparisonResult", Element: "comparisonResult", Block: "comparisonResultRows", Table: types.ComparisonResultsTable,
		New: func(db *row.DB) Record { return NewComparisonResult(db) }},
	{Name: "KbArticle", Element: "kbArticle", Block: "kbArticleRows", Table: types.KbArticlesTable,
		New: func(db *row.DB) Record { return NewKbArticle(db) }},
}

// KindByName finds a kind by entity name, ignoring case.
func KindByName(name string) (Kind, bool) {
	for _, k := range Kinds {
		if strings.EqualFold(k.Name, name) {
			return k, true
		}
	}
	return Kind{}, false
}

// KindByElement finds a kind by its snapshot row element.
func KindByElement(element string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Element == element {
			return k, true
		}
	}
	return Kind{}, false
}

// LogicalName turns a physical column name into its logical camelCase form:
// exit_status becomes exitStatus.
func LogicalName(column string) string {
	var b strings.Builder
	upper := false
	for _, r := range column {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FieldByName returns the column of rec whose physical or logical name is
// name.
func FieldByName(rec Record, name string) (row.Field, bool) {
	for _, f := range rec.Columns() {
		if f.Name() == name || LogicalName(f.Name()) == name {
			return f, true
		}
	}
	return nil, false
}

// ByID loads the entity with the given id.
func ByID[R Record](ctx context.Context, db *row.DB, id int64, ctor func(*row.DB) R) (R, error) {
	rec := ctor(db)
	rec.SetID(id)
	if err := rec.Load(ctx); err != nil {
		var zero R
		return zero, err
	}
	return rec, nil
}

// Find loads every entity of the constructor's table matching where,
// ordered by id.
func Find[R Record](ctx context.Context, db *row.DB, where row.Criterion, ctor func(*row.DB) R) ([]R, error) {
	table := ctor(db).Table()
	ids, err := row.FindKeys(ctx, db, table, where)
	if err != nil {
		return nil, err
	}
	out := make([]R, 0, len(ids))
	for _, id := range ids {
		rec, err := ByID(ctx, db, id, ctor)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// linkOps inserts one link row per value, pairing it with owner's key.
func linkOps(m Membership, owner *row.Column[int64], values []any) []row.Operation {
	ops := make([]row.Operation, 0, len(values))
	for _, v := range values {
		col := m.Column()
		switch c := col.(type) {
		case *row.Column[int64]:
			c.AssignValue(v.(int64))
		case *row.Column[string]:
			c.AssignValue(v.(string))
		}
		ops = append(ops, &row.Insert{Table: m.Table, Columns: []row.Field{row.As(owner, m.Owner), col}})
	}
	return ops
}

// unlinkOp removes every link row of owner.
func unlinkOp(m Membership, owner *row.Column[int64]) row.Operation {
	return row.Optional(&row.Delete{Table: m.Table, Where: row.SimpleKey{Key: row.As(owner, m.Owner)}})
}

// LinkValues inserts the link rows of owner for m. The importer uses it to
// restore memberships.
func LinkValues(ctx context.Context, db *row.DB, m Membership, owner int64, values []string) error {
	key := row.NewLong(row.KeyColumn, false)
	key.AssignValue(owner)
	ops := make([]row.Operation, 0, len(values))
	for _, v := range values {
		col := m.Column()
		if err := col.SetText(v); err != nil {
			return err
		}
		ops = append(ops, &row.Insert{Table: m.Table, Columns: []row.Field{row.As(key, m.Owner), col}})
	}
	return db.Run(ctx, ops...)
}

func loadLongs(ctx context.Context, db *row.DB, m Membership, owner int64) ([]int64, error) {
	q := "SELECT " + m.Value + " FROM " + m.Table + " WHERE " + m.Owner + " = " + db.Dialect().Placeholder(1) + " ORDER BY " + m.Value
	rows, err := db.Querier().QueryContext(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func loadStrings(ctx context.Context, db *row.DB, m Membership, owner int64) ([]string, error) {
	q := "SELECT " + m.Value + " FROM " + m.Table + " WHERE " + m.Owner + " = " + db.Dialect().Placeholder(1) + " ORDER BY " + m.Value
	rows, err := db.Querier().QueryContext(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
