package query

import (
	"strconv"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlserver"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/row"
)

// paramPrefix marks a named parameter among the arguments goqu produces for
// a prepared statement. The marker travels through goqu as a plain string.
const paramPrefix = "\x00param:"

func paramName(arg any) (string, bool) {
	s, ok := arg.(string)
	if !ok || !strings.HasPrefix(s, paramPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, paramPrefix), true
}

// Compiled is a query turned into SQL for one dialect. It is immutable and
// safe to share between executions.
//
// A query over per-series instances is compiled in two steps: Compile
// checks it against the instance columns and leaves SQL empty, ForSeries
// renders it for the tables of one series.
type Compiled struct {
	Kind    model.Kind
	Entity  bool
	Columns []string
	SQL     string

	// args holds literal arguments and param markers in statement order.
	args   []any
	series *Operand
	st     *Statement
}

// PerSeries reports whether the query reads the instances of a series and
// must go through ForSeries before it runs.
func (c *Compiled) PerSeries() bool {
	return c.series != nil && c.SQL == ""
}

// SeriesID returns the series a per-series query reads, taken from its
// literal or from params.
func (c *Compiled) SeriesID(params map[string]any) (int64, error) {
	if c.series == nil {
		return 0, invalid("%s is not stored per series", c.Kind.Name)
	}
	if c.series.Param == "" {
		return c.series.Literal.(int64), nil
	}
	v, ok := params[c.series.Param]
	if !ok {
		return 0, invalid("missing parameter :%s", c.series.Param)
	}
	switch id := v.(type) {
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	case float64:
		if id == float64(int64(id)) {
			return int64(id), nil
		}
	case string:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, invalid("parameter :%s is not a series id", c.series.Param)
}

// ForSeries renders a per-series query against the tables of series.
func (c *Compiled) ForSeries(d *dialect.Dialect, series *model.Series) (*Compiled, error) {
	if c.series == nil {
		return nil, invalid("%s is not stored per series", c.Kind.Name)
	}
	out, err := compile(c.st, d, model.InstanceKind(d, series))
	if err != nil {
		return nil, err
	}
	out.series = c.series
	return out, nil
}

// Params returns the names of the parameters the query expects.
func (c *Compiled) Params() []string {
	var out []string
	seen := map[string]bool{}
	if c.series != nil && c.series.Param != "" {
		seen[c.series.Param] = true
		out = append(out, c.series.Param)
	}
	for _, a := range c.args {
		if name, ok := paramName(a); ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Bind returns the statement arguments with params substituted.
func (c *Compiled) Bind(params map[string]any) ([]any, error) {
	out := make([]any, len(c.args))
	for i, a := range c.args {
		name, ok := paramName(a)
		if !ok {
			out[i] = a
			continue
		}
		v, ok := params[name]
		if !ok {
			return nil, invalid("missing parameter :%s", name)
		}
		out[i] = v
	}
	return out, nil
}

// Compile resolves the logical names of st against the entity model and
// renders the SQL for d.
func Compile(st *Statement, d *dialect.Dialect) (*Compiled, error) {
	if strings.EqualFold(st.From, model.InstanceKindName) {
		if st.Series == nil {
			return nil, invalid("%s needs \"of <series>\"", model.InstanceKindName)
		}
		proto := model.NewSeries(nil)
		proto.SetID(st.Series.seriesHint())
		c, err := compile(st, d, model.InstanceKind(d, proto))
		if err != nil {
			return nil, err
		}
		c.SQL, c.args = "", nil
		c.series = st.Series
		c.st = st
		return c, nil
	}
	if st.Series != nil {
		return nil, invalid("%s is not stored per series", st.From)
	}
	kind, ok := model.KindByName(st.From)
	if !ok {
		return nil, invalid("unknown entity %q", st.From)
	}
	return compile(st, d, kind)
}

// seriesHint is the series id used to check a per-series query before the
// real series is known.
func (o *Operand) seriesHint() int64 {
	if id, ok := o.Literal.(int64); ok {
		return id
	}
	return 1
}

func compile(st *Statement, d *dialect.Dialect, kind model.Kind) (*Compiled, error) {
	proto := kind.New(nil)
	resolve := func(field string) (string, error) {
		f, ok := model.FieldByName(proto, field)
		if !ok {
			return "", invalid("%s has no field %q", kind.Name, field)
		}
		return f.Name(), nil
	}

	c := &Compiled{Kind: kind, Entity: st.Entity}
	if st.Entity {
		for _, f := range proto.Columns() {
			c.Columns = append(c.Columns, f.Name())
		}
	} else {
		for _, field := range st.Fields {
			col, err := resolve(field)
			if err != nil {
				return nil, err
			}
			c.Columns = append(c.Columns, col)
		}
	}

	cols := make([]any, len(c.Columns))
	for i, col := range c.Columns {
		cols[i] = goqu.C(col)
	}
	ds := goqu.Dialect(d.Goqu()).From(kind.Table).Select(cols...).Prepared(true)

	if len(st.Where) > 0 {
		var ors []exp.Expression
		for _, group := range st.Where {
			var ands []exp.Expression
			for _, cond := range group {
				col, err := resolve(cond.Field)
				if err != nil {
					return nil, err
				}
				e, err := condition(goqu.C(col), cond)
				if err != nil {
					return nil, err
				}
				ands = append(ands, e)
			}
			ors = append(ors, goqu.And(ands...))
		}
		ds = ds.Where(goqu.Or(ors...))
	}

	for _, o := range st.Order {
		col, err := resolve(o.Field)
		if err != nil {
			return nil, err
		}
		if o.Desc {
			ds = ds.OrderAppend(goqu.C(col).Desc())
		} else {
			ds = ds.OrderAppend(goqu.C(col).Asc())
		}
	}
	if st.Limit > 0 {
		if len(st.Order) == 0 {
			ds = ds.Order(goqu.C(row.KeyColumn).Asc())
		}
		ds = ds.Limit(st.Limit)
	}

	sql, args, err := ds.ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "rendering query")
	}
	c.SQL = sql
	c.args = args
	return c, nil
}

func condition(col exp.IdentifierExpression, cond Condition) (exp.Expression, error) {
	switch cond.Op {
	case "is null":
		return col.IsNull(), nil
	case "is not null":
		return col.IsNotNull(), nil
	}

	var v any = cond.Operand.Literal
	if cond.Operand.Param != "" {
		v = paramPrefix + cond.Operand.Param
	} else if s, ok := v.(string); ok && strings.HasPrefix(s, paramPrefix) {
		return nil, invalid("bad string literal")
	}
	switch cond.Op {
	case "=":
		return col.Eq(v), nil
	case "!=", "<>":
		return col.Neq(v), nil
	case "<":
		return col.Lt(v), nil
	case "<=":
		return col.Lte(v), nil
	case ">":
		return col.Gt(v), nil
	case ">=":
		return col.Gte(v), nil
	case "like":
		return col.Like(v), nil
	}
	return nil, invalid("unknown operator %q", cond.Op)
}
