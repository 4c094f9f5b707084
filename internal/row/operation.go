package row

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/dialect"
)

// Operation is one unit of database work queued by a row. Execute reports
// false when the statement matched no row.
type Operation interface {
	Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error)
}

// OperationFunc adapts a function to the Operation interface. It lets a row
// queue work that depends on values only known once earlier operations ran,
// such as a freshly generated key.
type OperationFunc func(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error)

func (f OperationFunc) Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	return f(ctx, q, d)
}

// Optional runs op and reports success even when it matched no row.
func Optional(op Operation) Operation {
	return OperationFunc(func(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
		_, err := op.Execute(ctx, q, d)
		return true, err
	})
}

func names(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name()
	}
	return out
}

func bindAll(fields []Field) ([]any, error) {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		v, err := f.Bind()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func scanners(fields []Field) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = f.Scanner()
	}
	return out
}

func whereClause(c Criterion, d *dialect.Dialect, offset int, args []any) (string, []any, error) {
	if c == nil {
		return "", args, nil
	}
	text, _ := c.Where(d.Placeholder, offset)
	args, err := c.Bind(args)
	if err != nil {
		return "", nil, err
	}
	return " WHERE " + text, args, nil
}

// Insert writes Columns as a new row. Null columns are submitted as NULL
// when nullable; a null non-nullable column fails before the statement runs.
type Insert struct {
	Table   string
	Columns []Field
}

func (op *Insert) Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	args, err := bindAll(op.Columns)
	if err != nil {
		return false, errors.Wrapf(err, "insert into %s", op.Table)
	}
	query, _ := d.InsertSQL(op.Table, names(op.Columns), "")
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return false, errors.Wrapf(err, "insert into %s", op.Table)
	}
	return true, nil
}

// AutoGenKeyInsert writes Columns and assigns the key generated by the
// database to Key.
type AutoGenKeyInsert struct {
	Table   string
	Key     *Column[int64]
	Columns []Field
}

func (op *AutoGenKeyInsert) Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	args, err := bindAll(op.Columns)
	if err != nil {
		return false, errors.Wrapf(err, "insert into %s", op.Table)
	}
	query, returning := d.InsertSQL(op.Table, names(op.Columns), op.Key.Name())

	var id int64
	if returning {
		if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return false, errors.Wrapf(err, "insert into %s", op.Table)
		}
	} else {
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return false, errors.Wrapf(err, "insert into %s", op.Table)
		}
		if id, err = res.LastInsertId(); err != nil {
			return false, errors.Wrapf(err, "reading generated key of %s", op.Table)
		}
	}
	op.Key.AssignValue(id)
	return true, nil
}

// ReadSequence consumes the next key sequence value of Table and assigns it
// to Key. A consumed value is not returned if a later operation fails; the
// caller must not reuse it.
type ReadSequence struct {
	Table string
	Key   *Column[int64]
}

func (op *ReadSequence) Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	id, err := d.NextValue(ctx, q, op.Table)
	if err != nil {
		return false, err
	}
	op.Key.AssignValue(id)
	return true, nil
}

// Select reads Columns of the first row matching Where.
type Select struct {
	Table   string
	Columns []Field
	Where   Criterion
}

func (op *Select) Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	where, args, err := whereClause(op.Where, d, 1, nil)
	if err != nil {
		return false, errors.Wrapf(err, "select from %s", op.Table)
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(names(op.Columns), ", "), op.Table, where)
	err = q.QueryRowContext(ctx, query, args...).Scan(scanners(op.Columns)...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "select from %s", op.Table)
	}
	return true, nil
}

// Update writes Columns to the rows matching Where.
type Update struct {
	Table   string
	Columns []Field
	Where   Criterion
}

func (op *Update) Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	if len(op.Columns) == 0 {
		return true, nil
	}
	sets := make([]string, len(op.Columns))
	for i, f := range op.Columns {
		sets[i] = fmt.Sprintf("%s = %s", f.Name(), d.Placeholder(i+1))
	}
	args, err := bindAll(op.Columns)
	if err != nil {
		return false, errors.Wrapf(err, "update %s", op.Table)
	}
	where, args, err := whereClause(op.Where, d, len(op.Columns)+1, args)
	if err != nil {
		return false, errors.Wrapf(err, "update %s", op.Table)
	}
	query := fmt.Sprintf("UPDATE %s SET %s%s", op.Table, strings.Join(sets, ", "), where)
	return execAffected(ctx, q, query, args, "update "+op.Table)
}

// Delete removes the rows matching Where.
type Delete struct {
	Table string
	Where Criterion
}

func (op *Delete) Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	where, args, err := whereClause(op.Where, d, 1, nil)
	if err != nil {
		return false, errors.Wrapf(err, "delete from %s", op.Table)
	}
	return execAffected(ctx, q, "DELETE FROM "+op.Table+where, args, "delete from "+op.Table)
}

// Count stores the number of rows matching Where in Result.
type Count struct {
	Table  string
	Where  Criterion
	Result int64
}

func (op *Count) Execute(ctx context.Context, q dialect.Querier, d *dialect.Dialect) (bool, error) {
	where, args, err := whereClause(op.Where, d, 1, nil)
	if err != nil {
		return false, errors.Wrapf(err, "count %s", op.Table)
	}
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+op.Table+where, args...).Scan(&op.Result); err != nil {
		return false, errors.Wrapf(err, "count %s", op.Table)
	}
	return true, nil
}

// Statement runs a fixed statement, typically DDL.
type Statement struct {
	Query string
	Args  []any
}

func (op *Statement) Execute(ctx context.Context, q dialect.Querier, _ *dialect.Dialect) (bool, error) {
	if _, err := q.ExecContext(ctx, op.Query, op.Args...); err != nil {
		return false, errors.Wrapf(err, "executing %q", op.Query)
	}
	return true, nil
}

func execAffected(ctx context.Context, q dialect.Querier, query string, args []any, what string) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, what)
	}
	return n > 0, nil
}
