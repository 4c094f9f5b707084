package dialect

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// SequenceName returns the sequence backing the surrogate key of table.
func (d *Dialect) SequenceName(table string) string {
	return d.Fold(table + "_seq")
}

// CreateSequence returns the statements creating the key sequence of table.
// SQLite has no sequences; they are emulated with a counter table.
func (d *Dialect) CreateSequence(table string) []string {
	seq := d.SequenceName(table)
	switch d.Product {
	case PostgreSQL:
		return []string{fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", seq)}
	case SQLServer:
		return []string{fmt.Sprintf("CREATE SEQUENCE %s AS BIGINT START WITH 1 INCREMENT BY 1", seq)}
	case SQLite:
		return []string{
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (name VARCHAR(255) PRIMARY KEY, next_value INTEGER NOT NULL)", types.SequencesTable),
			fmt.Sprintf("INSERT OR IGNORE INTO %s (name, next_value) VALUES ('%s', 0)", types.SequencesTable, seq),
		}
	default:
		return nil
	}
}

// DropSequence returns the statements removing the key sequence of table.
func (d *Dialect) DropSequence(table string) []string {
	seq := d.SequenceName(table)
	switch d.Product {
	case PostgreSQL, SQLServer:
		return []string{fmt.Sprintf("DROP SEQUENCE IF EXISTS %s", seq)}
	case SQLite:
		return []string{fmt.Sprintf("DELETE FROM %s WHERE name = '%s'", types.SequencesTable, seq)}
	default:
		return nil
	}
}

// NextValue consumes and returns the next value of the key sequence of
// table. A consumed value is never handed out again, even when the caller's
// transaction later rolls back on products with native sequences.
func (d *Dialect) NextValue(ctx context.Context, q Querier, table string) (int64, error) {
	seq := d.SequenceName(table)
	var query string
	var args []any
	switch d.Product {
	case PostgreSQL:
		query = fmt.Sprintf("SELECT nextval('%s')", seq)
	case SQLServer:
		query = fmt.Sprintf("SELECT NEXT VALUE FOR %s", seq)
	case SQLite:
		query = fmt.Sprintf("UPDATE %s SET next_value = next_value + 1 WHERE name = ? RETURNING next_value", types.SequencesTable)
		args = []any{seq}
	default:
		return 0, errors.Wrapf(types.ErrUnsupportedDatabase, "%s has no sequences", d.Product)
	}
	var next int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&next); err != nil {
		return 0, errors.Wrapf(err, "reading sequence %s", seq)
	}
	return next, nil
}

// InsertSQL builds an INSERT statement for cols. When key is non-empty the
// statement returns the generated key: returning reports whether it must be
// run as a query (RETURNING / OUTPUT) rather than read through
// sql.Result.LastInsertId.
func (d *Dialect) InsertSQL(table string, cols []string, key string) (query string, returning bool) {
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = d.Placeholder(i + 1)
	}
	colList := strings.Join(cols, ", ")
	valList := strings.Join(marks, ", ")
	if key == "" {
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, colList, valList), false
	}
	switch d.Product {
	case PostgreSQL:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s", table, colList, valList, key), true
	case SQLServer:
		return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.%s VALUES (%s)", table, colList, key, valList), true
	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, colList, valList), false
	}
}

// ExplicitKeys returns the statement toggling explicit inserts into a
// generated key column, or "" when the product needs none.
func (d *Dialect) ExplicitKeys(table string, on bool) string {
	if d.Product != SQLServer || !d.GeneratedKeys() {
		return ""
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	return fmt.Sprintf("SET IDENTITY_INSERT %s %s", table, state)
}

// ReseedKeys returns the statements that make the next generated key of table
// larger than maxKey. Used after rows were inserted with explicit keys.
func (d *Dialect) ReseedKeys(table string, maxKey int64) []string {
	seq := d.SequenceName(table)
	switch d.Product {
	case PostgreSQL:
		if d.GeneratedKeys() {
			return []string{fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), %d, false)", table, maxKey+1)}
		}
		return []string{fmt.Sprintf("SELECT setval('%s', %d, false)", seq, maxKey+1)}
	case SQLServer:
		if d.GeneratedKeys() {
			return nil
		}
		return []string{fmt.Sprintf("ALTER SEQUENCE %s RESTART WITH %d", seq, maxKey+1)}
	case SQLite:
		if d.GeneratedKeys() {
			return nil
		}
		return []string{fmt.Sprintf("UPDATE %s SET next_value = %d WHERE name = '%s' AND next_value < %d",
			types.SequencesTable, maxKey, seq, maxKey)}
	default:
		return nil
	}
}

// TableExists reports whether a table named name exists in the current
// schema.
func (d *Dialect) TableExists(ctx context.Context, q Querier, name string) (bool, error) {
	var query string
	switch d.Product {
	case SQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	case PostgreSQL:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	case MySQL:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	case SQLServer:
		query = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1"
	default:
		return false, types.ErrUnsupportedDatabase
	}
	var n int
	if err := q.QueryRowContext(ctx, query, d.Fold(name)).Scan(&n); err != nil {
		return false, errors.Wrapf(err, "checking table %s", name)
	}
	return n > 0, nil
}
