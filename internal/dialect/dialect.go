// Package dialect detects which database product a connection talks to and
// captures everything the row layer needs to stay product-agnostic: column
// type names, placeholder syntax, identifier case folding and the key
// generation strategy.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// Product identifies a supported database product.
type Product int

// Supported database products.
const (
	SQLite Product = iota + 1
	PostgreSQL
	MySQL
	SQLServer
)

func (p Product) String() string {
	switch p {
	case SQLite:
		return "sqlite"
	case PostgreSQL:
		return "postgresql"
	case MySQL:
		return "mysql"
	case SQLServer:
		return "sqlserver"
	default:
		return "unknown"
	}
}

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx used to run
// statements.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TypeNames holds the canonical column type for each column kind.
type TypeNames struct {
	Boolean string
	Date    string
	Float   string
	Integer string
	Long    string
	String  string
	Text    string
	Binary  string
}

// Dialect is the resolved configuration for one database product. It is
// built once at startup and shared read-only afterwards.
type Dialect struct {
	Product Product
	Version string
	Types   TypeNames

	// keys is the key strategy in effect (types.KeyStrategyGenerated or
	// types.KeyStrategySequence).
	keys string
}

// New returns the dialect for product with its default key strategy.
func New(product Product) (*Dialect, error) {
	d := &Dialect{Product: product}
	switch product {
	case SQLite:
		d.Types = TypeNames{
			Boolean: "BOOLEAN",
			Date:    "DATETIME",
			Float:   "REAL",
			Integer: "INTEGER",
			Long:    "INTEGER",
			String:  "VARCHAR(255)",
			Text:    "TEXT",
			Binary:  "BLOB",
		}
	case PostgreSQL:
		d.Types = TypeNames{
			Boolean: "BOOLEAN",
			Date:    "TIMESTAMP",
			Float:   "DOUBLE PRECISION",
			Integer: "INTEGER",
			Long:    "BIGINT",
			String:  "VARCHAR(255)",
			Text:    "TEXT",
			Binary:  "BYTEA",
		}
	case MySQL:
		d.Types = TypeNames{
			Boolean: "BOOLEAN",
			Date:    "DATETIME(6)",
			Float:   "DOUBLE",
			Integer: "INT",
			Long:    "BIGINT",
			String:  "VARCHAR(255)",
			Text:    "LONGTEXT",
			Binary:  "LONGBLOB",
		}
	case SQLServer:
		d.Types = TypeNames{
			Boolean: "BIT",
			Date:    "DATETIME2",
			Float:   "FLOAT",
			Integer: "INT",
			Long:    "BIGINT",
			String:  "NVARCHAR(255)",
			Text:    "NVARCHAR(MAX)",
			Binary:  "VARBINARY(MAX)",
		}
	default:
		return nil, types.ErrUnsupportedDatabase
	}
	d.keys = d.defaultKeyStrategy()
	return d, nil
}

// defaultKeyStrategy prefers generated keys wherever the driver can return
// them from the insert statement. PostgreSQL keeps explicit sequences.
func (d *Dialect) defaultKeyStrategy() string {
	if d.Product == PostgreSQL {
		return types.KeyStrategySequence
	}
	return types.KeyStrategyGenerated
}

// UseKeyStrategy selects the key strategy. KeyStrategyAuto keeps the
// product default. MySQL has no sequences.
func (d *Dialect) UseKeyStrategy(strategy string) error {
	switch strategy {
	case "", types.KeyStrategyAuto:
		d.keys = d.defaultKeyStrategy()
	case types.KeyStrategyGenerated:
		d.keys = strategy
	case types.KeyStrategySequence:
		if d.Product == MySQL {
			return errors.Wrap(types.ErrKeyStrategyUnknown, "mysql does not support sequences")
		}
		d.keys = strategy
	default:
		return types.ErrKeyStrategyUnknown
	}
	return nil
}

// KeyStrategy returns the key strategy in effect.
func (d *Dialect) KeyStrategy() string {
	return d.keys
}

// GeneratedKeys reports whether inserts obtain their key from the database.
func (d *Dialect) GeneratedKeys() bool {
	return d.keys == types.KeyStrategyGenerated
}

// Placeholder returns the bind parameter marker for the 1-based position n.
func (d *Dialect) Placeholder(n int) string {
	switch d.Product {
	case PostgreSQL:
		return fmt.Sprintf("$%d", n)
	case SQLServer:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// Fold applies the product's identifier case folding for unquoted names.
func (d *Dialect) Fold(ident string) string {
	switch d.Product {
	case PostgreSQL, MySQL:
		return strings.ToLower(ident)
	default:
		return ident
	}
}

// Goqu returns the goqu dialect name for this product.
func (d *Dialect) Goqu() string {
	switch d.Product {
	case SQLite:
		return "sqlite3"
	case PostgreSQL:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLServer:
		return "sqlserver"
	default:
		return "default"
	}
}

// KeyColumn returns the column definition of a surrogate key column.
func (d *Dialect) KeyColumn() string {
	generated := d.GeneratedKeys()
	switch d.Product {
	case SQLite:
		if generated {
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		}
		return "INTEGER PRIMARY KEY"
	case PostgreSQL:
		if generated {
			return "BIGSERIAL PRIMARY KEY"
		}
		return "BIGINT PRIMARY KEY"
	case MySQL:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	case SQLServer:
		if generated {
			return "BIGINT IDENTITY(1,1) PRIMARY KEY"
		}
		return "BIGINT PRIMARY KEY"
	default:
		return "BIGINT PRIMARY KEY"
	}
}
