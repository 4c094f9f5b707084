// Package store attaches the depot to its relational database. It opens the
// configured driver, detects the database product, selects the key strategy
// and creates the schema on first use.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// DatabaseFile is the SQLite file created in the data directory when no DSN
// is configured.
const DatabaseFile = "depot.db"

// Backend implements types.Depot on top of database/sql.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	pool     *sql.DB
	db       *row.DB
}

// NewBackend creates a new backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

var _ types.Depot = (*Backend)(nil)

// Attach opens the database, detects the product and creates the schema
// when the database is empty.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dsn, err := dataSource(config)
	if err != nil {
		return err
	}
	pool, err := sql.Open(config.Driver, dsn)
	if err != nil {
		return errors.Wrapf(err, "opening %s database", config.Driver)
	}

	ctx := context.Background()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return errors.Wrapf(err, "connecting to %s database", config.Driver)
	}

	d, err := dialect.Detect(ctx, pool, config.Driver)
	if err != nil {
		pool.Close()
		return err
	}
	if err := d.UseKeyStrategy(config.GetKeyStrategy()); err != nil {
		pool.Close()
		return err
	}

	if err := ensureSchema(ctx, pool, d); err != nil {
		pool.Close()
		return err
	}

	b.pool = pool
	b.db = row.NewDB(pool, d)
	b.config = config
	b.attached = true

	log.WithFields(log.Fields{
		"driver":  config.Driver,
		"product": d.Product,
		"keys":    d.KeyStrategy(),
	}).Info("depot attached")
	return nil
}

// Detach closes the connection pool. After Detach, DB returns
// ErrDepotDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.pool != nil {
		if err := b.pool.Close(); err != nil {
			return err
		}
		b.pool = nil
	}
	b.db = nil
	b.attached = false
	return nil
}

// DB returns the row-layer handle of the attached database.
func (b *Backend) DB() (*row.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrDepotDetached
	}
	return b.db, nil
}

// Config returns the configuration the backend was attached with.
func (b *Backend) Config() types.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// dataSource resolves the DSN handed to sql.Open. SQLite defaults to a file
// in the data directory. MySQL connections must report matched rather than
// changed rows so that an update writing identical values still counts as a
// match, and must parse DATETIME columns.
func dataSource(config types.Config) (string, error) {
	switch config.Driver {
	case types.DriverSQLite:
		if config.DSN != "" {
			return config.DSN, nil
		}
		dataDir := config.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return "", errors.Wrap(err, "creating data dir")
		}
		return "file:" + filepath.Join(dataDir, DatabaseFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	case types.DriverMySQL:
		cfg, err := mysql.ParseDSN(config.DSN)
		if err != nil {
			return "", errors.Wrap(err, "parsing mysql dsn")
		}
		cfg.ClientFoundRows = true
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case types.DriverSQLServer:
		if _, err := mssql.NewConnector(config.DSN); err != nil {
			return "", errors.Wrap(err, "parsing sqlserver dsn")
		}
		return config.DSN, nil
	default:
		return config.DSN, nil
	}
}

// ensureSchema creates the static tables, indexes and key sequences unless
// the suites table already exists.
func ensureSchema(ctx context.Context, pool *sql.DB, d *dialect.Dialect) error {
	exists, err := d.TableExists(ctx, pool, types.SuitesTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning schema transaction")
	}
	defer tx.Rollback()

	var stmts []string
	stmts = append(stmts, schemaDDL(d)...)
	stmts = append(stmts, indexDDL...)
	stmts = append(stmts, sequenceDDL(d)...)
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "creating schema (%s)", firstLine(stmt))
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing schema")
	}
	log.WithField("product", d.Product).Info("created depot schema")
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
