package dialect

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// probe asks the server for its version and recognizes the answer.
type probe struct {
	product Product
	query   string
	match   func(version string) bool
}

var probes = []probe{
	{SQLite, "SELECT sqlite_version()", func(string) bool { return true }},
	{PostgreSQL, "SELECT version()", func(v string) bool { return strings.Contains(v, "PostgreSQL") }},
	{SQLServer, "SELECT @@VERSION", func(v string) bool { return strings.Contains(v, "Microsoft SQL Server") }},
	{MySQL, "SELECT VERSION()", func(v string) bool {
		return !strings.Contains(v, "PostgreSQL") && !strings.Contains(v, "Microsoft")
	}},
}

// hints maps driver names to the product tried first.
var hints = map[string]Product{
	types.DriverSQLite:    SQLite,
	types.DriverPgx:       PostgreSQL,
	types.DriverPostgres:  PostgreSQL,
	types.DriverMySQL:     MySQL,
	types.DriverSQLServer: SQLServer,
	"mssql":               SQLServer,
}

// Detect probes q to find out which product it talks to. The driver name is
// only a hint deciding which probe runs first.
func Detect(ctx context.Context, q Querier, driverName string) (*Dialect, error) {
	hint := hints[driverName]
	ordered := make([]probe, 0, len(probes))
	for _, p := range probes {
		if p.product == hint {
			ordered = append(ordered, p)
		}
	}
	for _, p := range probes {
		if p.product != hint {
			ordered = append(ordered, p)
		}
	}

	for _, p := range ordered {
		var version string
		if err := q.QueryRowContext(ctx, p.query).Scan(&version); err != nil {
			log.WithError(err).Debugf("probe for %s failed", p.product)
			continue
		}
		if !p.match(version) {
			continue
		}
		d, err := New(p.product)
		if err != nil {
			return nil, err
		}
		d.Version = version
		log.WithField("product", p.product).WithField("version", version).Info("detected database")
		return d, nil
	}
	return nil, errors.Wrapf(types.ErrUnsupportedDatabase, "driver %q", driverName)
}
