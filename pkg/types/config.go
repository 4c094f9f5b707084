package types

import "errors"

// Config holds backend selection and parameters for Depot.Attach.
type Config struct {
	Driver      string `json:"driver" yaml:"driver"`
	DSN         string `json:"dsn" yaml:"dsn"`
	DataDir     string `json:"data_dir" yaml:"data_dir"`
	KeyStrategy string `json:"key_strategy" yaml:"key_strategy"`
}

// Supported database/sql driver names.
const (
	DriverSQLite    = "sqlite"
	DriverPgx       = "pgx"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
)

// Key generation strategies. KeyStrategyAuto lets the database probe decide.
const (
	KeyStrategyAuto      = "auto"
	KeyStrategyGenerated = "generated"
	KeyStrategySequence  = "sequence"
)

// Config validation errors.
var (
	ErrDriverEmpty        = errors.New("driver must not be empty")
	ErrDriverUnknown      = errors.New("unknown driver")
	ErrKeyStrategyUnknown = errors.New("unknown key strategy")
	ErrDSNRequired        = errors.New("dsn is required for this driver")
)

// knownDrivers lists the drivers that Validate accepts.
var knownDrivers = map[string]bool{
	DriverSQLite:    true,
	DriverPgx:       true,
	DriverPostgres:  true,
	DriverMySQL:     true,
	DriverSQLServer: true,
}

// GetKeyStrategy returns the configured key strategy, defaulting to auto.
func (c Config) GetKeyStrategy() string {
	if c.KeyStrategy == "" {
		return KeyStrategyAuto
	}
	return c.KeyStrategy
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure. SQLite may omit the DSN; the database file is
// then placed in DataDir.
func (c Config) Validate() error {
	if c.Driver == "" {
		return ErrDriverEmpty
	}
	if !knownDrivers[c.Driver] {
		return ErrDriverUnknown
	}
	switch c.GetKeyStrategy() {
	case KeyStrategyAuto, KeyStrategyGenerated, KeyStrategySequence:
	default:
		return ErrKeyStrategyUnknown
	}
	if c.Driver != DriverSQLite && c.DSN == "" {
		return ErrDSNRequired
	}
	return nil
}
