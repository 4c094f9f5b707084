package types

import "errors"

// Depot defines the lifecycle of a storage backend. Callers attach with a
// Config, use the backend, and detach when done.
type Depot interface {
	// Attach opens the database described by config, detects the database
	// product and creates the schema when missing. Returns ErrAlreadyAttached
	// if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	Detach() error
}

// Depot lifecycle errors.
var (
	ErrDepotDetached       = errors.New("depot is detached")
	ErrAlreadyAttached     = errors.New("depot is already attached")
	ErrUnsupportedDatabase = errors.New("unsupported database product")
)
