// Package depot is the public entry point to the depot storage backend.
// It exposes the factory while keeping the implementation internal.
package depot

import (
	"github.com/mesh-intelligence/depot/internal/store"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Version is the release of this module.
const Version = "0.1.0"

// NewBackend creates a new backend instance. The backend is not attached;
// call Attach with a Config to open the database.
//
// Example:
//
//	backend := depot.NewBackend()
//	err := backend.Attach(types.Config{
//	    Driver:  types.DriverSQLite,
//	    DataDir: "/var/lib/depot",
//	})
//	defer backend.Detach()
func NewBackend() types.Depot {
	return store.NewBackend()
}
