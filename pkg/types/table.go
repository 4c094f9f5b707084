package types

import "errors"

// Row and operation errors.
var (
	ErrNotFound     = errors.New("row not found")
	ErrNewRow       = errors.New("row has no key")
	ErrNullValue    = errors.New("null value in non-nullable column")
	ErrNoColumns    = errors.New("no columns to write")
	ErrInvalidTable = errors.New("invalid table name")
)

// Command and protocol errors.
var (
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrNotPermitted    = errors.New("operation not permitted")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrUnknownWorkKind = errors.New("unknown delayed work kind")
)

// Synchronization errors.
var (
	ErrSynchronizing  = errors.New("depot is synchronizing")
	ErrSnapshotFailed = errors.New("snapshot transfer failed")
)
