// Package replication keeps peer depots loosely consistent. The Coordinator
// quiesces writes while a snapshot is transferred and replays them
// afterwards; Snapshot writes the full dump and Importer consumes one.
package replication

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// DelayedWork is a write command that can be parked while a snapshot is in
// flight. CaptureState serializes everything Replay needs; RestoreState
// rebuilds the command from that state on a fresh value.
type DelayedWork interface {
	Kind() string
	CaptureState() ([]byte, error)
	RestoreState(state []byte) error
	Replay(ctx context.Context) error
}

// Factory returns an empty command of one kind, ready for RestoreState.
type Factory func() DelayedWork

// Registry maps work kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs the factory for kind, replacing any earlier one.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Restore builds the command of kind from captured state.
func (r *Registry) Restore(kind string, state []byte) (DelayedWork, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(types.ErrUnknownWorkKind, "%q", kind)
	}
	w := f()
	if err := w.RestoreState(state); err != nil {
		return nil, errors.Wrapf(err, "restoring %s", kind)
	}
	return w, nil
}
