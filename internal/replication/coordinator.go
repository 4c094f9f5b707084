package replication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// Coordinator owns the synchronization state of one depot: whether a
// snapshot transfer is running, whether this depot is the importing side,
// and the FIFO queue of write commands deferred meanwhile. Every mutating
// method is serialized by one mutex. The journal is written outside it, in
// queue order, under a mutex of its own.
type Coordinator struct {
	mu         sync.Mutex
	inProgress bool
	requesting bool
	draining   bool
	queue      []Entry
	version    uint64

	journalMu sync.Mutex
	written   uint64

	registry *Registry
	journal  Journal
}

// Journal keeps a durable copy of the deferred-work queue. Spool is the
// file-backed implementation.
type Journal interface {
	Load() ([]Entry, error)
	Save(entries []Entry) error
}

// NewCoordinator returns an idle coordinator. journal may be nil, in which
// case the queue lives only in memory.
func NewCoordinator(registry *Registry, journal Journal) *Coordinator {
	return &Coordinator{registry: registry, journal: journal}
}

// SyncInProgress reports whether a snapshot transfer, or the replay that
// follows it, is running.
func (c *Coordinator) SyncInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// RequestingSync reports whether this depot is importing a peer's snapshot
// rather than serving its own.
func (c *Coordinator) RequestingSync() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requesting
}

// QueueLen returns the number of deferred commands.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// StartSyncResponse marks the start of serving a snapshot. It fails with
// types.ErrSynchronizing when a synchronization is already running.
func (c *Coordinator) StartSyncResponse() error {
	return c.start(false)
}

// StartSyncRequest marks the start of importing a peer's snapshot.
func (c *Coordinator) StartSyncRequest() error {
	return c.start(true)
}

func (c *Coordinator) start(requesting bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inProgress {
		return types.ErrSynchronizing
	}
	c.inProgress = true
	c.requesting = requesting
	log.WithField("requesting", requesting).Info("synchronization started")
	return nil
}

// AddDelayedWork parks work until the running synchronization ends. It
// returns false, without capturing anything, when no synchronization is
// running and the caller should execute the command itself.
func (c *Coordinator) AddDelayedWork(work DelayedWork) (bool, error) {
	c.mu.Lock()
	if !c.inProgress {
		c.mu.Unlock()
		return false, nil
	}
	state, err := work.CaptureState()
	if err != nil {
		c.mu.Unlock()
		return false, errors.Wrapf(err, "capturing %s", work.Kind())
	}
	c.queue = append(c.queue, Entry{
		ID:     uuid.NewString(),
		Kind:   work.Kind(),
		State:  state,
		Queued: time.Now().UTC(),
	})
	queued := len(c.queue)
	save := c.persist()
	c.mu.Unlock()

	save()
	delayedWorkCounter.WithLabelValues(work.Kind(), "deferred").Inc()
	log.WithFields(log.Fields{"kind": work.Kind(), "queued": queued}).Debug("deferred write")
	return true, nil
}

// persist takes a copy of the queue and returns the journal write for it.
// Callers hold c.mu and run the write after releasing it. A write older
// than one already saved is skipped.
func (c *Coordinator) persist() func() {
	queueDepthGauge.Set(float64(len(c.queue)))
	if c.journal == nil {
		return func() {}
	}
	c.version++
	version := c.version
	entries := append([]Entry(nil), c.queue...)
	return func() {
		c.journalMu.Lock()
		defer c.journalMu.Unlock()
		if version <= c.written {
			return
		}
		c.written = version
		if err := c.journal.Save(entries); err != nil {
			log.WithError(err).Warn("cannot spool delayed work")
		}
	}
}

// EndSync replays every deferred command in arrival order. The coordinator
// stays in progress until the queue is empty, so commands arriving during
// the replay are appended and replayed in the same pass, and no new
// synchronization starts before the drain completes. A command that fails
// is logged and skipped; the failures are returned together.
func (c *Coordinator) EndSync(ctx context.Context) error {
	c.mu.Lock()
	if !c.inProgress || c.draining {
		c.mu.Unlock()
		return nil
	}
	c.draining = true
	c.mu.Unlock()

	var result *multierror.Error
	replayed := 0
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.inProgress = false
			c.requesting = false
			c.draining = false
			save := c.persist()
			c.mu.Unlock()
			save()
			break
		}
		e := c.queue[0]
		c.queue = c.queue[1:]
		save := c.persist()
		c.mu.Unlock()
		save()

		if err := c.replay(ctx, e); err != nil {
			delayedWorkCounter.WithLabelValues(e.Kind, "failed").Inc()
			log.WithError(err).WithFields(log.Fields{"kind": e.Kind, "entry": e.ID}).Error("replay of delayed work failed")
			result = multierror.Append(result, errors.Wrapf(err, "%s %s", e.Kind, e.ID))
			continue
		}
		delayedWorkCounter.WithLabelValues(e.Kind, "replayed").Inc()
		replayed++
	}

	err := result.ErrorOrNil()
	entry := log.WithField("replayed", replayed)
	if err != nil {
		entry.WithField("failed", len(result.Errors)).Warn("synchronization ended with replay failures")
	} else {
		entry.Info("synchronization ended")
	}
	return err
}

// EndSyncRequest ends an import started with StartSyncRequest.
func (c *Coordinator) EndSyncRequest(ctx context.Context) error {
	return c.EndSync(ctx)
}

func (c *Coordinator) replay(ctx context.Context, e Entry) error {
	if c.registry == nil {
		return errors.Wrapf(types.ErrUnknownWorkKind, "%q", e.Kind)
	}
	work, err := c.registry.Restore(e.Kind, e.State)
	if err != nil {
		return err
	}
	return work.Replay(ctx)
}

// Recover replays the commands left in the journal by an earlier process.
// Commands deferred while recovering are queued behind them.
func (c *Coordinator) Recover(ctx context.Context) error {
	if c.journal == nil {
		return nil
	}
	entries, err := c.journal.Load()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return types.ErrSynchronizing
	}
	c.inProgress = true
	c.queue = append(entries, c.queue...)
	save := c.persist()
	c.mu.Unlock()
	save()

	log.WithField("entries", len(entries)).Info("recovering spooled delayed work")
	return c.EndSync(ctx)
}
