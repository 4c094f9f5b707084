// Package notify runs background work for the depot server: a bounded
// worker pool and the peer notifier that forwards accepted write commands
// to the other depots of the mesh.
package notify

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Default pool sizes.
const (
	DefaultWorkers = 4
	DefaultQueue   = 1024
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Pool runs tasks on a fixed number of workers fed by a bounded queue. A
// task that fails is logged; the failures are reported together by Close.
type Pool struct {
	ctx   context.Context
	tasks chan Task
	group *errgroup.Group

	mu     sync.Mutex
	closed bool
	errs   *multierror.Error
}

// NewPool starts workers goroutines. Tasks receive ctx.
func NewPool(ctx context.Context, workers, queue int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queue <= 0 {
		queue = DefaultQueue
	}
	p := &Pool{ctx: ctx, tasks: make(chan Task, queue), group: &errgroup.Group{}}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

func (p *Pool) work() error {
	for t := range p.tasks {
		if err := t(p.ctx); err != nil {
			tasksCounter.WithLabelValues("failed").Inc()
			log.WithError(err).Debug("background task failed")
			p.mu.Lock()
			p.errs = multierror.Append(p.errs, err)
			p.mu.Unlock()
			continue
		}
		tasksCounter.WithLabelValues("ok").Inc()
	}
	return nil
}

// Submit queues t without blocking. It returns false when the pool is
// closed or its queue is full; the task is then dropped.
func (p *Pool) Submit(t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- t:
		return true
	default:
		tasksCounter.WithLabelValues("dropped").Inc()
		log.Warn("background queue full, task dropped")
		return false
	}
}

// Close stops accepting tasks, waits for the queued ones to finish and
// returns the failures collected since the pool started.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	_ = p.group.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.errs.ErrorOrNil()
	if err != nil {
		log.WithField("failed", len(p.errs.Errors)).Warn("background tasks failed")
	}
	return err
}
