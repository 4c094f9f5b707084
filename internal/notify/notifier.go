package notify

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/protocol"
)

// DefaultTimeout bounds one notice, connection included.
const DefaultTimeout = 30 * time.Second

// PeerNotifier forwards accepted write commands to peer depots. Each notice
// is a pool task; delivery is best effort and never retried.
type PeerNotifier struct {
	pool    *Pool
	peers   []string
	timeout time.Duration
}

// NewPeerNotifier returns a notifier sending to peers (host:port) through
// pool.
func NewPeerNotifier(pool *Pool, peers []string) *PeerNotifier {
	return &PeerNotifier{pool: pool, peers: peers, timeout: DefaultTimeout}
}

// Notify queues one notice per peer. It never blocks.
func (n *PeerNotifier) Notify(kind, arg string, payload []byte) {
	cmd, ok := protocol.CommandFor(kind)
	if !ok {
		log.WithField("kind", kind).Warn("no wire command for notice")
		return
	}
	req := &protocol.Request{Command: cmd, Arg: arg, Payload: payload}
	for _, peer := range n.peers {
		queued := n.pool.Submit(func(ctx context.Context) error {
			err := n.send(ctx, peer, req)
			noticesCounter.WithLabelValues(peer, kind, outcome(err)).Inc()
			if err != nil {
				log.WithError(err).WithFields(log.Fields{"peer": peer, "kind": kind}).Warn("cannot notify peer")
			}
			return err
		})
		if !queued {
			noticesCounter.WithLabelValues(peer, kind, "dropped").Inc()
		}
	}
}

func (n *PeerNotifier) send(ctx context.Context, peer string, req *protocol.Request) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	c, err := protocol.Dial(ctx, peer)
	if err != nil {
		return err
	}
	defer c.Close()
	if dl, ok := ctx.Deadline(); ok {
		c.SetDeadline(dl)
	}
	if _, _, err := c.Do(req); err != nil {
		return errors.Wrapf(err, "notifying %s", peer)
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
