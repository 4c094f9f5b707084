package notify

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/depot/internal/command"
	"github.com/mesh-intelligence/depot/internal/protocol"
)

func TestPool_RunsTasksAndCollectsFailures(t *testing.T) {
	p := NewPool(context.Background(), 2, 16)
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		fail := i%5 == 0
		require.True(t, p.Submit(func(context.Context) error {
			ran.Add(1)
			if fail {
				return errors.New("boom")
			}
			return nil
		}))
	}
	err := p.Close()
	assert.Equal(t, int32(10), ran.Load())

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)

	assert.False(t, p.Submit(func(context.Context) error { return nil }), "closed pool refuses work")
	assert.Error(t, p.Close(), "failures stay reported after close")
}

func TestPool_DropsWhenFull(t *testing.T) {
	p := NewPool(context.Background(), 1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit(func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.True(t, p.Submit(func(context.Context) error { return nil }))
	assert.False(t, p.Submit(func(context.Context) error { return nil }))
	close(release)
	assert.NoError(t, p.Close())
}

type peer struct {
	ln   net.Listener
	mu   sync.Mutex
	reqs []*protocol.Request
}

func listen(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &peer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conn := textproto.NewConn(c)
			req, err := protocol.ReadRequest(&conn.Reader)
			if err == nil {
				p.mu.Lock()
				p.reqs = append(p.reqs, req)
				p.mu.Unlock()
				protocol.WriteOK(&conn.Writer, "")
			}
			conn.Close()
		}
	}()
	return p
}

func (p *peer) received() []*protocol.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*protocol.Request(nil), p.reqs...)
}

func TestPeerNotifier(t *testing.T) {
	a, b := listen(t), listen(t)
	pool := NewPool(context.Background(), 2, 8)
	n := NewPeerNotifier(pool, []string{a.ln.Addr().String(), b.ln.Addr().String()})

	n.Notify(command.KindKbArticleDelete, "7", nil)
	n.Notify(command.KindSuiteUpdate, "", []byte("<suiteUpdate/>"))
	require.NoError(t, pool.Close())

	for _, p := range []*peer{a, b} {
		reqs := p.received()
		require.Len(t, reqs, 2)
		byCommand := map[string]*protocol.Request{}
		for _, r := range reqs {
			byCommand[r.Command] = r
		}
		assert.Equal(t, "7", byCommand[protocol.KbArticleDelete].Arg)
		assert.Equal(t, "<suiteUpdate/>\n", string(byCommand[protocol.SuiteUpdate].Payload))
	}
}

func TestPeerNotifier_UnreachablePeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	pool := NewPool(context.Background(), 1, 4)
	n := NewPeerNotifier(pool, []string{addr})
	n.timeout = 2 * time.Second
	n.Notify(command.KindInsert, "", []byte("<insert/>"))
	assert.Error(t, pool.Close())
}
