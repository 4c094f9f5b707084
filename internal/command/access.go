package command

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Capability is a class of requests subject to permission checks.
type Capability string

const (
	CapabilityWrite Capability = "write"
	CapabilitySync  Capability = "sync"
	CapabilityQuery Capability = "query"
)

// Authorizer decides whether a remote address may use a capability.
type Authorizer interface {
	Authorize(remote string, c Capability) error
	IsPeer(remote string) bool
}

// PeerAuthorizer grants every capability to peer depots. Other clients may
// write and query; when writers is not empty only the listed hosts may
// write. Snapshots go to peers and to hosts added with AllowSync.
type PeerAuthorizer struct {
	peers   map[string]bool
	writers map[string]bool
	syncers map[string]bool
}

// NewPeerAuthorizer builds an authorizer from host or host:port lists.
func NewPeerAuthorizer(peers, writers []string) *PeerAuthorizer {
	a := &PeerAuthorizer{peers: map[string]bool{}, writers: map[string]bool{}, syncers: map[string]bool{}}
	for _, p := range peers {
		a.peers[host(p)] = true
	}
	for _, w := range writers {
		a.writers[host(w)] = true
	}
	return a
}

// AllowSync lets hosts request snapshots without being peers.
func (a *PeerAuthorizer) AllowSync(hosts ...string) *PeerAuthorizer {
	for _, h := range hosts {
		a.syncers[host(h)] = true
	}
	return a
}

func host(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

func (a *PeerAuthorizer) IsPeer(remote string) bool {
	return a.peers[host(remote)]
}

func (a *PeerAuthorizer) Authorize(remote string, c Capability) error {
	h := host(remote)
	if a.peers[h] {
		return nil
	}
	switch c {
	case CapabilityQuery:
		return nil
	case CapabilityWrite:
		if len(a.writers) == 0 || a.writers[h] {
			return nil
		}
	case CapabilitySync:
		if a.syncers[h] {
			return nil
		}
	}
	return errors.Wrapf(types.ErrNotPermitted, "%s from %s", c, h)
}

// ExitStatusComparer judges a report by its exit status.
type ExitStatusComparer struct{}

func (ExitStatusComparer) Compare(_ context.Context, _ *model.SeriesConfig, report *model.Report) (string, error) {
	if report.ExitStatus.Get() {
		return "success", nil
	}
	if msg, ok := report.ExitMessage.Value(); ok {
		return "failure: " + msg, nil
	}
	return "failure", nil
}
