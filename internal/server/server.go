// Package server accepts depot line-protocol connections and dispatches
// their requests. Every connection is served by its own goroutine.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/command"
	"github.com/mesh-intelligence/depot/internal/protocol"
	"github.com/mesh-intelligence/depot/internal/query"
	"github.com/mesh-intelligence/depot/internal/replication"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Server serves one depot.
type Server struct {
	env      *command.Env
	snapshot *replication.Snapshot
	queries  *query.Executor

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New returns a server running write commands through env.
func New(env *command.Env, snapshot *replication.Snapshot, queries *query.Executor) *Server {
	return &Server{env: env, snapshot: snapshot, queries: queries, conns: map[net.Conn]struct{}{}}
}

// Serve accepts connections on ln until ctx is done, then closes the
// listener and the open connections and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log.WithField("addr", ln.Addr().String()).Info("depot listening")
	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accepting connection")
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		connectionsGauge.Inc()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer connectionsGauge.Dec()
			s.serveConn(ctx, c)
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	conn := textproto.NewConn(c)
	defer conn.Close()
	remote := c.RemoteAddr().String()
	entry := log.WithField("remote", remote)
	entry.Debug("connection opened")

	for {
		req, err := protocol.ReadRequest(&conn.Reader)
		if err != nil {
			if errors.Is(err, types.ErrUnknownCommand) {
				if protocol.WriteError(&conn.Writer, err.Error()) == nil {
					continue
				}
			}
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				entry.WithError(err).Debug("connection closed")
			}
			return
		}
		requestsCounter.WithLabelValues(req.Command).Inc()
		if err := s.dispatch(ctx, &conn.Writer, remote, req); err != nil {
			entry.WithError(err).WithField("command", req.Command).Warn("cannot reply")
			return
		}
	}
}

// dispatch runs one request. The returned error means the reply could not
// be written and the connection is unusable.
func (s *Server) dispatch(ctx context.Context, w *textproto.Writer, remote string, req *protocol.Request) error {
	switch req.Command {
	case protocol.Ping:
		return protocol.WriteOK(w, "pong")
	case protocol.Sync:
		return s.sync(ctx, w, remote)
	case protocol.Query:
		return s.query(ctx, w, remote, req)
	}
	if kind, ok := protocol.KindOf(req.Command); ok {
		return s.write(ctx, w, remote, kind, req)
	}
	return protocol.WriteError(w, fmt.Sprintf("%v %q", types.ErrUnknownCommand, req.Command))
}

func (s *Server) write(ctx context.Context, w *textproto.Writer, remote, kind string, req *protocol.Request) error {
	cmd, err := s.env.New(kind, remote, req.Arg, req.Payload)
	if err != nil {
		return s.fail(w, req.Command, err)
	}
	acked := false
	var ackErr error
	err = s.env.Run(ctx, cmd, func() error {
		acked = true
		ackErr = protocol.WriteOK(w, "")
		return ackErr
	})
	if !acked {
		return s.fail(w, req.Command, err)
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"kind": kind, "remote": remote}).Error("write command failed")
	}
	return ackErr
}

func (s *Server) sync(ctx context.Context, w *textproto.Writer, remote string) error {
	if err := s.authorize(remote, command.CapabilitySync); err != nil {
		return s.fail(w, protocol.Sync, err)
	}
	body := protocol.NewBodyWriter(w)
	err := s.snapshot.WriteResponse(ctx, body, true)
	if err != nil && !body.Started() {
		return s.fail(w, protocol.Sync, err)
	}
	if err != nil {
		log.WithError(err).WithField("remote", remote).Error("snapshot sent with an error element")
	}
	return body.Close()
}

func (s *Server) query(ctx context.Context, w *textproto.Writer, remote string, req *protocol.Request) error {
	if err := s.authorize(remote, command.CapabilityQuery); err != nil {
		return s.fail(w, protocol.Query, err)
	}
	params, err := ParseParams(req.Arg)
	if err != nil {
		return s.fail(w, protocol.Query, err)
	}
	cur, err := s.queries.Query(ctx, strings.TrimSpace(string(req.Payload)), params)
	if err != nil {
		return s.fail(w, protocol.Query, err)
	}
	defer cur.Close()

	body := protocol.NewBodyWriter(w)
	for {
		batch, err := cur.Next()
		if err != nil {
			// The body has possibly started; the client sees a short result.
			log.WithError(err).WithField("remote", remote).Error("query aborted")
			return body.Close()
		}
		if len(batch) == 0 {
			return body.Close()
		}
		for _, res := range batch {
			if _, err := io.WriteString(body, FormatTuple(query.Fields(res))+"\n"); err != nil {
				return err
			}
		}
	}
}

func (s *Server) authorize(remote string, c command.Capability) error {
	if s.env.Authorizer == nil {
		return nil
	}
	return s.env.Authorizer.Authorize(remote, c)
}

// fail reports err to the client. Only the message travels; the stack stays
// in the log.
func (s *Server) fail(w *textproto.Writer, cmd string, err error) error {
	errorsCounter.WithLabelValues(cmd).Inc()
	log.WithError(err).WithField("command", cmd).Debugf("request refused: %+v", err)
	return protocol.WriteError(w, err.Error())
}

// Null is how FormatTuple renders a missing value.
const Null = `\N`

var escaper = strings.NewReplacer("\\", `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

// FormatTuple renders values as one tab-separated line.
func FormatTuple(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			parts[i] = Null
			continue
		}
		parts[i] = escaper.Replace(fmt.Sprint(v))
	}
	return strings.Join(parts, "\t")
}

// ParseParams reads query parameters given as name=value pairs separated by
// spaces. Integer and float values are passed as numbers.
func ParseParams(arg string) (map[string]any, error) {
	params := map[string]any{}
	for _, pair := range strings.Fields(arg) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, errors.Wrapf(types.ErrInvalidQuery, "bad parameter %q", pair)
		}
		params[name] = number(value)
	}
	return params, nil
}

func number(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
