// Package protocol implements the depot line protocol. A request is one
// line holding a command name and an optional argument; commands that carry
// a payload follow it with a dot-terminated block. A reply is an "OK" line
// with an optional message or an "ERROR" line with a message; replies to
// SYNC and QUERY carry a dot-terminated body after the OK line.
package protocol

import (
	"context"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/command"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Commands.
const (
	Ping            = "PING"
	Insert          = "INSERT"
	SuiteUpdate     = "SUITEUPDATE"
	KbArticleInsert = "KBARTICLEINSERT"
	KbArticleDelete = "KBARTICLEDELETE"
	Sync            = "SYNC"
	Query           = "QUERY"
)

const (
	statusOK    = "OK"
	statusError = "ERROR"
)

// withPayload lists the commands followed by a payload block.
var withPayload = map[string]bool{
	Insert:          true,
	SuiteUpdate:     true,
	KbArticleInsert: true,
	Query:           true,
}

// withBody lists the commands whose OK reply carries a body.
var withBody = map[string]bool{
	Sync:  true,
	Query: true,
}

// HasPayload reports whether command is followed by a payload block.
func HasPayload(command string) bool {
	return withPayload[command]
}

// HasBody reports whether the OK reply to command carries a body.
func HasBody(command string) bool {
	return withBody[command]
}

// Request is one parsed request.
type Request struct {
	Command string
	Arg     string
	Payload []byte
}

// ReadRequest reads the next request. io.EOF means the peer closed the
// connection between requests.
func ReadRequest(r *textproto.Reader) (*Request, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.Wrap(types.ErrUnknownCommand, "empty request")
	}
	cmd, arg, _ := strings.Cut(line, " ")
	req := &Request{Command: strings.ToUpper(cmd), Arg: strings.TrimSpace(arg)}
	if HasPayload(req.Command) {
		if req.Payload, err = r.ReadDotBytes(); err != nil {
			return nil, errors.Wrapf(err, "reading %s payload", req.Command)
		}
	}
	return req, nil
}

// WriteRequest writes req, its payload block included.
func WriteRequest(w *textproto.Writer, req *Request) error {
	line := req.Command
	if req.Arg != "" {
		line += " " + req.Arg
	}
	if err := w.PrintfLine("%s", line); err != nil {
		return err
	}
	if !HasPayload(req.Command) {
		return nil
	}
	dw := w.DotWriter()
	if _, err := dw.Write(req.Payload); err != nil {
		dw.Close()
		return err
	}
	return dw.Close()
}

// WriteOK writes an OK reply with an optional message.
func WriteOK(w *textproto.Writer, message string) error {
	if message == "" {
		return w.PrintfLine(statusOK)
	}
	return w.PrintfLine("%s %s", statusOK, oneLine(message))
}

// WriteError writes an ERROR reply.
func WriteError(w *textproto.Writer, message string) error {
	return w.PrintfLine("%s %s", statusError, oneLine(message))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// BodyWriter writes an OK reply with a body. The OK line is sent on the
// first write, so a handler that fails before producing output can still
// answer with an ERROR reply.
type BodyWriter struct {
	w      *textproto.Writer
	dw     io.WriteCloser
	closed bool
}

func NewBodyWriter(w *textproto.Writer) *BodyWriter {
	return &BodyWriter{w: w}
}

func (b *BodyWriter) Write(p []byte) (int, error) {
	if b.closed {
		return 0, errors.New("write to closed reply body")
	}
	if err := b.start(); err != nil {
		return 0, err
	}
	return b.dw.Write(p)
}

// Started reports whether the OK line has been sent.
func (b *BodyWriter) Started() bool {
	return b.dw != nil || b.closed
}

func (b *BodyWriter) start() error {
	if b.dw != nil {
		return nil
	}
	if err := WriteOK(b.w, ""); err != nil {
		return err
	}
	b.dw = b.w.DotWriter()
	return nil
}

// Close terminates the body. An empty body is a bare terminator line.
func (b *BodyWriter) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.dw != nil {
		return b.dw.Close()
	}
	if err := WriteOK(b.w, ""); err != nil {
		return err
	}
	return b.w.PrintfLine(".")
}

// ReplyError is an ERROR reply received from the other side.
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string {
	return "depot replied: " + e.Message
}

// ReadStatus reads a reply line and returns the OK message, or a
// *ReplyError for an ERROR reply.
func ReadStatus(r *textproto.Reader) (string, error) {
	line, err := r.ReadLine()
	if err != nil {
		return "", err
	}
	status, message, _ := strings.Cut(line, " ")
	switch status {
	case statusOK:
		return message, nil
	case statusError:
		return "", &ReplyError{Message: message}
	}
	return "", errors.Errorf("malformed reply %q", line)
}

// Client is a connection to a depot.
type Client struct {
	raw  net.Conn
	conn *textproto.Conn
}

// Dial connects to the depot at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", addr)
	}
	return &Client{raw: c, conn: textproto.NewConn(c)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// SetDeadline bounds every following read and write.
func (c *Client) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}

// Do sends req and reads the reply status. For commands with a reply body
// the body is returned as well.
func (c *Client) Do(req *Request) (string, []byte, error) {
	if err := WriteRequest(&c.conn.Writer, req); err != nil {
		return "", nil, errors.Wrapf(err, "sending %s", req.Command)
	}
	msg, err := ReadStatus(&c.conn.Reader)
	if err != nil {
		return "", nil, err
	}
	if !HasBody(req.Command) {
		return msg, nil, nil
	}
	body, err := c.conn.ReadDotBytes()
	return msg, body, errors.Wrapf(err, "reading %s reply", req.Command)
}

// Sync requests a snapshot and returns a reader over its body. The reader
// is valid until the next request on the connection.
func (c *Client) Sync() (io.Reader, error) {
	if err := WriteRequest(&c.conn.Writer, &Request{Command: Sync}); err != nil {
		return nil, errors.Wrap(err, "sending SYNC")
	}
	if _, err := ReadStatus(&c.conn.Reader); err != nil {
		return nil, err
	}
	return c.conn.DotReader(), nil
}

// kinds maps the write commands to the command kinds they carry.
var kinds = map[string]string{
	Insert:          command.KindInsert,
	SuiteUpdate:     command.KindSuiteUpdate,
	KbArticleInsert: command.KindKbArticleInsert,
	KbArticleDelete: command.KindKbArticleDelete,
}

// KindOf returns the command kind carried by a write command.
func KindOf(cmd string) (string, bool) {
	k, ok := kinds[cmd]
	return k, ok
}

// CommandFor returns the write command that carries kind.
func CommandFor(kind string) (string, bool) {
	for cmd, k := range kinds {
		if k == kind {
			return cmd, true
		}
	}
	return "", false
}
