package protocol

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/depot/internal/command"
	"github.com/mesh-intelligence/depot/pkg/types"
)

func pipe() (*textproto.Writer, *textproto.Reader) {
	var buf bytes.Buffer
	return textproto.NewWriter(bufio.NewWriter(&buf)), textproto.NewReader(bufio.NewReader(&buf))
}

func TestRequest_RoundTrip(t *testing.T) {
	w, r := pipe()
	require.NoError(t, WriteRequest(w, &Request{Command: Insert, Payload: []byte("<insert>\n.hidden\n</insert>")}))
	require.NoError(t, WriteRequest(w, &Request{Command: KbArticleDelete, Arg: "42"}))
	require.NoError(t, WriteRequest(w, &Request{Command: Ping}))

	req, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, Insert, req.Command)
	assert.Equal(t, "<insert>\n.hidden\n</insert>\n", string(req.Payload))

	req, err = ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, KbArticleDelete, req.Command)
	assert.Equal(t, "42", req.Arg)
	assert.Nil(t, req.Payload)

	req, err = ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, Ping, req.Command)

	_, err = ReadRequest(r)
	assert.Equal(t, io.EOF, err)
}

func TestReadRequest_LowerCaseAndEmpty(t *testing.T) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewBufferString("ping\r\n\r\n")))
	req, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, Ping, req.Command)

	_, err = ReadRequest(r)
	assert.True(t, errors.Is(err, types.ErrUnknownCommand))
}

func TestReplies(t *testing.T) {
	w, r := pipe()
	require.NoError(t, WriteOK(w, "pong"))
	require.NoError(t, WriteError(w, "bad\npayload"))
	require.NoError(t, WriteOK(w, ""))

	msg, err := ReadStatus(r)
	require.NoError(t, err)
	assert.Equal(t, "pong", msg)

	_, err = ReadStatus(r)
	var re *ReplyError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "bad payload", re.Message)

	msg, err = ReadStatus(r)
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestBodyWriter(t *testing.T) {
	w, r := pipe()
	b := NewBodyWriter(w)
	assert.False(t, b.Started())
	_, err := io.WriteString(b, "1\t2\n3\t4\n")
	require.NoError(t, err)
	assert.True(t, b.Started())
	require.NoError(t, b.Close())

	empty := NewBodyWriter(w)
	require.NoError(t, empty.Close())
	assert.True(t, empty.Started())
	require.NoError(t, empty.Close(), "closing twice sends nothing more")
	_, err = empty.Write([]byte("late"))
	assert.Error(t, err)

	require.NoError(t, WriteOK(w, "next"))

	_, err = ReadStatus(r)
	require.NoError(t, err)
	body, err := r.ReadDotBytes()
	require.NoError(t, err)
	assert.Equal(t, "1\t2\n3\t4\n", string(body))

	_, err = ReadStatus(r)
	require.NoError(t, err)
	body, err = r.ReadDotBytes()
	require.NoError(t, err)
	assert.Empty(t, body)

	msg, err := ReadStatus(r)
	require.NoError(t, err)
	assert.Equal(t, "next", msg)
}

func TestKinds(t *testing.T) {
	for _, kind := range command.Kinds {
		cmd, ok := CommandFor(kind)
		require.True(t, ok, kind)
		back, ok := KindOf(cmd)
		require.True(t, ok)
		assert.Equal(t, kind, back)
	}
	_, ok := KindOf(Sync)
	assert.False(t, ok)
}

func TestClient_Do(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		conn := textproto.NewConn(c)
		defer conn.Close()
		for {
			req, err := ReadRequest(&conn.Reader)
			if err != nil {
				return
			}
			switch req.Command {
			case Query:
				b := NewBodyWriter(&conn.Writer)
				io.WriteString(b, "a\tb\n")
				b.Close()
			default:
				WriteOK(&conn.Writer, req.Command)
			}
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	msg, body, err := c.Do(&Request{Command: Ping})
	require.NoError(t, err)
	assert.Equal(t, Ping, msg)
	assert.Nil(t, body)

	_, body, err = c.Do(&Request{Command: Query, Payload: []byte("select id from Suite")})
	require.NoError(t, err)
	assert.Equal(t, "a\tb\n", string(body))
}
