package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/depot/internal/command"
	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/notify"
	"github.com/mesh-intelligence/depot/internal/protocol"
	"github.com/mesh-intelligence/depot/internal/query"
	"github.com/mesh-intelligence/depot/internal/replication"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/internal/store"
	"github.com/mesh-intelligence/depot/pkg/types"
)

const suiteUpdate = `<suiteUpdate guid="6b1f" name="nightly" version="1">` +
	`<seriesConfig action="add" nickname="cpu" resource="host-a">` +
	`<series reporter="cpu.pl" version="1.2" uri="file:///reporters/cpu.pl" nice="false">` +
	`<context>cpu.pl</context><arg name="host">alpha</arg></series><tag>prod</tag></seriesConfig>` +
	`</suiteUpdate>`

func attach(t *testing.T) *row.DB {
	t.Helper()
	b := store.NewBackend()
	require.NoError(t, b.Attach(types.Config{Driver: types.DriverSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })
	db, err := b.DB()
	require.NoError(t, err)
	return db
}

// start serves a fresh depot and returns its address. Hosts in peers may
// request snapshots.
func start(t *testing.T, peers []string) (string, *row.DB) {
	t.Helper()
	addr, db, _ := serve(t, peers, nil)
	return addr, db
}

// serve is start with the replay after a snapshot handed to submit.
func serve(t *testing.T, peers []string, submit func(func(context.Context) error) bool) (string, *row.DB, *replication.Coordinator) {
	t.Helper()
	db := attach(t)
	reg := replication.NewRegistry()
	coord := replication.NewCoordinator(reg, nil)
	env := &command.Env{
		DB:          db,
		Coordinator: coord,
		Authorizer:  command.NewPeerAuthorizer(peers, nil),
		Comparer:    command.ExitStatusComparer{},
	}
	env.Register(reg)
	exec, err := query.NewExecutor(db, 0, 2)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	snapshot := replication.NewSnapshot(db, coord)
	if submit != nil {
		snapshot.ReplayIn(submit)
	}
	go func() { done <- New(env, snapshot, exec).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return ln.Addr().String(), db, coord
}

func dial(t *testing.T, addr string) *protocol.Client {
	t.Helper()
	c, err := protocol.Dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_WriteAndQuery(t *testing.T) {
	addr, _ := start(t, nil)
	c := dial(t, addr)

	msg, _, err := c.Do(&protocol.Request{Command: protocol.Ping})
	require.NoError(t, err)
	assert.Equal(t, "pong", msg)

	_, _, err = c.Do(&protocol.Request{Command: protocol.SuiteUpdate, Payload: []byte(suiteUpdate)})
	require.NoError(t, err)

	_, body, err := c.Do(&protocol.Request{Command: protocol.Query, Payload: []byte("select name, version from Suite")})
	require.NoError(t, err)
	assert.Equal(t, "nightly\t1\n", string(body))

	_, body, err = c.Do(&protocol.Request{
		Command: protocol.Query,
		Arg:     "name=cpu",
		Payload: []byte("select nickname, resource from SeriesConfig where nickname = :name"),
	})
	require.NoError(t, err)
	assert.Equal(t, "cpu\thost-a\n", string(body))
}

func TestServer_Errors(t *testing.T) {
	addr, _ := start(t, nil)
	c := dial(t, addr)

	var re *protocol.ReplyError
	_, _, err := c.Do(&protocol.Request{Command: "FROB"})
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Message, "unknown command")

	_, _, err = c.Do(&protocol.Request{Command: protocol.SuiteUpdate, Payload: []byte("<suiteUpdate/>")})
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Message, types.ErrInvalidPayload.Error())

	_, _, err = c.Do(&protocol.Request{Command: protocol.Query, Payload: []byte("select nothing from Nowhere")})
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Message, types.ErrInvalidQuery.Error())

	_, err = c.Sync()
	require.True(t, errors.As(err, &re), "only peers may synchronize")
	assert.Contains(t, re.Message, types.ErrNotPermitted.Error())

	msg, _, err := c.Do(&protocol.Request{Command: protocol.Ping})
	require.NoError(t, err, "connection survives refused requests")
	assert.Equal(t, "pong", msg)
}

func TestServer_Sync(t *testing.T) {
	ctx := context.Background()
	addr, src := start(t, []string{"127.0.0.1"})
	c := dial(t, addr)
	_, _, err := c.Do(&protocol.Request{Command: protocol.SuiteUpdate, Payload: []byte(suiteUpdate)})
	require.NoError(t, err)

	body, err := c.Sync()
	require.NoError(t, err)
	dst := attach(t)
	stats, err := replication.NewImporter(dst, nil).ReadResponse(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["suiteRows"])

	want, err := model.CountRows(ctx, src)
	require.NoError(t, err)
	got, err := model.CountRows(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	msg, _, err := c.Do(&protocol.Request{Command: protocol.Ping})
	require.NoError(t, err, "connection is reusable after a snapshot")
	assert.Equal(t, "pong", msg)
}

func TestServer_SyncEndsBeforeReplay(t *testing.T) {
	ctx := context.Background()
	pool := notify.NewPool(ctx, 1, 4)
	release := make(chan struct{})
	addr, db, coord := serve(t, []string{"127.0.0.1"}, func(task func(context.Context) error) bool {
		return pool.Submit(func(ctx context.Context) error {
			<-release
			return task(ctx)
		})
	})

	c := dial(t, addr)
	body, err := c.Sync()
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, body)
	require.NoError(t, err, "the snapshot reply ends while the replay waits")
	assert.True(t, coord.SyncInProgress())

	_, _, err = c.Do(&protocol.Request{Command: protocol.SuiteUpdate, Payload: []byte(suiteUpdate)})
	require.NoError(t, err)
	_, _, err = c.Do(&protocol.Request{Command: protocol.Ping})
	require.NoError(t, err)
	assert.Equal(t, 1, coord.QueueLen())
	counts, err := model.CountRows(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, counts[types.SuitesTable])

	close(release)
	require.NoError(t, pool.Close())
	assert.False(t, coord.SyncInProgress())
	counts, err = model.CountRows(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[types.SuitesTable])
}

func TestServer_EmptyQueryResult(t *testing.T) {
	addr, _ := start(t, nil)
	c := dial(t, addr)

	_, body, err := c.Do(&protocol.Request{Command: protocol.Query, Payload: []byte("select name from Suite")})
	require.NoError(t, err)
	assert.Empty(t, body)

	msg, _, err := c.Do(&protocol.Request{Command: protocol.Ping})
	require.NoError(t, err)
	assert.Equal(t, "pong", msg)
}

func TestFormatTuple(t *testing.T) {
	got := FormatTuple([]any{int64(3), nil, "a\tb\nc", 0.5, true})
	assert.Equal(t, "3\t\\N\ta\\tb\\nc\t0.5\ttrue", got)
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams("sid=4 ratio=0.5 name=cpu")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sid": int64(4), "ratio": 0.5, "name": "cpu"}, params)

	_, err = ParseParams("=x")
	assert.True(t, errors.Is(err, types.ErrInvalidQuery))
}
