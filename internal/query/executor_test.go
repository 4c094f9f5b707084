package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/internal/store"
	"github.com/mesh-intelligence/depot/pkg/types"
)

func attach(t *testing.T) *row.DB {
	t.Helper()
	b := store.NewBackend()
	require.NoError(t, b.Attach(types.Config{Driver: types.DriverSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })
	db, err := b.DB()
	require.NoError(t, err)
	return db
}

func seedReports(t *testing.T, db *row.DB, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		r := model.NewReport(db)
		r.ExitStatus.SetValue(i%2 == 0)
		if i%3 == 0 {
			r.ExitMessage.SetValue(fmt.Sprintf("failure %d", i))
		}
		r.Body.SetValue(fmt.Sprintf("<report n=%d/>", i))
		r.SeriesID.SetValue(int64(i % 2))
		r.RunInfoID.SetValue(1)
		require.NoError(t, r.Save(ctx))
	}
}

func TestCompile_Dialects(t *testing.T) {
	st, err := Parse("select exitStatus from Report where seriesId = :sid order by id desc limit 3")
	require.NoError(t, err)

	for _, p := range []dialect.Product{dialect.SQLite, dialect.PostgreSQL, dialect.MySQL, dialect.SQLServer} {
		t.Run(p.String(), func(t *testing.T) {
			d, err := dialect.New(p)
			require.NoError(t, err)
			c, err := Compile(st, d)
			require.NoError(t, err)

			assert.Contains(t, strings.ToLower(c.SQL), "exit_status")
			assert.Contains(t, c.SQL, "series_id")
			assert.NotContains(t, c.SQL, "sid")
			assert.Equal(t, []string{"sid"}, c.Params())
			assert.Equal(t, []string{"exit_status"}, c.Columns)

			args, err := c.Bind(map[string]any{"sid": int64(4)})
			require.NoError(t, err)
			assert.Contains(t, args, int64(4))
		})
	}
}

func TestCompile_UnknownNames(t *testing.T) {
	d, err := dialect.New(dialect.SQLite)
	require.NoError(t, err)
	for _, text := range []string{
		"select id from Nothing",
		"select nothing from Report",
		"select id from Report where nothing = 1",
		"select id from Report order by nothing",
	} {
		st, err := Parse(text)
		require.NoError(t, err, text)
		_, err = Compile(st, d)
		assert.True(t, errors.Is(err, types.ErrInvalidQuery), text)
	}
}

func TestExecutor_Tuples(t *testing.T) {
	db := attach(t)
	seedReports(t, db, 7)

	e, err := NewExecutor(db, 4, 2)
	require.NoError(t, err)

	cur, err := e.Query(context.Background(),
		"select id, body from Report where seriesId = :sid order by id", map[string]any{"sid": int64(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "body"}, cur.Columns())

	first, err := cur.Next()
	require.NoError(t, err)
	assert.Len(t, first, 2, "batches are bounded")

	rest, err := cur.All()
	require.NoError(t, err)
	all := append(first, rest...)
	require.Len(t, all, 4)
	assert.Equal(t, "<report n=0/>", all[0].([]any)[1])
	assert.Equal(t, "<report n=6/>", all[3].([]any)[1])
}

func TestExecutor_Entities(t *testing.T) {
	db := attach(t)
	seedReports(t, db, 6)

	e, err := NewExecutor(db, 0, 0)
	require.NoError(t, err)

	cur, err := e.Query(context.Background(), "select Report from Report where exitMessage is not null order by id desc limit 1", nil)
	require.NoError(t, err)
	results, err := cur.All()
	require.NoError(t, err)
	require.Len(t, results, 1)

	r, ok := results[0].(*model.Report)
	require.True(t, ok)
	assert.Equal(t, "failure 3", r.ExitMessage.Get())
	assert.False(t, r.IsNew())
	assert.False(t, r.IsModified())

	fields := Fields(r)
	assert.Equal(t, "failure 3", fields[2])
	assert.Nil(t, fields[4], "null stderr")
}

func TestExecutor_CacheAndParams(t *testing.T) {
	db := attach(t)
	seedReports(t, db, 3)
	e, err := NewExecutor(db, 2, 10)
	require.NoError(t, err)

	text := "select id from Report where seriesId = :sid"
	a, err := e.Compile(text)
	require.NoError(t, err)
	b, err := e.Compile(text)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = e.Query(context.Background(), text, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidQuery))
}

func seedInstances(t *testing.T, db *row.DB, n int) *model.Series {
	t.Helper()
	ctx := context.Background()
	sig, err := model.ResolveArgSignature(ctx, db, map[string]string{"host": "alpha"})
	require.NoError(t, err)
	s := model.NewSeries(db)
	s.Reporter.SetValue("cpu.pl")
	s.Version.SetValue("1.0")
	s.URI.SetValue("file:///reporters/cpu.pl")
	s.Context.SetValue("default")
	s.Nice.SetValue(false)
	s.ArgSignatureID.SetValue(sig.ID())
	require.NoError(t, s.Save(ctx))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		inst := model.NewInstanceInfo(db, s)
		inst.Collected.SetValue(start.Add(time.Duration(i) * time.Hour))
		inst.Committed.SetValue(start.Add(time.Duration(i) * time.Hour))
		inst.WallClockTimeSec.SetValue(float64(i))
		inst.ReportID.SetValue(int64(i + 1))
		require.NoError(t, inst.Save(ctx))
	}
	return s
}

func TestExecutor_SeriesHistory(t *testing.T) {
	db := attach(t)
	s := seedInstances(t, db, 5)

	e, err := NewExecutor(db, 8, 2)
	require.NoError(t, err)

	text := "select wallClockTimeSec from InstanceInfo of :series order by collected desc"
	c, err := e.Compile(text)
	require.NoError(t, err)
	assert.True(t, c.PerSeries())
	assert.Equal(t, []string{"series"}, c.Params())

	cur, err := e.Query(context.Background(), text, map[string]any{"series": s.ID()})
	require.NoError(t, err)
	defer cur.Close()

	var got []any
	for {
		batch, err := cur.Next()
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		assert.LessOrEqual(t, len(batch), 2, "batches are bounded")
		for _, res := range batch {
			got = append(got, res.([]any)[0])
		}
	}
	assert.Equal(t, []any{4.0, 3.0, 2.0, 1.0, 0.0}, got)
}

func TestExecutor_SeriesEntities(t *testing.T) {
	db := attach(t)
	s := seedInstances(t, db, 4)

	e, err := NewExecutor(db, 0, 0)
	require.NoError(t, err)
	text := fmt.Sprintf("select InstanceInfo from InstanceInfo of %d where wallClockTimeSec >= 2 order by id", s.ID())
	cur, err := e.Query(context.Background(), text, nil)
	require.NoError(t, err)
	results, err := cur.All()
	require.NoError(t, err)
	require.Len(t, results, 2)

	inst, ok := results[0].(*model.InstanceInfo)
	require.True(t, ok)
	assert.Equal(t, s.InstanceTable.Get(), inst.Table())
	assert.Equal(t, 2.0, inst.WallClockTimeSec.Get())
	assert.Equal(t, int64(3), inst.ReportID.Get())
}

func TestExecutor_SeriesErrors(t *testing.T) {
	db := attach(t)
	seedInstances(t, db, 1)
	e, err := NewExecutor(db, 0, 0)
	require.NoError(t, err)

	for text, params := range map[string]map[string]any{
		"select collected from InstanceInfo":             nil,
		"select collected from Report of 1":              nil,
		"select collected from InstanceInfo of :series":  nil,
		"select collected from InstanceInfo of :series ": {"series": "alpha"},
		"select collected from InstanceInfo of 999":      nil,
		"select nothing from InstanceInfo of 1":          nil,
		"select collected from InstanceInfo of 'one'":    nil,
	} {
		_, err := e.Query(context.Background(), text, params)
		assert.True(t, errors.Is(err, types.ErrInvalidQuery), "%s: %v", text, err)
	}
}
