package row

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/pkg/types"
)

type widget struct {
	*KeyRow
	name *Column[string]
	size *Column[int32]
	made *Column[time.Time]
}

func newWidget(db *DB) *widget {
	w := &widget{
		name: NewString("name", false),
		size: NewInteger("size", true),
		made: NewDate("made", false),
	}
	w.KeyRow = NewKeyRow(db, "widgets", w.name, w.size, w.made)
	w.SetDuplicateFinder(func(ctx context.Context, db *DB) (int64, bool, error) {
		return FirstKey(ctx, db, "widgets", NewCompositeKey(w.name, w.size))
	})
	return w
}

func openDB(t *testing.T, strategy string) *DB {
	t.Helper()
	ctx := context.Background()
	pool, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "row.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	d, err := dialect.New(dialect.SQLite)
	require.NoError(t, err)
	require.NoError(t, d.UseKeyStrategy(strategy))

	stmts := []string{
		fmt.Sprintf("CREATE TABLE widgets (id %s, name VARCHAR(255) NOT NULL, size INTEGER, made DATETIME NOT NULL)", d.KeyColumn()),
		"CREATE TABLE widget_tags (widget_id INTEGER NOT NULL, tag VARCHAR(255) NOT NULL, PRIMARY KEY (widget_id, tag))",
	}
	if !d.GeneratedKeys() {
		stmts = append(stmts, d.CreateSequence("widgets")...)
	}
	for _, stmt := range stmts {
		_, err := pool.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return NewDB(pool, d)
}

var madeAt = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func TestKeyRow_SaveLoad(t *testing.T) {
	for _, strategy := range []string{types.KeyStrategyGenerated, types.KeyStrategySequence} {
		t.Run(strategy, func(t *testing.T) {
			ctx := context.Background()
			db := openDB(t, strategy)

			w := newWidget(db)
			w.name.SetValue("gear")
			w.size.SetValue(3)
			w.made.SetValue(madeAt)
			require.True(t, w.IsNew())
			require.NoError(t, w.Save(ctx))
			assert.False(t, w.IsNew())
			assert.False(t, w.IsModified())
			assert.False(t, w.Reused())
			assert.Equal(t, int64(1), w.ID())

			other := newWidget(db)
			other.name.SetValue("cog")
			other.made.SetValue(madeAt)
			require.NoError(t, other.Save(ctx))
			assert.Equal(t, int64(2), other.ID())

			loaded := newWidget(db)
			loaded.SetID(w.ID())
			require.NoError(t, loaded.Load(ctx))
			assert.Equal(t, "gear", loaded.name.Get())
			assert.Equal(t, int32(3), loaded.size.Get())
			assert.True(t, madeAt.Equal(loaded.made.Get()))
			assert.False(t, loaded.IsModified())
		})
	}
}

func TestKeyRow_UpdateWritesModifiedColumns(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, types.KeyStrategyGenerated)

	w := newWidget(db)
	w.name.SetValue("gear")
	w.made.SetValue(madeAt)
	require.NoError(t, w.Save(ctx))

	w.size.SetValue(9)
	require.NoError(t, w.Save(ctx))
	require.NoError(t, w.Save(ctx), "saving a clean row is a no-op")

	loaded := newWidget(db)
	loaded.SetID(w.ID())
	require.NoError(t, loaded.Load(ctx))
	assert.Equal(t, int32(9), loaded.size.Get())
}

func TestKeyRow_InsertOrFind(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, types.KeyStrategyGenerated)

	first := newWidget(db)
	first.name.SetValue("gear")
	first.made.SetValue(madeAt)
	require.NoError(t, first.Save(ctx))

	tagged := 0
	dup := newWidget(db)
	dup.name.SetValue("gear")
	dup.made.SetValue(madeAt.Add(time.Hour))
	require.NoError(t, dup.Save(ctx, OperationFunc(func(context.Context, dialect.Querier, *dialect.Dialect) (bool, error) {
		tagged++
		return true, nil
	})))

	assert.True(t, dup.Reused())
	assert.Equal(t, first.ID(), dup.ID())
	assert.True(t, madeAt.Equal(dup.made.Get()), "stored values replace local ones")
	assert.Zero(t, tagged, "follow-up operations do not run for a found duplicate")

	count := &Count{Table: "widgets"}
	require.NoError(t, db.Run(ctx, count))
	assert.Equal(t, int64(1), count.Result)
}

func TestKeyRow_ExtraOperationsSeeNewKey(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, types.KeyStrategySequence)

	w := newWidget(db)
	w.name.SetValue("gear")
	w.made.SetValue(madeAt)

	tag := NewString("tag", false)
	tag.SetValue("blue")
	link := NewRow(db, "widget_tags", nil, As(w.IDColumn(), "widget_id"), tag)
	require.NoError(t, w.Save(ctx, &Insert{Table: link.Table(), Columns: link.Columns()}))

	var widgetID int64
	require.NoError(t, db.Pool().QueryRow("SELECT widget_id FROM widget_tags WHERE tag = 'blue'").Scan(&widgetID))
	assert.Equal(t, w.ID(), widgetID)
}

func TestKeyRow_FailedInsertLeavesRowNew(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, types.KeyStrategySequence)

	w := newWidget(db)
	w.size.SetValue(1)
	err := w.Save(ctx)
	assert.True(t, errors.Is(err, types.ErrNullValue), "got %v", err)
	assert.True(t, w.IsNew())
}

func TestKeyRow_Delete(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, types.KeyStrategyGenerated)

	fresh := newWidget(db)
	assert.True(t, errors.Is(fresh.Delete(ctx), types.ErrNewRow))
	assert.True(t, errors.Is(fresh.Load(ctx), types.ErrNewRow))

	w := newWidget(db)
	w.name.SetValue("gear")
	w.made.SetValue(madeAt)
	require.NoError(t, w.Save(ctx))
	id := w.ID()

	require.NoError(t, w.Delete(ctx))
	assert.True(t, w.IsNew())
	assert.True(t, w.name.IsNull())

	gone := newWidget(db)
	gone.SetID(id)
	assert.True(t, errors.Is(gone.Load(ctx), types.ErrNotFound))
}

func TestKeyRow_Restore(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, types.KeyStrategyGenerated)

	w := newWidget(db)
	w.SetID(100)
	w.name.SetValue("gear")
	w.made.SetValue(madeAt)
	require.NoError(t, w.Restore(ctx))

	next := newWidget(db)
	next.name.SetValue("cog")
	next.made.SetValue(madeAt)
	require.NoError(t, next.Save(ctx))
	assert.Greater(t, next.ID(), int64(100))
}

func TestRow_CompositeKey(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, types.KeyStrategyGenerated)

	widgetID := NewLong("widget_id", false)
	tag := NewString("tag", false)
	widgetID.SetValue(1)
	tag.SetValue("red")
	r := NewRow(db, "widget_tags", []Field{widgetID, tag}, widgetID, tag)

	require.True(t, r.IsNew())
	require.NoError(t, r.Save(ctx))
	require.False(t, r.IsNew())

	loadedID := NewLong("widget_id", false)
	loadedTag := NewString("tag", false)
	loadedID.AssignValue(1)
	loadedTag.AssignValue("red")
	loaded := NewRow(db, "widget_tags", []Field{loadedID, loadedTag}, loadedID, loadedTag)
	require.NoError(t, loaded.Load(ctx))
	assert.False(t, loaded.IsNew())

	require.NoError(t, r.Delete(ctx))
	assert.True(t, r.IsNew())
	for _, c := range r.Columns() {
		assert.True(t, c.IsNull(), "column %s after delete", c.Name())
	}
	assert.False(t, r.IsModified())
	assert.True(t, errors.Is(r.Delete(ctx), types.ErrNewRow))
	assert.True(t, errors.Is(loaded.Load(ctx), types.ErrNotFound))
}
