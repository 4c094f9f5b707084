package query

import (
	"context"
	"database/sql"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Default sizes used when the executor is built with zero values.
const (
	DefaultCacheSize = 128
	DefaultBatchSize = 256
)

// Executor compiles and runs queries against one database. Compiled queries
// are cached by text.
type Executor struct {
	db        *row.DB
	cache     *lru.Cache
	batchSize int
}

// NewExecutor returns an executor over db.
func NewExecutor(db *row.DB, cacheSize, batchSize int) (*Executor, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating query cache")
	}
	return &Executor{db: db, cache: cache, batchSize: batchSize}, nil
}

// Compile parses and compiles text, reusing an earlier compilation of the
// same text.
func (e *Executor) Compile(text string) (*Compiled, error) {
	if c, ok := e.cache.Get(text); ok {
		return c.(*Compiled), nil
	}
	st, err := Parse(text)
	if err != nil {
		return nil, err
	}
	c, err := Compile(st, e.db.Dialect())
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, c)
	log.WithField("sql", c.SQL).Debug("compiled query")
	return c, nil
}

// Query runs text with the given parameters. The caller must Close the
// cursor.
func (e *Executor) Query(ctx context.Context, text string, params map[string]any) (*Cursor, error) {
	c, err := e.Compile(text)
	if err != nil {
		return nil, err
	}
	if c.PerSeries() {
		if c, err = e.forSeries(ctx, text, c, params); err != nil {
			return nil, err
		}
	}
	args, err := c.Bind(params)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.Querier().QueryContext(ctx, c.SQL, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "running query on %s", c.Kind.Table)
	}
	return &Cursor{compiled: c, rows: rows, db: e.db, batchSize: e.batchSize}, nil
}

// forSeries returns the per-series query c rendered for the series named by
// its literal or params. Renderings are cached per series.
func (e *Executor) forSeries(ctx context.Context, text string, c *Compiled, params map[string]any) (*Compiled, error) {
	id, err := c.SeriesID(params)
	if err != nil {
		return nil, err
	}
	key := text + "\x00series=" + strconv.FormatInt(id, 10)
	if cached, ok := e.cache.Get(key); ok {
		return cached.(*Compiled), nil
	}
	series, err := model.ByID(ctx, e.db, id, model.NewSeries)
	if errors.Is(err, types.ErrNotFound) {
		return nil, invalid("unknown series %d", id)
	}
	if err != nil {
		return nil, err
	}
	out, err := c.ForSeries(e.db.Dialect(), series)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, out)
	log.WithFields(log.Fields{"series": id, "sql": out.SQL}).Debug("compiled series query")
	return out, nil
}

// Cursor streams the results of a query. Each result is a model.Record
// when the query selects an entity and a []any tuple otherwise.
type Cursor struct {
	compiled  *Compiled
	rows      *sql.Rows
	db        *row.DB
	batchSize int
	done      bool
}

// Columns returns the physical column names of the results.
func (c *Cursor) Columns() []string {
	return c.compiled.Columns
}

// Entity reports whether results are model records.
func (c *Cursor) Entity() bool {
	return c.compiled.Entity
}

// Next returns the next batch of at most the executor's batch size. An
// empty batch means the cursor is exhausted.
func (c *Cursor) Next() ([]any, error) {
	if c.done {
		return nil, nil
	}
	batch := make([]any, 0, c.batchSize)
	for len(batch) < c.batchSize {
		if !c.rows.Next() {
			c.done = true
			if err := c.rows.Err(); err != nil {
				return nil, errors.Wrap(err, "reading query results")
			}
			return batch, c.rows.Close()
		}
		v, err := c.scan()
		if err != nil {
			return nil, err
		}
		batch = append(batch, v)
	}
	return batch, nil
}

func (c *Cursor) scan() (any, error) {
	if c.compiled.Entity {
		rec := c.compiled.Kind.New(c.db)
		cols := rec.Columns()
		dest := make([]any, len(cols))
		for i, f := range cols {
			dest[i] = f.Scanner()
		}
		if err := c.rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "scanning entity")
		}
		return rec, nil
	}

	tuple := make([]any, len(c.compiled.Columns))
	dest := make([]any, len(tuple))
	for i := range tuple {
		dest[i] = &tuple[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		return nil, errors.Wrap(err, "scanning tuple")
	}
	for i, v := range tuple {
		if b, ok := v.([]byte); ok {
			tuple[i] = string(b)
		}
	}
	return tuple, nil
}

// Close releases the underlying result set. It is safe to call twice.
func (c *Cursor) Close() error {
	c.done = true
	return c.rows.Close()
}

// All drains the cursor into a slice and closes it.
func (c *Cursor) All() ([]any, error) {
	defer c.Close()
	var out []any
	for {
		batch, err := c.Next()
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return out, nil
		}
		out = append(out, batch...)
	}
}

// Fields returns the values of a result in column order, rendered as text
// for entities.
func Fields(result any) []any {
	switch v := result.(type) {
	case model.Record:
		cols := v.Columns()
		out := make([]any, len(cols))
		for i, f := range cols {
			if f.IsNull() {
				continue
			}
			out[i] = f.Text()
		}
		return out
	case []any:
		return v
	}
	return nil
}
