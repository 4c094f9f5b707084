package replication

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Snapshot document element names besides the per-kind blocks.
const (
	rootElement           = "syncResponse"
	errorElement          = "error"
	seriesInstancesBlock  = "seriesInstanceRows"
	seriesInstancesGroup  = "seriesInstances"
	instanceInfoRowsBlock = "instanceInfoRows"
	instanceInfoElement   = "instanceInfo"
)

// Snapshot writes the complete state of a depot as one compressed XML
// document.
type Snapshot struct {
	db         *row.DB
	coord      *Coordinator
	background func(task func(context.Context) error) bool
}

func NewSnapshot(db *row.DB, coord *Coordinator) *Snapshot {
	return &Snapshot{db: db, coord: coord}
}

// ReplayIn hands the replay that follows a pushed snapshot to submit, so
// the reply can end while deferred writes are still replaying. submit
// reports whether it accepted the task; a refused replay runs in the
// caller.
func (s *Snapshot) ReplayIn(submit func(task func(context.Context) error) bool) {
	s.background = submit
}

// endSync drains the coordinator in the background when possible. The
// synchronization stays in progress until the drain completes.
func (s *Snapshot) endSync(ctx context.Context) {
	drain := func(ctx context.Context) error {
		err := s.coord.EndSync(ctx)
		if err != nil {
			log.WithError(err).Warn("replay after snapshot")
		}
		return err
	}
	if s.background != nil && s.background(drain) {
		return
	}
	drain(ctx)
}

// WriteResponse streams the snapshot to w. With push set the depot is
// quiesced for the whole transfer and the writes deferred meanwhile are
// replayed afterwards, whether or not the transfer succeeds; see ReplayIn.
// Without push the snapshot is refused while a synchronization is running.
//
// A failure after the document has started is reported inside the
// document as an error element, and the document is still terminated.
func (s *Snapshot) WriteResponse(ctx context.Context, w io.Writer, push bool) (err error) {
	if push {
		if err := s.coord.StartSyncResponse(); err != nil {
			return err
		}
		defer s.endSync(ctx)
	} else if s.coord != nil && s.coord.SyncInProgress() {
		return types.ErrSynchronizing
	}

	start := time.Now()
	session := uuid.NewString()
	enc := newEncoder(w)
	x := &xmlWriter{w: enc.Writer}
	x.raw(xml.Header)
	x.open(rootElement, "session", session, "created", start.UTC().Format(time.RFC3339))

	dumpErr := s.dump(ctx, x)
	if dumpErr != nil {
		log.WithError(dumpErr).WithField("session", session).Error("snapshot failed")
		x.closeTo(1)
		x.text(errorElement, dumpErr.Error(), true)
	}
	x.closeTo(0)
	closeErr := enc.Close()

	switch {
	case dumpErr != nil:
		err = errors.Wrap(types.ErrSnapshotFailed, dumpErr.Error())
	case closeErr != nil:
		err = errors.Wrap(types.ErrSnapshotFailed, closeErr.Error())
	}
	snapshotDurationHist.WithLabelValues("out", outcome(err)).Observe(time.Since(start).Seconds())
	log.WithFields(log.Fields{"session": session, "elapsed": time.Since(start)}).Info("snapshot written")
	return err
}

func (s *Snapshot) dump(ctx context.Context, x *xmlWriter) error {
	for _, k := range model.Kinds {
		if k.Table == types.KbArticlesTable {
			if err := s.dumpInstances(ctx, x); err != nil {
				return err
			}
		}
		x.open(k.Block)
		n, err := s.dumpTable(ctx, x, k.Element, k.Table, k.New(nil).Columns(), k.Memberships)
		if err != nil {
			return err
		}
		x.close()
		snapshotRowsCounter.WithLabelValues("out", k.Block).Add(float64(n))
	}
	return nil
}

func (s *Snapshot) dumpInstances(ctx context.Context, x *xmlWriter) error {
	tables, err := model.ListSeriesTables(ctx, s.db)
	if err != nil {
		return err
	}
	x.open(seriesInstancesBlock)
	total := 0
	for _, st := range tables {
		x.open(seriesInstancesGroup, "id", strconv.FormatInt(st.SeriesID, 10))
		x.open(instanceInfoRowsBlock)
		inst := model.NewInstanceInfoIn(nil, st.Instances, st.Links)
		n, err := s.dumpTable(ctx, x, instanceInfoElement, st.Instances, inst.Columns(), []model.Membership{inst.Links()})
		if err != nil {
			return err
		}
		total += n
		x.close()
		x.close()
	}
	x.close()
	snapshotRowsCounter.WithLabelValues("out", seriesInstancesBlock).Add(float64(total))
	return nil
}

// dumpTable writes every row of table ordered by key. Membership values
// are merged in from one cursor per link table ordered by owner, so that
// no table is held in memory.
func (s *Snapshot) dumpTable(ctx context.Context, x *xmlWriter, element, table string, cols []row.Field, members []model.Membership) (int, error) {
	q := s.db.Querier()
	cursors := make([]*memberCursor, len(members))
	for i, m := range members {
		c, err := openMembers(ctx, q, m)
		if err != nil {
			return 0, err
		}
		defer c.close()
		cursors[i] = c
	}

	names := make([]string, len(cols))
	dest := make([]any, len(cols))
	for i, f := range cols {
		names[i] = f.Name()
		dest[i] = f.Scanner()
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(names, ", "), table, row.KeyColumn))
	if err != nil {
		return 0, errors.Wrapf(err, "reading %s", table)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return n, errors.Wrapf(err, "reading %s", table)
		}
		x.open(element)
		var id int64
		for _, f := range cols {
			if f.IsNull() {
				continue
			}
			if f.Name() == row.KeyColumn {
				id, _ = strconv.ParseInt(f.Text(), 10, 64)
			}
			x.text(model.LogicalName(f.Name()), f.Text(), quoted(f.Kind()))
		}
		for i, c := range cursors {
			values, err := c.take(id)
			if err != nil {
				return n, err
			}
			for _, v := range values {
				x.text(members[i].Element, v, quoted(members[i].ValueKind))
			}
		}
		x.close()
		n++
	}
	if err := rows.Err(); err != nil {
		return n, errors.Wrapf(err, "reading %s", table)
	}
	return n, x.w.Flush()
}

// quoted reports whether values of kind are written as CDATA.
func quoted(k row.Kind) bool {
	switch k {
	case row.String, row.Text, row.Binary:
		return true
	}
	return false
}

// memberCursor walks a link table ordered by owner.
type memberCursor struct {
	rows  *sql.Rows
	ok    bool
	owner int64
	value string
	table string
}

func openMembers(ctx context.Context, q dialect.Querier, m model.Membership) (*memberCursor, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s, %s",
		m.Owner, m.Value, m.Table, m.Owner, m.Value))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", m.Table)
	}
	c := &memberCursor{rows: rows, table: m.Table}
	return c, c.advance()
}

func (c *memberCursor) advance() error {
	c.ok = c.rows.Next()
	if !c.ok {
		return errors.Wrapf(c.rows.Err(), "reading %s", c.table)
	}
	return errors.Wrapf(c.rows.Scan(&c.owner, &c.value), "reading %s", c.table)
}

// take returns the values of owner, skipping links of owners that have no
// row.
func (c *memberCursor) take(owner int64) ([]string, error) {
	for c.ok && c.owner < owner {
		if err := c.advance(); err != nil {
			return nil, err
		}
	}
	var out []string
	for c.ok && c.owner == owner {
		out = append(out, c.value)
		if err := c.advance(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *memberCursor) close() {
	c.rows.Close()
}

// xmlWriter writes an XML document element by element. Write errors are
// held by the buffered writer and surface when it is flushed.
type xmlWriter struct {
	w     *bufio.Writer
	stack []string
}

func (x *xmlWriter) raw(s string) {
	x.w.WriteString(s)
}

// open starts an element; attrs are name/value pairs.
func (x *xmlWriter) open(name string, attrs ...string) {
	x.w.WriteByte('<')
	x.w.WriteString(name)
	for i := 0; i+1 < len(attrs); i += 2 {
		x.w.WriteByte(' ')
		x.w.WriteString(attrs[i])
		x.w.WriteString(`="`)
		xml.EscapeText(x.w, []byte(attrs[i+1]))
		x.w.WriteByte('"')
	}
	x.w.WriteByte('>')
	x.stack = append(x.stack, name)
}

func (x *xmlWriter) close() {
	name := x.stack[len(x.stack)-1]
	x.stack = x.stack[:len(x.stack)-1]
	x.w.WriteString("</")
	x.w.WriteString(name)
	x.w.WriteByte('>')
}

// closeTo closes elements until depth remain open.
func (x *xmlWriter) closeTo(depth int) {
	for len(x.stack) > depth {
		x.close()
	}
}

// text writes a leaf element. CDATA sections split any "]]>" inside the
// value so that it cannot end the section early.
func (x *xmlWriter) text(name, value string, cdata bool) {
	x.w.WriteByte('<')
	x.w.WriteString(name)
	x.w.WriteByte('>')
	if cdata {
		x.w.WriteString("<![CDATA[")
		x.w.WriteString(strings.ReplaceAll(value, "]]>", "]]]]><![CDATA[>"))
		x.w.WriteString("]]>")
	} else {
		xml.EscapeText(x.w, []byte(value))
	}
	x.w.WriteString("</")
	x.w.WriteString(name)
	x.w.WriteByte('>')
}
