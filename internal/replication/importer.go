package replication

import (
	"context"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Stats counts the rows read per snapshot block.
type Stats map[string]int64

// Importer replaces the contents of a depot with a peer's snapshot.
type Importer struct {
	db    *row.DB
	coord *Coordinator
}

// NewImporter returns an importer into db. coord may be nil when no
// writes can reach db during the import.
func NewImporter(db *row.DB, coord *Coordinator) *Importer {
	return &Importer{db: db, coord: coord}
}

// ReadResponse decodes a snapshot from r and loads it in one transaction:
// the depot is cleared, every row is inserted with its original key, the
// per-series tables are recreated and the key generators are moved past the
// imported keys. Any failure, including an error element sent by the peer,
// rolls the whole import back.
func (im *Importer) ReadResponse(ctx context.Context, r io.Reader) (stats Stats, err error) {
	if im.coord != nil {
		if err := im.coord.StartSyncRequest(); err != nil {
			return nil, err
		}
		defer func() {
			if endErr := im.coord.EndSyncRequest(ctx); endErr != nil {
				log.WithError(endErr).Warn("replay after import")
			}
		}()
	}

	start := time.Now()
	defer func() {
		snapshotDurationHist.WithLabelValues("in", outcome(err)).Observe(time.Since(start).Seconds())
	}()

	src, err := newDecoder(r)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	stats = Stats{}
	err = im.db.RunInTx(ctx, func(tx *row.DB) error {
		if err := model.Clear(ctx, tx); err != nil {
			return err
		}
		l := &loader{tx: tx, dec: xml.NewDecoder(src), stats: stats}
		if err := l.document(ctx); err != nil {
			return err
		}
		return model.ReseedKeys(ctx, tx)
	})
	if err != nil {
		return nil, errors.Wrap(err, "importing snapshot")
	}
	for block, n := range stats {
		snapshotRowsCounter.WithLabelValues("in", block).Add(float64(n))
	}
	log.WithField("elapsed", time.Since(start)).Info("snapshot imported")
	return stats, nil
}

// loader walks the snapshot document inside the import transaction.
type loader struct {
	tx    *row.DB
	dec   *xml.Decoder
	stats Stats
}

// fields holds the leaf values of one row element by element name.
type fields map[string][]string

func (l *loader) start() (xml.StartElement, bool, error) {
	for {
		tok, err := l.dec.Token()
		if err != nil {
			return xml.StartElement{}, false, errors.Wrap(err, "reading snapshot")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, true, nil
		case xml.EndElement:
			return xml.StartElement{}, false, nil
		}
	}
}

func (l *loader) document(ctx context.Context) error {
	root, ok, err := l.start()
	if err != nil {
		return err
	}
	if !ok || root.Name.Local != rootElement {
		return errors.Wrap(types.ErrInvalidPayload, "not a snapshot")
	}
	for {
		el, ok, err := l.start()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch el.Name.Local {
		case errorElement:
			msg, err := l.text()
			if err != nil {
				return err
			}
			return errors.Wrap(types.ErrSnapshotFailed, strings.TrimSpace(msg))
		case seriesInstancesBlock:
			err = l.instances(ctx)
		default:
			kind, found := kindByBlock(el.Name.Local)
			if !found {
				log.WithField("element", el.Name.Local).Warn("skipping unknown snapshot block")
				err = l.dec.Skip()
				break
			}
			err = l.block(ctx, kind)
		}
		if err != nil {
			return err
		}
	}
}

func kindByBlock(block string) (model.Kind, bool) {
	for _, k := range model.Kinds {
		if k.Block == block {
			return k, true
		}
	}
	return model.Kind{}, false
}

func (l *loader) block(ctx context.Context, kind model.Kind) error {
	for {
		_, ok, err := l.start()
		if err != nil || !ok {
			return err
		}
		values, err := l.row()
		if err != nil {
			return err
		}
		rec := kind.New(l.tx)
		if err := apply(rec, values); err != nil {
			return errors.Wrapf(err, "%s row", kind.Element)
		}
		series, isSeries := rec.(*model.Series)
		if isSeries {
			d := l.tx.Dialect()
			series.InstanceTable.AssignValue(model.InstanceTableName(d, series.ID()))
			series.LinkTable.AssignValue(model.LinkTableName(d, series.ID()))
		}
		if err := rec.Restore(ctx); err != nil {
			return err
		}
		if isSeries {
			if err := model.CreateInstanceTables(ctx, l.tx, series); err != nil {
				return err
			}
		}
		for _, m := range kind.Memberships {
			if vs := values[m.Element]; len(vs) > 0 {
				if err := model.LinkValues(ctx, l.tx, m, rec.ID(), vs); err != nil {
					return err
				}
			}
		}
		l.stats[kind.Block]++
	}
}

func (l *loader) instances(ctx context.Context) error {
	for {
		group, ok, err := l.start()
		if err != nil || !ok {
			return err
		}
		var seriesID int64
		for _, a := range group.Attr {
			if a.Name.Local == "id" {
				seriesID, err = strconv.ParseInt(a.Value, 10, 64)
			}
		}
		if err != nil || seriesID == 0 {
			return errors.Wrapf(types.ErrInvalidPayload, "series instances without id")
		}
		d := l.tx.Dialect()
		instances, links := model.InstanceTableName(d, seriesID), model.LinkTableName(d, seriesID)

		for {
			_, ok, err := l.start()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := l.instanceRows(ctx, instances, links); err != nil {
				return err
			}
		}
	}
}

func (l *loader) instanceRows(ctx context.Context, instances, links string) error {
	for {
		_, ok, err := l.start()
		if err != nil || !ok {
			return err
		}
		values, err := l.row()
		if err != nil {
			return err
		}
		inst := model.NewInstanceInfoIn(l.tx, instances, links)
		if err := apply(inst, values); err != nil {
			return errors.Wrapf(err, "instance of %s", instances)
		}
		if err := inst.Restore(ctx); err != nil {
			return err
		}
		if vs := values[inst.Links().Element]; len(vs) > 0 {
			if err := model.LinkValues(ctx, l.tx, inst.Links(), inst.ID(), vs); err != nil {
				return err
			}
		}
		l.stats[seriesInstancesBlock]++
	}
}

// row reads the leaf elements of a row up to its end tag.
func (l *loader) row() (fields, error) {
	out := fields{}
	for {
		el, ok, err := l.start()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		v, err := l.text()
		if err != nil {
			return nil, err
		}
		out[el.Name.Local] = append(out[el.Name.Local], v)
	}
}

// text reads character data, CDATA sections included, up to the end tag of
// the current element.
func (l *loader) text() (string, error) {
	var b strings.Builder
	for {
		tok, err := l.dec.Token()
		if err != nil {
			return "", errors.Wrap(err, "reading snapshot")
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			return "", errors.Wrapf(types.ErrInvalidPayload, "unexpected element %s", t.Name.Local)
		case xml.EndElement:
			return b.String(), nil
		}
	}
}

// apply sets the columns of rec from the row values; absent elements stay
// null.
func apply(rec model.Record, values fields) error {
	for _, f := range rec.Columns() {
		vs := values[model.LogicalName(f.Name())]
		if len(vs) == 0 {
			continue
		}
		if err := f.SetText(vs[0]); err != nil {
			return err
		}
	}
	if rec.IsNew() {
		return errors.Wrap(types.ErrInvalidPayload, "row without id")
	}
	return nil
}
