package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/internal/row"
)

const instanceElement = "instanceInfo"

// InstanceInfo is one collected observation of a series. Its table is the
// instance table of the owning series, supplied at construction.
type InstanceInfo struct {
	*row.KeyRow
	Collected        *row.Column[time.Time]
	Committed        *row.Column[time.Time]
	MemoryUsageMB    *row.Column[float64]
	CPUUsageSec      *row.Column[float64]
	WallClockTimeSec *row.Column[float64]
	Log              *row.Column[string]
	ReportID         *row.Column[int64]

	links     Membership
	configIDs []int64
}

// InstanceLinks returns the membership linking instances of a series to its
// configurations.
func InstanceLinks(linkTable string) Membership {
	return Membership{
		Table: linkTable, Owner: "instance_id",
		Value: "series_config_id", ValueKind: row.Long, Element: "seriesConfigId",
	}
}

// NewInstanceInfo returns an instance stored in the tables of series.
func NewInstanceInfo(db *row.DB, series *Series) *InstanceInfo {
	return NewInstanceInfoIn(db, series.InstanceTable.Get(), series.LinkTable.Get())
}

// NewInstanceInfoIn returns an instance stored in the named tables.
func NewInstanceInfoIn(db *row.DB, instanceTable, linkTable string) *InstanceInfo {
	i := &InstanceInfo{
		Collected:        row.NewDate("collected", false),
		Committed:        row.NewDate("committed", false),
		MemoryUsageMB:    row.NewFloat("memory_usage_mb", true),
		CPUUsageSec:      row.NewFloat("cpu_usage_sec", true),
		WallClockTimeSec: row.NewFloat("wall_clock_time_sec", true),
		Log:              row.NewText("log", true),
		ReportID:         row.NewLong("report_id", false),
		links:            InstanceLinks(linkTable),
	}
	i.KeyRow = row.NewKeyRow(db, instanceTable,
		i.Collected, i.Committed, i.MemoryUsageMB, i.CPUUsageSec, i.WallClockTimeSec, i.Log, i.ReportID)
	return i
}

// InstanceKindName is the entity name of per-series instances in queries.
const InstanceKindName = "InstanceInfo"

// InstanceKind describes the instances of series as a kind whose table is
// the series' instance table.
func InstanceKind(d *dialect.Dialect, series *Series) Kind {
	instances, links := series.InstanceTable.Get(), series.LinkTable.Get()
	if series.InstanceTable.IsNull() || series.LinkTable.IsNull() {
		instances, links = InstanceTableName(d, series.ID()), LinkTableName(d, series.ID())
	}
	return Kind{
		Name:        InstanceKindName,
		Element:     instanceElement,
		Table:       instances,
		Memberships: []Membership{InstanceLinks(links)},
		New:         func(db *row.DB) Record { return NewInstanceInfoIn(db, instances, links) },
	}
}

// Links returns the link membership of the instance.
func (i *InstanceInfo) Links() Membership {
	return i.links
}

// SetConfigIDs sets the configurations the instance is linked to. Links
// are written when a new instance is saved.
func (i *InstanceInfo) SetConfigIDs(ids []int64) {
	i.configIDs = append([]int64(nil), ids...)
}

func (i *InstanceInfo) ConfigIDs() []int64 {
	return i.configIDs
}

// LoadConfigIDs reads the linked configuration ids from storage.
func (i *InstanceInfo) LoadConfigIDs(ctx context.Context) ([]int64, error) {
	ids, err := loadLongs(ctx, i.DB(), i.links, i.ID())
	if err != nil {
		return nil, errors.Wrap(err, "loading instance links")
	}
	i.configIDs = ids
	return ids, nil
}

// Save inserts the instance with its links, or updates an existing one.
func (i *InstanceInfo) Save(ctx context.Context) error {
	var extra []row.Operation
	if i.IsNew() {
		values := make([]any, len(i.configIDs))
		for n, id := range i.configIDs {
			values[n] = id
		}
		extra = linkOps(i.links, i.IDColumn(), values)
	}
	return i.KeyRow.Save(ctx, extra...)
}

// Delete removes the instance together with its links.
func (i *InstanceInfo) Delete(ctx context.Context) error {
	return i.KeyRow.Delete(ctx, unlinkOp(i.links, i.IDColumn()))
}

// LatestInstance returns the instance of series collected at collected and
// linked to configuration configID. When several match, the one with the
// lowest id is returned.
func LatestInstance(ctx context.Context, db *row.DB, series *Series, configID int64, collected time.Time) (*InstanceInfo, bool, error) {
	d := db.Dialect()
	q := fmt.Sprintf(`SELECT i.id FROM %s i
	JOIN %s l ON l.instance_id = i.id
	WHERE l.series_config_id = %s AND i.collected = %s
	ORDER BY i.id`,
		series.InstanceTable.Get(), series.LinkTable.Get(), d.Placeholder(1), d.Placeholder(2))

	var id int64
	err := db.Querier().QueryRowContext(ctx, q, configID, collected.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "finding latest instance of series %d", series.ID())
	}

	inst := NewInstanceInfo(db, series)
	inst.SetID(id)
	if err := inst.Load(ctx); err != nil {
		return nil, false, err
	}
	return inst, true, nil
}
