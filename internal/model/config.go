package model

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// SeriesConfig binds a series to a resource under a nickname. It tracks the
// most recent instance and comparison so that readers need not scan the
// instance table.
type SeriesConfig struct {
	*row.KeyRow
	SeriesID           *row.Column[int64]
	Nickname           *row.Column[string]
	Resource           *row.Column[string]
	Target             *row.Column[string]
	Activated          *row.Column[time.Time]
	Deactivated        *row.Column[time.Time]
	LatestInstanceID   *row.Column[int64]
	LatestComparisonID *row.Column[int64]

	suiteIDs        []int64
	tags            []string
	membersModified bool
}

func NewSeriesConfig(db *row.DB) *SeriesConfig {
	c := &SeriesConfig{
		SeriesID:           row.NewLong("series_id", false),
		Nickname:           row.NewString("nickname", false),
		Resource:           row.NewString("resource", false),
		Target:             row.NewString("target", true),
		Activated:          row.NewDate("activated", false),
		Deactivated:        row.NewDate("deactivated", true),
		LatestInstanceID:   row.NewLong("latest_instance_id", true),
		LatestComparisonID: row.NewLong("latest_comparison_id", true),
	}
	c.KeyRow = row.NewKeyRow(db, types.SeriesConfigsTable,
		c.SeriesID, c.Nickname, c.Resource, c.Target, c.Activated, c.Deactivated,
		c.LatestInstanceID, c.LatestComparisonID)
	c.SetDuplicateFinder(func(ctx context.Context, db *row.DB) (int64, bool, error) {
		return row.FirstKey(ctx, db, types.SeriesConfigsTable,
			row.NewCompositeKey(c.SeriesID, c.Nickname, c.Resource))
	})
	return c
}

// SetSuiteIDs replaces the suites the configuration belongs to.
func (c *SeriesConfig) SetSuiteIDs(ids []int64) {
	c.suiteIDs = append([]int64(nil), ids...)
	sort.Slice(c.suiteIDs, func(i, j int) bool { return c.suiteIDs[i] < c.suiteIDs[j] })
	c.membersModified = true
}

// SetTags replaces the tags of the configuration.
func (c *SeriesConfig) SetTags(tags []string) {
	c.tags = append([]string(nil), tags...)
	sort.Strings(c.tags)
	c.membersModified = true
}

func (c *SeriesConfig) SuiteIDs() []int64 { return c.suiteIDs }
func (c *SeriesConfig) Tags() []string { return c.tags }

// LoadMembers reads suite ids and tags from storage.
func (c *SeriesConfig) LoadMembers(ctx context.Context) error {
	suites, err := loadLongs(ctx, c.DB(), seriesConfigSuites, c.ID())
	if err != nil {
		return errors.Wrap(err, "loading config suites")
	}
	tags, err := loadStrings(ctx, c.DB(), seriesConfigTags, c.ID())
	if err != nil {
		return errors.Wrap(err, "loading config tags")
	}
	c.suiteIDs, c.tags, c.membersModified = suites, tags, false
	return nil
}

// Save persists the configuration and, when they changed, rewrites its suite
// and tag memberships in the same transaction.
func (c *SeriesConfig) Save(ctx context.Context) error {
	var extra []row.Operation
	if c.membersModified {
		if !c.IsNew() {
			extra = append(extra,
				unlinkOp(seriesConfigSuites, c.IDColumn()),
				unlinkOp(seriesConfigTags, c.IDColumn()))
		}
		suites := make([]any, len(c.suiteIDs))
		for i, id := range c.suiteIDs {
			suites[i] = id
		}
		tags := make([]any, len(c.tags))
		for i, tag := range c.tags {
			tags[i] = tag
		}
		extra = append(extra, linkOps(seriesConfigSuites, c.IDColumn(), suites)...)
		extra = append(extra, linkOps(seriesConfigTags, c.IDColumn(), tags)...)
	}
	if err := c.KeyRow.Save(ctx, extra...); err != nil {
		return err
	}
	if !c.Reused() {
		c.membersModified = false
	}
	return nil
}

// Delete removes the configuration with its memberships.
func (c *SeriesConfig) Delete(ctx context.Context) error {
	return c.KeyRow.Delete(ctx,
		unlinkOp(seriesConfigSuites, c.IDColumn()),
		unlinkOp(seriesConfigTags, c.IDColumn()))
}

// ActiveConfigs returns the configurations of series that have not been
// deactivated.
func ActiveConfigs(ctx context.Context, db *row.DB, seriesID int64) ([]*SeriesConfig, error) {
	return Find(ctx, db, row.All{
		row.Equals{Column: "series_id", Value: seriesID},
		row.Equals{Column: "deactivated", Value: nil},
	}, NewSeriesConfig)
}
