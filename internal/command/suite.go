package command

import (
	"context"
	"encoding/xml"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Suite update actions.
const (
	ActionAdd    = "add"
	ActionDelete = "delete"
)

type suiteDoc struct {
	XMLName     xml.Name    `xml:"suiteUpdate"`
	GUID        string      `xml:"guid,attr"`
	Name        string      `xml:"name,attr"`
	Version     int64       `xml:"version,attr"`
	Description *string     `xml:"description"`
	Configs     []configDoc `xml:"seriesConfig"`
}

type configDoc struct {
	Action   string    `xml:"action,attr"`
	Nickname string    `xml:"nickname,attr"`
	Resource string    `xml:"resource,attr"`
	Target   *string   `xml:"target"`
	Series   seriesDoc `xml:"series"`
	Tags     []string  `xml:"tag"`
}

// SuiteUpdate creates or updates a suite and adds series configurations to
// it or removes them from it. A configuration left without suites is
// deactivated.
type SuiteUpdate struct {
	base
	doc suiteDoc
}

func (c *SuiteUpdate) decode() error {
	var doc suiteDoc
	if err := xml.Unmarshal(c.payload, &doc); err != nil {
		return invalid(c.kind, "%v", err)
	}
	if doc.GUID == "" || doc.Name == "" {
		return invalid(c.kind, "suite needs guid and name")
	}
	for i := range doc.Configs {
		cfg := &doc.Configs[i]
		if cfg.Action == "" {
			cfg.Action = ActionAdd
		}
		if cfg.Action != ActionAdd && cfg.Action != ActionDelete {
			return invalid(c.kind, "unknown action %q", cfg.Action)
		}
		if cfg.Nickname == "" || cfg.Resource == "" {
			return invalid(c.kind, "configuration needs nickname and resource")
		}
		if err := cfg.Series.validate(c.kind); err != nil {
			return err
		}
	}
	c.doc = doc
	return nil
}

func (c *SuiteUpdate) RestoreState(state []byte) error {
	if err := c.restore(state); err != nil {
		return err
	}
	return c.decode()
}

// Replay applies the update in one transaction. An update older than the
// stored suite version is rejected.
func (c *SuiteUpdate) Replay(ctx context.Context) error {
	err := c.env.DB.RunInTx(ctx, func(tx *row.DB) error {
		suite, err := c.saveSuite(ctx, tx)
		if err != nil {
			return err
		}
		for _, doc := range c.doc.Configs {
			series, err := doc.Series.resolve(ctx, tx)
			if err != nil {
				return err
			}
			if doc.Action == ActionDelete {
				err = c.removeConfig(ctx, tx, suite, series, doc)
			} else {
				err = c.addConfig(ctx, tx, suite, series, doc)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "updating suite %s", c.doc.GUID)
}

func (c *SuiteUpdate) saveSuite(ctx context.Context, tx *row.DB) (*model.Suite, error) {
	suite := model.NewSuite(tx)
	suite.GUID.SetValue(c.doc.GUID)
	c.setSuiteFields(suite)
	if err := suite.Save(ctx); err != nil {
		return nil, err
	}
	if !suite.Reused() {
		return suite, nil
	}
	if c.doc.Version < suite.Version.Get() {
		return nil, invalid(c.kind, "version %d of suite %s is older than stored version %d",
			c.doc.Version, c.doc.GUID, suite.Version.Get())
	}
	c.setSuiteFields(suite)
	return suite, suite.Save(ctx)
}

func (c *SuiteUpdate) setSuiteFields(suite *model.Suite) {
	suite.Name.SetValue(c.doc.Name)
	setOptional(suite.Description, c.doc.Description)
	suite.Version.SetValue(c.doc.Version)
}

func (c *SuiteUpdate) addConfig(ctx context.Context, tx *row.DB, suite *model.Suite, series *model.Series, doc configDoc) error {
	cfg := model.NewSeriesConfig(tx)
	cfg.SeriesID.SetValue(series.ID())
	cfg.Nickname.SetValue(doc.Nickname)
	cfg.Resource.SetValue(doc.Resource)
	cfg.Activated.SetValue(c.received)
	setOptional(cfg.Target, doc.Target)
	cfg.SetSuiteIDs([]int64{suite.ID()})
	cfg.SetTags(doc.Tags)
	if err := cfg.Save(ctx); err != nil {
		return err
	}
	if !cfg.Reused() {
		return nil
	}

	if err := cfg.LoadMembers(ctx); err != nil {
		return err
	}
	cfg.SetSuiteIDs(withID(cfg.SuiteIDs(), suite.ID()))
	cfg.SetTags(doc.Tags)
	setOptional(cfg.Target, doc.Target)
	if !cfg.Deactivated.IsNull() {
		cfg.Deactivated.SetNull()
		cfg.Activated.SetValue(c.received)
	}
	return cfg.Save(ctx)
}

func (c *SuiteUpdate) removeConfig(ctx context.Context, tx *row.DB, suite *model.Suite, series *model.Series, doc configDoc) error {
	id, found, err := row.FirstKey(ctx, tx, types.SeriesConfigsTable, row.All{
		row.Equals{Column: "series_id", Value: series.ID()},
		row.Equals{Column: "nickname", Value: doc.Nickname},
		row.Equals{Column: "resource", Value: doc.Resource},
	})
	if err != nil {
		return err
	}
	if !found {
		log.WithFields(log.Fields{"suite": c.doc.GUID, "nickname": doc.Nickname}).Warn("removing unknown configuration")
		return nil
	}
	cfg, err := model.ByID(ctx, tx, id, model.NewSeriesConfig)
	if err != nil {
		return err
	}
	if err := cfg.LoadMembers(ctx); err != nil {
		return err
	}
	var remaining []int64
	for _, sid := range cfg.SuiteIDs() {
		if sid != suite.ID() {
			remaining = append(remaining, sid)
		}
	}
	cfg.SetSuiteIDs(remaining)
	if len(remaining) == 0 && cfg.Deactivated.IsNull() {
		cfg.Deactivated.SetValue(c.received)
	}
	return cfg.Save(ctx)
}

func withID(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
