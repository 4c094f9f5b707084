package command

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/row"
)

// seriesDoc identifies a series by reporter, arguments and context.
type seriesDoc struct {
	Reporter string   `xml:"reporter,attr"`
	Version  string   `xml:"version,attr"`
	URI      string   `xml:"uri,attr"`
	Nice     bool     `xml:"nice,attr"`
	Context  string   `xml:"context"`
	Args     []argDoc `xml:"arg"`
}

type argDoc struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

func (s seriesDoc) validate(kind string) error {
	if s.Reporter == "" || s.Version == "" || s.URI == "" {
		return invalid(kind, "series needs reporter, version and uri")
	}
	for _, a := range s.Args {
		if a.Name == "" {
			return invalid(kind, "unnamed argument of %s", s.Reporter)
		}
	}
	return nil
}

// resolve stores the series (insert-or-find) with its argument signature.
func (s seriesDoc) resolve(ctx context.Context, db *row.DB) (*model.Series, error) {
	args := make(map[string]string, len(s.Args))
	for _, a := range s.Args {
		args[a.Name] = a.Value
	}
	sig, err := model.ResolveArgSignature(ctx, db, args)
	if err != nil {
		return nil, err
	}
	series := model.NewSeries(db)
	series.Reporter.SetValue(s.Reporter)
	series.Version.SetValue(s.Version)
	series.URI.SetValue(s.URI)
	series.Context.SetValue(s.Context)
	series.Nice.SetValue(s.Nice)
	series.ArgSignatureID.SetValue(sig.ID())
	if err := series.Save(ctx); err != nil {
		return nil, err
	}
	return series, nil
}

// insertDoc is the payload of an insert: one report of a reporter run on a
// resource, with the usage of the run.
type insertDoc struct {
	XMLName   xml.Name  `xml:"insert"`
	Resource  string    `xml:"resource"`
	Collected time.Time `xml:"collected"`
	Series    seriesDoc `xml:"series"`
	RunInfo   struct {
		Hostname     string `xml:"hostname,attr"`
		WorkingDir   string `xml:"workingDir,attr"`
		ReporterPath string `xml:"reporterPath,attr"`
	} `xml:"runInfo"`
	Report struct {
		ExitStatus  bool    `xml:"exitStatus,attr"`
		ExitMessage *string `xml:"exitMessage"`
		Body        string  `xml:"body"`
		Stderr      *string `xml:"stderr"`
	} `xml:"report"`
	Usage struct {
		MemoryMB     *float64 `xml:"memoryMB,attr"`
		CPUSec       *float64 `xml:"cpuSec,attr"`
		WallClockSec *float64 `xml:"wallClockSec,attr"`
	} `xml:"usage"`
	Log *string `xml:"log"`
}

// Insert stores a report together with a new instance of its series and
// points the matching configurations at that instance.
type Insert struct {
	base
	doc insertDoc
}

func (c *Insert) decode() error {
	var doc insertDoc
	if err := xml.Unmarshal(c.payload, &doc); err != nil {
		return invalid(c.kind, "%v", err)
	}
	if doc.Resource == "" {
		return invalid(c.kind, "missing resource")
	}
	if doc.Collected.IsZero() {
		return invalid(c.kind, "missing collected time")
	}
	if err := doc.Series.validate(c.kind); err != nil {
		return err
	}
	if doc.RunInfo.Hostname == "" {
		return invalid(c.kind, "missing run hostname")
	}
	if doc.Report.Body == "" {
		return invalid(c.kind, "empty report body")
	}
	c.doc = doc
	return nil
}

func (c *Insert) RestoreState(state []byte) error {
	if err := c.restore(state); err != nil {
		return err
	}
	return c.decode()
}

// Replay writes the report. The writes share one transaction; comparisons
// run afterwards and their failures are only logged.
func (c *Insert) Replay(ctx context.Context) error {
	db := c.env.DB
	var (
		report  *model.Report
		configs []*model.SeriesConfig
	)
	err := db.RunInTx(ctx, func(tx *row.DB) error {
		series, err := c.doc.Series.resolve(ctx, tx)
		if err != nil {
			return err
		}

		run := model.NewRunInfo(tx)
		run.Hostname.SetValue(c.doc.RunInfo.Hostname)
		run.WorkingDir.SetValue(c.doc.RunInfo.WorkingDir)
		run.ReporterPath.SetValue(c.doc.RunInfo.ReporterPath)
		run.ArgSignatureID.SetValue(series.ArgSignatureID.Get())
		if err := run.Save(ctx); err != nil {
			return err
		}

		report = model.NewReport(tx)
		report.ExitStatus.SetValue(c.doc.Report.ExitStatus)
		setOptional(report.ExitMessage, c.doc.Report.ExitMessage)
		report.Body.SetValue(c.doc.Report.Body)
		setOptional(report.Stderr, c.doc.Report.Stderr)
		report.SeriesID.SetValue(series.ID())
		report.RunInfoID.SetValue(run.ID())
		if err := report.Save(ctx); err != nil {
			return err
		}

		active, err := model.ActiveConfigs(ctx, tx, series.ID())
		if err != nil {
			return err
		}
		var ids []int64
		for _, cfg := range active {
			if cfg.Resource.Get() == c.doc.Resource {
				configs = append(configs, cfg)
				ids = append(ids, cfg.ID())
			}
		}

		inst := model.NewInstanceInfo(tx, series)
		inst.Collected.SetValue(c.doc.Collected)
		inst.Committed.SetValue(c.received)
		setOptional(inst.MemoryUsageMB, c.doc.Usage.MemoryMB)
		setOptional(inst.CPUUsageSec, c.doc.Usage.CPUSec)
		setOptional(inst.WallClockTimeSec, c.doc.Usage.WallClockSec)
		setOptional(inst.Log, c.doc.Log)
		inst.ReportID.SetValue(report.ID())
		inst.SetConfigIDs(ids)
		if err := inst.Save(ctx); err != nil {
			return err
		}

		for _, cfg := range configs {
			cfg.LatestInstanceID.SetValue(inst.ID())
			if err := cfg.Save(ctx); err != nil {
				return err
			}
		}
		log.WithFields(log.Fields{
			"series":   series.ID(),
			"report":   report.ID(),
			"instance": inst.ID(),
			"configs":  len(configs),
		}).Debug("report inserted")
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "inserting report of %s on %s", c.doc.Series.Reporter, c.doc.Resource)
	}

	report.SetDB(db)
	for _, cfg := range configs {
		cfg.SetDB(db)
		c.compare(ctx, cfg, report)
	}
	return nil
}

func (c *Insert) compare(ctx context.Context, cfg *model.SeriesConfig, report *model.Report) {
	if c.env.Comparer == nil || cfg.Target.IsNull() {
		return
	}
	entry := log.WithFields(log.Fields{"config": cfg.ID(), "report": report.ID()})
	result, err := c.env.Comparer.Compare(ctx, cfg, report)
	if err != nil {
		entry.WithError(err).Warn("comparison failed")
		return
	}
	cmp := model.NewComparisonResult(c.env.DB)
	cmp.Result.SetValue(result)
	cmp.ReportID.SetValue(report.ID())
	cmp.SeriesConfigID.SetValue(cfg.ID())
	if err := cmp.Save(ctx); err != nil {
		entry.WithError(err).Warn("cannot save comparison result")
		return
	}
	cfg.LatestComparisonID.SetValue(cmp.ID())
	if err := cfg.Save(ctx); err != nil {
		entry.WithError(err).Warn("cannot update latest comparison")
	}
}

// setOptional sets col from an optional payload value, null when absent.
func setOptional[T any](col *row.Column[T], v *T) {
	if v == nil {
		col.SetNull()
		return
	}
	col.SetValue(*v)
}
