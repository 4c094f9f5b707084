package model

import (
	"context"
	"time"

	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// RunInfo records where and how a reporter ran.
type RunInfo struct {
	*row.KeyRow
	Hostname       *row.Column[string]
	WorkingDir     *row.Column[string]
	ReporterPath   *row.Column[string]
	ArgSignatureID *row.Column[int64]
}

func NewRunInfo(db *row.DB) *RunInfo {
	r := &RunInfo{
		Hostname:       row.NewString("hostname", false),
		WorkingDir:     row.NewString("working_dir", false),
		ReporterPath:   row.NewString("reporter_path", false),
		ArgSignatureID: row.NewLong("arg_signature_id", false),
	}
	r.KeyRow = row.NewKeyRow(db, types.RunInfosTable, r.Hostname, r.WorkingDir, r.ReporterPath, r.ArgSignatureID)
	r.SetDuplicateFinder(func(ctx context.Context, db *row.DB) (int64, bool, error) {
		return row.FirstKey(ctx, db, types.RunInfosTable,
			row.NewCompositeKey(r.Hostname, r.WorkingDir, r.ReporterPath, r.ArgSignatureID))
	})
	return r
}

// Report is the parsed outcome of one reporter execution.
type Report struct {
	*row.KeyRow
	ExitStatus  *row.Column[bool]
	ExitMessage *row.Column[string]
	Body        *row.Column[string]
	Stderr      *row.Column[string]
	SeriesID    *row.Column[int64]
	RunInfoID   *row.Column[int64]
}

func NewReport(db *row.DB) *Report {
	r := &Report{
		ExitStatus:  row.NewBoolean("exit_status", false),
		ExitMessage: row.NewText("exit_message", true),
		Body:        row.NewText("body", false),
		Stderr:      row.NewText("stderr", true),
		SeriesID:    row.NewLong("series_id", false),
		RunInfoID:   row.NewLong("run_info_id", false),
	}
	r.KeyRow = row.NewKeyRow(db, types.ReportsTable, r.ExitStatus, r.ExitMessage, r.Body, r.Stderr, r.SeriesID, r.RunInfoID)
	r.SetDuplicateFinder(func(ctx context.Context, db *row.DB) (int64, bool, error) {
		return row.FirstKey(ctx, db, types.ReportsTable,
			row.NewCompositeKey(r.ExitStatus, r.ExitMessage, r.Body, r.Stderr, r.SeriesID, r.RunInfoID))
	})
	return r
}

// ComparisonResult is the verdict of comparing a report against the
// configuration's target.
type ComparisonResult struct {
	*row.KeyRow
	Result         *row.Column[string]
	ReportID       *row.Column[int64]
	SeriesConfigID *row.Column[int64]
}

func NewComparisonResult(db *row.DB) *ComparisonResult {
	c := &ComparisonResult{
		Result:         row.NewText("result", false),
		ReportID:       row.NewLong("report_id", false),
		SeriesConfigID: row.NewLong("series_config_id", false),
	}
	c.KeyRow = row.NewKeyRow(db, types.ComparisonResultsTable, c.Result, c.ReportID, c.SeriesConfigID)
	c.SetDuplicateFinder(func(ctx context.Context, db *row.DB) (int64, bool, error) {
		return row.FirstKey(ctx, db, types.ComparisonResultsTable,
			row.NewCompositeKey(c.Result, c.ReportID, c.SeriesConfigID))
	})
	return c
}

// KbArticle is a knowledge-base entry explaining a known failure.
type KbArticle struct {
	*row.KeyRow
	Entered     *row.Column[time.Time]
	ErrorMsg    *row.Column[string]
	Series      *row.Column[string]
	Reporter    *row.Column[string]
	AuthorName  *row.Column[string]
	AuthorEmail *row.Column[string]
	Title       *row.Column[string]
	ArticleText *row.Column[string]
}

func NewKbArticle(db *row.DB) *KbArticle {
	a := &KbArticle{
		Entered:     row.NewDate("entered", false),
		ErrorMsg:    row.NewText("error_msg", true),
		Series:      row.NewString("series", false),
		Reporter:    row.NewString("reporter", false),
		AuthorName:  row.NewString("author_name", false),
		AuthorEmail: row.NewString("author_email", false),
		Title:       row.NewString("title", false),
		ArticleText: row.NewText("article_text", false),
	}
	a.KeyRow = row.NewKeyRow(db, types.KbArticlesTable,
		a.Entered, a.ErrorMsg, a.Series, a.Reporter, a.AuthorName, a.AuthorEmail, a.Title, a.ArticleText)
	return a
}
