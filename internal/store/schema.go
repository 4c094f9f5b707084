package store

import (
	"fmt"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// schemaDDL returns the CREATE TABLE statements of the static tables in
// dependency order, rendered with the type names of d.
func schemaDDL(d *dialect.Dialect) []string {
	t := d.Types
	key := d.KeyColumn()
	return []string{
		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    guid %s NOT NULL,
    name %s NOT NULL,
    description %s,
    version %s NOT NULL
)`, types.SuitesTable, key, t.String, t.String, t.Text, t.Long),

		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    name %s NOT NULL,
    value %s NOT NULL
)`, types.ArgsTable, key, t.String, t.Text),

		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    signature %s NOT NULL
)`, types.ArgSignaturesTable, key, t.Text),

		fmt.Sprintf(`CREATE TABLE %s (
    arg_signature_id %s NOT NULL,
    arg_id %s NOT NULL,
    PRIMARY KEY (arg_signature_id, arg_id)
)`, types.ArgSignatureArgsTable, t.Long, t.Long),

		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    reporter %s NOT NULL,
    version %s NOT NULL,
    uri %s NOT NULL,
    context %s NOT NULL,
    nice %s NOT NULL,
    arg_signature_id %s NOT NULL,
    instance_table %s,
    link_table %s
)`, types.SeriesTable, key, t.String, t.String, t.String, t.Text, t.Boolean, t.Long, t.String, t.String),

		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    series_id %s NOT NULL,
    nickname %s NOT NULL,
    resource %s NOT NULL,
    target %s,
    activated %s NOT NULL,
    deactivated %s,
    latest_instance_id %s,
    latest_comparison_id %s
)`, types.SeriesConfigsTable, key, t.Long, t.String, t.String, t.String, t.Date, t.Date, t.Long, t.Long),

		fmt.Sprintf(`CREATE TABLE %s (
    series_config_id %s NOT NULL,
    suite_id %s NOT NULL,
    PRIMARY KEY (series_config_id, suite_id)
)`, types.SeriesConfigSuitesTable, t.Long, t.Long),

		fmt.Sprintf(`CREATE TABLE %s (
    series_config_id %s NOT NULL,
    tag %s NOT NULL,
    PRIMARY KEY (series_config_id, tag)
)`, types.SeriesConfigTagsTable, t.Long, t.String),

		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    hostname %s NOT NULL,
    working_dir %s NOT NULL,
    reporter_path %s NOT NULL,
    arg_signature_id %s NOT NULL
)`, types.RunInfosTable, key, t.String, t.String, t.String, t.Long),

		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    exit_status %s NOT NULL,
    exit_message %s,
    body %s NOT NULL,
    stderr %s,
    series_id %s NOT NULL,
    run_info_id %s NOT NULL
)`, types.ReportsTable, key, t.Boolean, t.Text, t.Text, t.Text, t.Long, t.Long),

		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    result %s NOT NULL,
    report_id %s NOT NULL,
    series_config_id %s NOT NULL
)`, types.ComparisonResultsTable, key, t.Text, t.Long, t.Long),

		fmt.Sprintf(`CREATE TABLE %s (
    id %s,
    entered %s NOT NULL,
    error_msg %s,
    series %s NOT NULL,
    reporter %s NOT NULL,
    author_name %s NOT NULL,
    author_email %s NOT NULL,
    title %s NOT NULL,
    article_text %s NOT NULL
)`, types.KbArticlesTable, key, t.Date, t.Text, t.String, t.String, t.String, t.String, t.String, t.Text),
	}
}

// indexDDL lists the CREATE INDEX statements for the natural-key lookups.
// Only bounded columns are indexed so that every product accepts them.
var indexDDL = []string{
	`CREATE INDEX idx_suites_guid ON suites (guid)`,
	`CREATE INDEX idx_args_name ON args (name)`,
	`CREATE INDEX idx_series_reporter ON series (reporter, version, uri)`,
	`CREATE INDEX idx_series_configs_series ON series_configs (series_id, nickname, resource)`,
	`CREATE INDEX idx_run_infos_host ON run_infos (hostname, reporter_path)`,
	`CREATE INDEX idx_reports_series ON reports (series_id, run_info_id)`,
	`CREATE INDEX idx_comparison_results_report ON comparison_results (report_id, series_config_id)`,
}

// sequenceDDL returns the statements creating the key sequences of the
// static tables. Empty when keys are generated by the database.
func sequenceDDL(d *dialect.Dialect) []string {
	if d.GeneratedKeys() {
		return nil
	}
	var stmts []string
	for _, table := range types.KeyedTableNames {
		stmts = append(stmts, d.CreateSequence(table)...)
	}
	return stmts
}
