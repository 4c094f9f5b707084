package types

// Managed table names.
const (
	SuitesTable             = "suites"
	ArgsTable               = "args"
	ArgSignaturesTable      = "arg_signatures"
	ArgSignatureArgsTable   = "arg_signature_args"
	SeriesTable             = "series"
	SeriesConfigsTable      = "series_configs"
	SeriesConfigSuitesTable = "series_config_suites"
	SeriesConfigTagsTable   = "series_config_tags"
	RunInfosTable           = "run_infos"
	ReportsTable            = "reports"
	ComparisonResultsTable  = "comparison_results"
	KbArticlesTable         = "kb_articles"
	SequencesTable          = "depot_sequences"
)

// Prefixes of the per-series tables. The series id is appended.
const (
	InstanceTablePrefix = "instances_"
	LinkTablePrefix     = "instance_links_"
)

// KeyedTableNames lists the tables with a generated surrogate key, in
// dependency order.
var KeyedTableNames = []string{
	SuitesTable,
	ArgsTable,
	ArgSignaturesTable,
	SeriesTable,
	SeriesConfigsTable,
	RunInfosTable,
	ReportsTable,
	ComparisonResultsTable,
	KbArticlesTable,
}

// LinkTableNames lists the many-to-many tables without a surrogate key.
var LinkTableNames = []string{
	ArgSignatureArgsTable,
	SeriesConfigSuitesTable,
	SeriesConfigTagsTable,
}
