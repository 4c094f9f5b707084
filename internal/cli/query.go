package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/query"
	"github.com/mesh-intelligence/depot/internal/server"
)

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <expr> [name=value ...]",
		Short: "Run an ad hoc query",
		Long: "Run a read query against the local depot and print one tab-separated line\n" +
			"per result, or a JSON array with --json.\n\n" +
			"  depot query 'select name, version from Suite where version > :v' v=2",
		Args: cobra.MinimumNArgs(1),
		RunE: runQuery,
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	s, b, db, err := open()
	if err != nil {
		return err
	}
	defer b.Detach()

	params, err := server.ParseParams(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	exec, err := query.NewExecutor(db, 1, s.queryBatchSize)
	if err != nil {
		return err
	}
	cur, err := exec.Query(commandContext(cmd), args[0], params)
	if err != nil {
		return err
	}
	results, err := cur.All()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !flags.jsonMode {
		for _, r := range results {
			fmt.Fprintln(out, server.FormatTuple(query.Fields(r)))
		}
		return nil
	}

	names := cur.Columns()
	rows := make([]map[string]any, 0, len(results))
	for _, r := range results {
		m := make(map[string]any, len(names))
		for i, v := range query.Fields(r) {
			m[model.LogicalName(names[i])] = v
		}
		rows = append(rows, m)
	}
	return writeJSON(out, rows)
}
