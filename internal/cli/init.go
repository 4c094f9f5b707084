package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize depot storage",
		Long:  "Create the configuration and data directories, then create the depot schema.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	s, b, db, err := open()
	if err != nil {
		return err
	}
	if err := b.Detach(); err != nil {
		return system(err, "finalize storage")
	}

	if flags.jsonMode {
		return writeJSON(cmd.OutOrStdout(), map[string]string{
			"driver":   s.store.Driver,
			"data_dir": s.store.DataDir,
			"product":  db.Dialect().Product.String(),
			"keys":     db.Dialect().KeyStrategy(),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Depot initialized in %s (%s, %s keys)\n",
		s.store.DataDir, db.Dialect().Product, db.Dialect().KeyStrategy())
	return nil
}
