package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/pkg/depot"
)

const modulePath = "github.com/mesh-intelligence/depot"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the depot version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": depot.Version, "module": modulePath})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "depot v%s\nmodule: %s\n", depot.Version, modulePath)
			return nil
		},
	}
}
