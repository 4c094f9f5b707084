package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/replication"
)

func newDumpCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write a snapshot of the depot",
		Long:  "Write the whole depot as a compressed snapshot, the same document peers receive on SYNC.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func runDump(cmd *cobra.Command, out string) error {
	_, b, db, err := open()
	if err != nil {
		return err
	}
	defer b.Detach()

	ctx := commandContext(cmd)
	snap := replication.NewSnapshot(db, nil)
	if out == "" {
		return snap.WriteResponse(ctx, cmd.OutOrStdout(), false)
	}

	f, err := os.Create(out)
	if err != nil {
		return system(err, "create dump file")
	}
	defer f.Close()
	if err := snap.WriteResponse(ctx, f, false); err != nil {
		return err
	}
	return system(f.Sync(), "write dump file")
}
