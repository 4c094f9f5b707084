package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/protocol"
	"github.com/mesh-intelligence/depot/internal/replication"
)

func newSyncCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "sync [peer]",
		Short: "Replace the depot contents with a peer's snapshot",
		Long: "Pull a snapshot from a peer (host:port) and load it, replacing every row.\n" +
			"With --file the snapshot is read from a dump instead. Stop the local server first.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (file != "") {
				return errors.New("give either a peer or --file")
			}
			peer := ""
			if len(args) == 1 {
				peer = args[0]
			}
			return runSync(cmd, peer, file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "load a snapshot written by dump")
	return cmd
}

func runSync(cmd *cobra.Command, peer, file string) error {
	_, b, db, err := open()
	if err != nil {
		return err
	}
	defer b.Detach()
	ctx := commandContext(cmd)

	var stats replication.Stats
	importer := replication.NewImporter(db, nil)
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return system(err, "open snapshot")
		}
		defer f.Close()
		if stats, err = importer.ReadResponse(ctx, f); err != nil {
			return err
		}
	} else {
		c, err := protocol.Dial(ctx, peer)
		if err != nil {
			return system(err, "connect")
		}
		defer c.Close()
		body, err := c.Sync()
		if err != nil {
			return err
		}
		if stats, err = importer.ReadResponse(ctx, body); err != nil {
			return err
		}
	}

	if flags.jsonMode {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	blocks := make([]string, 0, len(stats))
	for block := range stats {
		blocks = append(blocks, block)
	}
	sort.Strings(blocks)
	for _, block := range blocks {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", block, stats[block])
	}
	return nil
}
