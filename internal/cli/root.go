// Package cli implements the depot command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/paths"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/internal/store"
	"github.com/mesh-intelligence/depot/pkg/depot"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

var flags rootFlags

// NewRootCmd creates the top-level "depot" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	root := &cobra.Command{
		Use:     "depot",
		Short:   "A replicated store for monitoring reports",
		Long:    "Depot stores the reports of monitoring series, serves them to clients\nand keeps peer depots in step through notices and snapshots.",
		Version: depot.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newQueryCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		var se *sysError
		if errors.As(err, &se) {
			os.Exit(exitSysError)
		}
		os.Exit(exitUserError)
	}
	os.Exit(exitSuccess)
}

// sysError marks failures of the environment rather than of the request.
type sysError struct {
	err error
}

func (e *sysError) Error() string { return e.err.Error() }
func (e *sysError) Unwrap() error { return e.err }

func system(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &sysError{err: errors.Wrap(err, msg)}
}

func resolveConfigDir() (string, error) {
	return paths.ResolveConfigDir(flags.configDir)
}

// open loads the settings and attaches the depot. The caller detaches.
func open() (*settings, *store.Backend, *row.DB, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, nil, nil, system(err, "load config")
	}
	b := store.NewBackend()
	if err := b.Attach(s.store); err != nil {
		return nil, nil, nil, system(err, "attach depot")
	}
	db, err := b.DB()
	if err != nil {
		b.Detach()
		return nil, nil, nil, system(err, "attach depot")
	}
	return s, b, db, nil
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
