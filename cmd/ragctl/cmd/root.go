// Package cmd provides the ragctl CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arborq/ragcore/config"
)

// Exit codes per spec §6: 0 success, 2 config error, 3 ingest failure, 4
// query failure. A subcommand that cannot be mapped to one of these (an
// unclassified error) exits 1.
const (
	exitOK            = 0
	exitUnclassified  = 1
	exitConfig        = 2
	exitIngestFailure = 3
	exitQueryFailure  = 4
)

var cfgPath string

// NewRootCmd builds the ragctl root command and its subcommands.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Client-side retrieval-augmented question answering over a local corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a ragcore config file (defaults to the standard search path)")

	root.AddCommand(newIngestCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newResetCmd())

	return root
}

// Execute runs the root command and returns the process exit code, reading
// the exit code a failing subcommand tagged its error with.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ragctl:", err)
		return exitCodeFor(err)
	}
	return exitOK
}

// cliError tags an error with the exit code its command should report,
// since the 2/3/4 split is by which command failed, not by the
// pipeline.Error.Kind underneath it.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func configError(err error) error { return &cliError{code: exitConfig, err: err} }
func ingestError(err error) error { return &cliError{code: exitIngestFailure, err: err} }
func queryError(err error) error  { return &cliError{code: exitQueryFailure, err: err} }

func exitCodeFor(err error) int {
	var ce *cliError
	for e := err; e != nil; {
		if asCE, ok := e.(*cliError); ok {
			ce = asCE
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ce == nil {
		return exitUnclassified
	}
	return ce.code
}

// loadConfig uses the standard config load path when no --config is given;
// otherwise it imports the named file as is, without env overrides.
func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.LoadConfig()
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", cfgPath, err)
	}
	return config.Import(data)
}
