package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arborq/ragcore"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the entire corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return configError(fmt.Errorf("loading config: %w", err))
			}
			engine, err := ragcore.Open(cfg)
			if err != nil {
				return configError(fmt.Errorf("opening engine: %w", err))
			}
			defer engine.Close()

			if err := engine.Reset(cmd.Context()); err != nil {
				return ingestError(fmt.Errorf("resetting corpus: %w", err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "corpus reset")
			return nil
		},
	}
}
