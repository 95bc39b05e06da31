package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arborq/ragcore"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add one or more documents to the corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, args)
		},
	}
	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, paths []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return configError(fmt.Errorf("loading config: %w", err))
	}

	engine, err := ragcore.Open(cfg)
	if err != nil {
		return configError(fmt.Errorf("opening engine: %w", err))
	}
	defer engine.Close()

	for _, path := range paths {
		kind, ok := kindOf(path)
		if !ok {
			return ingestError(fmt.Errorf("%s: unsupported file kind", path))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return ingestError(fmt.Errorf("reading %s: %w", path, err))
		}
		doc, err := engine.Ingest(ctx, filepath.Base(path), kind, data, nil)
		if err != nil {
			return ingestError(fmt.Errorf("ingesting %s: %w", path, err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %s as %s\n", path, doc.ID)
	}
	return nil
}

func kindOf(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return "txt", true
	case ".md":
		return "md", true
	case ".pdf":
		return "pdf", true
	default:
		return "", false
	}
}
