package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arborq/ragcore"
	"github.com/arborq/ragcore/pipeline"
)

type queryOptions struct {
	mode     string
	topK     int
	alpha    float64
	hasAlpha bool
	chat     bool
	polish   bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question against the ingested corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.hasAlpha = cmd.Flags().Changed("alpha")
			return runQuery(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "", "retrieval strategy: lexical, semantic, or hybrid (default: configured default)")
	cmd.Flags().IntVar(&opts.topK, "top-k", 0, "number of chunks to retrieve (default: configured default)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", 0, "hybrid fusion weight toward semantic (0..1)")
	cmd.Flags().BoolVar(&opts.chat, "chat", false, "generate a composed answer instead of returning raw citations")
	cmd.Flags().BoolVar(&opts.polish, "polish", false, "run the configured post-processors over the generated answer")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, question string, opts queryOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return configError(fmt.Errorf("loading config: %w", err))
	}

	engine, err := ragcore.Open(cfg)
	if err != nil {
		return configError(fmt.Errorf("opening engine: %w", err))
	}
	defer engine.Close()

	chatMode := ""
	if opts.chat {
		chatMode = "chat"
	}
	result, err := engine.Query(ctx, pipeline.QueryRequest{
		Text:     question,
		Mode:     opts.mode,
		TopK:     opts.topK,
		Alpha:    opts.alpha,
		HasAlpha: opts.hasAlpha,
		ChatMode: chatMode,
		Polish:   opts.polish,
	})
	if err != nil {
		return queryError(err)
	}

	out := cmd.OutOrStdout()
	if result.GeneratedAnswer != "" {
		fmt.Fprintln(out, result.GeneratedAnswer)
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, "citations:")
	for _, c := range result.Citations {
		fmt.Fprintf(out, "  [%d] %s (page %d, score %.4f)\n", c.Rank, c.DocName, c.PageNumber, c.Score)
	}
	return nil
}
