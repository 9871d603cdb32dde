package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"knowledge-rag/internal/helper"
	"knowledge-rag/internal/models"
)

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		topK     int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve context for a question and answer it when an LLM is configured",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			r, err := a.newRAG()
			if err != nil {
				return err
			}

			question := strings.Join(args, " ")
			resp, err := r.Query(ctx, models.Query{Question: question, Category: category, TopK: topK})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return helper.PrettyPrint(out, resp)
			}
			log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", resp.Question)

			log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			if len(resp.Sources) == 0 {
				fmt.Fprintf(out, "no matching context\n\n")
			}
			for _, src := range resp.Sources {
				fmt.Fprintf(out, "- %s\n", src)
			}
			fmt.Fprintln(out)
			if resp.Context != "" {
				fmt.Fprintf(out, "%s\n\n", resp.Context)
			}

			if resp.Answer != "" {
				log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
				fmt.Fprintf(out, "%s\n\n", resp.Answer)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "restrict the search to one category")
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of chunks to return (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	return cmd
}
