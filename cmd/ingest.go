package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"knowledge-rag/internal/chunker"
	"knowledge-rag/internal/helper"
	"knowledge-rag/internal/ingest"
	"knowledge-rag/internal/loader"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/watcher"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		root   string
		dryRun bool
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load, chunk, embed and index the knowledge base",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if root != "" {
				cfg.Loader.Root = root
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l, err := loader.New(cfg.Loader.Root, loader.WithInclude(cfg.Loader.Include...), loader.WithExclude(cfg.Loader.Exclude...))
			if err != nil {
				return err
			}
			c, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
			if err != nil {
				return err
			}

			if dryRun {
				out := cmd.OutOrStdout()
				p := ingest.New(l, c, nil, nil, ingest.WithWorkers(1), ingest.WithDryRun(func(doc models.Document, chunks []models.Chunk) {
					fmt.Fprintf(out, "# %s (%d chunks)\n", doc.ID, len(chunks))
					if err := helper.PrettyPrint(out, chunks); err != nil {
						log.Warn().Err(err).Str("document", doc.ID).Msg("Could not print chunks")
					}
				}))
				sum, err := p.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d documents, %d chunks (dry run)\n", sum.Documents, sum.Chunks)
				return nil
			}

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.ensureCollections(ctx); err != nil {
				return err
			}

			p := ingest.New(l, c, a.embedder, a.store,
				ingest.WithWorkers(cfg.RAG.Workers),
				ingest.WithCollectionPrefix(cfg.RAG.CollectionPrefix),
				ingest.WithRetry(cfg.RAG.RetryCount, cfg.RAG.RetryBackoff),
			)
			sum, err := p.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum.String())

			if !watch {
				return nil
			}
			return watchTree(ctx, l, p)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "knowledge base directory (overrides loader.root)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "chunk and categorize only, print the chunks")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-ingest files as they change")
	return cmd
}

func watchTree(ctx context.Context, l *loader.Loader, p *ingest.Pipeline) error {
	w, err := watcher.New(l.Root(), l.Matches, p, watcher.DefaultDebounce)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
