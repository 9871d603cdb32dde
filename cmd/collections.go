package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCollectionsCmd(opts *rootOptions) *cobra.Command {
	var drop []string
	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List index collections and their chunk counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			for _, name := range drop {
				if err := a.store.DropCollection(ctx, name); err != nil {
					return err
				}
				log.Info().Str("collection", name).Msg("Dropped collection")
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", name)
			}

			names, err := a.store.Collections(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COLLECTION\tCHUNKS")
			for _, name := range names {
				n, err := a.store.Count(ctx, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\n", name, n)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&drop, "drop", nil, "drop these collections before listing")
	return cmd
}
