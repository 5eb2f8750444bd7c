package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the cached folder tree",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the age of the cached folder tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				tenant := a.client.Tenant()
				info, err := a.resolver.Info(tenant)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !info.Exists {
					fmt.Fprintf(out, "No folder tree cached for business unit %s\n", tenant)
					return nil
				}
				fmt.Fprintf(out, "Business unit %s: %d folders cached %s (%s)\n",
					tenant, info.ItemCount, info.Age, info.CachedAt.Format("2006-01-02 15:04:05 MST"))
				fmt.Fprintf(out, "Cache file: %s\n", a.cfg.CachePath())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop the cached folder tree so the next run reloads it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				tenant := a.client.Tenant()
				if err := a.resolver.Invalidate(tenant); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared folder cache for business unit %s\n", tenant)
				return nil
			})
		},
	})
	return cmd
}
