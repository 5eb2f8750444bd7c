package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/natserract/sfclean/pkg/folders"
	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	var (
		refresh bool
		tree    bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <folder path>",
		Short: "Show the folder a path points to",
		Long: `Resolve a folder path against the cached folder tree and print its id.
When nothing matches, folders with a similar name are suggested.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runResolve(ctx, a.resolver, a.client.Tenant(), args[0], refresh, tree, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Reload the folder tree from Marketing Cloud first")
	cmd.Flags().BoolVar(&tree, "tree", false, "Also list every subfolder")
	return cmd
}

func runResolve(ctx context.Context, r *folders.Resolver, tenant, path string, refresh, tree bool, out io.Writer) error {
	if refresh {
		if _, err := r.LoadTree(ctx, tenant, true); err != nil {
			return err
		}
	}

	node, t, err := r.ResolveByPath(ctx, tenant, path)
	if err != nil {
		var resErr *folders.ResolutionError
		if errors.As(err, &resErr) && len(resErr.Suggestions) > 0 {
			fmt.Fprintln(out, "Did you mean:")
			for _, s := range resErr.Suggestions {
				fmt.Fprintf(out, "  %s\n", s.Path)
			}
		}
		return err
	}

	fmt.Fprintf(out, "%s\t%s\n", node.ID, t.Path(node.ID))
	if tree {
		for _, n := range t.Subtree(node.ID, true) {
			fmt.Fprintf(out, "%s\t%s\n", n.ID, t.Path(n.ID))
		}
	}
	return nil
}
