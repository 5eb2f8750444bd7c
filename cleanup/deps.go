package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/natserract/sfclean/pkg/dependency"
	"github.com/natserract/sfclean/pkg/resource"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDepsCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "deps <folder path>",
		Short: "Report which data extensions under a folder are safe to delete",
		Long: `Look up the queries, imports, journeys and filters that reference each data
extension under a folder and classify it as deletable, requires_review or
blocked. Nothing is deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runDeps(ctx, a, args[0], recursive, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Include data extensions in all subfolders")
	return cmd
}

func runDeps(ctx context.Context, a *app, path string, recursive bool, out io.Writer) error {
	tenant := a.client.Tenant()
	target, tree, err := a.resolver.ResolveByPath(ctx, tenant, path)
	if err != nil {
		return err
	}

	scan := []resource.Node{target}
	if recursive {
		scan = append(scan, tree.Subtree(target.ID, true)...)
	}

	var containers []resource.Container
	for _, f := range scan {
		raw, err := a.client.ListDataExtensions(ctx, f.ID)
		if err != nil {
			return fmt.Errorf("list data extensions in %s: %w", tree.Path(f.ID), err)
		}
		for _, de := range raw {
			c := resource.ContainerFromDataExtension(de)
			c.FolderID = f.ID
			c.FolderPath = tree.Path(f.ID)
			if ok, _ := a.protection.Match(c); ok {
				c.IsProtected = true
			}
			containers = append(containers, c)
		}
	}

	analyses, err := a.engine.Analyze(ctx, containers, time.Now(), func(current, total int) {
		a.logger.Debug("Checked dependencies", zap.Int("current", current), zap.Int("total", total))
	})
	if err != nil {
		return err
	}

	for _, an := range analyses {
		fmt.Fprintf(out, "%-16s %s [%s] refs=%d\n",
			an.Verdict.Status, an.Container.Name, an.Container.CustomerKey, an.Result.TotalCount)
		if len(an.Verdict.Reasons) > 0 {
			fmt.Fprintf(out, "                 %s\n", strings.Join(an.Verdict.Reasons, "; "))
		}
	}
	tally := dependency.Tally(analyses)
	fmt.Fprintf(out, "%d deletable, %d requires review, %d blocked\n",
		tally[dependency.StatusDeletable], tally[dependency.StatusRequiresReview], tally[dependency.StatusBlocked])
	return nil
}
