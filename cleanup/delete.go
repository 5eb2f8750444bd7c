package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/natserract/sfclean/pkg/config"
	"github.com/natserract/sfclean/pkg/orchestrator"
	"github.com/spf13/cobra"
)

type deleteFlags struct {
	recursive      bool
	deleteFolders  bool
	modifiedBefore string
	olderThanDays  int
	include        []string
	exclude        []string
	skipProtected  bool
	force          bool
	interactive    bool
	dryRun         bool
	yes            bool
	backup         bool
	rowCounts      bool
	resume         string
	jsonOutput     bool
}

func newDeleteCmd() *cobra.Command {
	f := &deleteFlags{}
	cmd := &cobra.Command{
		Use:   "delete [folder path]",
		Short: "Delete the data extensions under a folder",
		Long: `Delete the data extensions stored in a folder, given as a path from the
top-level folder, for example "Data Extensions/Campaigns/2022".

The run stops before deleting anything when a candidate is protected or is
referenced by a query, import, journey or filter. Progress is saved every
batch so an interrupted run can continue with --resume.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				opts, err := f.options(args, a.cfg)
				if err != nil {
					return err
				}
				return runDelete(ctx, a, opts, f.jsonOutput, cmd.OutOrStdout())
			})
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&f.recursive, "recursive", "r", false, "Include data extensions in all subfolders")
	fl.BoolVar(&f.deleteFolders, "delete-folders", false, "Also delete the emptied folders, deepest first (implies --recursive)")
	fl.StringVar(&f.modifiedBefore, "modified-before", "", "Only data extensions last modified before this date (YYYY-MM-DD or RFC 3339)")
	fl.IntVar(&f.olderThanDays, "older-than", 0, "Only data extensions not modified for this many days")
	fl.StringSliceVar(&f.include, "include", nil, "Only names matching this case-insensitive pattern (repeatable)")
	fl.StringSliceVar(&f.exclude, "exclude", nil, "Skip names matching this case-insensitive pattern (repeatable)")
	fl.BoolVar(&f.skipProtected, "skip-protected", false, "Leave protected objects out instead of aborting")
	fl.BoolVar(&f.force, "force", false, "Delete data extensions even when other objects depend on them")
	fl.BoolVarP(&f.interactive, "interactive", "i", false, "Pick the data extensions to delete from a numbered list")
	fl.BoolVar(&f.dryRun, "dry-run", false, "Preview only, delete nothing")
	fl.BoolVarP(&f.yes, "yes", "y", false, "Do not ask for confirmation")
	fl.BoolVar(&f.backup, "backup", false, "Save the schemas of all candidates before deleting")
	fl.BoolVar(&f.rowCounts, "row-counts", false, "Fetch row counts for the preview")
	fl.StringVar(&f.resume, "resume", "", "Continue an interrupted operation by id")
	fl.BoolVar(&f.jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func (f *deleteFlags) options(args []string, cfg *config.Config) (orchestrator.Options, error) {
	opts := orchestrator.Options{
		Recursive:      f.recursive,
		DeleteFolders:  f.deleteFolders,
		Include:        f.include,
		Exclude:        f.exclude,
		SkipProtected:  f.skipProtected,
		Force:          f.force,
		Interactive:    f.interactive,
		DryRun:         f.dryRun,
		AssumeYes:      f.yes,
		Backup:         f.backup,
		FetchRowCounts: f.rowCounts,
		ResumeID:       f.resume,
		BatchSize:      cfg.BatchSize,
		Delay:          cfg.DeleteDelay,
	}
	if len(args) == 1 {
		opts.FolderPath = args[0]
	}
	if opts.FolderPath == "" && opts.ResumeID == "" {
		return opts, &config.FatalConfigError{Err: fmt.Errorf("a folder path or --resume is required")}
	}
	if f.olderThanDays < 0 {
		return opts, &config.FatalConfigError{Err: fmt.Errorf("--older-than must not be negative")}
	}
	opts.OlderThan = time.Duration(f.olderThanDays) * 24 * time.Hour

	if f.modifiedBefore != "" {
		t, err := parseDate(f.modifiedBefore)
		if err != nil {
			return opts, &config.FatalConfigError{Err: fmt.Errorf("--modified-before: %w", err)}
		}
		opts.ModifiedBefore = t
	}
	return opts, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func runDelete(ctx context.Context, a *app, opts orchestrator.Options, asJSON bool, out io.Writer) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Deps{
		Gateway:      a.client,
		Resolver:     a.resolver,
		Dependencies: a.engine,
		Protection:   a.protection,
		Store:        store,
		Prompter:     newTerminalPrompter(os.Stdin, os.Stderr),
		Notifier:     a.webhook(),
		Metrics:      a.metrics,
		Logger:       a.logger,
	})

	report, runErr := orch.Run(ctx, opts)
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if runErr == nil && report.ExitCode != orchestrator.ExitSuccess {
		runErr = fmt.Errorf("run finished with exit code %d", report.ExitCode)
	}
	if runErr != nil {
		return &exitError{code: report.ExitCode, err: runErr}
	}
	return nil
}

func printReport(w io.Writer, r *orchestrator.Report) {
	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w, "Did you mean:")
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "  %s\n", s.Path)
		}
	}
	if r.OperationID == "" {
		return
	}

	fmt.Fprintf(w, "Operation %s (%s)\n", r.OperationID, r.Stage)
	if r.TargetPath != "" {
		fmt.Fprintf(w, "  Target:      %s\n", r.TargetPath)
	}
	c := r.Counts
	fmt.Fprintf(w, "  Discovered:  %d, matched %d, protected %d, with dependencies %d\n",
		c.Discovered, c.Filtered, c.Protected, c.WithDependencies)

	if r.DryRun {
		var rows int
		for _, cand := range r.Candidates {
			if cand.RowCount != nil {
				rows += *cand.RowCount
			}
			fmt.Fprintf(w, "  would delete %s [%s]\n", cand.Name, cand.CustomerKey)
		}
		for _, n := range r.Folders {
			fmt.Fprintf(w, "  would delete folder %s\n", n.Name)
		}
		fmt.Fprintf(w, "  Dry run:     %d data extensions, %d folders", len(r.Candidates), len(r.Folders))
		if rows > 0 {
			fmt.Fprintf(w, ", %s rows", humanize.Comma(int64(rows)))
		}
		fmt.Fprintln(w)
		return
	}

	t := r.Totals
	fmt.Fprintf(w, "  Results:     %d deleted, %d failed, %d skipped\n", t.Succeeded, t.Failed, t.Skipped)
	for _, o := range r.Outcomes {
		if o.Error == "" {
			continue
		}
		fmt.Fprintf(w, "  %-8s %s %s: %s\n", o.Status, o.Item.Kind, o.Item.Name, o.Error)
	}
	if r.ExitCode != orchestrator.ExitSuccess && r.Stage == orchestrator.StageExecute {
		fmt.Fprintf(w, "  Resume with: cleanup delete --resume %s\n", r.OperationID)
	}
}
