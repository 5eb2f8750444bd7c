package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natserract/sfclean/pkg/audit"
	"github.com/natserract/sfclean/pkg/config"
	"github.com/natserract/sfclean/pkg/folders"
	"github.com/natserract/sfclean/pkg/patterns"
	"github.com/natserract/sfclean/pkg/resource"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of deletions between state checkpoints.
const DefaultBatchSize = 10

// run is the state of one Run call.
type run struct {
	*Orchestrator
	logger    *zap.Logger
	opts      Options
	startedAt time.Time
	report    *Report
	err       error

	nameFilter  *patterns.Filter
	cutoff      time.Time
	operationID string
	tenant      string
	resumed     *audit.State
	resumeSet   map[string]bool
	recorder    *audit.Recorder

	target           resource.Node
	tree             *folders.Tree
	discovered       []resource.Container
	candidates       []resource.Container
	protectedFolders map[string]string
	plannedFolders   []resource.Node
	counts           audit.Counts

	calls          int
	failed         int
	foldersDeleted bool
	undo           []audit.Schema
	undoSaved      bool
}

func itemKey(it resource.Item) string {
	return string(it.Kind) + "/" + it.ID
}

// skip records a deliberate exclusion. On a resumed run, items that are not
// part of the saved remaining set were handled by the earlier attempt.
func (r *run) skip(it resource.Item, reason string) {
	if r.resumed != nil && !r.resumeSet[itemKey(it)] {
		return
	}
	r.recorder.AppendSkipped(it, reason)
	r.logger.Info("Skipping resource",
		zap.String("kind", string(it.Kind)),
		zap.String("id", it.ID),
		zap.String("name", it.Name),
		zap.String("reason", reason))
}

func fatal(format string, args ...any) error {
	return &config.FatalConfigError{Err: fmt.Errorf(format, args...)}
}

func (r *run) validate(ctx context.Context) (Stage, error) {
	deps := r.deps
	if deps.Gateway == nil || deps.Resolver == nil || deps.Store == nil {
		return "", fatal("gateway, resolver and store are required")
	}

	if r.opts.BatchSize <= 0 {
		r.opts.BatchSize = DefaultBatchSize
	}
	if r.opts.Delay < 0 {
		r.opts.Delay = 0
	}
	if r.opts.DeleteFolders {
		r.opts.Recursive = true
	}
	if !r.opts.ModifiedBefore.IsZero() {
		r.cutoff = r.opts.ModifiedBefore
	}
	if r.opts.OlderThan > 0 {
		if c := r.startedAt.Add(-r.opts.OlderThan); r.cutoff.IsZero() || c.Before(r.cutoff) {
			r.cutoff = c
		}
	}

	filter, err := patterns.NewFilter(r.opts.Include, r.opts.Exclude)
	if err != nil {
		return "", err
	}
	r.nameFilter = filter

	if r.opts.ResumeID != "" {
		state, err := deps.Store.LoadState(ctx, r.opts.ResumeID)
		if err != nil {
			return "", fmt.Errorf("resume %s: %w", r.opts.ResumeID, err)
		}
		if r.opts.FolderPath == "" {
			r.opts.FolderPath = state.TargetFolderPath
		} else if !samePath(r.opts.FolderPath, state.TargetFolderPath) {
			return "", fatal("operation %s targeted %q, not %q", state.OperationID, state.TargetFolderPath, r.opts.FolderPath)
		}
		r.resumed = state
		r.resumeSet = make(map[string]bool, len(state.Remaining))
		for _, it := range state.Remaining {
			r.resumeSet[itemKey(it)] = true
		}
		r.operationID = state.OperationID
	} else {
		r.operationID = uuid.NewString()
	}

	if strings.TrimSpace(r.opts.FolderPath) == "" {
		return "", fatal("a target folder path is required")
	}
	needsPrompt := r.opts.Interactive || (!r.opts.DryRun && !r.opts.AssumeYes)
	if needsPrompt && deps.Prompter == nil {
		return "", fatal("confirmation is required but no prompter is configured")
	}

	r.report.OperationID = r.operationID
	r.logger = r.logger.With(zap.String("operation_id", r.operationID))
	return StageConnect, nil
}

func samePath(a, b string) bool {
	clean := func(p string) string { return strings.ToLower(path.Clean("/" + strings.TrimSpace(p))) }
	return clean(a) == clean(b)
}

func (r *run) connect(ctx context.Context) (Stage, error) {
	r.tenant = r.deps.Gateway.Tenant()
	r.report.Tenant = r.tenant
	r.logger = r.logger.With(zap.String("tenant", r.tenant))

	r.recorder = audit.NewRecorder(r.deps.Store, audit.Record{
		OperationID:  r.operationID,
		Operation:    OperationDelete,
		Tenant:       r.tenant,
		TargetFolder: r.opts.FolderPath,
		Options:      r.auditOptions(),
		StartedAt:    r.startedAt.UTC(),
	}, r.logger)
	r.recorder.Restore(r.resumed)

	if err := r.deps.Gateway.Ping(ctx); err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	r.logger.Info("Connected to Marketing Cloud", zap.Bool("resumed", r.resumed != nil))
	return StageResolveTarget, nil
}

func (r *run) auditOptions() map[string]any {
	o := r.opts
	opts := map[string]any{
		"folderPath":    o.FolderPath,
		"recursive":     o.Recursive,
		"deleteFolders": o.DeleteFolders,
		"skipProtected": o.SkipProtected,
		"force":         o.Force,
		"interactive":   o.Interactive,
		"backup":        o.Backup,
		"batchSize":     o.BatchSize,
		"delay":         o.Delay.String(),
	}
	if !r.cutoff.IsZero() {
		opts["modifiedBefore"] = r.cutoff.UTC().Format(time.RFC3339)
	}
	if len(o.Include) > 0 {
		opts["include"] = o.Include
	}
	if len(o.Exclude) > 0 {
		opts["exclude"] = o.Exclude
	}
	if o.ResumeID != "" {
		opts["resumeId"] = o.ResumeID
	}
	return opts
}

func (r *run) resolveTarget(ctx context.Context) (Stage, error) {
	node, tree, err := r.deps.Resolver.ResolveByPath(ctx, r.tenant, r.opts.FolderPath)
	if err != nil {
		var resErr *folders.ResolutionError
		if errors.As(err, &resErr) {
			r.report.Suggestions = resErr.Suggestions
			for _, s := range resErr.Suggestions {
				r.logger.Info("Did you mean", zap.String("name", s.Name), zap.String("path", s.Path))
			}
		}
		return "", err
	}

	r.target = node
	r.tree = tree
	r.report.Target = node
	r.report.TargetPath = tree.Path(node.ID)
	r.logger.Info("Resolved target folder",
		zap.String("folder_id", node.ID),
		zap.String("folder_path", r.report.TargetPath))
	return StageEnumerate, nil
}

func (r *run) enumerate(ctx context.Context) (Stage, error) {
	scan := []resource.Node{r.target}
	if r.opts.Recursive {
		scan = append(scan, r.tree.Subtree(r.target.ID, true)...)
	}

	for _, f := range scan {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		raw, err := r.deps.Gateway.ListDataExtensions(ctx, f.ID)
		if err != nil {
			return "", fmt.Errorf("list data extensions in %s: %w", r.tree.Path(f.ID), err)
		}
		for _, de := range raw {
			c := resource.ContainerFromDataExtension(de)
			c.FolderID = f.ID
			c.FolderPath = r.tree.Path(f.ID)
			r.discovered = append(r.discovered, c)
		}
	}

	r.counts.Discovered = len(r.discovered)
	r.logger.Info("Enumerated data extensions",
		zap.Int("folder_count", len(scan)),
		zap.Int("data_extension_count", len(r.discovered)))
	return StageFilter, nil
}

func (r *run) filter(_ context.Context) (Stage, error) {
	for _, c := range r.discovered {
		if !r.cutoff.IsZero() {
			// An undated object cannot be shown to be old enough.
			if c.ModifiedAt.IsZero() {
				r.skip(c.Ref(), "unknown modified date")
				continue
			}
			if !c.ModifiedAt.Before(r.cutoff) {
				continue
			}
		}
		if !r.nameFilter.Match(c.Name) {
			continue
		}
		r.candidates = append(r.candidates, c)
	}
	r.counts.Filtered = len(r.candidates)
	r.logger.Info("Filtered candidates",
		zap.Int("discovered", r.counts.Discovered),
		zap.Int("matched", r.counts.Filtered))
	return StageDetailFetch, nil
}

func (r *run) detailFetch(ctx context.Context) (Stage, error) {
	for i := range r.candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c := &r.candidates[i]

		fields, err := r.deps.Gateway.GetDataExtensionFields(ctx, c.ID)
		if err != nil {
			r.logger.Warn("Failed to fetch fields",
				zap.String("customer_key", c.CustomerKey),
				zap.Error(err))
		} else {
			c.Fields = resource.FieldsFromAPI(fields)
			c.PIIFields = patterns.DetectPII(c.Fields)
		}

		if r.opts.FetchRowCounts {
			count, err := r.deps.Gateway.GetRowCount(ctx, c.CustomerKey)
			if err != nil {
				r.logger.Warn("Failed to fetch row count",
					zap.String("customer_key", c.CustomerKey),
					zap.Error(err))
			}
			c.RowCount = count
		}
	}
	return StageProtectionCheck, nil
}

func (r *run) protectionCheck(_ context.Context) (Stage, error) {
	type hit struct {
		item   resource.Item
		reason string
	}
	var (
		hits []hit
		kept []resource.Container
	)
	for _, c := range r.candidates {
		if ok, reason := r.deps.Protection.Match(c); ok {
			hits = append(hits, hit{c.Ref(), reason})
			continue
		}
		kept = append(kept, c)
	}

	r.protectedFolders = map[string]string{}
	if r.opts.DeleteFolders {
		for _, n := range r.tree.DeletionOrder(r.target.ID) {
			if ok, reason := r.deps.Protection.MatchFolder(n); ok {
				r.protectedFolders[n.ID] = reason
				hits = append(hits, hit{n.Ref(), reason})
			}
		}
	}
	r.counts.Protected = len(hits)

	if len(hits) == 0 {
		return StageDependencyCheck, nil
	}
	if !r.opts.SkipProtected {
		items := make([]resource.Item, 0, len(hits))
		for _, h := range hits {
			items = append(items, h.item)
		}
		return "", &SafetyViolation{Reason: "protected resources among candidates", Flag: "--skip-protected", Items: items}
	}

	// Protected folders are recorded when the folder plan is built.
	for _, h := range hits {
		if h.item.Kind == resource.KindDataExtension {
			r.skip(h.item, "protected: "+h.reason)
		}
	}
	r.candidates = kept
	return StageDependencyCheck, nil
}

func (r *run) dependencyCheck(ctx context.Context) (Stage, error) {
	if r.deps.Dependencies == nil || len(r.candidates) == 0 {
		return StageSelect, nil
	}

	keys := make([]string, 0, len(r.candidates))
	for _, c := range r.candidates {
		keys = append(keys, c.CustomerKey)
	}
	results, err := r.deps.Dependencies.Check(ctx, keys, func(current, total int) {
		r.logger.Debug("Checked dependencies", zap.Int("current", current), zap.Int("total", total))
	})
	if err != nil {
		return "", err
	}

	var dependent []resource.Item
	for i := range r.candidates {
		c := &r.candidates[i]
		res := results[c.CustomerKey]
		c.HasDependencies = res.HasDependencies
		c.Dependencies = res.All
		if res.HasDependencies {
			dependent = append(dependent, c.Ref())
		}
	}
	r.counts.WithDependencies = len(dependent)

	if len(dependent) == 0 {
		return StageSelect, nil
	}
	if !r.opts.Force {
		return "", &SafetyViolation{Reason: "data extensions are referenced by other objects", Flag: "--force", Items: dependent}
	}
	r.logger.Warn("FORCE: deleting data extensions that other objects depend on; those objects will break",
		zap.Int("count", len(dependent)))
	for _, it := range dependent {
		r.logger.Warn("Forcing deletion despite dependencies", zap.String("customer_key", it.ID), zap.String("name", it.Name))
	}
	return StageSelect, nil
}

func (r *run) selectCandidates(ctx context.Context) (Stage, error) {
	selected := r.candidates
	if r.opts.Interactive && len(r.candidates) > 0 {
		picked, err := r.deps.Prompter.Select(ctx, r.candidates)
		if err != nil {
			return "", err
		}
		chosen := make(map[string]bool, len(picked))
		for _, c := range picked {
			chosen[c.CustomerKey] = true
		}
		selected = selected[:0:0]
		for _, c := range r.candidates {
			if chosen[c.CustomerKey] {
				selected = append(selected, c)
			} else {
				r.skip(c.Ref(), "not selected")
			}
		}
	}

	if r.resumed != nil {
		remaining := selected[:0:0]
		for _, c := range selected {
			if r.resumeSet[itemKey(c.Ref())] {
				remaining = append(remaining, c)
			}
		}
		r.logger.Info("Restricting run to items left by the previous attempt",
			zap.Int("remaining", len(remaining)),
			zap.Int("previously_processed", len(r.resumed.Processed)))
		selected = remaining
	}
	r.candidates = selected
	r.planFolders()

	r.counts.Selected = len(r.candidates)
	r.counts.Folders = len(r.plannedFolders)
	r.recorder.SetCounts(r.counts)
	r.report.Counts = r.counts
	r.report.Candidates = r.candidates
	r.report.Folders = r.plannedFolders
	return StageBackup, nil
}

// planFolders keeps the folders that will be empty once the selected data
// extensions are gone, deepest first. A kept folder keeps its ancestors.
func (r *run) planFolders() {
	if !r.opts.DeleteFolders {
		return
	}

	selected := make(map[string]bool, len(r.candidates))
	for _, c := range r.candidates {
		selected[c.CustomerKey] = true
	}
	blocked := map[string]string{}
	for _, c := range r.discovered {
		if !selected[c.CustomerKey] {
			if _, ok := blocked[c.FolderID]; !ok {
				blocked[c.FolderID] = "folder still holds data extensions"
			}
		}
	}
	for id, reason := range r.protectedFolders {
		blocked[id] = "protected: " + reason
	}

	for _, n := range r.tree.DeletionOrder(r.target.ID) {
		if reason, ok := blocked[n.ID]; ok {
			r.skip(n.Ref(), reason)
			if _, ok := blocked[n.ParentID]; !ok {
				blocked[n.ParentID] = "a subfolder is kept"
			}
			continue
		}
		if r.resumed != nil && !r.resumeSet[itemKey(n.Ref())] {
			continue
		}
		r.plannedFolders = append(r.plannedFolders, n)
	}
}

func (r *run) backup(ctx context.Context) (Stage, error) {
	if !r.opts.Backup || len(r.candidates) == 0 {
		return StagePreview, nil
	}
	schemas := make([]audit.Schema, 0, len(r.candidates))
	for _, c := range r.candidates {
		schemas = append(schemas, audit.SchemaOf(c))
	}
	if err := r.deps.Store.SaveArtifact(ctx, r.operationID, audit.ArtifactBackup, schemas); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	return StagePreview, nil
}

func (r *run) preview(_ context.Context) (Stage, error) {
	r.logger.Info("Deletion plan",
		zap.String("folder_path", r.report.TargetPath),
		zap.Int("data_extensions", len(r.candidates)),
		zap.Int("folders", len(r.plannedFolders)),
		zap.Int("protected", r.counts.Protected),
		zap.Int("with_dependencies", r.counts.WithDependencies),
		zap.Bool("dry_run", r.opts.DryRun))
	for _, c := range r.candidates {
		fields := []zap.Field{
			zap.String("name", c.Name),
			zap.String("customer_key", c.CustomerKey),
			zap.String("folder_path", c.FolderPath),
			zap.Time("modified_at", c.ModifiedAt),
		}
		if c.RowCount != nil {
			fields = append(fields, zap.Int("row_count", *c.RowCount))
		}
		if len(c.PIIFields) > 0 {
			fields = append(fields, zap.Strings("pii_fields", c.PIIFields))
		}
		r.logger.Info("Candidate", fields...)
	}

	if r.opts.DryRun {
		return StageDryRunExit, nil
	}
	if len(r.candidates) == 0 && len(r.plannedFolders) == 0 {
		r.logger.Info("Nothing to delete")
		return StageReport, nil
	}
	return StageConfirm, nil
}

func (r *run) dryRunExit(_ context.Context) (Stage, error) {
	r.report.ExitCode = ExitSuccess
	r.deps.Metrics.RecordRun(ExitSuccess, r.now().Sub(r.startedAt))
	r.logger.Info("Dry run complete, nothing was deleted")
	return stageDone, nil
}

func (r *run) confirm(ctx context.Context) (Stage, error) {
	if r.opts.AssumeYes {
		return StageExecute, nil
	}
	msg := fmt.Sprintf("Delete %d data extension(s) and %d folder(s) under %s? This cannot be undone.",
		len(r.candidates), len(r.plannedFolders), r.report.TargetPath)
	ok, err := r.deps.Prompter.Confirm(ctx, msg)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrCancelled
	}
	return StageExecute, nil
}
