// Package orchestrator drives a bulk deletion from path resolution to the
// final audit record. A run is a linear state machine; every stage either
// names the next stage or ends the run with an exit code. Deletes are strictly
// sequential, progress is persisted at batch boundaries, and cancellation is
// observed between items so an interrupted run can be resumed.
package orchestrator

import (
	"context"
	"time"

	"github.com/natserract/sfclean/pkg/audit"
	"github.com/natserract/sfclean/pkg/dependency"
	"github.com/natserract/sfclean/pkg/folders"
	"github.com/natserract/sfclean/pkg/metrics"
	"github.com/natserract/sfclean/pkg/notify"
	"github.com/natserract/sfclean/pkg/protection"
	"github.com/natserract/sfclean/pkg/resource"
	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
	"go.uber.org/zap"
)

// Stage is a state of the run.
type Stage string

const (
	StageValidate        Stage = "VALIDATE"
	StageConnect         Stage = "CONNECT"
	StageResolveTarget   Stage = "RESOLVE_TARGET"
	StageEnumerate       Stage = "ENUMERATE"
	StageFilter          Stage = "FILTER"
	StageDetailFetch     Stage = "DETAIL_FETCH"
	StageProtectionCheck Stage = "PROTECTION_CHECK"
	StageDependencyCheck Stage = "DEPENDENCY_CHECK"
	StageSelect          Stage = "SELECT"
	StageBackup          Stage = "BACKUP"
	StagePreview         Stage = "PREVIEW"
	StageDryRunExit      Stage = "DRY_RUN_EXIT"
	StageConfirm         Stage = "CONFIRM"
	StageExecute         Stage = "EXECUTE"
	StageReport          Stage = "REPORT"
	stageDone            Stage = ""
)

// OperationDelete names deletion runs in audit records.
const OperationDelete = "delete"

// Gateway is the set of remote calls a run makes.
type Gateway interface {
	Ping(ctx context.Context) error
	Tenant() string
	ListDataExtensions(ctx context.Context, folderID string) ([]sfmce.DataExtension, error)
	GetDataExtensionFields(ctx context.Context, dataExtensionID string) ([]sfmce.Field, error)
	GetRowCount(ctx context.Context, key string) (*int, error)
	DeleteDataExtension(ctx context.Context, key string) error
	DeleteFolder(ctx context.Context, folderID string) error
}

// Resolver finds the target folder and drops cached trees.
type Resolver interface {
	ResolveByPath(ctx context.Context, tenant, path string) (resource.Node, *folders.Tree, error)
	Invalidate(tenant string) error
}

// DependencyChecker looks up dependents for customer keys.
type DependencyChecker interface {
	Check(ctx context.Context, keys []string, progress dependency.ProgressFunc) (map[string]dependency.Result, error)
}

// Protector decides which resources are protected.
type Protector interface {
	Match(c resource.Container) (bool, string)
	MatchFolder(n resource.Node) (bool, string)
}

// Prompter asks the operator.
type Prompter interface {
	// Select returns the subset of candidates to delete.
	Select(ctx context.Context, candidates []resource.Container) ([]resource.Container, error)
	Confirm(ctx context.Context, message string) (bool, error)
}

// Notifier receives the run summary.
type Notifier interface {
	Notify(ctx context.Context, s notify.Summary) error
}

// Options are the per-run choices of the operator.
type Options struct {
	FolderPath string
	// Recursive enumerates the whole subtree, not only the target folder.
	Recursive bool
	// DeleteFolders removes the emptied subtree after its data extensions.
	DeleteFolders bool
	// ModifiedBefore keeps only data extensions last modified before it.
	ModifiedBefore time.Time
	// OlderThan is ModifiedBefore relative to the start of the run.
	OlderThan      time.Duration
	Include        []string
	Exclude        []string
	SkipProtected  bool
	Force          bool
	Interactive    bool
	DryRun         bool
	AssumeYes      bool
	Backup         bool
	FetchRowCounts bool
	// ResumeID restricts the run to the items an earlier run left unprocessed.
	ResumeID  string
	BatchSize int
	Delay     time.Duration
}

// Deps are the collaborators of an Orchestrator. Prompter is needed only for
// interactive or confirmed runs; Notifier and Metrics are optional.
type Deps struct {
	Gateway      Gateway
	Resolver     Resolver
	Dependencies DependencyChecker
	Protection   Protector
	Store        audit.Store
	Prompter     Prompter
	Notifier     Notifier
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Report is what a run did, whatever stage it ended in.
type Report struct {
	OperationID string
	Tenant      string
	Stage       Stage
	ExitCode    int
	DryRun      bool
	Target      resource.Node
	TargetPath  string
	Candidates  []resource.Container
	Folders     []resource.Node
	Counts      audit.Counts
	Totals      audit.Totals
	Outcomes    []audit.Outcome
	Suggestions []folders.Suggestion
	Record      *audit.Record
}

// Orchestrator runs deletions. It holds no per-run state and may be reused.
type Orchestrator struct {
	deps  Deps
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Protection == nil {
		deps.Protection = protection.DefaultRules()
	}
	return &Orchestrator{deps: deps, now: time.Now, sleep: sleepContext}
}

// Run executes one deletion. The report is always returned; the error is
// non-nil whenever the exit code is not ExitSuccess.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	r := &run{
		Orchestrator: o,
		logger:       o.deps.Logger,
		opts:         opts,
		startedAt:    o.now(),
		report:       &Report{DryRun: opts.DryRun},
	}

	stage := StageValidate
	for stage != stageDone {
		r.report.Stage = stage
		r.logger.Debug("Entering stage", zap.String("stage", string(stage)))

		next, err := r.step(ctx, stage)
		if err != nil {
			return r.abort(ctx, stage, err)
		}
		stage = next
	}
	return r.report, r.err
}

func (r *run) step(ctx context.Context, stage Stage) (Stage, error) {
	switch stage {
	case StageValidate:
		return r.validate(ctx)
	case StageConnect:
		return r.connect(ctx)
	case StageResolveTarget:
		return r.resolveTarget(ctx)
	case StageEnumerate:
		return r.enumerate(ctx)
	case StageFilter:
		return r.filter(ctx)
	case StageDetailFetch:
		return r.detailFetch(ctx)
	case StageProtectionCheck:
		return r.protectionCheck(ctx)
	case StageDependencyCheck:
		return r.dependencyCheck(ctx)
	case StageSelect:
		return r.selectCandidates(ctx)
	case StageBackup:
		return r.backup(ctx)
	case StagePreview:
		return r.preview(ctx)
	case StageDryRunExit:
		return r.dryRunExit(ctx)
	case StageConfirm:
		return r.confirm(ctx)
	case StageExecute:
		return r.execute(ctx)
	case StageReport:
		return r.finish(ctx)
	}
	return stageDone, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
