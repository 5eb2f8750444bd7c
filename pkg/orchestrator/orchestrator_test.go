package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/natserract/sfclean/pkg/audit"
	"github.com/natserract/sfclean/pkg/dependency"
	"github.com/natserract/sfclean/pkg/folders"
	"github.com/natserract/sfclean/pkg/metrics"
	"github.com/natserract/sfclean/pkg/notify"
	"github.com/natserract/sfclean/pkg/patterns"
	"github.com/natserract/sfclean/pkg/protection"
	"github.com/natserract/sfclean/pkg/resource"
	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway models one business unit: deletes remove objects so later
// listings no longer return them.
type fakeGateway struct {
	mu             sync.Mutex
	folders        []sfmce.Folder
	des            map[string][]sfmce.DataExtension
	dependents     map[string][]sfmce.Dependent
	failDelete     map[string]error
	onDelete       func(key string)
	pingCalls      int
	listCalls      int
	deleted        []string
	deletedFolders []string
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{
		folders: []sfmce.Folder{
			{ID: "1", Name: "Data Extensions", ParentID: "0"},
			{ID: "2", Name: "Old", ParentID: "1"},
			{ID: "3", Name: "Archive", ParentID: "2"},
		},
		des:        map[string][]sfmce.DataExtension{},
		dependents: map[string][]sfmce.Dependent{},
		failDelete: map[string]error{},
	}
	modified := sfmce.APITime{Time: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)}
	for i := 1; i <= 10; i++ {
		g.des["2"] = append(g.des["2"], sfmce.DataExtension{
			ID:           fmt.Sprintf("id-%02d", i),
			Key:          fmt.Sprintf("K%02d", i),
			Name:         fmt.Sprintf("DE_%02d", i),
			ModifiedDate: modified,
		})
	}
	return g
}

func (g *fakeGateway) Ping(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pingCalls++
	return nil
}

func (g *fakeGateway) Tenant() string { return "100" }

func (g *fakeGateway) ListFolders(context.Context, sfmce.FolderFilter) ([]sfmce.Folder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	return append([]sfmce.Folder(nil), g.folders...), nil
}

func (g *fakeGateway) ListDataExtensions(_ context.Context, folderID string) ([]sfmce.DataExtension, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sfmce.DataExtension(nil), g.des[folderID]...), nil
}

func (g *fakeGateway) GetDataExtensionFields(_ context.Context, id string) ([]sfmce.Field, error) {
	return []sfmce.Field{{Name: "SubscriberKey", Type: "Text", IsPrimaryKey: true}, {Name: "EmailAddress", Type: "EmailAddress"}}, nil
}

func (g *fakeGateway) GetRowCount(context.Context, string) (*int, error) {
	n := 42
	return &n, nil
}

func (g *fakeGateway) ListDependents(_ context.Context, key string) ([]sfmce.Dependent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dependents[key], nil
}

func (g *fakeGateway) DeleteDataExtension(_ context.Context, key string) error {
	g.mu.Lock()
	hook := g.onDelete
	if err := g.failDelete[key]; err != nil {
		g.mu.Unlock()
		return err
	}
	g.deleted = append(g.deleted, key)
	for folder, list := range g.des {
		for i, de := range list {
			if de.Key == key {
				g.des[folder] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
	g.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	return nil
}

func (g *fakeGateway) DeleteFolder(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failDelete[id]; err != nil {
		return err
	}
	g.deletedFolders = append(g.deletedFolders, id)
	for i, f := range g.folders {
		if f.ID == id {
			g.folders = append(g.folders[:i:i], g.folders[i+1:]...)
			break
		}
	}
	return nil
}

type fakePrompter struct {
	confirm  bool
	pick     func([]resource.Container) []resource.Container
	prompted []string
}

func (p *fakePrompter) Select(_ context.Context, candidates []resource.Container) ([]resource.Container, error) {
	if p.pick == nil {
		return candidates, nil
	}
	return p.pick(candidates), nil
}

func (p *fakePrompter) Confirm(_ context.Context, message string) (bool, error) {
	p.prompted = append(p.prompted, message)
	return p.confirm, nil
}

type fakeNotifier struct {
	summaries []notify.Summary
}

func (n *fakeNotifier) Notify(_ context.Context, s notify.Summary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

// countingStore counts state saves on top of a real file store.
type countingStore struct {
	*audit.FileStore
	saves int
}

func (s *countingStore) SaveState(ctx context.Context, state *audit.State) error {
	s.saves++
	return s.FileStore.SaveState(ctx, state)
}

type harness struct {
	gw       *fakeGateway
	store    *countingStore
	dir      string
	prompter *fakePrompter
	notifier *fakeNotifier
	orch     *Orchestrator
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	dir := t.TempDir()
	fs, err := audit.NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		gw:       gw,
		store:    &countingStore{FileStore: fs},
		dir:      dir,
		prompter: &fakePrompter{confirm: true},
		notifier: &fakeNotifier{},
	}
	h.orch = New(Deps{
		Gateway:      gw,
		Resolver:     folders.NewResolver(gw, folders.Options{}),
		Dependencies: dependency.NewEngine(gw, dependency.Options{Concurrency: 2}),
		Protection:   protection.DefaultRules(),
		Store:        h.store,
		Prompter:     h.prompter,
		Notifier:     h.notifier,
		Logger:       zap.NewNop(),
	})
	h.orch.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, opts Options) (*Report, error) {
	t.Helper()
	report, err := h.orch.Run(ctx, opts)
	require.NotNil(t, report)
	assert.Equal(t, ExitCodeFor(err), report.ExitCode)
	return report, err
}

func candidateKeys(cs []resource.Container) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.CustomerKey)
	}
	return out
}

func TestPartialFailureIsIsolated(t *testing.T) {
	gw := newFakeGateway()
	gw.failDelete["K05"] = errors.New("500 internal server error")
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", AssumeYes: true})
	require.Error(t, err)

	assert.Equal(t, ExitFailure, report.ExitCode)
	assert.Equal(t, audit.Totals{Succeeded: 9, Failed: 1}, report.Totals)
	assert.Len(t, report.Outcomes, 10)
	assert.Len(t, gw.deleted, 9)
	assert.Equal(t, "K10", gw.deleted[8], "loop must continue past the failure")

	state, err := h.store.LoadState(context.Background(), report.OperationID)
	require.NoError(t, err, "state is kept when anything failed")
	assert.Empty(t, state.Remaining)

	require.NotNil(t, report.Record)
	assert.Equal(t, ExitFailure, report.Record.ExitCode)
	require.Len(t, h.notifier.summaries, 1)
	assert.Equal(t, 1, h.notifier.summaries[0].Results.Failed)

	_, err = os.Stat(filepath.Join(h.dir, "artifacts", report.OperationID+"-undo.json"))
	assert.NoError(t, err)
}

func TestSuccessfulRunClearsState(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old"})
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, report.ExitCode)
	assert.Len(t, gw.deleted, 10)
	assert.Len(t, h.prompter.prompted, 1)

	_, err = h.store.LoadState(context.Background(), report.OperationID)
	assert.ErrorIs(t, err, audit.ErrStateNotFound)

	require.NotNil(t, report.Record)
	assert.Equal(t, 10, report.Record.Counts.Discovered)
	assert.Equal(t, []string{"EmailAddress"}, report.Candidates[0].PIIFields)
}

func TestDryRunIsIdempotentAndNeverDeletes(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)
	opts := Options{FolderPath: "Data Extensions/Old", DryRun: true, Recursive: true}

	first, err := h.run(t, context.Background(), opts)
	require.NoError(t, err)
	second, err := h.run(t, context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, candidateKeys(first.Candidates), candidateKeys(second.Candidates))
	assert.Len(t, first.Candidates, 10)
	assert.Empty(t, gw.deleted)
	assert.Empty(t, gw.deletedFolders)
	assert.Nil(t, first.Record)
	assert.Empty(t, h.prompter.prompted)
}

func TestDryRunCountsAsRun(t *testing.T) {
	h := newHarness(t, newFakeGateway())
	m := metrics.New()
	h.orch.deps.Metrics = m

	_, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", DryRun: true})
	require.NoError(t, err)

	expected := `
# HELP sfclean_runs_total Total number of cleanup runs by exit code
# TYPE sfclean_runs_total counter
sfclean_runs_total{exit_code="0"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "sfclean_runs_total"))
}

func TestTargetNotFoundSuggests(t *testing.T) {
	h := newHarness(t, newFakeGateway())

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Ol", AssumeYes: true})
	var resErr *folders.ResolutionError
	require.ErrorAs(t, err, &resErr)

	assert.Equal(t, ExitAborted, report.ExitCode)
	assert.Equal(t, []folders.Suggestion{{Name: "Old", Path: "Data Extensions/Old"}}, report.Suggestions)
	assert.Empty(t, h.gw.deleted)
}

func TestProtectedCandidatesAbort(t *testing.T) {
	gw := newFakeGateway()
	gw.des["2"] = append(gw.des["2"], sfmce.DataExtension{ID: "sys", Key: "KSYS", Name: "_Sendlog"})
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", AssumeYes: true})
	var safety *SafetyViolation
	require.ErrorAs(t, err, &safety)
	assert.Equal(t, "--skip-protected", safety.Flag)
	assert.Equal(t, ExitAborted, report.ExitCode)
	assert.Empty(t, gw.deleted)
}

func TestProtectedCandidatesSkipped(t *testing.T) {
	gw := newFakeGateway()
	gw.des["2"] = append(gw.des["2"], sfmce.DataExtension{ID: "sys", Key: "KSYS", Name: "_Sendlog"})
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", AssumeYes: true, SkipProtected: true})
	require.NoError(t, err)

	assert.NotContains(t, gw.deleted, "KSYS")
	assert.NotContains(t, candidateKeys(report.Candidates), "KSYS")
	assert.Equal(t, 1, report.Totals.Skipped)
	var skipped *audit.Outcome
	for i := range report.Outcomes {
		if report.Outcomes[i].Item.ID == "KSYS" {
			skipped = &report.Outcomes[i]
		}
	}
	require.NotNil(t, skipped)
	assert.Equal(t, audit.StatusSkipped, skipped.Status)
	assert.Equal(t, `protected: name starts with protected prefix "_"`, skipped.Error)
}

func TestDependenciesBlockUnlessForced(t *testing.T) {
	gw := newFakeGateway()
	gw.dependents["K03"] = []sfmce.Dependent{{Type: "QueryActivity", ID: "q1", Name: "Nightly"}}
	h := newHarness(t, gw)

	_, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", AssumeYes: true})
	var safety *SafetyViolation
	require.ErrorAs(t, err, &safety)
	assert.Equal(t, "--force", safety.Flag)
	assert.Equal(t, "K03", safety.Items[0].ID)
	assert.Empty(t, gw.deleted)

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", AssumeYes: true, Force: true})
	require.NoError(t, err)
	assert.Len(t, gw.deleted, 10)
	assert.Equal(t, 1, report.Counts.WithDependencies)
}

func TestDeclinedConfirmationAborts(t *testing.T) {
	h := newHarness(t, newFakeGateway())
	h.prompter.confirm = false

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old"})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, ExitAborted, report.ExitCode)
	assert.Empty(t, h.gw.deleted)
	require.NotNil(t, report.Record)
	assert.Equal(t, ExitAborted, report.Record.ExitCode)
}

func TestUnsafePatternRejectedBeforeNetwork(t *testing.T) {
	h := newHarness(t, newFakeGateway())

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", Include: []string{"(a+)+"}, AssumeYes: true})
	var patErr *patterns.ValidationError
	require.ErrorAs(t, err, &patErr)
	assert.Equal(t, ExitAborted, report.ExitCode)
	assert.Zero(t, h.gw.pingCalls)
	assert.Nil(t, report.Record)
}

func TestFilters(t *testing.T) {
	gw := newFakeGateway()
	gw.des["2"][0].ModifiedDate = sfmce.APITime{Time: time.Now()}
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{
		FolderPath: "Data Extensions/Old",
		DryRun:     true,
		OlderThan:  30 * 24 * time.Hour,
		Exclude:    []string{"_10$"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"K02", "K03", "K04", "K05", "K06", "K07", "K08", "K09"}, candidateKeys(report.Candidates))
	assert.Equal(t, 10, report.Counts.Discovered)
	assert.Equal(t, 8, report.Counts.Filtered)
}

func TestAgeFilterNeverTreatsUndatedAsOld(t *testing.T) {
	gw := newFakeGateway()
	gw.des["2"][0].ModifiedDate = sfmce.APITime{}
	gw.des["2"][0].CreatedDate = sfmce.APITime{Time: time.Now()}
	gw.des["2"][1].ModifiedDate = sfmce.APITime{}
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{
		FolderPath: "Data Extensions/Old",
		AssumeYes:  true,
		OlderThan:  30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.NotContains(t, gw.deleted, "K01", "created recently and never modified")
	assert.NotContains(t, gw.deleted, "K02", "no date at all")
	assert.Len(t, gw.deleted, 8)

	var skipped []string
	for _, o := range report.Outcomes {
		if o.Status == audit.StatusSkipped {
			skipped = append(skipped, o.Item.ID+": "+o.Error)
		}
	}
	assert.Equal(t, []string{"K02: unknown modified date"}, skipped)
}

func TestInteractiveSelection(t *testing.T) {
	h := newHarness(t, newFakeGateway())
	h.prompter.pick = func(cs []resource.Container) []resource.Container { return cs[:2] }

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", Interactive: true, AssumeYes: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"K01", "K02"}, h.gw.deleted)
	assert.Equal(t, audit.Totals{Succeeded: 2, Skipped: 8}, report.Totals)
}

func TestBatchCheckpoints(t *testing.T) {
	h := newHarness(t, newFakeGateway())

	_, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", AssumeYes: true, BatchSize: 3})
	require.NoError(t, err)
	// One save before the first delete, then after deletes 3, 6 and 9.
	assert.Equal(t, 4, h.store.saves)
}

func TestCancellationPersistsStateAndResumes(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.onDelete = func(string) {
		if len(gw.deleted) == 3 {
			cancel()
		}
	}

	report, err := h.run(t, ctx, Options{FolderPath: "Data Extensions/Old", AssumeYes: true, BatchSize: 100})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, ExitAborted, report.ExitCode)
	assert.Len(t, gw.deleted, 3)

	state, err := h.store.LoadState(context.Background(), report.OperationID)
	require.NoError(t, err)
	assert.Len(t, state.Processed, 3)
	assert.Len(t, state.Remaining, 7)
	assert.Equal(t, "Data Extensions/Old", state.TargetFolderPath)

	gw.onDelete = nil
	resumed, err := h.run(t, context.Background(), Options{ResumeID: report.OperationID, AssumeYes: true})
	require.NoError(t, err)
	assert.Equal(t, report.OperationID, resumed.OperationID)
	assert.Len(t, gw.deleted, 10)
	assert.Equal(t, 10, resumed.Totals.Succeeded, "earlier outcomes are carried forward")

	_, err = h.store.LoadState(context.Background(), report.OperationID)
	assert.ErrorIs(t, err, audit.ErrStateNotFound)
}

func TestResumeRestrictsToRemaining(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)
	require.NoError(t, h.store.SaveState(context.Background(), &audit.State{
		OperationID:      "op-prev",
		TargetFolderPath: "Data Extensions/Old",
		Processed: []audit.Outcome{
			{Item: resource.Item{Kind: resource.KindDataExtension, ID: "K01"}, Status: audit.StatusFailure, Error: "500"},
		},
		Remaining: []resource.Item{{Kind: resource.KindDataExtension, ID: "K02", Name: "DE_02"}},
	}))

	report, err := h.run(t, context.Background(), Options{ResumeID: "op-prev", AssumeYes: true})
	require.Error(t, err, "the carried-forward failure still fails the operation")
	assert.Equal(t, ExitFailure, report.ExitCode)
	assert.Equal(t, []string{"K02"}, gw.deleted)
}

func TestResumeUnknownOperation(t *testing.T) {
	h := newHarness(t, newFakeGateway())
	report, err := h.run(t, context.Background(), Options{ResumeID: "nope", AssumeYes: true})
	assert.ErrorIs(t, err, audit.ErrStateNotFound)
	assert.Equal(t, ExitAborted, report.ExitCode)
}

func TestDeleteFoldersDeepestFirst(t *testing.T) {
	gw := newFakeGateway()
	gw.des["3"] = []sfmce.DataExtension{{ID: "id-11", Key: "K11", Name: "DE_11"}}
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", AssumeYes: true, DeleteFolders: true})
	require.NoError(t, err)

	assert.Len(t, gw.deleted, 11)
	assert.Equal(t, []string{"3", "2"}, gw.deletedFolders)
	assert.Equal(t, 2, report.Counts.Folders)

	// The cache was invalidated, so the next lookup refetches and no longer
	// sees the deleted folder.
	listsBefore := gw.listCalls
	report, err = h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", DryRun: true})
	var resErr *folders.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, listsBefore+1, gw.listCalls)
	assert.Equal(t, ExitAborted, report.ExitCode)
}

func TestDeleteFoldersKeepsNonEmptyAncestors(t *testing.T) {
	gw := newFakeGateway()
	gw.des["3"] = []sfmce.DataExtension{{ID: "id-11", Key: "K11", Name: "Keep_me"}}
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{
		FolderPath:    "Data Extensions/Old",
		AssumeYes:     true,
		DeleteFolders: true,
		Exclude:       []string{"^keep"},
	})
	require.NoError(t, err)
	assert.NotContains(t, gw.deleted, "K11")
	assert.Empty(t, gw.deletedFolders, "Archive holds a kept item, so neither it nor Old can go")
	assert.Equal(t, 2, report.Totals.Skipped)
}

func TestFolderDeletesSkippedAfterContainerFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.failDelete["K01"] = errors.New("500")
	h := newHarness(t, gw)

	report, err := h.run(t, context.Background(), Options{FolderPath: "Data Extensions/Old", AssumeYes: true, DeleteFolders: true})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, report.ExitCode)
	assert.Empty(t, gw.deletedFolders)
	assert.Equal(t, 2, report.Totals.Skipped)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeFor(nil))
	assert.Equal(t, ExitAborted, ExitCodeFor(&folders.ResolutionError{Path: "x"}))
	assert.Equal(t, ExitAborted, ExitCodeFor(fmt.Errorf("wrapped: %w", &SafetyViolation{})))
	assert.Equal(t, ExitAborted, ExitCodeFor(ErrCancelled))
	assert.Equal(t, ExitFailure, ExitCodeFor(errors.New("boom")))
}
