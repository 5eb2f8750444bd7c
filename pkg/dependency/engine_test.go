package dependency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/natserract/sfclean/pkg/resource"
	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	calls    atomic.Int32
	deps     map[string][]sfmce.Dependent
	fail     map[string]error
}

func (f *fakeLister) ListDependents(ctx context.Context, key string) ([]sfmce.Dependent, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return f.deps[key], nil
}

func TestCheckBoundsConcurrencyAndReportsProgress(t *testing.T) {
	lister := &fakeLister{deps: map[string][]sfmce.Dependent{
		"K1": {{Type: "QueryActivity", ID: "q1", Name: "Load"}},
	}}
	e := NewEngine(lister, Options{Concurrency: 3})

	keys := []string{"K1", "K2", "K3", "K4", "K5", "K6", "K7", "K8", "K1"}
	var (
		mu    sync.Mutex
		ticks []int
		total int
	)
	results, err := e.Check(context.Background(), keys, func(cur, tot int) {
		mu.Lock()
		defer mu.Unlock()
		ticks = append(ticks, cur)
		total = tot
	})
	require.NoError(t, err)

	assert.Len(t, results, 8)
	assert.Equal(t, int32(8), lister.calls.Load(), "duplicate keys are looked up once")
	assert.LessOrEqual(t, lister.peak, 3)
	assert.Equal(t, 8, total)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, ticks)

	assert.True(t, results["K1"].HasDependencies)
	assert.Equal(t, 1, results["K1"].TotalCount)
	assert.Equal(t, "q1", results["K1"].All[0].Identifier)
	assert.False(t, results["K2"].HasDependencies)
}

func TestCheckTreatsLookupFailureAsDependent(t *testing.T) {
	lister := &fakeLister{fail: map[string]error{"K1": errors.New("429 too many requests")}}
	e := NewEngine(lister, Options{})

	results, err := e.Check(context.Background(), []string{"K1", "K2"}, nil)
	require.NoError(t, err)
	assert.True(t, results["K1"].HasDependencies)
	assert.Error(t, results["K1"].Err)
	assert.NoError(t, results["K2"].Err)
}

func TestCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(&fakeLister{}, Options{}).Check(ctx, []string{"K1"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e := NewEngine(&fakeLister{}, Options{StaleAfterDays: 30})

	recent := resource.DependencyRef{Type: "QueryActivity", Name: "Daily", LastActivity: now.AddDate(0, 0, -2)}
	stale := resource.DependencyRef{Type: "QueryActivity", Name: "Old", LastActivity: now.AddDate(0, 0, -200)}
	orphan := resource.DependencyRef{Type: "JourneyEntryEvent", Name: "Gone", Status: "Stopped", LastActivity: now}
	unknown := resource.DependencyRef{Type: "FilterActivity", Name: "Never ran"}

	tests := []struct {
		name      string
		container resource.Container
		refs      []resource.DependencyRef
		want      Status
	}{
		{name: "no references", container: resource.Container{}, want: StatusDeletable},
		{name: "only stale and orphaned", refs: []resource.DependencyRef{stale, orphan}, want: StatusDeletable},
		{name: "one active among stale", refs: []resource.DependencyRef{stale, recent}, want: StatusRequiresReview},
		{name: "unknown activity counts as active", refs: []resource.DependencyRef{unknown}, want: StatusRequiresReview},
		{name: "sendable", container: resource.Container{IsSendable: true}, want: StatusRequiresReview},
		{name: "protected", container: resource.Container{IsProtected: true}, refs: []resource.DependencyRef{stale}, want: StatusBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Classify(tt.container, tt.refs, now)
			assert.Equal(t, tt.want, v.Status)
			if tt.want != StatusDeletable {
				assert.NotEmpty(t, v.Reasons)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	lister := &fakeLister{
		deps: map[string][]sfmce.Dependent{
			"ACTIVE": {{Type: "QueryActivity", ID: "q1", Status: "Active", LastRunDate: sfmce.APITime{Time: time.Now()}}},
		},
		fail: map[string]error{"BROKEN": errors.New("timeout")},
	}
	e := NewEngine(lister, Options{})

	containers := []resource.Container{
		{CustomerKey: "CLEAR", Name: "Clear"},
		{CustomerKey: "ACTIVE", Name: "Active"},
		{CustomerKey: "BROKEN", Name: "Broken"},
	}
	got, err := e.Analyze(context.Background(), containers, time.Now(), nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, StatusDeletable, got[0].Verdict.Status)
	assert.Equal(t, StatusRequiresReview, got[1].Verdict.Status)
	assert.Equal(t, StatusRequiresReview, got[2].Verdict.Status)
	assert.Equal(t, map[Status]int{StatusDeletable: 1, StatusRequiresReview: 2}, Tally(got))
}
