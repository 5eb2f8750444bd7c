// Package dependency finds the platform objects that reference a data
// extension and judges whether removing it would break them.
package dependency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/natserract/sfclean/pkg/metrics"
	"github.com/natserract/sfclean/pkg/resource"
	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	DefaultConcurrency    = 5
	DefaultStaleAfterDays = 90
)

// Lister is the gateway call the engine needs.
type Lister interface {
	ListDependents(ctx context.Context, key string) ([]sfmce.Dependent, error)
}

// ProgressFunc receives (completed, total) after each lookup.
type ProgressFunc func(current, total int)

// Result is the dependency picture for one customer key. A lookup that
// failed has Err set and HasDependencies true: an unknown is never clear.
type Result struct {
	HasDependencies bool                     `json:"hasDependencies"`
	TotalCount      int                      `json:"totalCount"`
	All             []resource.DependencyRef `json:"all"`
	Err             error                    `json:"-"`
}

// Options configures an Engine.
type Options struct {
	Concurrency    int
	StaleAfterDays int
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// Engine runs dependency lookups with bounded parallelism.
type Engine struct {
	lister      Lister
	concurrency int
	staleAfter  time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewEngine builds an engine, filling zero options with defaults.
func NewEngine(lister Lister, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.StaleAfterDays <= 0 {
		opts.StaleAfterDays = DefaultStaleAfterDays
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		lister:      lister,
		concurrency: opts.Concurrency,
		staleAfter:  time.Duration(opts.StaleAfterDays) * 24 * time.Hour,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Check looks up dependents for every key. Individual failures are reported
// in the key's Result; the returned error is only set when ctx is done.
func (e *Engine) Check(ctx context.Context, keys []string, progress ProgressFunc) (map[string]Result, error) {
	unique := dedupe(keys)
	results := make([]Result, len(unique))

	var (
		mu   sync.Mutex
		done int
	)
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		if progress != nil {
			progress(done, len(unique))
		}
	}

	p := pool.New().WithMaxGoroutines(e.concurrency)
	for idx, key := range unique {
		i, key := idx, key
		p.Go(func() {
			defer report()
			results[i] = e.lookup(ctx, key)
		})
	}
	p.Wait()

	out := make(map[string]Result, len(unique))
	for i, key := range unique {
		out[key] = results[i]
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (e *Engine) lookup(ctx context.Context, key string) Result {
	if err := ctx.Err(); err != nil {
		return Result{HasDependencies: true, Err: err}
	}

	raw, err := e.lister.ListDependents(ctx, key)
	if err != nil {
		e.logger.Warn("Failed to list dependents",
			zap.String("customer_key", key),
			zap.Error(err))
		e.metrics.RecordDependencyLookup(err, true)
		return Result{HasDependencies: true, Err: fmt.Errorf("list dependents of %s: %w", key, err)}
	}

	refs := make([]resource.DependencyRef, 0, len(raw))
	for _, d := range raw {
		refs = append(refs, resource.DependencyFromAPI(d))
	}
	e.metrics.RecordDependencyLookup(nil, len(refs) > 0)
	return Result{HasDependencies: len(refs) > 0, TotalCount: len(refs), All: refs}
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Status is the deletability judgment for one container.
type Status string

const (
	StatusDeletable      Status = "deletable"
	StatusRequiresReview Status = "requires_review"
	StatusBlocked        Status = "blocked"
)

// Verdict explains a Status.
type Verdict struct {
	Status     Status                   `json:"status"`
	Reasons    []string                 `json:"reasons,omitempty"`
	ActiveRefs []resource.DependencyRef `json:"activeRefs,omitempty"`
}

// Statuses reported by the platform for objects that no longer run.
var orphanStatuses = map[string]bool{
	"inactive": true,
	"deleted":  true,
	"stopped":  true,
	"archived": true,
}

// IsOrphaned reports whether ref belongs to an object that no longer runs.
func IsOrphaned(ref resource.DependencyRef) bool {
	return orphanStatuses[strings.ToLower(strings.TrimSpace(ref.Status))]
}

// IsStale reports whether ref has been idle longer than the engine's
// threshold. A reference with no recorded activity is not stale.
func (e *Engine) IsStale(ref resource.DependencyRef, now time.Time) bool {
	if ref.LastActivity.IsZero() {
		return false
	}
	return now.Sub(ref.LastActivity) > e.staleAfter
}

// Classify judges c. Protected containers are blocked. Any active reference
// or a sendable relationship requires review. Otherwise c is deletable.
func (e *Engine) Classify(c resource.Container, refs []resource.DependencyRef, now time.Time) Verdict {
	if c.IsProtected {
		return Verdict{Status: StatusBlocked, Reasons: []string{"container is protected"}}
	}

	var v Verdict
	for _, ref := range refs {
		if IsOrphaned(ref) || e.IsStale(ref, now) {
			continue
		}
		v.ActiveRefs = append(v.ActiveRefs, ref)
	}
	if n := len(v.ActiveRefs); n > 0 {
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d active reference(s)", n))
	}
	if c.IsSendable {
		v.Reasons = append(v.Reasons, "used as a sendable audience")
	}

	if len(v.Reasons) > 0 {
		v.Status = StatusRequiresReview
	} else {
		v.Status = StatusDeletable
	}
	return v
}
