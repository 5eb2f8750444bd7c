// Package folders resolves human-supplied folder paths against the account's
// category tree. The tree is fetched once per tenant and kept in a two-tier
// cache; concurrent fetches for the same tenant share one remote call.
package folders

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/natserract/sfclean/pkg/cache"
	"github.com/natserract/sfclean/pkg/metrics"
	"github.com/natserract/sfclean/pkg/resource"
	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long an on-disk snapshot is trusted.
const DefaultTTL = 24 * time.Hour

// Lister is the gateway call the resolver needs.
type Lister interface {
	ListFolders(ctx context.Context, filter sfmce.FolderFilter) ([]sfmce.Folder, error)
}

// ResolutionError reports a path or name that matched no folder.
type ResolutionError struct {
	Path        string
	Suggestions []Suggestion
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("folder %q not found", e.Path)
}

// Options configures a Resolver.
type Options struct {
	// Disk is the persistent tier. Nil keeps snapshots in memory only.
	Disk cache.Persistence
	// TTL bounds the age of a disk snapshot. Zero means DefaultTTL.
	TTL     time.Duration
	Filter  sfmce.FolderFilter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Resolver owns the folder cache for any number of tenants.
type Resolver struct {
	lister  Lister
	filter  sfmce.FolderFilter
	memory  *cache.Memory
	disk    cache.Persistence
	ttl     time.Duration
	flights singleflight.Group
	metrics *metrics.Metrics

	mu sync.Mutex
	// generations is bumped by Invalidate so a fetch that started earlier
	// does not write its stale tree back.
	generations map[string]uint64

	logger *zap.Logger
	now    func() time.Time
}

// NewResolver builds a resolver with its own memory tier.
func NewResolver(lister Lister, opts Options) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		lister:  lister,
		filter:  opts.Filter,
		memory:  cache.NewMemory(),
		disk:    opts.Disk,
		ttl:     opts.TTL,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     time.Now,

		generations: map[string]uint64{},
	}
}

func (r *Resolver) generation(tenant string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[tenant]
}

// LoadTree returns the folder forest for tenant. Unless force is set, the
// memory tier is tried first, then a disk snapshot younger than the TTL.
// Otherwise the tree is fetched remotely; callers arriving while a fetch is
// in flight wait for that fetch instead of starting another.
func (r *Resolver) LoadTree(ctx context.Context, tenant string, force bool) (*Tree, error) {
	if !force {
		if snap, ok := r.memory.Get(cache.ResourceFolders, tenant); ok {
			r.metrics.RecordTreeLoad(metrics.SourceMemory)
			return NewTree(snap.Data), nil
		}
		if snap := r.readDisk(tenant); snap != nil {
			r.memory.Set(cache.ResourceFolders, tenant, snap)
			r.metrics.RecordTreeLoad(metrics.SourceDisk)
			return NewTree(snap.Data), nil
		}
	}

	// The fetch outlives any single caller so one cancelled caller does not
	// fail the others sharing the flight. singleflight drops the key once the
	// call returns, errors included, so a failed fetch is retried next time.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(tenant, func() (interface{}, error) {
		return r.fetch(fetchCtx, tenant, force)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return NewTree(res.Val.(*cache.Snapshot).Data), nil
	}
}

func (r *Resolver) fetch(ctx context.Context, tenant string, force bool) (*cache.Snapshot, error) {
	// A flight that just finished may already have filled memory.
	if !force {
		if snap, ok := r.memory.Get(cache.ResourceFolders, tenant); ok {
			return snap, nil
		}
	}

	gen := r.generation(tenant)
	start := r.now()
	raw, err := r.lister.ListFolders(ctx, r.filter)
	if err != nil {
		r.logger.Error("Failed to fetch folder tree", zap.String("tenant", tenant), zap.Error(err))
		return nil, fmt.Errorf("fetch folder tree: %w", err)
	}

	snap := cache.NewSnapshot(resource.NodesFromFolders(raw), r.now())
	r.metrics.RecordTreeLoad(metrics.SourceRemote)
	if r.generation(tenant) != gen {
		r.logger.Debug("Folder cache invalidated during fetch, not caching result", zap.String("tenant", tenant))
		return snap, nil
	}
	r.memory.Set(cache.ResourceFolders, tenant, snap)
	if r.disk != nil {
		if err := r.disk.Write(cache.ResourceFolders, tenant, snap); err != nil {
			r.logger.Warn("Failed to persist folder tree", zap.String("tenant", tenant), zap.Error(err))
		}
	}

	r.logger.Info("Successfully fetched folder tree",
		zap.String("tenant", tenant),
		zap.Int("folder_count", snap.ItemCount),
		zap.Duration("duration", r.now().Sub(start)))
	return snap, nil
}

func (r *Resolver) readDisk(tenant string) *cache.Snapshot {
	if r.disk == nil {
		return nil
	}
	snap, err := r.disk.Read(cache.ResourceFolders, tenant)
	if err != nil {
		r.logger.Warn("Failed to read folder cache", zap.String("tenant", tenant), zap.Error(err))
		return nil
	}
	if snap == nil {
		return nil
	}
	if age := snap.Age(r.now()); age >= r.ttl {
		r.logger.Debug("Folder cache expired", zap.String("tenant", tenant), zap.Duration("age", age))
		return nil
	}
	return snap
}

// ResolveByPath loads the tree and resolves path. A miss returns a
// *ResolutionError carrying suggestions for the last path segment.
func (r *Resolver) ResolveByPath(ctx context.Context, tenant, folderPath string) (resource.Node, *Tree, error) {
	tree, err := r.LoadTree(ctx, tenant, false)
	if err != nil {
		return resource.Node{}, nil, err
	}
	if node, ok := tree.ResolvePath(folderPath); ok {
		return node, tree, nil
	}
	return resource.Node{}, tree, &ResolutionError{
		Path:        folderPath,
		Suggestions: tree.SuggestSimilar(path.Base(path.Clean("/"+folderPath)), DefaultSuggestionLimit),
	}
}

// ResolveByName loads the tree and returns the first folder named name.
func (r *Resolver) ResolveByName(ctx context.Context, tenant, name string) (resource.Node, error) {
	tree, err := r.LoadTree(ctx, tenant, false)
	if err != nil {
		return resource.Node{}, err
	}
	if node, ok := tree.ResolveByName(name); ok {
		return node, nil
	}
	return resource.Node{}, &ResolutionError{
		Path:        name,
		Suggestions: tree.SuggestSimilar(name, DefaultSuggestionLimit),
	}
}

// Invalidate drops both cache tiers for tenant. It must be called after any
// folder is deleted so later lookups do not see it.
func (r *Resolver) Invalidate(tenant string) error {
	r.mu.Lock()
	r.generations[tenant]++
	r.mu.Unlock()
	// Later callers must not join a flight that started before the change.
	r.flights.Forget(tenant)

	r.memory.Delete(cache.ResourceFolders, tenant)
	if r.disk == nil {
		return nil
	}
	if _, err := r.disk.Clear(cache.ResourceFolders, tenant); err != nil {
		return fmt.Errorf("invalidate folder cache: %w", err)
	}
	return nil
}

// Info describes the cached snapshot for tenant, preferring the disk tier.
func (r *Resolver) Info(tenant string) (cache.Info, error) {
	if r.disk != nil {
		info, err := r.disk.Info(cache.ResourceFolders, tenant)
		if err != nil || info.Exists {
			return info, err
		}
	}
	return r.memory.Info(cache.ResourceFolders, tenant), nil
}
