// Package cache stores snapshots of the remote folder tree in two tiers: an
// in-process map and a bbolt file that survives between runs. Snapshots are
// addressed by resource type and tenant and are never mutated after being
// written; a refresh writes a new snapshot in place of the old one.
package cache

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/natserract/sfclean/pkg/resource"
)

// ResourceFolders is the resource type under which folder trees are stored.
const ResourceFolders = "folders"

// Snapshot is an immutable copy of a tenant's folder forest.
type Snapshot struct {
	Data      []resource.Node `json:"data"`
	CachedAt  time.Time       `json:"cachedAt"`
	ItemCount int             `json:"itemCount"`
}

// NewSnapshot copies nodes into a snapshot stamped with cachedAt.
func NewSnapshot(nodes []resource.Node, cachedAt time.Time) *Snapshot {
	data := make([]resource.Node, len(nodes))
	copy(data, nodes)
	return &Snapshot{Data: data, CachedAt: cachedAt, ItemCount: len(data)}
}

// Age returns how old the snapshot is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CachedAt)
}

// Info describes a stored snapshot without returning its data.
type Info struct {
	Exists    bool      `json:"exists"`
	CachedAt  time.Time `json:"cachedAt,omitempty"`
	Age       string    `json:"age,omitempty"`
	ItemCount int       `json:"itemCount"`
}

func infoFor(s *Snapshot) Info {
	if s == nil {
		return Info{}
	}
	return Info{
		Exists:    true,
		CachedAt:  s.CachedAt,
		Age:       humanize.Time(s.CachedAt),
		ItemCount: s.ItemCount,
	}
}

func cacheKey(resourceType, tenant string) string {
	return resourceType + "/" + tenant
}

// Persistence is the on-disk tier.
type Persistence interface {
	Read(resourceType, tenant string) (*Snapshot, error)
	Write(resourceType, tenant string, snap *Snapshot) error
	Clear(resourceType, tenant string) (bool, error)
	Info(resourceType, tenant string) (Info, error)
}
