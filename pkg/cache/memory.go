package cache

import (
	gocache "github.com/patrickmn/go-cache"
)

// Memory is a wrapper of transient storage for a go-cache store
type Memory struct {
	db *gocache.Cache
}

// NewMemory builds the in-process tier. Entries never expire on their own;
// freshness is decided by the caller and stale entries are replaced.
func NewMemory() *Memory {
	return &Memory{db: gocache.New(gocache.NoExpiration, -1)}
}

// Get returns the snapshot for (resourceType, tenant) if one is held.
func (m *Memory) Get(resourceType, tenant string) (*Snapshot, bool) {
	x, found := m.db.Get(cacheKey(resourceType, tenant))
	if !found {
		return nil, false
	}
	snap, ok := x.(*Snapshot)
	return snap, ok
}

// Set swaps in a new snapshot.
func (m *Memory) Set(resourceType, tenant string, snap *Snapshot) {
	m.db.Set(cacheKey(resourceType, tenant), snap, gocache.NoExpiration)
}

// Delete drops the snapshot and reports whether one was held.
func (m *Memory) Delete(resourceType, tenant string) bool {
	key := cacheKey(resourceType, tenant)
	_, found := m.db.Get(key)
	m.db.Delete(key)
	return found
}

// Info describes the held snapshot.
func (m *Memory) Info(resourceType, tenant string) Info {
	snap, _ := m.Get(resourceType, tenant)
	return infoFor(snap)
}
