package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const snapshotBucket = "snapshots"

// Persistent is a wrapper of persistent storage for a bolt.DB file
type Persistent struct {
	dbPath string
	db     *bolt.DB
	logger *zap.Logger
}

// OpenPersistent opens (creating if needed) the cache database at dbPath.
// bbolt holds an exclusive file lock, so a second process waits at most
// waitTime before giving up.
func OpenPersistent(dbPath string, waitTime time.Duration, logger *zap.Logger) (*Persistent, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("cache path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0o644, &bolt.Options{Timeout: waitTime})
	if err != nil {
		return nil, fmt.Errorf("failed to open a cache connection to %q: %w", dbPath, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	return &Persistent{dbPath: dbPath, db: db, logger: logger}, nil
}

// String will return a human friendly string for this DB (currently the dbPath)
func (p *Persistent) String() string {
	return "<Cache DB> " + p.dbPath
}

// Close releases the database file.
func (p *Persistent) Close() error {
	return p.db.Close()
}

// Read returns the stored snapshot or nil when none exists. A snapshot that
// cannot be decoded is treated as missing.
func (p *Persistent) Read(resourceType, tenant string) (*Snapshot, error) {
	var raw []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(snapshotBucket)).Get([]byte(cacheKey(resourceType, tenant))); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		p.logger.Warn("Discarding unreadable cache snapshot",
			zap.String("resource_type", resourceType),
			zap.String("tenant", tenant),
			zap.Error(err))
		return nil, nil
	}
	return &snap, nil
}

// Write replaces the stored snapshot in a single transaction.
func (p *Persistent) Write(resourceType, tenant string, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(snapshotBucket)).Put([]byte(cacheKey(resourceType, tenant)), payload)
	})
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	p.logger.Debug("Wrote cache snapshot",
		zap.String("resource_type", resourceType),
		zap.String("tenant", tenant),
		zap.Int("item_count", snap.ItemCount))
	return nil
}

// Clear removes the snapshot and reports whether one existed.
func (p *Persistent) Clear(resourceType, tenant string) (bool, error) {
	var existed bool
	err := p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(snapshotBucket))
		key := []byte(cacheKey(resourceType, tenant))
		existed = b.Get(key) != nil
		return b.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("clear cache: %w", err)
	}
	return existed, nil
}

// Info describes the stored snapshot.
func (p *Persistent) Info(resourceType, tenant string) (Info, error) {
	snap, err := p.Read(resourceType, tenant)
	if err != nil {
		return Info{}, err
	}
	return infoFor(snap), nil
}

var _ Persistence = (*Persistent)(nil)
