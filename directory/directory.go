// Package directory keeps the topology snapshot shared by check invocations.
// The snapshot is rebuilt at most once per age window by the process
// holding the rebuild lock, other processes go on without waiting.
package directory

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gwos/autodt/cache"
	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/flock"
	"github.com/gwos/autodt/transit"
	"github.com/rs/zerolog/log"
)

const (
	// FileName of persisted snapshot
	FileName = "auto_downtimes_cache.bin"
	// LockName of rebuild lock, placed next to the cache directory
	LockName = "auto_downtimes_cache.lock"

	magic = "ADTD"
)

// Inventory lists monitored objects
type Inventory interface {
	ListHosts(ctx context.Context) ([]transit.HostRecord, error)
	ListServices(ctx context.Context) ([]transit.ServiceRecord, error)
}

// FileInfo describes persisted snapshot
type FileInfo struct {
	ModTime time.Time
	Age     time.Duration
	Exists  bool
	Expired bool
}

// Cache loads and rebuilds snapshot
type Cache struct {
	Path        string
	LockPath    string
	MaxAge      time.Duration
	SettleDelay time.Duration
	Inventory   Inventory

	now func() time.Time
}

// New returns cache placed in dir,
// empty lockPath means LockName next to dir
func New(dir, lockPath string, maxAge, settleDelay time.Duration, inventory Inventory) *Cache {
	if lockPath == "" {
		lockPath = filepath.Join(filepath.Dir(filepath.Clean(dir)), LockName)
	}
	return &Cache{
		Path:        filepath.Join(dir, FileName),
		LockPath:    lockPath,
		MaxAge:      maxAge,
		SettleDelay: settleDelay,
		Inventory:   inventory,
	}
}

func (c *Cache) timeNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Stat returns persisted snapshot info, missing file is expired
func (c *Cache) Stat() FileInfo {
	mtime, err := cache.FileTime(c.Path)
	if err != nil {
		return FileInfo{Expired: true}
	}
	age := c.timeNow().Sub(mtime)
	return FileInfo{
		ModTime: mtime,
		Age:     age,
		Exists:  true,
		Expired: age >= c.MaxAge,
	}
}

// Load returns persisted snapshot if it isn't expired, otherwise rebuilds it.
// Returns ErrCacheUnavailable if rebuild can not be done.
func (c *Cache) Load(ctx context.Context) (*Snapshot, FileInfo, error) {
	info := c.Stat()
	if info.Exists && !info.Expired {
		var s Snapshot
		mtime, err := cache.ReadFile(c.Path, magic, &s)
		if err == nil {
			s.CapturedAt = mtime
			log.Debug().Str("path", c.Path).Dur("age", info.Age).Msg("directory cache loaded")
			return &s, info, nil
		}
		log.Warn().Err(err).Str("path", c.Path).Msg("could not load directory cache")
	} else {
		log.Debug().Str("path", c.Path).Bool("exists", info.Exists).Msg("directory cache expired")
	}

	s, ok, err := c.Rebuild(ctx)
	switch {
	case err != nil:
		return nil, info, fmt.Errorf("%w: %v", errors.ErrCacheUnavailable, err)
	case !ok:
		return nil, info, fmt.Errorf("%w: %v", errors.ErrCacheUnavailable, errors.ErrLocked)
	}
	return s, c.Stat(), nil
}

// Rebuild queries inventory and persists the snapshot under the lock.
// Returns false without error if the lock is held elsewhere.
func (c *Cache) Rebuild(ctx context.Context) (*Snapshot, bool, error) {
	lock, ok, err := flock.TryAcquire(c.LockPath)
	if err != nil || !ok {
		if !ok && err == nil {
			log.Info().Str("lock", c.LockPath).Msg("directory cache is being updated elsewhere")
		}
		return nil, false, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn().Err(err).Str("lock", c.LockPath).Msg("could not release lock")
		}
	}()

	log.Debug().Str("path", c.Path).Msg("updating directory cache")
	hosts, err := c.Inventory.ListHosts(ctx)
	if err != nil {
		return nil, false, err
	}
	services, err := c.Inventory.ListServices(ctx)
	if err != nil {
		return nil, false, err
	}
	s := NewSnapshot(hosts, services, c.timeNow())

	/* let concurrently started processes finish reading the previous file */
	if c.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(c.SettleDelay):
		}
	}
	if err := cache.WriteFile(c.Path, magic, s); err != nil {
		return nil, false, err
	}
	log.Info().Str("path", c.Path).
		Int("hosts", len(hosts)).Int("services", len(services)).
		Msg("directory cache updated")
	return s, true, nil
}
