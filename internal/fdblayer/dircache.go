package fdblayer

import (
	"strings"
	"sync"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/directory"
)

// Root of the directory hierarchy all tenant data lives under.
const RootDir = "monitoring"

// ReservedMetricsDir is the per-org catalog entry. It is excluded from
// resource discovery.
const ReservedMetricsDir = "available_metrics"

// DirCache memoizes directory-layer handles so steady-state writes and reads
// skip the directory lookup round-trips. It is a pure performance
// optimization: entries may be evicted at any time and every handle can be
// recomputed from the substrate.
type DirCache struct {
	mu   sync.RWMutex
	dirs map[string]directory.DirectorySubspace
}

// NewDirCache creates an empty directory-handle cache.
func NewDirCache() *DirCache {
	return &DirCache{dirs: make(map[string]directory.DirectorySubspace)}
}

// Open returns the directory at path, creating it if needed.
//
// Handles are cached only when t commits on its own (a database handle).
// Inside a caller's open transaction the directory metadata staged by
// CreateOrOpen is discarded if that transaction is reset on conflict; a
// cached handle would suppress the CreateOrOpen re-execution the retry
// needs, committing data under a prefix the directory layer never recorded.
func (c *DirCache) Open(t fdb.Transactor, path ...string) (directory.DirectorySubspace, error) {
	key := strings.Join(path, "\x00")

	c.mu.RLock()
	dir, ok := c.dirs[key]
	c.mu.RUnlock()
	if ok {
		return dir, nil
	}

	dir, err := directory.CreateOrOpen(t, path, nil)
	if err != nil {
		return nil, err
	}

	if cacheable(t) {
		c.mu.Lock()
		c.dirs[key] = dir
		c.mu.Unlock()
	}
	return dir, nil
}

// cacheable reports whether a handle opened through t survives t: only a
// database transactor commits before Open returns.
func cacheable(t fdb.Transactor) bool {
	_, ok := t.(fdb.Database)
	return ok
}

// Evict drops every cached handle. Handles are lazily recomputed on the next
// Open.
func (c *DirCache) Evict() {
	c.mu.Lock()
	c.dirs = make(map[string]directory.DirectorySubspace)
	c.mu.Unlock()
}

// Datapoints returns the datapoints directory for one (org, resource,
// resolution).
func (c *DirCache) Datapoints(t fdb.Transactor, org, resource, resolution string) (directory.DirectorySubspace, error) {
	return c.Open(t, RootDir, org, resource, resolution)
}

// Catalog returns the per-org available-metrics directory.
func (c *DirCache) Catalog(t fdb.Transactor, org string) (directory.DirectorySubspace, error) {
	return c.Open(t, RootDir, org, ReservedMetricsDir)
}
