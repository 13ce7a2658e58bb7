// Package tsdb implements the time-series storage layer: the ordered key
// codec, inline rollup aggregation, the metric/resource catalog, and the
// query engine with fallback-resolution gap fill.
//
// All state lives in the substrate; the layer itself holds only
// configuration, a logger, and an evictable directory-handle cache.
package tsdb

import (
	"log/slog"

	"github.com/apple/foundationdb/bindings/go/src/fdb"

	"github.com/mistio/tsfdb-server/config"
	"github.com/mistio/tsfdb-server/internal/fdblayer"
	"github.com/mistio/tsfdb-server/internal/logging"
)

// Layer provides the storage and query operations over one database.
type Layer struct {
	db   fdb.Database
	dirs *fdblayer.DirCache
	cfg  *config.Config
	log  *slog.Logger
}

// NewLayer creates a storage layer over db. The directory cache is injected
// so daemons sharing a process share handles.
func NewLayer(db fdb.Database, dirs *fdblayer.DirCache, cfg *config.Config) *Layer {
	if dirs == nil {
		dirs = fdblayer.NewDirCache()
	}
	return &Layer{
		db:   db,
		dirs: dirs,
		cfg:  cfg,
		log:  logging.Component("tsdb"),
	}
}

// DB returns the underlying database handle.
func (l *Layer) DB() fdb.Database { return l.db }

// Dirs returns the directory-handle cache.
func (l *Layer) Dirs() *fdblayer.DirCache { return l.dirs }

func (l *Layer) aggregateEnabled(r Resolution) bool {
	switch r {
	case Minute:
		return l.cfg.AggregateMinute
	case Hour:
		return l.cfg.AggregateHour
	case Day:
		return l.cfg.AggregateDay
	default:
		return false
	}
}
