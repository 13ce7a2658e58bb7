// Package fdblayer owns access to the FoundationDB substrate: opening the
// database with the configured transaction limits and caching directory
// handles.
package fdblayer

import (
	"sync"

	"github.com/apple/foundationdb/bindings/go/src/fdb"

	"github.com/mistio/tsfdb-server/config"
)

// API version pinned to the cluster protocol the deployment runs.
const apiVersion = 620

var apiOnce sync.Once

// Open opens the default cluster database and applies the configured
// transaction retry limit and timeout. Safe to call from multiple daemons;
// the API version is selected once per process.
func Open(cfg *config.Config) (fdb.Database, error) {
	apiOnce.Do(func() {
		fdb.MustAPIVersion(apiVersion)
	})

	db, err := fdb.OpenDefault()
	if err != nil {
		return fdb.Database{}, err
	}
	if err := db.Options().SetTransactionRetryLimit(int64(cfg.TransactionRetryLimit)); err != nil {
		return fdb.Database{}, err
	}
	if err := db.Options().SetTransactionTimeout(cfg.TransactionTimeout.Milliseconds()); err != nil {
		return fdb.Database{}, err
	}
	return db, nil
}
