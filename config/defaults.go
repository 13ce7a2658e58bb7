// Package config provides configuration defaults and utilities
// for the tsfdb server, consumer and retention daemons.
//
// This package defines all configurable parameters with documented defaults.
// Every value can be overridden through the environment (see FromEnv).
package config

import "time"

// =============================================================================
// Substrate Defaults
// =============================================================================

const (
	// DefaultTransactionRetryLimit is how many times the substrate retries a
	// conflicting or failed transaction before surfacing the error.
	// Override via env: TRANSACTION_RETRY_LIMIT
	DefaultTransactionRetryLimit = 3

	// DefaultTransactionTimeout bounds a single substrate transaction.
	// Every query scan and batch write runs under this timeout.
	// Override via env: TRANSACTION_TIMEOUT_MS
	DefaultTransactionTimeout = 5 * time.Second
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDatapointsPerRead limits how many datapoints a single range scan
	// may cover. Larger query ranges are split into chunks of this many
	// buckets and scanned concurrently.
	// Override via env: DATAPOINTS_PER_READ
	DefaultDatapointsPerRead = 300

	// DefaultSecondsRange is the widest query range answered at second
	// resolution.
	// Override via env: SECONDS_RANGE_HOURS
	DefaultSecondsRange = time.Hour

	// DefaultMinutesRange is the widest query range answered at minute
	// resolution.
	// Override via env: MINUTES_RANGE_HOURS
	DefaultMinutesRange = 48 * time.Hour

	// DefaultHoursRange is the widest query range answered at hour
	// resolution. Anything wider falls to day resolution.
	// Override via env: HOURS_RANGE_HOURS
	DefaultHoursRange = 1440 * time.Hour

	// DefaultActiveMetricWindow is how recently a metric must have been
	// written to count as active. Catalog timestamp refreshes are suppressed
	// for half this window to limit write amplification.
	// Override via env: ACTIVE_METRIC_MINUTES
	DefaultActiveMetricWindow = 60 * time.Minute
)

// =============================================================================
// Queue Defaults
// =============================================================================

const (
	// DefaultQueueShards is the number of ingest queues writes are sharded
	// over. Zero disables sharding: each resource gets its own queue.
	// Override via env: QUEUES
	DefaultQueueShards = 0

	// DefaultAcquireTimeout is how long a consumer lease stays valid without
	// a refresh. A lease older than this is repossessable by any consumer.
	// Override via env: ACQUIRE_TIMEOUT_SEC
	DefaultAcquireTimeout = 30 * time.Second

	// DefaultQueueRetryTimeout is how long a queue may sit empty and
	// unattended before the coordinator deletes it.
	// Override via env: QUEUE_RETRY_TIMEOUT_SEC
	DefaultQueueRetryTimeout = 60 * time.Second

	// DefaultConsumerPollInterval is the consumer sleep between drain passes
	// when no queue produced data.
	// Override via env: CONSUMER_POLL_INTERVAL_SEC
	DefaultConsumerPollInterval = time.Second

	// DefaultMaxBatchBytes caps how many payload bytes a consumer hands to
	// the storage write path in one transaction.
	// Override via env: MAX_BATCH_BYTES
	DefaultMaxBatchBytes = 5000
)

// =============================================================================
// Server Defaults
// =============================================================================

const (
	// DefaultListenAddress is the HTTP API listen address.
	// Override via env: TSFDB_LISTEN
	DefaultListenAddress = ":8080"

	// DefaultRetentionInterval is the sleep between retention passes.
	// Override via env: RETENTION_INTERVAL_SEC
	DefaultRetentionInterval = 10 * time.Second
)
