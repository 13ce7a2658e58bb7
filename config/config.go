package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration shared by the daemons.
type Config struct {
	// Substrate
	TransactionRetryLimit int
	TransactionTimeout    time.Duration

	// Storage
	DatapointsPerRead  int
	SecondsRange       time.Duration
	MinutesRange       time.Duration
	HoursRange         time.Duration
	ActiveMetricWindow time.Duration

	// Per-resolution aggregation toggles.
	AggregateMinute bool
	AggregateHour   bool
	AggregateDay    bool

	// CheckDuplicates enables strict duplicate-key checking on raw writes:
	// an existing key is never overwritten and conflicts are logged.
	CheckDuplicates bool

	// Queue
	QueueShards          int
	AcquireTimeout       time.Duration
	QueueRetryTimeout    time.Duration
	ConsumerPollInterval time.Duration
	MaxBatchBytes        int

	// PushToQueue routes writes through the ingest queue instead of the
	// synchronous storage write path.
	PushToQueue bool

	// Server
	ListenAddress     string
	RetentionInterval time.Duration
	RetentionRules    string
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		TransactionRetryLimit: DefaultTransactionRetryLimit,
		TransactionTimeout:    DefaultTransactionTimeout,
		DatapointsPerRead:     DefaultDatapointsPerRead,
		SecondsRange:          DefaultSecondsRange,
		MinutesRange:          DefaultMinutesRange,
		HoursRange:            DefaultHoursRange,
		ActiveMetricWindow:    DefaultActiveMetricWindow,
		AggregateMinute:       true,
		AggregateHour:         true,
		AggregateDay:          true,
		CheckDuplicates:       false,
		QueueShards:           DefaultQueueShards,
		AcquireTimeout:        DefaultAcquireTimeout,
		QueueRetryTimeout:     DefaultQueueRetryTimeout,
		ConsumerPollInterval:  DefaultConsumerPollInterval,
		MaxBatchBytes:         DefaultMaxBatchBytes,
		PushToQueue:           true,
		ListenAddress:         DefaultListenAddress,
		RetentionInterval:     DefaultRetentionInterval,
	}
}

// FromEnv returns a Config built from the defaults with environment
// overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	var err error

	intVar(&cfg.TransactionRetryLimit, "TRANSACTION_RETRY_LIMIT", &err)
	msVar(&cfg.TransactionTimeout, "TRANSACTION_TIMEOUT_MS", &err)
	intVar(&cfg.DatapointsPerRead, "DATAPOINTS_PER_READ", &err)
	hoursVar(&cfg.SecondsRange, "SECONDS_RANGE_HOURS", &err)
	hoursVar(&cfg.MinutesRange, "MINUTES_RANGE_HOURS", &err)
	hoursVar(&cfg.HoursRange, "HOURS_RANGE_HOURS", &err)
	minutesVar(&cfg.ActiveMetricWindow, "ACTIVE_METRIC_MINUTES", &err)
	boolVar(&cfg.AggregateMinute, "AGGREGATE_MINUTE", &err)
	boolVar(&cfg.AggregateHour, "AGGREGATE_HOUR", &err)
	boolVar(&cfg.AggregateDay, "AGGREGATE_DAY", &err)
	boolVar(&cfg.CheckDuplicates, "CHECK_DUPLICATES", &err)
	intVar(&cfg.QueueShards, "QUEUES", &err)
	secondsVar(&cfg.AcquireTimeout, "ACQUIRE_TIMEOUT_SEC", &err)
	secondsVar(&cfg.QueueRetryTimeout, "QUEUE_RETRY_TIMEOUT_SEC", &err)
	secondsVar(&cfg.ConsumerPollInterval, "CONSUMER_POLL_INTERVAL_SEC", &err)
	intVar(&cfg.MaxBatchBytes, "MAX_BATCH_BYTES", &err)
	boolVar(&cfg.PushToQueue, "PUSH_TO_QUEUE", &err)
	secondsVar(&cfg.RetentionInterval, "RETENTION_INTERVAL_SEC", &err)
	if v := os.Getenv("TSFDB_LISTEN"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("RETENTION_RULES"); v != "" {
		cfg.RetentionRules = v
	}

	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.DatapointsPerRead < 1 {
		return fmt.Errorf("DATAPOINTS_PER_READ must be positive, got %d", c.DatapointsPerRead)
	}
	if c.SecondsRange <= 0 || c.MinutesRange <= c.SecondsRange || c.HoursRange <= c.MinutesRange {
		return fmt.Errorf("resolution thresholds must be increasing: %v < %v < %v",
			c.SecondsRange, c.MinutesRange, c.HoursRange)
	}
	if c.QueueShards < 0 {
		return fmt.Errorf("QUEUES must not be negative, got %d", c.QueueShards)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("ACQUIRE_TIMEOUT_SEC must be positive, got %v", c.AcquireTimeout)
	}
	if c.MaxBatchBytes < 1 {
		return fmt.Errorf("MAX_BATCH_BYTES must be positive, got %d", c.MaxBatchBytes)
	}
	return nil
}

func intVar(dst *int, name string, err *error) {
	v := os.Getenv(name)
	if v == "" || *err != nil {
		return
	}
	n, e := strconv.Atoi(v)
	if e != nil {
		*err = fmt.Errorf("%s: %w", name, e)
		return
	}
	*dst = n
}

func boolVar(dst *bool, name string, err *error) {
	v := os.Getenv(name)
	if v == "" || *err != nil {
		return
	}
	b, e := strconv.ParseBool(v)
	if e != nil {
		*err = fmt.Errorf("%s: %w", name, e)
		return
	}
	*dst = b
}

func unitVar(dst *time.Duration, name string, unit time.Duration, err *error) {
	v := os.Getenv(name)
	if v == "" || *err != nil {
		return
	}
	n, e := strconv.Atoi(v)
	if e != nil {
		*err = fmt.Errorf("%s: %w", name, e)
		return
	}
	*dst = time.Duration(n) * unit
}

func msVar(dst *time.Duration, name string, err *error)      { unitVar(dst, name, time.Millisecond, err) }
func secondsVar(dst *time.Duration, name string, err *error) { unitVar(dst, name, time.Second, err) }
func minutesVar(dst *time.Duration, name string, err *error) { unitVar(dst, name, time.Minute, err) }
func hoursVar(dst *time.Duration, name string, err *error)   { unitVar(dst, name, time.Hour, err) }
