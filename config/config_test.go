package config

import (
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TRANSACTION_RETRY_LIMIT", "7")
	t.Setenv("TRANSACTION_TIMEOUT_MS", "2500")
	t.Setenv("SECONDS_RANGE_HOURS", "2")
	t.Setenv("ACTIVE_METRIC_MINUTES", "15")
	t.Setenv("QUEUES", "4")
	t.Setenv("CONSUMER_POLL_INTERVAL_SEC", "3")
	t.Setenv("RETENTION_INTERVAL_SEC", "20")
	t.Setenv("PUSH_TO_QUEUE", "false")
	t.Setenv("TSFDB_LISTEN", ":9090")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.TransactionRetryLimit != 7 {
		t.Errorf("TransactionRetryLimit = %d, want 7", cfg.TransactionRetryLimit)
	}
	if cfg.TransactionTimeout != 2500*time.Millisecond {
		t.Errorf("TransactionTimeout = %v, want 2.5s", cfg.TransactionTimeout)
	}
	if cfg.SecondsRange != 2*time.Hour {
		t.Errorf("SecondsRange = %v, want 2h", cfg.SecondsRange)
	}
	if cfg.ActiveMetricWindow != 15*time.Minute {
		t.Errorf("ActiveMetricWindow = %v, want 15m", cfg.ActiveMetricWindow)
	}
	if cfg.QueueShards != 4 {
		t.Errorf("QueueShards = %d, want 4", cfg.QueueShards)
	}
	if cfg.ConsumerPollInterval != 3*time.Second {
		t.Errorf("ConsumerPollInterval = %v, want 3s", cfg.ConsumerPollInterval)
	}
	if cfg.RetentionInterval != 20*time.Second {
		t.Errorf("RetentionInterval = %v, want 20s", cfg.RetentionInterval)
	}
	if cfg.PushToQueue {
		t.Error("PushToQueue = true, want false")
	}
	if cfg.ListenAddress != ":9090" {
		t.Errorf("ListenAddress = %q, want :9090", cfg.ListenAddress)
	}
}

func TestFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("DATAPOINTS_PER_READ", "many")

	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv accepted a non-numeric DATAPOINTS_PER_READ")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero datapoints per read", func(c *Config) { c.DatapointsPerRead = 0 }},
		{"minutes below seconds", func(c *Config) { c.MinutesRange = c.SecondsRange - time.Hour }},
		{"hours below minutes", func(c *Config) { c.HoursRange = c.MinutesRange - time.Hour }},
		{"negative shards", func(c *Config) { c.QueueShards = -1 }},
		{"zero acquire timeout", func(c *Config) { c.AcquireTimeout = 0 }},
		{"zero batch bytes", func(c *Config) { c.MaxBatchBytes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}
