// Package metrics exports internal gauges - queue depths, active metric
// counts - in Prometheus exposition format. Values are read from the
// substrate at scrape time; nothing is accumulated in process.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mistio/tsfdb-server/internal/logging"
	"github.com/mistio/tsfdb-server/internal/queue"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// Collector implements prometheus.Collector over the substrate's state.
type Collector struct {
	db     fdb.Database
	layer  *tsdb.Layer
	window time.Duration
	log    *slog.Logger

	queueItems    *prometheus.Desc
	queueCount    *prometheus.Desc
	activeMetrics *prometheus.Desc
}

// NewCollector creates a collector. window is the active-metric window.
func NewCollector(db fdb.Database, layer *tsdb.Layer, window time.Duration) *Collector {
	return &Collector{
		db:     db,
		layer:  layer,
		window: window,
		log:    logging.Component("metrics"),
		queueItems: prometheus.NewDesc("tsfdb_queue_items",
			"Entries currently buffered in one ingest queue.", []string{"queue"}, nil),
		queueCount: prometheus.NewDesc("tsfdb_queue_count",
			"Number of ingest queues registered as available.", nil, nil),
		activeMetrics: prometheus.NewDesc("tsfdb_active_metrics",
			"Catalog metrics written within the active-metric window.", []string{"org"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueItems
	ch <- c.queueCount
	ch <- c.activeMetrics
}

// Collect implements prometheus.Collector. Scrape failures are logged and
// produce a partial exposition rather than an error page.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	names, err := queue.ListAvailable(c.db)
	if err != nil {
		c.log.Error("list queues", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.queueCount, prometheus.GaugeValue, float64(len(names)))
		for _, name := range names {
			n, err := queue.New(name).Count(c.db)
			if err != nil {
				c.log.Error("count queue", "queue", name, "error", err)
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.queueItems, prometheus.GaugeValue, float64(n), name)
		}
	}

	orgs, err := c.layer.FindOrgs()
	if err != nil {
		c.log.Error("list orgs", "error", err)
		return
	}
	for _, org := range orgs {
		active, err := c.layer.CountActiveMetrics(org, c.window)
		if err != nil {
			c.log.Error("count active metrics", "org", org, "error", err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.activeMetrics, prometheus.GaugeValue, float64(active), org)
	}
}

// Handler returns an HTTP handler serving the exposition.
func (c *Collector) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
