package ingest

import (
	"context"
	"log/slog"

	"github.com/apple/foundationdb/bindings/go/src/fdb"

	"github.com/mistio/tsfdb-server/config"
	"github.com/mistio/tsfdb-server/internal/errors"
	"github.com/mistio/tsfdb-server/internal/logging"
	"github.com/mistio/tsfdb-server/internal/queue"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// Writer commits parsed write batches to the storage layer.
type Writer struct {
	layer *tsdb.Layer
	cfg   *config.Config
	log   *slog.Logger
}

// NewWriter creates a batch writer over the storage layer.
func NewWriter(layer *tsdb.Layer, cfg *config.Config) *Writer {
	return &Writer{
		layer: layer,
		cfg:   cfg,
		log:   logging.Component("ingest"),
	}
}

// newMetric is a catalog registration produced by a batch write.
type newMetric struct {
	resource, metric, metricType string
}

// WriteBatch parses and writes one batch in a single substrate transaction:
// the raw second-resolution point plus the atomic rollup mutations for every
// enabled coarser resolution. Retries happen at the transaction boundary
// only, so the atomic mutations are applied exactly once per commit.
// Catalog registrations run in a second transaction afterwards.
func (w *Writer) WriteBatch(ctx context.Context, org, data string) error {
	points, err := ParseBatch(data)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	// Resolve every directory in its own committed transaction up front.
	// The write transaction below then hits the handle cache and stages no
	// directory metadata that a conflict retry would discard.
	warmed := make(map[string]struct{})
	for _, p := range points {
		if _, ok := warmed[p.Resource]; ok {
			continue
		}
		warmed[p.Resource] = struct{}{}
		for _, res := range tsdb.AllResolutions() {
			if _, err := w.layer.Dirs().Datapoints(w.layer.DB(), org, p.Resource, res.String()); err != nil {
				return errors.FromSubstrate(err, "open datapoints dir")
			}
		}
	}

	var registrations []newMetric
	_, err = w.layer.DB().Transact(func(tr fdb.Transaction) (interface{}, error) {
		// The closure may rerun on conflict; start clean.
		registrations = registrations[:0]
		seen := make(map[string]struct{})

		for _, p := range points {
			dir, err := w.layer.Dirs().Datapoints(tr, org, p.Resource, tsdb.Second.String())
			if err != nil {
				return nil, err
			}
			wasNew, err := w.layer.WriteDatapoint(tr, dir, p.Resource, p.Metric, p.Time, p.Value)
			if err != nil {
				return nil, err
			}
			if !wasNew {
				continue
			}

			if _, ok := seen[p.Resource+"\x00"+p.Metric]; !ok {
				seen[p.Resource+"\x00"+p.Metric] = struct{}{}
				registrations = append(registrations, newMetric{
					resource:   p.Resource,
					metric:     p.Metric,
					metricType: tsdb.TypeName(p.Value),
				})
			}

			for _, res := range tsdb.AggregateResolutions() {
				aggDir, err := w.layer.Dirs().Datapoints(tr, org, p.Resource, res.String())
				if err != nil {
					return nil, err
				}
				w.layer.WriteAggregated(tr, aggDir, p.Resource, p.Metric, p.Time, p.Value, res)
			}
		}
		return nil, nil
	})
	if err != nil {
		return errors.FromSubstrate(err, "write batch")
	}

	return w.registerMetrics(org, registrations)
}

func (w *Writer) registerMetrics(org string, registrations []newMetric) error {
	if len(registrations) == 0 {
		return nil
	}
	if _, err := w.layer.Dirs().Catalog(w.layer.DB(), org); err != nil {
		return errors.FromSubstrate(err, "open catalog dir")
	}
	_, err := w.layer.DB().Transact(func(tr fdb.Transaction) (interface{}, error) {
		for _, r := range registrations {
			if err := w.layer.AddMetric(tr, org, r.resource, r.metric, r.metricType); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return errors.FromSubstrate(err, "register metrics")
}

// Enqueue pushes a raw batch onto the ingest queue of its resource's shard
// instead of writing synchronously. The batch is validated just enough to
// find its routing resource; full parsing happens at drain time.
func (w *Writer) Enqueue(org, data string) error {
	resource, err := batchResource(data)
	if err != nil {
		return err
	}

	name := queue.ForResource(resource, w.cfg.QueueShards)
	if err := queue.New(name).Push(w.layer.DB(), org, data); err != nil {
		return err
	}
	w.log.Debug("pushed batch", "queue", name, "bytes", len(data))
	return nil
}
