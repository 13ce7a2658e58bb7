package tsdb

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/directory"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"golang.org/x/sync/errgroup"

	"github.com/mistio/tsfdb-server/internal/errors"
)

// AutoResolution selects the resolution from the query range and enables the
// fallback gap-fill pass.
const AutoResolution Resolution = -1

// literalNameRe matches names that are taken literally rather than as
// anchored regular expressions.
var literalNameRe = regexp.MustCompile(`^[a-zA-Z0-9.]+$`)

// IsPattern reports whether a resource or metric selector needs regex
// expansion.
func IsPattern(s string) bool {
	return !literalNameRe.MatchString(s)
}

// FindDatapoints returns the series for one (resource, metric) over
// [start, stop]. With AutoResolution the primary resolution is derived from
// the range and gaps at its head are filled from the next coarser
// resolution. An unregistered metric is a not-found condition, not a hard
// error.
func (l *Layer) FindDatapoints(ctx context.Context, org, resource, metric string,
	start, stop time.Time, res Resolution) (*StatSeries, error) {

	if stop.Before(start) {
		return nil, errors.BadRequestf("inverted time range: start %s after stop %s",
			start.Format(time.RFC3339), stop.Format(time.RFC3339))
	}

	auto := res == AutoResolution
	if auto {
		res = ResolutionForRange(stop.Sub(start), l.cfg)
	}

	mType, err := l.lookupMetric(org, resource, metric)
	if err != nil {
		return nil, err
	}

	out, err := l.scanSeries(ctx, org, resource, metric, *mType, start, stop, res)
	if err != nil {
		return nil, err
	}

	if auto {
		if err := l.fillFromFallback(ctx, org, resource, metric, *mType, start, stop, res, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *Layer) lookupMetric(org, resource, metric string) (*Metric, error) {
	catalog, err := l.dirs.Catalog(l.db, org)
	if err != nil {
		return nil, errors.FromSubstrate(err, "FindDatapoints open catalog")
	}
	m, err := l.db.ReadTransact(func(rt fdb.ReadTransaction) (interface{}, error) {
		return metricType(rt, catalog, resource, metric)
	})
	if err != nil {
		return nil, errors.FromSubstrate(err, "FindDatapoints catalog lookup")
	}
	mType, _ := m.(*Metric)
	if mType == nil {
		return nil, errors.NotFoundf("metric %q for resource %q", metric, resource)
	}
	return mType, nil
}

// fillFromFallback prepends data from the next coarser resolution when the
// primary series starts after the requested start, or replaces it entirely
// when the primary resolution holds no data at all. This answers long-tail
// historical queries whose fine-resolution data has been compacted away.
func (l *Layer) fillFromFallback(ctx context.Context, org, resource, metric string,
	mType Metric, start, stop time.Time, res Resolution, primary *StatSeries) error {

	fb := res.Next()
	if fb == res {
		return nil
	}

	fbStop := stop
	if len(primary.Values) > 0 {
		earliest := time.Unix(primary.Values[0].Timestamp, 0).UTC()
		if !earliest.After(start) {
			return nil
		}
		fbStop = earliest.Add(-fb.Duration())
		if fbStop.Before(start) {
			return nil
		}
	}

	head, err := l.scanSeries(ctx, org, resource, metric, mType, start, fbStop, fb)
	if err != nil {
		return err
	}

	primary.Values = prepend(head.Values, primary.Values)
	if head.Stats != nil {
		if primary.Stats == nil {
			primary.Stats = head.Stats
		} else {
			for stat, s := range head.Stats {
				primary.Stats[stat] = prepend(s, primary.Stats[stat])
			}
		}
	}
	return nil
}

// scanSeries reads one metric's series at one resolution. Aggregated
// resolutions read all four stat sub-ranges concurrently and divide sums by
// counts at matching timestamps to produce the value series.
func (l *Layer) scanSeries(ctx context.Context, org, resource, metric string,
	mType Metric, start, stop time.Time, res Resolution) (*StatSeries, error) {

	dir, err := l.dirs.Datapoints(l.db, org, resource, res.String())
	if err != nil {
		return nil, errors.FromSubstrate(err, "scan open datapoints dir")
	}

	if !res.IsAggregated() {
		values, err := l.scanStat(ctx, dir, resource, metric, "", start, stop, res)
		if err != nil {
			return nil, err
		}
		return &StatSeries{Values: values}, nil
	}

	byStat := make(map[Stat]Series, len(AllStats()))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, stat := range AllStats() {
		g.Go(func() error {
			s, err := l.scanStat(gctx, dir, resource, metric, stat, start, stop, res)
			if err != nil {
				return err
			}
			mu.Lock()
			byStat[stat] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &StatSeries{
		Values: divideSeries(byStat[StatSum], byStat[StatCount]),
		Stats: map[Stat]Series{
			StatCount: byStat[StatCount],
			StatMin:   byStat[StatMin],
			StatMax:   byStat[StatMax],
		},
	}
	if mType.IsFloat() {
		// Scale cancels nothing in sum/count division: sums carry it,
		// counts never do.
		rescale(out.Values)
		rescale(out.Stats[StatMin])
		rescale(out.Stats[StatMax])
	}
	return out, nil
}

// scanStat reads one stat sub-range, split into bounded chunks scanned
// concurrently and concatenated in timestamp order.
func (l *Layer) scanStat(ctx context.Context, dir directory.DirectorySubspace,
	resource, metric string, stat Stat, start, stop time.Time, res Resolution) (Series, error) {

	chunks := SplitRange(start, stop, res, l.cfg.DatapointsPerRead)
	results := make([]Series, len(chunks))

	g, _ := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			s, err := l.scanChunk(dir, resource, metric, stat, chunk[0], chunk[1], res)
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out Series
	for _, s := range results {
		out = append(out, s...)
	}
	return out, nil
}

func (l *Layer) scanChunk(dir directory.DirectorySubspace,
	resource, metric string, stat Stat, start, stop time.Time, res Resolution) (Series, error) {

	out, err := l.db.ReadTransact(func(rt fdb.ReadTransaction) (interface{}, error) {
		beginTuple, endTuple := RangeTuples(resource, metric, stat, start, stop, res)
		rng := fdb.KeyRange{Begin: dir.Pack(beginTuple), End: dir.Pack(endTuple)}
		kvs, err := rt.GetRange(rng, fdb.RangeOptions{Mode: fdb.StreamingModeWantAll}).GetSliceWithError()
		if err != nil {
			return nil, err
		}

		series := make(Series, 0, len(kvs))
		for _, kv := range kvs {
			key, err := dir.Unpack(kv.Key)
			if err != nil {
				continue
			}
			value, ok := decodeValue(kv.Value, stat)
			if !ok {
				continue
			}
			series = append(series, Datapoint{
				Value:     value,
				Timestamp: TimestampFromTuple(key, res),
			})
		}
		return series, nil
	})
	if err != nil {
		return nil, errors.FromSubstrate(err, "scan datapoints")
	}
	return out.(Series), nil
}

// decodeValue decodes a stored value: tuple-packed for raw datapoints,
// little-endian accumulator for aggregate stats.
func decodeValue(raw []byte, stat Stat) (float64, bool) {
	if stat != "" {
		return float64(unpackInt64(raw)), true
	}
	values, err := tuple.Unpack(raw)
	if err != nil || len(values) == 0 {
		return 0, false
	}
	switch v := values[0].(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// FetchList answers one query's fetch: every "resources.metrics" item is
// expanded (regex selectors against the catalog) and fanned out
// concurrently per (resource, metric) pair. Client-class failures on
// individual branches are tolerated while any branch succeeds; an
// infrastructure failure on any branch fails the whole query.
func (l *Layer) FetchList(ctx context.Context, org string, items []string,
	start, stop time.Time, authorized []string) (SeriesSet, error) {

	if stop.Before(start) {
		return nil, errors.BadRequestf("inverted time range: start %s after stop %s",
			start.Format(time.RFC3339), stop.Format(time.RFC3339))
	}

	data := make(SeriesSet)
	var mu sync.Mutex
	var softErrs []error

	recordSoft := func(err error) {
		mu.Lock()
		softErrs = append(softErrs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		g.Go(func() error {
			return l.fetchItem(gctx, org, item, start, stop, authorized, func(key string, s Series) {
				mu.Lock()
				data[key] = s
				mu.Unlock()
			}, recordSoft)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(softErrs) > 0 {
		if len(data) == 0 {
			// Every branch failed: surface the most informative error.
			return nil, mostInformative(softErrs)
		}
		partial := errors.PartialFailuref("%d of %d fetch branches failed",
			len(softErrs), len(items))
		l.log.Warn("partial query failure",
			"org", org, "error", partial, "last", softErrs[len(softErrs)-1])
	}
	return data, nil
}

func (l *Layer) fetchItem(ctx context.Context, org, item string,
	start, stop time.Time, authorized []string,
	emit func(string, Series), recordSoft func(error)) error {

	parts := strings.SplitN(item, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		soft := errors.BadRequestf("malformed fetch target %q, want resources.metrics", item)
		recordSoft(soft)
		return nil
	}
	resourceSel, metricSel := parts[0], parts[1]

	resources := []string{resourceSel}
	if IsPattern(resourceSel) {
		var err error
		resources, err = l.FindResources(org, resourceSel, authorized)
		if err != nil {
			if errors.IsClientError(err) {
				recordSoft(err)
				return nil
			}
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, resource := range resources {
		g.Go(func() error {
			metrics, err := l.expandMetrics(org, resource, metricSel)
			if err != nil {
				if errors.IsClientError(err) {
					recordSoft(err)
					return nil
				}
				return err
			}
			for _, metric := range metrics {
				ss, err := l.FindDatapoints(gctx, org, resource, metric, start, stop, AutoResolution)
				if err != nil {
					if errors.IsClientError(err) {
						recordSoft(err)
						continue
					}
					return err
				}
				emit(resource+"."+metric, ss.Values)
			}
			return nil
		})
	}
	return g.Wait()
}

// expandMetrics resolves a metric selector against the resource's catalog.
// A regex selector matching nothing is a bad request, matching the behavior
// callers rely on to catch typos in dashboards.
func (l *Layer) expandMetrics(org, resource, selector string) ([]string, error) {
	if !IsPattern(selector) {
		return []string{selector}, nil
	}

	all, err := l.FindMetrics(org, resource)
	if err != nil {
		return nil, err
	}

	var metrics []string
	if selector == "*" {
		for name := range all {
			metrics = append(metrics, name)
		}
	} else {
		re, err := regexp.Compile("^" + selector + "$")
		if err != nil {
			return nil, errors.BadRequestf("invalid metric pattern %q", selector)
		}
		for name := range all {
			if re.MatchString(name) {
				metrics = append(metrics, name)
			}
		}
	}
	if len(metrics) == 0 {
		return nil, errors.BadRequestf("no metrics for pattern %q on resource %q", selector, resource)
	}
	return metrics, nil
}

// mostInformative picks the error surfaced when every fan-out branch
// failed: bad requests beat not-found, later beats earlier.
func mostInformative(errs []error) error {
	pick := errs[len(errs)-1]
	for i := len(errs) - 1; i >= 0; i-- {
		if errors.IsBadRequest(errs[i]) {
			pick = errs[i]
			break
		}
	}
	return pick
}

// DeleteDatapoints clears a metric's key range at one resolution. Called by
// the retention engine; aggregated resolutions clear every stat sub-range.
func (l *Layer) DeleteDatapoints(org, resource, metric string, start, stop time.Time, res Resolution) error {
	dir, err := l.dirs.Datapoints(l.db, org, resource, res.String())
	if err != nil {
		return errors.FromSubstrate(err, "DeleteDatapoints open dir")
	}

	stats := []Stat{""}
	if res.IsAggregated() {
		stats = AllStats()
	}

	_, err = l.db.Transact(func(tr fdb.Transaction) (interface{}, error) {
		for _, stat := range stats {
			beginTuple, endTuple := RangeTuples(resource, metric, stat, start, stop, res)
			tr.ClearRange(fdb.KeyRange{Begin: dir.Pack(beginTuple), End: dir.Pack(endTuple)})
		}
		return nil, nil
	})
	return errors.FromSubstrate(err, "DeleteDatapoints")
}
