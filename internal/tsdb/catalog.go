package tsdb

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/directory"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"

	"github.com/mistio/tsfdb-server/internal/errors"
	"github.com/mistio/tsfdb-server/internal/fdblayer"
)

// FindMetrics returns the catalog entries for one resource: metric name to
// declared type and last-write time.
func (l *Layer) FindMetrics(org, resource string) (map[string]Metric, error) {
	catalog, err := l.dirs.Catalog(l.db, org)
	if err != nil {
		return nil, errors.FromSubstrate(err, "FindMetrics open catalog")
	}

	out, err := l.db.ReadTransact(func(rt fdb.ReadTransaction) (interface{}, error) {
		pr, err := fdb.PrefixRange(catalog.Pack(tuple.Tuple{resource}))
		if err != nil {
			return nil, err
		}
		kvs, err := rt.GetRange(pr, fdb.RangeOptions{Mode: fdb.StreamingModeWantAll}).GetSliceWithError()
		if err != nil {
			return nil, err
		}

		metrics := make(map[string]Metric, len(kvs))
		for _, kv := range kvs {
			key, err := catalog.Unpack(kv.Key)
			if err != nil || len(key) < 2 {
				continue
			}
			name, ok := key[1].(string)
			if !ok {
				continue
			}
			metrics[name] = decodeMetric(kv.Value)
		}
		return metrics, nil
	})
	if err != nil {
		return nil, errors.FromSubstrate(err, "FindMetrics")
	}
	return out.(map[string]Metric), nil
}

// metricType reads one catalog entry inside an open transaction. A nil
// return with nil error means the metric is not registered.
func metricType(rt fdb.ReadTransaction, catalog directory.DirectorySubspace,
	resource, metric string) (*Metric, error) {

	raw, err := rt.Get(catalog.Pack(tuple.Tuple{resource, metric})).Get()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	m := decodeMetric(raw)
	return &m, nil
}

func decodeMetric(raw []byte) Metric {
	var m Metric
	values, err := tuple.Unpack(raw)
	if err != nil || len(values) == 0 {
		return m
	}
	if s, ok := values[0].(string); ok {
		m.Type = s
	}
	if len(values) > 1 {
		if ts, ok := values[1].(int64); ok {
			m.LastUpdated = ts
		}
	}
	return m
}

// AddMetric registers a metric in the catalog inside tr. The entry is
// created at most once; the declared type is immutable afterwards. An
// existing entry only has its timestamp refreshed when it is staler than
// half the active-metric window, which amortizes catalog writes under
// steady ingestion.
func (l *Layer) AddMetric(tr fdb.Transaction, org, resource, metric, metricType string) error {
	catalog, err := l.dirs.Catalog(tr, org)
	if err != nil {
		return err
	}

	key := catalog.Pack(tuple.Tuple{resource, metric})
	raw, err := tr.Get(key).Get()
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if raw == nil {
		tr.Set(key, tuple.Tuple{metricType, now}.Pack())
		return nil
	}

	existing := decodeMetric(raw)
	if now-existing.LastUpdated > int64(l.cfg.ActiveMetricWindow.Seconds())/2 {
		tr.Set(key, tuple.Tuple{existing.Type, now}.Pack())
	}
	return nil
}

// FindResources lists the organization's resources matching pattern. The
// reserved catalog entry is excluded; an externally-authorized allow-list is
// unioned in when provided. Pattern "*" matches unconditionally, anything
// else is matched as an anchored regular expression.
func (l *Layer) FindResources(org, pattern string, authorized []string) ([]string, error) {
	children, err := directory.Root().List(l.db, []string{fdblayer.RootDir, org})
	if err != nil {
		if isMissingDirectory(err) {
			return nil, errors.NotFoundf("org %q has no resources", org)
		}
		return nil, errors.FromSubstrate(err, "FindResources list")
	}

	set := make(map[string]struct{}, len(children))
	for _, r := range children {
		if r == fdblayer.ReservedMetricsDir {
			continue
		}
		set[r] = struct{}{}
	}
	for _, r := range authorized {
		set[r] = struct{}{}
	}

	resources := make([]string, 0, len(set))
	if pattern == "*" {
		for r := range set {
			resources = append(resources, r)
		}
	} else {
		re, err := regexp.Compile("^" + pattern + "$")
		if err != nil {
			return nil, errors.BadRequestf("invalid resource pattern %q", pattern)
		}
		for r := range set {
			if re.MatchString(r) {
				resources = append(resources, r)
			}
		}
	}
	sort.Strings(resources)
	return resources, nil
}

// FindOrgs lists all known organizations.
func (l *Layer) FindOrgs() ([]string, error) {
	orgs, err := directory.Root().List(l.db, []string{fdblayer.RootDir})
	if err != nil {
		if isMissingDirectory(err) {
			return nil, nil
		}
		return nil, errors.FromSubstrate(err, "FindOrgs")
	}
	return orgs, nil
}

// CountActiveMetrics counts catalog entries written within the window.
func (l *Layer) CountActiveMetrics(org string, window time.Duration) (int, error) {
	catalog, err := l.dirs.Catalog(l.db, org)
	if err != nil {
		return 0, errors.FromSubstrate(err, "CountActiveMetrics open catalog")
	}

	n, err := l.db.ReadTransact(func(rt fdb.ReadTransaction) (interface{}, error) {
		kvs, err := rt.GetRange(catalog, fdb.RangeOptions{Mode: fdb.StreamingModeWantAll}).GetSliceWithError()
		if err != nil {
			return 0, err
		}
		now := time.Now().Unix()
		active := 0
		for _, kv := range kvs {
			m := decodeMetric(kv.Value)
			if now-m.LastUpdated <= int64(window.Seconds()) {
				active++
			}
		}
		return active, nil
	})
	if err != nil {
		return 0, errors.FromSubstrate(err, "CountActiveMetrics")
	}
	return n.(int), nil
}

// isMissingDirectory detects the directory layer's missing-path error, which
// is an expected empty case rather than infrastructure trouble.
func isMissingDirectory(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not exist")
}
