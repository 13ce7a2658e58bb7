package tsdb

import (
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
)

// Stat is one component of an aggregate record.
type Stat string

const (
	StatCount Stat = "count"
	StatSum   Stat = "sum"
	StatMin   Stat = "min"
	StatMax   Stat = "max"
)

// AllStats returns the aggregate record components, in storage order.
func AllStats() []Stat {
	return []Stat{StatCount, StatSum, StatMin, StatMax}
}

// KeyTuple builds the ordered key tuple for one datapoint at the given
// resolution: (resource, metric, year, month, day[, hour[, minute[,
// second]]]). Longer tuples are prefixes of shorter ones at finer
// resolutions, so a range bounded by a truncated tuple covers every finer
// key inside it. Keys sort lexicographically by time within a fixed
// (resource, metric) prefix.
func KeyTuple(resource, metric string, t time.Time, r Resolution) tuple.Tuple {
	t = t.UTC()
	key := tuple.Tuple{resource, metric,
		int64(t.Year()), int64(t.Month()), int64(t.Day())}
	if r == Day {
		return key
	}
	key = append(key, int64(t.Hour()))
	if r == Hour {
		return key
	}
	key = append(key, int64(t.Minute()))
	if r == Minute {
		return key
	}
	return append(key, int64(t.Second()))
}

// AggregateKeyTuple builds the key tuple for one stat of an aggregate
// record: (resource, metric, stat, year, month, day[, hour[, minute]]).
func AggregateKeyTuple(resource, metric string, stat Stat, t time.Time, r Resolution) tuple.Tuple {
	t = t.UTC()
	key := tuple.Tuple{resource, metric, string(stat),
		int64(t.Year()), int64(t.Month()), int64(t.Day())}
	if r == Day {
		return key
	}
	key = append(key, int64(t.Hour()))
	if r == Hour {
		return key
	}
	return append(key, int64(t.Minute()))
}

// keyTupleForStat builds either a plain or an aggregate key tuple. The empty
// stat selects the plain layout used at second resolution.
func keyTupleForStat(resource, metric string, stat Stat, t time.Time, r Resolution) tuple.Tuple {
	if stat == "" {
		return KeyTuple(resource, metric, t, r)
	}
	return AggregateKeyTuple(resource, metric, stat, t, r)
}

// RangeTuples returns the [start, stop] scan boundaries as key tuples. The
// substrate's range primitive is half-open, so the stop boundary is bumped
// by one resolution unit to realize an inclusive stop.
func RangeTuples(resource, metric string, stat Stat, start, stop time.Time, r Resolution) (tuple.Tuple, tuple.Tuple) {
	return keyTupleForStat(resource, metric, stat, start, r),
		keyTupleForStat(resource, metric, stat, stop.Add(r.Duration()), r)
}

// TimestampFromTuple decodes the trailing time components of a key tuple at
// the given resolution into an epoch-seconds timestamp. Malformed tuples are
// a caller contract violation; elements must be int64 as produced by
// KeyTuple.
func TimestampFromTuple(key tuple.Tuple, r Resolution) int64 {
	fields := []int{0, 1, 1, 0, 0, 0} // year, month, day, hour, minute, second
	n := 3
	switch r {
	case Second:
		n = 6
	case Minute:
		n = 5
	case Hour:
		n = 4
	}
	for i := 0; i < n; i++ {
		fields[i] = int(key[len(key)-n+i].(int64))
	}
	return time.Date(fields[0], time.Month(fields[1]), fields[2],
		fields[3], fields[4], fields[5], 0, time.UTC).Unix()
}

// SplitRange splits [start, stop] into consecutive sub-ranges covering at
// most limit buckets each at the given resolution, for bounded concurrent
// scans. Boundaries are bucket-aligned; sub-ranges are inclusive on both
// ends and disjoint.
func SplitRange(start, stop time.Time, r Resolution, limit int) [][2]time.Time {
	start = r.Truncate(start)
	stop = r.Truncate(stop)
	if stop.Before(start) {
		return nil
	}

	unit := r.Duration()
	span := time.Duration(limit) * unit

	var chunks [][2]time.Time
	for cur := start; !cur.After(stop); cur = cur.Add(span) {
		end := cur.Add(span - unit)
		if end.After(stop) {
			end = stop
		}
		chunks = append(chunks, [2]time.Time{cur, end})
	}
	return chunks
}
