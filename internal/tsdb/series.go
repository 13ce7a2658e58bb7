package tsdb

import (
	"fmt"
	"strconv"
)

// floatScale is the fixed-point factor float values are multiplied by before
// aggregation and divided by on read. Counts are never rescaled.
const floatScale = 1000

// Datapoint is one (value, timestamp) pair. Timestamps are epoch seconds.
type Datapoint struct {
	Value     float64
	Timestamp int64
}

// MarshalJSON encodes the datapoint as a [value, timestamp] pair, the wire
// shape query responses use.
func (d Datapoint) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%s,%d]",
		strconv.FormatFloat(d.Value, 'g', -1, 64), d.Timestamp)), nil
}

// Series is an ordered sequence of datapoints for one (resource, metric).
type Series []Datapoint

// SeriesSet maps "resource.metric" keys to value series. It is the unit the
// query operators work on.
type SeriesSet map[string]Series

// StatSeries carries the value series of one metric together with the
// aggregate stat series exposed alongside it. Stats are nil at second
// resolution, where datapoints are stored raw.
type StatSeries struct {
	Values Series
	Stats  map[Stat]Series
}

// Metric is one catalog entry: the declared value type and the last write
// time in epoch seconds.
type Metric struct {
	Type        string `json:"type"`
	LastUpdated int64  `json:"last_updated"`
}

// IsFloat reports whether values of this metric carry the fixed-point scale.
func (m Metric) IsFloat() bool { return m.Type == "float" }

// divideSeries produces a value series by dividing sums by counts at
// matching timestamps. Timestamps present in only one of the inputs are
// dropped, not assumed zero: an unmatched sum or count means the other
// atomic mutation of the pair has not been read in this snapshot.
func divideSeries(sums, counts Series) Series {
	byTS := make(map[int64]float64, len(counts))
	for _, c := range counts {
		byTS[c.Timestamp] = c.Value
	}

	out := make(Series, 0, len(sums))
	for _, s := range sums {
		count, ok := byTS[s.Timestamp]
		if !ok || count == 0 {
			continue
		}
		out = append(out, Datapoint{Value: s.Value / count, Timestamp: s.Timestamp})
	}
	return out
}

// rescale divides every value by the fixed-point factor.
func rescale(s Series) Series {
	for i := range s {
		s[i].Value /= floatScale
	}
	return s
}

// prepend returns head followed by tail. Used to stitch a fallback-resolution
// segment ahead of the primary series; both inputs are already ordered and
// cover disjoint time ranges.
func prepend(head, tail Series) Series {
	if len(head) == 0 {
		return tail
	}
	out := make(Series, 0, len(head)+len(tail))
	out = append(out, head...)
	return append(out, tail...)
}
