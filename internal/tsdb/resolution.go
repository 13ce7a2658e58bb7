package tsdb

import (
	"fmt"
	"time"

	"github.com/mistio/tsfdb-server/config"
)

// Resolution is the granularity datapoints are stored and queried at.
type Resolution int

const (
	// Second stores raw datapoints exactly as written.
	Second Resolution = iota

	// Minute stores aggregate records per calendar minute.
	Minute

	// Hour stores aggregate records per calendar hour.
	Hour

	// Day stores aggregate records per calendar day.
	Day
)

// String returns the string representation of the resolution. It doubles as
// the directory name the resolution's data lives under.
func (r Resolution) String() string {
	switch r {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ParseResolution parses a string into a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "second":
		return Second, nil
	case "minute":
		return Minute, nil
	case "hour":
		return Hour, nil
	case "day":
		return Day, nil
	default:
		return Second, fmt.Errorf("unknown resolution: %s", s)
	}
}

// Duration returns the bucket duration for this resolution.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Second:
		return time.Second
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Truncate truncates a timestamp to the start of its bucket, in UTC.
func (r Resolution) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch r {
	case Second:
		return t.Truncate(time.Second)
	case Minute:
		return t.Truncate(time.Minute)
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Next returns the next coarser resolution. Day caps: it is its own
// fallback, meaning no gap-fill pass runs for day-resolution queries.
func (r Resolution) Next() Resolution {
	switch r {
	case Second:
		return Minute
	case Minute:
		return Hour
	case Hour:
		return Day
	default:
		return Day
	}
}

// IsAggregated returns true for resolutions stored as aggregate records
// rather than raw datapoints.
func (r Resolution) IsAggregated() bool {
	return r != Second
}

// AllResolutions returns every resolution, finest first.
func AllResolutions() []Resolution {
	return []Resolution{Second, Minute, Hour, Day}
}

// AggregateResolutions returns the resolutions maintained by inline rollup.
func AggregateResolutions() []Resolution {
	return []Resolution{Minute, Hour, Day}
}

// ResolutionForRange selects the resolution answering a query over the given
// elapsed range. Pure function of the range against the configured
// thresholds; granularity is non-decreasing as the range grows.
func ResolutionForRange(rng time.Duration, cfg *config.Config) Resolution {
	switch {
	case rng <= cfg.SecondsRange:
		return Second
	case rng <= cfg.MinutesRange:
		return Minute
	case rng <= cfg.HoursRange:
		return Hour
	default:
		return Day
	}
}
