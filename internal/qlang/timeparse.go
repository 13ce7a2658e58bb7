package qlang

import (
	"regexp"
	"strconv"
	"time"

	"github.com/mistio/tsfdb-server/internal/errors"
)

// defaultWindow is the query range used when both bounds are empty.
const defaultWindow = 10 * time.Minute

var relativeRe = regexp.MustCompile(`^-(\d+)(s|m|h|d|w|mo|y)$`)

var relativeUnits = map[string]time.Duration{
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"mo": 30 * 24 * time.Hour,
	"y":  365 * 24 * time.Hour,
}

// ParseTimeRange resolves the start/stop expressions of a fetch. Empty stop
// means now; empty start means ten minutes before stop. Both are rounded
// down to whole seconds.
func ParseTimeRange(startExpr, stopExpr string, now time.Time) (time.Time, time.Time, error) {
	stop, err := parseTimeExpr(stopExpr, now, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, err := parseTimeExpr(startExpr, now, stop.Add(-defaultWindow))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start.Truncate(time.Second), stop.Truncate(time.Second), nil
}

// parseTimeExpr parses one time expression: empty (the default), a relative
// offset like "-10m" or "-2y", an RFC 3339 timestamp, or epoch seconds.
func parseTimeExpr(expr string, now, def time.Time) (time.Time, error) {
	if expr == "" {
		return def, nil
	}

	if m := relativeRe.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, errors.BadRequestf("time expression %q", expr)
		}
		return now.Add(-time.Duration(n) * relativeUnits[m[2]]), nil
	}

	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}

	if secs, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}

	return time.Time{}, errors.BadRequestf("unparseable time expression %q", expr)
}
