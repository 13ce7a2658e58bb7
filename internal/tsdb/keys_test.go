package tsdb

import (
	"testing"
	"time"
)

func TestKeyTupleLength(t *testing.T) {
	ts := time.Date(2026, 3, 15, 14, 37, 42, 0, time.UTC)

	tests := []struct {
		r    Resolution
		want int
	}{
		{Second, 8}, // resource, metric, Y, M, D, h, m, s
		{Minute, 7},
		{Hour, 6},
		{Day, 5},
	}

	for _, tt := range tests {
		key := KeyTuple("r1", "cpu.user", ts, tt.r)
		if len(key) != tt.want {
			t.Errorf("KeyTuple(%v) length = %d, want %d", tt.r, len(key), tt.want)
		}
	}
}

func TestAggregateKeyTupleLength(t *testing.T) {
	ts := time.Date(2026, 3, 15, 14, 37, 0, 0, time.UTC)

	tests := []struct {
		r    Resolution
		want int
	}{
		{Minute, 8}, // resource, metric, stat, Y, M, D, h, m
		{Hour, 7},
		{Day, 6},
	}

	for _, tt := range tests {
		key := AggregateKeyTuple("r1", "cpu.user", StatSum, ts, tt.r)
		if len(key) != tt.want {
			t.Errorf("AggregateKeyTuple(%v) length = %d, want %d", tt.r, len(key), tt.want)
		}
		if key[2] != string(StatSum) {
			t.Errorf("AggregateKeyTuple(%v)[2] = %v, want %q", tt.r, key[2], StatSum)
		}
	}
}

func TestTimestampFromTupleRoundtrip(t *testing.T) {
	ts := time.Date(2026, 3, 15, 14, 37, 42, 0, time.UTC)

	tests := []struct {
		r    Resolution
		want time.Time
	}{
		{Second, ts},
		{Minute, time.Date(2026, 3, 15, 14, 37, 0, 0, time.UTC)},
		{Hour, time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)},
		{Day, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		key := KeyTuple("r1", "cpu.user", tt.r.Truncate(ts), tt.r)
		got := TimestampFromTuple(key, tt.r)
		if got != tt.want.Unix() {
			t.Errorf("%v roundtrip = %d, want %d", tt.r, got, tt.want.Unix())
		}
	}
}

func TestTimestampFromTupleAggregate(t *testing.T) {
	ts := time.Date(2026, 3, 15, 14, 37, 0, 0, time.UTC)
	key := AggregateKeyTuple("r1", "cpu.user", StatCount, ts, Minute)

	if got := TimestampFromTuple(key, Minute); got != ts.Unix() {
		t.Errorf("TimestampFromTuple = %d, want %d", got, ts.Unix())
	}
}

func TestRangeTuplesInclusiveStop(t *testing.T) {
	start := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	stop := time.Date(2026, 3, 15, 15, 0, 0, 0, time.UTC)

	_, end := RangeTuples("r1", "cpu.user", "", start, stop, Second)

	// The end boundary is one unit past stop, so stop itself is included
	// in the half-open scan.
	if got := TimestampFromTuple(end, Second); got != stop.Add(time.Second).Unix() {
		t.Errorf("range end = %d, want %d", got, stop.Add(time.Second).Unix())
	}
}

func TestSplitRange(t *testing.T) {
	start := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		stop    time.Time
		r       Resolution
		limit   int
		nChunks int
	}{
		{"exact fit", start.Add(299 * time.Second), Second, 300, 1},
		{"one over", start.Add(300 * time.Second), Second, 300, 2},
		{"single point", start, Second, 300, 1},
		{"minutes", start.Add(10 * time.Minute), Minute, 5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitRange(start, tt.stop, tt.r, tt.limit)
			if len(chunks) != tt.nChunks {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.nChunks)
			}

			unit := tt.r.Duration()
			for i, c := range chunks {
				if c[1].Before(c[0]) {
					t.Errorf("chunk %d inverted: %v .. %v", i, c[0], c[1])
				}
				if i > 0 && !c[0].Equal(chunks[i-1][1].Add(unit)) {
					t.Errorf("chunk %d not contiguous with previous", i)
				}
				if n := int(c[1].Sub(c[0])/unit) + 1; n > tt.limit {
					t.Errorf("chunk %d covers %d buckets, limit %d", i, n, tt.limit)
				}
			}
			if !chunks[0][0].Equal(start) {
				t.Errorf("first chunk starts at %v, want %v", chunks[0][0], start)
			}
			if last := chunks[len(chunks)-1][1]; !last.Equal(tt.r.Truncate(tt.stop)) {
				t.Errorf("last chunk ends at %v, want %v", last, tt.r.Truncate(tt.stop))
			}
		})
	}
}

func TestSplitRangeInverted(t *testing.T) {
	start := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	if chunks := SplitRange(start, start.Add(-time.Hour), Second, 300); chunks != nil {
		t.Errorf("inverted range produced %d chunks, want none", len(chunks))
	}
}
