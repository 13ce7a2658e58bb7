package tsdb

import (
	"encoding/binary"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/directory"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
)

// packInt64 encodes an int64 in the little-endian form the substrate's
// atomic add/min/max mutations operate on.
func packInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// unpackInt64 decodes a little-endian int64 accumulator value.
func unpackInt64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// scaledValue converts a raw value into the signed 64-bit form aggregate
// accumulators store. Floats are fixed-point scaled. The second return is
// false for value types aggregation does not support.
func scaledValue(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v * floatScale), true
	default:
		return 0, false
	}
}

// WriteDatapoint writes one raw second-resolution datapoint inside tr and
// reports whether the key was new. Under strict duplicate checking an
// existing key is left untouched: a differing value is logged as an error,
// an identical one as a warning. In the default mode the write overwrites
// unconditionally.
func (l *Layer) WriteDatapoint(tr fdb.Transaction, dir directory.DirectorySubspace,
	resource, metric string, t time.Time, value any) (bool, error) {

	key := dir.Pack(KeyTuple(resource, metric, t, Second))
	packed := tuple.Tuple{value}.Pack()

	if !l.cfg.CheckDuplicates {
		tr.Set(key, packed)
		return true, nil
	}

	existing, err := tr.Get(key).Get()
	if err != nil {
		return false, err
	}
	if existing == nil {
		tr.Set(key, packed)
		return true, nil
	}

	saved, err := tuple.Unpack(existing)
	if err != nil || len(saved) == 0 || saved[0] != value {
		l.log.Error("duplicate key with a different value",
			"resource", resource, "metric", metric, "timestamp", t.Unix())
	} else {
		l.log.Warn("duplicate key with the same value",
			"resource", resource, "metric", metric, "timestamp", t.Unix())
	}
	return false, nil
}

// WriteAggregated folds one datapoint into the aggregate record of its
// bucket at the given resolution: four atomic mutations (add count, add sum,
// min, max) that concurrent transactions never lose. Aggregation is
// best-effort enrichment: unsupported value types are skipped with a
// warning, never an error.
func (l *Layer) WriteAggregated(tr fdb.Transaction, dir directory.DirectorySubspace,
	resource, metric string, t time.Time, value any, r Resolution) {

	scaled, ok := scaledValue(value)
	if !ok {
		l.log.Warn("unsupported aggregation value type",
			"metric", metric, "type", TypeName(value))
		return
	}
	if !l.aggregateEnabled(r) {
		return
	}

	tr.Add(dir.Pack(AggregateKeyTuple(resource, metric, StatCount, t, r)), packInt64(1))
	tr.Add(dir.Pack(AggregateKeyTuple(resource, metric, StatSum, t, r)), packInt64(scaled))
	tr.Min(dir.Pack(AggregateKeyTuple(resource, metric, StatMin, t, r)), packInt64(scaled))
	tr.Max(dir.Pack(AggregateKeyTuple(resource, metric, StatMax, t, r)), packInt64(scaled))
}

// TypeName returns the catalog type name for a parsed field value.
func TypeName(v any) string {
	switch v.(type) {
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return "unknown"
	}
}
