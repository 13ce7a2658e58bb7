// Package queue implements the distributed ingest queue: named, ordered,
// multi-producer/multi-consumer buffers stored in the substrate, plus the
// lease-based coordinator that drains them.
package queue

import (
	"strconv"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/subspace"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/mistio/tsfdb-server/internal/errors"
)

// Subspace prefixes. Items live under ("queue", name); the markers are flat
// per-name keys so listing available queues is one short scan.
var (
	itemsSpace    = subspace.Sub("queue")
	availSpace    = subspace.Sub("available_queues")
	activitySpace = subspace.Sub("queue_activity")
	leaseSpace    = subspace.Sub("queue_leases")
)

// Entry is one queued write batch.
type Entry struct {
	Org     string
	Payload string
}

// Queue is a named ordered buffer. Entries are keyed (monotonic index,
// random suffix): the suffix keeps concurrent pushes to the same logical
// position from colliding.
type Queue struct {
	name  string
	items subspace.Subspace
}

// New returns a handle on the named queue. No I/O happens until the first
// operation.
func New(name string) *Queue {
	return &Queue{name: name, items: itemsSpace.Sub(name)}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// ForResource names the queue a resource's writes are routed to: the
// resource identity hashed modulo the shard count, or the identity itself
// when sharding is disabled. One resource always lands in one queue, so its
// writes stay ordered.
func ForResource(resource string, shards int) string {
	if shards <= 0 {
		return resource
	}
	return "q" + strconv.FormatUint(xxhash.Sum64String(resource)%uint64(shards), 10)
}

// Push appends one entry and marks the queue available for consumers. The
// tail index is read through a snapshot so concurrent pushes do not
// serialize against each other; the random suffix disambiguates same-index
// writes.
func (q *Queue) Push(db fdb.Database, org, payload string) error {
	suffix := uuid.New()
	_, err := db.Transact(func(tr fdb.Transaction) (interface{}, error) {
		tail, err := q.lastIndex(tr)
		if err != nil {
			return nil, err
		}
		tr.Set(q.items.Pack(tuple.Tuple{tail + 1, suffix[:]}),
			tuple.Tuple{org, payload}.Pack())
		tr.Set(availSpace.Pack(tuple.Tuple{q.name}), []byte{})
		return nil, nil
	})
	return errors.FromSubstrate(err, "queue push")
}

// Pop removes and returns the head entry, or nil when the queue is empty.
// The activity marker is refreshed even on an empty result: idle detection
// measures consumer attendance, not queue non-emptiness.
func (q *Queue) Pop(db fdb.Database) (*Entry, error) {
	out, err := db.Transact(func(tr fdb.Transaction) (interface{}, error) {
		tr.Set(activitySpace.Pack(tuple.Tuple{q.name}),
			tuple.Tuple{time.Now().Unix()}.Pack())

		kvs, err := tr.GetRange(q.items, fdb.RangeOptions{Limit: 1}).GetSliceWithError()
		if err != nil {
			return nil, err
		}
		if len(kvs) == 0 {
			return nil, nil
		}
		tr.Clear(kvs[0].Key)

		values, err := tuple.Unpack(kvs[0].Value)
		if err != nil || len(values) < 2 {
			return nil, nil
		}
		org, _ := values[0].(string)
		payload, _ := values[1].(string)
		return &Entry{Org: org, Payload: payload}, nil
	})
	if err != nil {
		return nil, errors.FromSubstrate(err, "queue pop")
	}
	entry, _ := out.(*Entry)
	return entry, nil
}

// DeleteIfEmpty removes the queue's data, lease and markers if no entry
// remains, and reports whether deletion happened. Calling it on an
// already-deleted queue is a no-op returning false.
func (q *Queue) DeleteIfEmpty(db fdb.Database) (bool, error) {
	out, err := db.Transact(func(tr fdb.Transaction) (interface{}, error) {
		kvs, err := tr.GetRange(q.items, fdb.RangeOptions{Limit: 1}).GetSliceWithError()
		if err != nil {
			return false, err
		}
		if len(kvs) > 0 {
			return false, nil
		}
		avail, err := tr.Get(availSpace.Pack(tuple.Tuple{q.name})).Get()
		if err != nil {
			return false, err
		}
		if avail == nil {
			return false, nil
		}
		tr.ClearRange(q.items)
		tr.Clear(availSpace.Pack(tuple.Tuple{q.name}))
		tr.Clear(activitySpace.Pack(tuple.Tuple{q.name}))
		tr.Clear(leaseSpace.Pack(tuple.Tuple{q.name}))
		return true, nil
	})
	if err != nil {
		return false, errors.FromSubstrate(err, "queue delete")
	}
	return out.(bool), nil
}

// Count returns the number of queued entries. Used by the internal metrics
// exporter.
func (q *Queue) Count(db fdb.Database) (int, error) {
	out, err := db.ReadTransact(func(rt fdb.ReadTransaction) (interface{}, error) {
		kvs, err := rt.GetRange(q.items, fdb.RangeOptions{Mode: fdb.StreamingModeWantAll}).GetSliceWithError()
		if err != nil {
			return 0, err
		}
		return len(kvs), nil
	})
	if err != nil {
		return 0, errors.FromSubstrate(err, "queue count")
	}
	return out.(int), nil
}

// LastActivity returns the epoch-seconds timestamp of the last pop, or zero
// when no consumer has ever attended the queue.
func (q *Queue) LastActivity(db fdb.Database) (int64, error) {
	out, err := db.ReadTransact(func(rt fdb.ReadTransaction) (interface{}, error) {
		raw, err := rt.Get(activitySpace.Pack(tuple.Tuple{q.name})).Get()
		if err != nil {
			return int64(0), err
		}
		if raw == nil {
			return int64(0), nil
		}
		values, err := tuple.Unpack(raw)
		if err != nil || len(values) == 0 {
			return int64(0), nil
		}
		ts, _ := values[0].(int64)
		return ts, nil
	})
	if err != nil {
		return 0, errors.FromSubstrate(err, "queue last activity")
	}
	return out.(int64), nil
}

func (q *Queue) lastIndex(tr fdb.Transaction) (int64, error) {
	kvs, err := tr.Snapshot().GetRange(q.items,
		fdb.RangeOptions{Limit: 1, Reverse: true}).GetSliceWithError()
	if err != nil {
		return 0, err
	}
	if len(kvs) == 0 {
		return 0, nil
	}
	key, err := q.items.Unpack(kvs[0].Key)
	if err != nil || len(key) == 0 {
		return 0, err
	}
	idx, _ := key[0].(int64)
	return idx, nil
}

// ListAvailable returns the names of every queue registered as available. A
// queue stays listed until the coordinator explicitly deletes it; writers
// never garbage-collect.
func ListAvailable(db fdb.Database) ([]string, error) {
	out, err := db.ReadTransact(func(rt fdb.ReadTransaction) (interface{}, error) {
		kvs, err := rt.GetRange(availSpace, fdb.RangeOptions{Mode: fdb.StreamingModeWantAll}).GetSliceWithError()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(kvs))
		for _, kv := range kvs {
			key, err := availSpace.Unpack(kv.Key)
			if err != nil || len(key) == 0 {
				continue
			}
			if name, ok := key[0].(string); ok {
				names = append(names, name)
			}
		}
		return names, nil
	})
	if err != nil {
		return nil, errors.FromSubstrate(err, "list available queues")
	}
	return out.([]string), nil
}
