package queue

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"github.com/google/uuid"

	"github.com/mistio/tsfdb-server/config"
	"github.com/mistio/tsfdb-server/internal/errors"
	"github.com/mistio/tsfdb-server/internal/logging"
)

// Sink receives drained batches. It is expected to write the whole batch in
// one substrate transaction, so a failure leaves the batch for a retry.
type Sink func(ctx context.Context, org, payload string) error

// Coordinator acquires time-bounded exclusive leases on available queues,
// drains them into the sink, and retires queues that stay empty. Leases are
// timestamps, not fenced locks: two coordinators racing a stale lease both
// drain transactionally-popped disjoint entries, which costs redundant
// scanning but never corrupts.
type Coordinator struct {
	db   fdb.Database
	cfg  *config.Config
	sink Sink
	id   string
	log  *slog.Logger

	// lastYield tracks when each attended queue last produced an entry,
	// driving idle teardown.
	lastYield map[string]time.Time
}

// NewCoordinator creates a coordinator with a fresh consumer identity.
func NewCoordinator(db fdb.Database, cfg *config.Config, sink Sink) *Coordinator {
	id := uuid.NewString()
	return &Coordinator{
		db:        db,
		cfg:       cfg,
		sink:      sink,
		id:        id,
		log:       logging.Component("consumer").With("consumer_id", id),
		lastYield: make(map[string]time.Time),
	}
}

// Run drains available queues until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("consumer started", "poll_interval", c.cfg.ConsumerPollInterval)

	for {
		drained, err := c.runPass(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Transient substrate trouble: log and keep polling.
			c.log.Error("drain pass failed", "error", err)
		}

		if !drained {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ConsumerPollInterval):
			}
		} else if ctx.Err() != nil {
			return nil
		}
	}
}

// runPass visits every available queue once and reports whether any entry
// was drained.
func (c *Coordinator) runPass(ctx context.Context) (bool, error) {
	names, err := ListAvailable(c.db)
	if err != nil {
		return false, err
	}

	drained := false
	for _, name := range names {
		if ctx.Err() != nil {
			return drained, nil
		}
		n, err := c.drain(ctx, name)
		if err != nil {
			return drained, err
		}
		drained = drained || n > 0
	}
	return drained, nil
}

// drain acquires the queue's lease and pops until empty. Returns the number
// of entries handed to the sink.
func (c *Coordinator) drain(ctx context.Context, name string) (int, error) {
	q := New(name)

	ok, err := c.tryAcquire(q)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	if _, seen := c.lastYield[name]; !seen {
		c.lastYield[name] = time.Now()
	}

	popped := 0
	for ctx.Err() == nil {
		entry, err := q.Pop(c.db)
		if err != nil {
			return popped, err
		}
		if entry == nil {
			if time.Since(c.lastYield[name]) > c.cfg.QueueRetryTimeout {
				deleted, err := q.DeleteIfEmpty(c.db)
				if err != nil {
					return popped, err
				}
				if deleted {
					c.log.Info("retired idle queue", "queue", name)
					delete(c.lastYield, name)
				}
			}
			return popped, nil
		}

		c.lastYield[name] = time.Now()
		if err := c.flush(ctx, entry); err != nil {
			return popped, err
		}
		popped++

		// Keep the lease fresh while the drain runs long.
		if ok, err := c.tryAcquire(q); err != nil || !ok {
			return popped, err
		}
	}
	return popped, nil
}

// flush splits the popped payload into line batches no larger than the
// configured byte limit and hands each to the sink.
func (c *Coordinator) flush(ctx context.Context, entry *Entry) error {
	var batch strings.Builder
	for _, line := range strings.Split(entry.Payload, "\n") {
		if line == "" {
			continue
		}
		if batch.Len() > 0 && batch.Len()+len(line)+1 > c.cfg.MaxBatchBytes {
			if err := c.sink(ctx, entry.Org, batch.String()); err != nil {
				return err
			}
			batch.Reset()
		}
		batch.WriteString(line)
		batch.WriteByte('\n')
	}
	if batch.Len() > 0 {
		return c.sink(ctx, entry.Org, batch.String())
	}
	return nil
}

// tryAcquire takes or refreshes the queue's lease. A missing lease or one
// older than the acquisition timeout is up for grabs; a fresh lease held by
// another consumer is respected.
func (c *Coordinator) tryAcquire(q *Queue) (bool, error) {
	out, err := c.db.Transact(func(tr fdb.Transaction) (interface{}, error) {
		key := leaseSpace.Pack(tuple.Tuple{q.name})
		raw, err := tr.Get(key).Get()
		if err != nil {
			return false, err
		}

		now := time.Now().Unix()
		if raw != nil {
			values, err := tuple.Unpack(raw)
			if err == nil && len(values) >= 2 {
				owner, _ := values[0].(string)
				granted, _ := values[1].(int64)
				if owner != c.id && now-granted < int64(c.cfg.AcquireTimeout.Seconds()) {
					return false, nil
				}
			}
		}
		tr.Set(key, tuple.Tuple{c.id, now}.Pack())
		return true, nil
	})
	if err != nil {
		return false, errors.FromSubstrate(err, "lease acquire")
	}
	return out.(bool), nil
}
