package queue

import (
	"testing"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"github.com/google/uuid"

	"github.com/mistio/tsfdb-server/config"
)

// Only one coordinator may hold a queue's lease at a time; the owner can
// refresh it, and a lease older than the acquisition timeout is up for
// grabs by anyone.
func TestLeaseMutualExclusion(t *testing.T) {
	db := testDB(t)
	cfg := config.Default()

	q := New("test-lease-" + uuid.NewString())
	leaseKey := leaseSpace.Pack(tuple.Tuple{q.name})
	defer db.Transact(func(tr fdb.Transaction) (interface{}, error) {
		tr.Clear(leaseKey)
		return nil, nil
	})

	c1 := NewCoordinator(db, cfg, nil)
	c2 := NewCoordinator(db, cfg, nil)

	ok, err := c1.tryAcquire(q)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !ok {
		t.Fatal("first acquire on a free queue refused")
	}

	ok, err = c2.tryAcquire(q)
	if err != nil {
		t.Fatalf("competing acquire: %v", err)
	}
	if ok {
		t.Fatal("competing coordinator took a held lease")
	}

	ok, err = c1.tryAcquire(q)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !ok {
		t.Fatal("owner could not refresh its own lease")
	}

	// Age the lease past the acquisition timeout; it is then repossessable.
	stale := time.Now().Add(-cfg.AcquireTimeout - time.Second).Unix()
	_, err = db.Transact(func(tr fdb.Transaction) (interface{}, error) {
		tr.Set(leaseKey, tuple.Tuple{c1.id, stale}.Pack())
		return nil, nil
	})
	if err != nil {
		t.Fatalf("age lease: %v", err)
	}

	ok, err = c2.tryAcquire(q)
	if err != nil {
		t.Fatalf("stale acquire: %v", err)
	}
	if !ok {
		t.Fatal("stale lease was not repossessed")
	}
}
