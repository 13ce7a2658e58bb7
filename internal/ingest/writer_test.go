package ingest

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mistio/tsfdb-server/config"
	"github.com/mistio/tsfdb-server/internal/fdblayer"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// testLayer opens the cluster named by TSFDB_TEST_CLUSTER, or skips.
func testLayer(t *testing.T) *tsdb.Layer {
	t.Helper()
	if os.Getenv("TSFDB_TEST_CLUSTER") == "" {
		t.Skip("TSFDB_TEST_CLUSTER not set")
	}
	cfg := config.Default()
	db, err := fdblayer.Open(cfg)
	if err != nil {
		t.Fatalf("open cluster: %v", err)
	}
	return tsdb.NewLayer(db, fdblayer.NewDirCache(), cfg)
}

func TestWriteBatchRoundtrip(t *testing.T) {
	layer := testLayer(t)
	w := NewWriter(layer, config.Default())

	org := "test-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Minute).Add(-10 * time.Minute)

	var batch string
	for i := 0; i < 5; i++ {
		batch += fmt.Sprintf("system,machine_id=r1 load1=%d.5 %d\n",
			i, base.Add(time.Duration(i)*time.Second).UnixNano())
	}

	if err := w.WriteBatch(context.Background(), org, batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	got, err := layer.FindDatapoints(context.Background(), org, "r1", "system.load1",
		base, base.Add(time.Minute), tsdb.Second)
	if err != nil {
		t.Fatalf("FindDatapoints: %v", err)
	}
	if len(got.Values) != 5 {
		t.Fatalf("got %d datapoints, want 5", len(got.Values))
	}
	for i, d := range got.Values {
		if want := float64(i) + 0.5; d.Value != want {
			t.Errorf("datapoint %d = %v, want %v", i, d.Value, want)
		}
	}

	metrics, err := layer.FindMetrics(org, "r1")
	if err != nil {
		t.Fatalf("FindMetrics: %v", err)
	}
	m, ok := metrics["system.load1"]
	if !ok {
		t.Fatal("metric not registered in the catalog")
	}
	if m.Type != "float" {
		t.Errorf("metric type = %q, want float", m.Type)
	}
}

// Writing a constant 1.0 every 5 seconds for a minute must roll up to an
// aggregate minute bucket with count 12, mean 1, min 1 and max 1.
func TestWriteBatchAggregateConsistency(t *testing.T) {
	layer := testLayer(t)
	w := NewWriter(layer, config.Default())

	org := "test-" + uuid.NewString()
	minute := time.Now().UTC().Truncate(time.Minute).Add(-5 * time.Minute)

	var batch string
	for i := 0; i < 12; i++ {
		batch += fmt.Sprintf("system,machine_id=r1 load1=1.0 %d\n",
			minute.Add(time.Duration(i)*5*time.Second).UnixNano())
	}

	if err := w.WriteBatch(context.Background(), org, batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	got, err := layer.FindDatapoints(context.Background(), org, "r1", "system.load1",
		minute, minute.Add(time.Minute-time.Second), tsdb.Minute)
	if err != nil {
		t.Fatalf("FindDatapoints: %v", err)
	}

	if len(got.Values) != 1 {
		t.Fatalf("got %d aggregate buckets, want 1", len(got.Values))
	}
	if v := got.Values[0].Value; math.Abs(v-1) > 1e-9 {
		t.Errorf("mean = %v, want 1", v)
	}
	if c := got.Stats[tsdb.StatCount][0].Value; c != 12 {
		t.Errorf("count = %v, want 12", c)
	}
	if mn := got.Stats[tsdb.StatMin][0].Value; math.Abs(mn-1) > 1e-9 {
		t.Errorf("min = %v, want 1", mn)
	}
	if mx := got.Stats[tsdb.StatMax][0].Value; math.Abs(mx-1) > 1e-9 {
		t.Errorf("max = %v, want 1", mx)
	}
}
