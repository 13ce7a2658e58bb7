package qlang

import (
	"math"
	"testing"

	"github.com/mistio/tsfdb-server/internal/tsdb"
)

func TestRoundBase(t *testing.T) {
	tests := []struct {
		x         float64
		precision int
		base      float64
		want      float64
	}{
		{7.3, 0, 5, 5},
		{7.6, 0, 5, 10},
		{7.377, 2, 0.25, 7.25},
		{-2.6, 0, 1, -3},
	}

	for _, tt := range tests {
		if got := roundBase(tt.x, tt.precision, tt.base); got != tt.want {
			t.Errorf("roundBase(%v, %d, %v) = %v, want %v", tt.x, tt.precision, tt.base, got, tt.want)
		}
	}
}

func TestDerivUniformSpacing(t *testing.T) {
	// f(t) = 2t sampled every 10s: gradient is 2 everywhere.
	data := tsdb.SeriesSet{
		"r1.m": {
			{Value: 0, Timestamp: 0},
			{Value: 20, Timestamp: 10},
			{Value: 40, Timestamp: 20},
			{Value: 60, Timestamp: 30},
		},
	}

	got := Deriv(data)["r1.m"]
	for i, d := range got {
		if math.Abs(d.Value-2) > 1e-9 {
			t.Errorf("gradient[%d] = %v, want 2", i, d.Value)
		}
	}
}

func TestDerivIrregularSpacing(t *testing.T) {
	// f(t) = t^2 sampled at t = 0, 1, 3. The quadratic-exact interior
	// stencil recovers f'(1) = 2 despite the uneven spacing.
	data := tsdb.SeriesSet{
		"r1.m": {
			{Value: 0, Timestamp: 0},
			{Value: 1, Timestamp: 1},
			{Value: 9, Timestamp: 3},
		},
	}

	got := Deriv(data)["r1.m"]
	if math.Abs(got[1].Value-2) > 1e-9 {
		t.Errorf("interior gradient = %v, want 2", got[1].Value)
	}
	// Edges fall back to one-sided differences.
	if math.Abs(got[0].Value-1) > 1e-9 {
		t.Errorf("left edge gradient = %v, want 1", got[0].Value)
	}
	if math.Abs(got[2].Value-4) > 1e-9 {
		t.Errorf("right edge gradient = %v, want 4", got[2].Value)
	}
}

func TestDerivShortSeries(t *testing.T) {
	data := tsdb.SeriesSet{"r1.m": {{Value: 5, Timestamp: 0}}}
	if got := Deriv(data)["r1.m"]; len(got) != 0 {
		t.Errorf("single-point series produced %d gradients", len(got))
	}
}

func TestTopK(t *testing.T) {
	data := tsdb.SeriesSet{
		"a": {{Value: 1, Timestamp: 0}},
		"b": {{Value: 3, Timestamp: 0}},
		"c": {{Value: 2, Timestamp: 0}},
	}

	got := TopK(data, 2)
	if len(got) != 2 {
		t.Fatalf("kept %d series, want 2", len(got))
	}
	if _, ok := got["b"]; !ok {
		t.Error("highest series dropped")
	}
	if _, ok := got["a"]; ok {
		t.Error("lowest series kept")
	}
}

func TestTopKNoop(t *testing.T) {
	data := tsdb.SeriesSet{"a": {{Value: 1, Timestamp: 0}}}
	if got := TopK(data, 5); len(got) != 1 {
		t.Errorf("k over size changed the set: %d series", len(got))
	}
	if got := TopK(data, 0); len(got) != 1 {
		t.Errorf("k=0 changed the set: %d series", len(got))
	}
}

func TestMeanCollapsesDuplicates(t *testing.T) {
	data := tsdb.SeriesSet{
		"a": {
			{Value: 10, Timestamp: 100},
			{Value: 20, Timestamp: 100},
			{Value: 5, Timestamp: 200},
		},
	}

	got := Mean(data)["a"]
	want := tsdb.Series{
		{Value: 15, Timestamp: 100},
		{Value: 5, Timestamp: 200},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d datapoints, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("datapoint %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRoundY(t *testing.T) {
	data := tsdb.SeriesSet{"a": {{Value: 1, Timestamp: 1037}}}
	got := RoundY(data, 0, 60)["a"]
	if got[0].Timestamp != 1020 {
		t.Errorf("rounded timestamp = %d, want 1020", got[0].Timestamp)
	}
}
