package qlang

import (
	"math"
	"sort"

	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// roundBase rounds x to the nearest multiple of base, then to precision
// decimal places.
func roundBase(x float64, precision int, base float64) float64 {
	v := base * math.Round(x/base)
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

// RoundX rounds every value to a base.
func RoundX(data tsdb.SeriesSet, precision int, base float64) tsdb.SeriesSet {
	for _, series := range data {
		for i := range series {
			series[i].Value = roundBase(series[i].Value, precision, base)
		}
	}
	return data
}

// RoundY rounds every timestamp to a base.
func RoundY(data tsdb.SeriesSet, precision int, base float64) tsdb.SeriesSet {
	for _, series := range data {
		for i := range series {
			series[i].Timestamp = int64(roundBase(float64(series[i].Timestamp), precision, base))
		}
	}
	return data
}

// Deriv replaces every series with its numeric gradient over time: central
// second-order differences at interior points (spacing-aware) and one-sided
// differences at the endpoints. Series shorter than two points become empty.
func Deriv(data tsdb.SeriesSet) tsdb.SeriesSet {
	for key, series := range data {
		n := len(series)
		if n < 2 {
			data[key] = tsdb.Series{}
			continue
		}

		out := make(tsdb.Series, n)
		value := func(i int) float64 { return series[i].Value }
		ts := func(i int) float64 { return float64(series[i].Timestamp) }

		out[0] = tsdb.Datapoint{
			Value:     (value(1) - value(0)) / (ts(1) - ts(0)),
			Timestamp: series[0].Timestamp,
		}
		out[n-1] = tsdb.Datapoint{
			Value:     (value(n-1) - value(n-2)) / (ts(n-1) - ts(n-2)),
			Timestamp: series[n-1].Timestamp,
		}
		for i := 1; i < n-1; i++ {
			h1 := ts(i) - ts(i-1)
			h2 := ts(i+1) - ts(i)
			out[i] = tsdb.Datapoint{
				Value: (h1*h1*value(i+1) + (h2*h2-h1*h1)*value(i) - h2*h2*value(i-1)) /
					(h1 * h2 * (h1 + h2)),
				Timestamp: series[i].Timestamp,
			}
		}
		data[key] = out
	}
	return data
}

// TopK keeps the k series with the highest mean value.
func TopK(data tsdb.SeriesSet, k int) tsdb.SeriesSet {
	if k <= 0 || len(data) <= k {
		return data
	}

	type ranked struct {
		key  string
		mean float64
	}
	ranking := make([]ranked, 0, len(data))
	for key, series := range data {
		if len(series) == 0 {
			continue
		}
		sum := 0.0
		for _, d := range series {
			sum += d.Value
		}
		ranking = append(ranking, ranked{key: key, mean: sum / float64(len(series))})
	}
	sort.Slice(ranking, func(i, j int) bool { return ranking[i].mean > ranking[j].mean })

	top := make(tsdb.SeriesSet, k)
	for i := 0; i < k && i < len(ranking); i++ {
		top[ranking[i].key] = data[ranking[i].key]
	}
	return top
}

// Mean collapses datapoints sharing a timestamp into their average.
func Mean(data tsdb.SeriesSet) tsdb.SeriesSet {
	for key, series := range data {
		if len(series) < 2 {
			continue
		}

		sums := make(map[int64]float64, len(series))
		counts := make(map[int64]int, len(series))
		order := make([]int64, 0, len(series))
		for _, d := range series {
			if counts[d.Timestamp] == 0 {
				order = append(order, d.Timestamp)
			}
			sums[d.Timestamp] += d.Value
			counts[d.Timestamp]++
		}

		out := make(tsdb.Series, 0, len(order))
		for _, ts := range order {
			out = append(out, tsdb.Datapoint{
				Value:     sums[ts] / float64(counts[ts]),
				Timestamp: ts,
			})
		}
		data[key] = out
	}
	return data
}
