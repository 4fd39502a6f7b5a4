// Package stats computes latency statistics from raw probe samples.
// All functions are pure; the all-loss case is guarded explicitly so no
// caller ever divides by zero.
package stats

import (
	"math"
	"sort"

	"github.com/airport-bench/internal/types"
)

// Summarize derives LatencyStats from a completed sample sequence.
// Lost samples count toward LossRate and are excluded from every other
// statistic. When all samples are lost the derived values stay nil.
func Summarize(samples []types.LatencySample) types.LatencyStats {
	if len(samples) == 0 {
		return types.LatencyStats{LossRate: 1.0}
	}

	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !s.Lost {
			values = append(values, s.DelayMs)
		}
	}

	losses := len(samples) - len(values)
	out := types.LatencyStats{
		LossRate: float64(losses) / float64(len(samples)),
	}
	if len(values) == 0 {
		return out
	}

	sort.Float64s(values)
	median := Median(values)
	p95 := Percentile(values, 0.95)
	jitter := StdDev(values)
	out.MedianMs = &median
	out.P95Ms = &p95
	out.JitterMs = &jitter
	return out
}

// Median returns the standard median of sorted values: the middle element
// for odd counts, the mean of the two middle elements for even counts.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Percentile returns the p-th percentile of sorted values using the
// nearest-rank method: sorted[ceil(p*n)-1], clamped to valid indices.
// For a sequence of identical values this returns that value for any n.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// StdDev returns the population standard deviation. A single sample has
// zero deviation.
func StdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n))
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// MedianOf sorts a copy of values and returns their median. Used for
// source-level aggregates over per-node statistics.
func MedianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Median(sorted)
}
