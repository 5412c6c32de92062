package health

import (
	"math"
	"sort"
	"time"
)

// Percentile returns the nearest-rank percentile of the samples, where p
// is a fraction in (0, 1]. An empty sample set yields zero.
func Percentile(samples []time.Duration, p float64) time.Duration {
	n := len(samples)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		p = 0.01
	}
	if p > 1 {
		p = 1
	}
	sorted := make([]time.Duration, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Average returns the arithmetic mean of the samples, or zero when
// there are none.
func Average(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples))
}

// Throughput returns operations per second since the given start time.
// A zero start time or a non-positive elapsed window yields zero.
func Throughput(operations uint64, since time.Time) float64 {
	if since.IsZero() {
		return 0
	}
	elapsed := time.Since(since).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(operations) / elapsed
}
