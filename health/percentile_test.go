package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentileNearestRank(t *testing.T) {
	// 100 samples: 10ms, 20ms, ... 1000ms.
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * 10 * time.Millisecond
	}

	assert.Equal(t, 950*time.Millisecond, Percentile(samples, 0.95))
	assert.Equal(t, 990*time.Millisecond, Percentile(samples, 0.99))
	assert.Equal(t, 500*time.Millisecond, Percentile(samples, 0.50))
	assert.Equal(t, 1000*time.Millisecond, Percentile(samples, 1.0))
}

func TestPercentileEmpty(t *testing.T) {
	assert.Equal(t, time.Duration(0), Percentile(nil, 0.95))
}

func TestPercentileSingleSample(t *testing.T) {
	samples := []time.Duration{42 * time.Millisecond}
	assert.Equal(t, 42*time.Millisecond, Percentile(samples, 0.95))
	assert.Equal(t, 42*time.Millisecond, Percentile(samples, 0.01))
}

func TestPercentileUnsortedInput(t *testing.T) {
	samples := []time.Duration{
		300 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		400 * time.Millisecond,
	}
	assert.Equal(t, 500*time.Millisecond, Percentile(samples, 0.95))
	// Input must not be reordered.
	assert.Equal(t, 300*time.Millisecond, samples[0])
}

func TestPercentileClampsOutOfRange(t *testing.T) {
	samples := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	assert.Equal(t, 20*time.Millisecond, Percentile(samples, 2.0))
}

func TestAverage(t *testing.T) {
	samples := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	assert.Equal(t, 20*time.Millisecond, Average(samples))
	assert.Equal(t, time.Duration(0), Average(nil))
}

func TestThroughput(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)
	got := Throughput(100, start)
	assert.InDelta(t, 10.0, got, 1.0)

	assert.Zero(t, Throughput(100, time.Time{}))
}
