package collector

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStddev(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, stddev([]float64{1}))
	assert.InDelta(t, 1.0, stddev([]float64{1, 2, 3}), 1e-12)
}

func TestCorrelation(t *testing.T) {
	t.Parallel()

	xs := []float64{0.01, -0.02, 0.03, 0.005}
	assert.InDelta(t, 1.0, correlation(xs, xs), 1e-12)

	neg := make([]float64, len(xs))
	for i, x := range xs {
		neg[i] = -x
	}
	assert.InDelta(t, -1.0, correlation(xs, neg), 1e-12)

	// Zero variance on one side is defined as uncorrelated.
	assert.Equal(t, 0.0, correlation(xs, []float64{1, 1, 1, 1}))
	assert.Equal(t, 0.0, correlation(xs, []float64{1, 2}))
}

func TestObserveWarmup(t *testing.T) {
	t.Parallel()

	c := &MarketCollector{logger: slog.Default()}
	now := time.Now()

	vol, corr := c.observe(1.0, 1.05, now)
	assert.Equal(t, 0.0, vol)
	assert.Equal(t, 0.0, corr)

	vol, corr = c.observe(1.01, 1.06, now.Add(5*time.Minute))
	assert.Equal(t, 0.0, vol)
	assert.Equal(t, 0.0, corr)
}

func TestObserveTracksPerfectlyCoupledAssets(t *testing.T) {
	t.Parallel()

	c := &MarketCollector{logger: slog.Default()}
	now := time.Now()

	// stFLOW moves in lockstep with FLOW at a constant 1.05 ratio.
	prices := []float64{1.00, 1.02, 0.99, 1.03, 1.01, 1.04}
	var vol, corr float64
	for i, p := range prices {
		vol, corr = c.observe(p, p*1.05, now.Add(time.Duration(i)*5*time.Minute))
	}

	assert.InDelta(t, 1.0, corr, 1e-9)
	assert.Greater(t, vol, 0.0)
	assert.False(t, math.IsNaN(vol))
}

func TestObserveWindowIsBounded(t *testing.T) {
	t.Parallel()

	c := &MarketCollector{logger: slog.Default()}
	now := time.Now()

	for i := 0; i < volWindow+50; i++ {
		c.observe(1.0+float64(i%7)*0.001, 1.05, now.Add(time.Duration(i)*time.Minute))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.LessOrEqual(t, len(c.samples), volWindow)
}
