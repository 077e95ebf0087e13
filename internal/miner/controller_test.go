package miner

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestController_StartsAtMinimum(t *testing.T) {
	t.Parallel()

	c := NewController(0, testLogger())

	assert.Equal(t, MinBatchSize, c.BatchSize())
	assert.False(t, c.Pinned())
}

func TestController_FixedSizePinsAndClamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		fixed int
		want  int
	}{
		{"within bounds", 100, 100},
		{"below minimum", 5, MinBatchSize},
		{"above maximum", 1000, MaxBatchSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(tt.fixed, testLogger())
			assert.True(t, c.Pinned())
			assert.Equal(t, tt.want, c.BatchSize())

			d := c.Retune()
			assert.Equal(t, "pinned", d.Action)
			assert.Equal(t, tt.want, c.BatchSize())
		})
	}
}

func TestController_DoublesOnHeadroom(t *testing.T) {
	t.Parallel()

	c := NewController(0, testLogger())
	c.Seed(0.5)

	d := c.Retune()
	require.Equal(t, "double", d.Action)
	assert.Equal(t, 64, c.BatchSize())

	// Repeated headroom saturates at the maximum.
	for i := 0; i < 10; i++ {
		c.Retune()
	}
	assert.Equal(t, MaxBatchSize, c.BatchSize())
}

func TestController_HalvesAboveCeiling(t *testing.T) {
	t.Parallel()

	c := NewController(0, testLogger())
	c.batch = 100
	c.est.Seed(0.995)

	d := c.Retune()
	require.Equal(t, "halve", d.Action)
	assert.Equal(t, 50, c.BatchSize())

	// Repeated overload saturates at the minimum.
	for i := 0; i < 10; i++ {
		c.Retune()
	}
	assert.Equal(t, MinBatchSize, c.BatchSize())
}

func TestController_HalveRoundsUp(t *testing.T) {
	t.Parallel()

	c := NewController(0, testLogger())
	c.batch = 101
	c.est.Seed(0.995)

	c.Retune()
	assert.Equal(t, 51, c.BatchSize())
}

func TestController_NudgesInsideStableBand(t *testing.T) {
	t.Parallel()

	t.Run("recent load trending up eases off", func(t *testing.T) {
		c := NewController(0, testLogger())
		c.batch = 100
		c.est.fast = 0.97
		c.est.slow = 0.96
		c.est.seeded = true

		d := c.Retune()
		assert.Equal(t, "nudge_down", d.Action)
		assert.Equal(t, 99, c.BatchSize())
	})

	t.Run("recent load trending down grows", func(t *testing.T) {
		c := NewController(0, testLogger())
		c.batch = 100
		c.est.fast = 0.96
		c.est.slow = 0.97
		c.est.seeded = true

		d := c.Retune()
		assert.Equal(t, "nudge_up", d.Action)
		assert.Equal(t, 101, c.BatchSize())
	})

	t.Run("nudges respect bounds", func(t *testing.T) {
		c := NewController(0, testLogger())
		c.batch = MinBatchSize
		c.est.fast = 0.97
		c.est.slow = 0.96
		c.est.seeded = true

		c.Retune()
		assert.Equal(t, MinBatchSize, c.BatchSize())
	})
}

func TestController_HoldsInsideDeadBand(t *testing.T) {
	t.Parallel()

	c := NewController(0, testLogger())
	c.batch = 100
	c.est.Seed(0.96)

	d := c.Retune()
	assert.Equal(t, "hold", d.Action)
	assert.Equal(t, 100, c.BatchSize())

	// Re-tuning is idempotent under steady state.
	d = c.Retune()
	assert.Equal(t, "hold", d.Action)
	assert.Equal(t, 100, c.BatchSize())
}

func TestController_EmergencyClamp(t *testing.T) {
	t.Parallel()

	c := NewController(0, testLogger())
	c.batch = 200
	c.Seed(0.5)

	// A single instantaneous sample above the ceiling forces the minimum
	// immediately, regardless of the averages.
	c.Observe(0.995)
	assert.Equal(t, MinBatchSize, c.BatchSize())
}

func TestController_NoClampBelowCeiling(t *testing.T) {
	t.Parallel()

	c := NewController(0, testLogger())
	c.batch = 200
	c.Seed(0.5)

	c.Observe(0.6)
	assert.Equal(t, 200, c.BatchSize())
}

func TestController_PinnedIgnoresClamp(t *testing.T) {
	t.Parallel()

	c := NewController(100, testLogger())
	c.Seed(0.5)

	c.Observe(0.995)
	assert.Equal(t, 100, c.BatchSize())
}

func TestController_BatchSizeAlwaysWithinBounds(t *testing.T) {
	t.Parallel()

	c := NewController(0, testLogger())
	rng := rand.New(rand.NewSource(1))
	c.Seed(rng.Float64())

	for i := 0; i < 10_000; i++ {
		c.Observe(rng.Float64() * 1.2)
		if i%13 == 0 {
			c.Retune()
		}
		require.GreaterOrEqual(t, c.BatchSize(), MinBatchSize)
		require.LessOrEqual(t, c.BatchSize(), MaxBatchSize)
	}
}
