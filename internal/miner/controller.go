package miner

import (
	"log/slog"
	"math"

	"github.com/shawnbow/eidos-miner/internal/metrics"
)

// Batch size bounds and utilization thresholds for the feedback loop.
const (
	MinBatchSize = 32
	MaxBatchSize = 256

	// targetUtilization is the low edge of the stable band: below it the
	// quota has headroom and the batch size ramps up multiplicatively.
	targetUtilization = 0.95
	// ceilingUtilization is the high edge: above it the batch size backs
	// off multiplicatively, and any single signal above it triggers the
	// emergency clamp at submission time.
	ceilingUtilization = 0.99
	// divergenceBand is the relative fast/slow divergence below which the
	// batch size holds steady inside the stable band.
	divergenceBand = 0.001
)

// Decision records one re-tuning pass for logging and tests.
type Decision struct {
	Action string // double, halve, nudge_up, nudge_down, hold, pinned
	Before int
	After  int
	Fast   float64
	Slow   float64
}

// Controller owns the batch size and the utilization estimators. Fast
// multiplicative moves explore the range when far from target; additive
// one-step moves avoid oscillation once near it. The controller is not safe
// for concurrent use; the orchestrator drives it from a single goroutine.
type Controller struct {
	est    Estimator
	batch  int
	pinned bool
	logger *slog.Logger
}

// NewController starts at the minimum batch size. A fixedSize > 0 pins the
// batch size (clamped to bounds) and disables all tuning.
func NewController(fixedSize int, logger *slog.Logger) *Controller {
	c := &Controller{
		batch:  MinBatchSize,
		logger: logger.With("component", "controller"),
	}
	if fixedSize > 0 {
		c.batch = clampBatch(fixedSize)
		c.pinned = true
	}
	metrics.BatchSize.Set(float64(c.batch))
	return c
}

func (c *Controller) BatchSize() int { return c.batch }
func (c *Controller) Pinned() bool   { return c.pinned }

// Seed primes both estimators with the first real utilization sample.
func (c *Controller) Seed(r float64) { c.est.Seed(r) }

// Observe feeds one utilization sample through the estimators and applies
// the safety interlock: if the instantaneous sample or either average is
// above the ceiling, the batch size drops to the minimum before the next
// submission, without waiting for the re-tuning tick.
func (c *Controller) Observe(r float64) (fast, slow float64) {
	fast, slow = c.est.Update(r)
	metrics.Utilization.Set(r)
	metrics.EmaFast.Set(fast)
	metrics.EmaSlow.Set(slow)

	if !c.pinned && (r > ceilingUtilization || fast > ceilingUtilization || slow > ceilingUtilization) {
		if c.batch != MinBatchSize {
			c.logger.Warn("utilization above ceiling, clamping batch size",
				"sample", r, "fast", fast, "slow", slow, "batch_size", MinBatchSize)
			metrics.EmergencyClampsTotal.Inc()
		}
		c.batch = MinBatchSize
		metrics.BatchSize.Set(float64(c.batch))
	}
	return fast, slow
}

// Retune runs the periodic decision policy against the current averages.
func (c *Controller) Retune() Decision {
	d := Decision{
		Before: c.batch,
		Fast:   c.est.Fast(),
		Slow:   c.est.Slow(),
	}

	switch {
	case c.pinned:
		d.Action = "pinned"
	case d.Fast < targetUtilization:
		c.batch = clampBatch(int(math.Ceil(2 * float64(c.batch))))
		d.Action = "double"
	case d.Fast > ceilingUtilization:
		c.batch = clampBatch(int(math.Ceil(float64(c.batch) / 2)))
		d.Action = "halve"
	case d.Slow > 0 && math.Abs(d.Fast-d.Slow)/d.Slow > divergenceBand:
		if d.Fast > d.Slow {
			c.batch = clampBatch(c.batch - 1)
			d.Action = "nudge_down"
		} else {
			c.batch = clampBatch(c.batch + 1)
			d.Action = "nudge_up"
		}
	default:
		d.Action = "hold"
	}

	d.After = c.batch
	metrics.BatchSize.Set(float64(c.batch))
	metrics.RetunesTotal.WithLabelValues(d.Action).Inc()
	return d
}

func clampBatch(v int) int {
	if v < MinBatchSize {
		return MinBatchSize
	}
	if v > MaxBatchSize {
		return MaxBatchSize
	}
	return v
}
