package miner

// EMA decay factors. The fast estimator reacts within about two samples and
// answers "what is happening right now"; the slow one has a half-life of
// roughly 693 samples and answers "what is normal".
const (
	fastAlpha = 0.5
	slowAlpha = 0.001
)

// Estimator keeps a fast and a slow exponential moving average of the
// account's CPU utilization. Both averages are seeded to the first real
// sample so a cold start never looks like a utilization drop.
type Estimator struct {
	fast   float64
	slow   float64
	seeded bool
}

func (e *Estimator) Seed(r float64) {
	e.fast = r
	e.slow = r
	e.seeded = true
}

func (e *Estimator) Seeded() bool { return e.seeded }

// Update folds one sample into both averages and returns the new values.
// The first sample seeds instead of averaging.
func (e *Estimator) Update(r float64) (fast, slow float64) {
	if !e.seeded {
		e.Seed(r)
		return e.fast, e.slow
	}
	e.fast = (1-fastAlpha)*e.fast + fastAlpha*r
	e.slow = (1-slowAlpha)*e.slow + slowAlpha*r
	return e.fast, e.slow
}

func (e *Estimator) Fast() float64 { return e.fast }
func (e *Estimator) Slow() float64 { return e.slow }
