// Package calibration closes the loop between forecast intervals and
// realized outcomes. Each completed period contributes one evaluation
// (did the realized value land inside the forecast interval); the
// observed hit rate over a rolling window drives a correction factor
// that future intervals are multiplied by.
package calibration

import (
	"sync"
	"time"

	"github.com/edumetrics/funnelcast/internal/api"
)

// Evaluation records one interval/outcome comparison.
type Evaluation struct {
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
	Realized  float64   `json:"realized"`
	Hit       bool      `json:"hit"`
	Timestamp time.Time `json:"timestamp"`
}

// Evaluator accumulates evaluations and derives calibration state.
// Safe for concurrent use.
type Evaluator struct {
	mu      sync.RWMutex
	evals   []Evaluation
	maxSize int
	lowPct  float64
	highPct float64
}

// NewEvaluator creates an evaluator retaining at most maxSize
// evaluations (FIFO eviction). Thresholds come from the engine params:
// below lowPct the factor widens intervals, above highPct it narrows
// them slightly.
func NewEvaluator(maxSize int, params api.EngineParams) *Evaluator {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Evaluator{
		evals:   make([]Evaluation, 0, maxSize),
		maxSize: maxSize,
		lowPct:  params.CalibrationLowPct,
		highPct: params.CalibrationHighPct,
	}
}

// Record adds one interval/outcome pair, evicting the oldest evaluation
// when the window is full.
func (e *Evaluator) Record(p api.Projection, realized float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evals = append(e.evals, Evaluation{
		Lower:     p.Lower,
		Upper:     p.Upper,
		Realized:  realized,
		Hit:       realized >= p.Lower && realized <= p.Upper,
		Timestamp: time.Now(),
	})
	if len(e.evals) > e.maxSize {
		e.evals = e.evals[1:]
	}
}

// RecordBatch evaluates intervals against realized outcomes pairwise.
// The slices must have equal length.
func (e *Evaluator) RecordBatch(intervals []api.Projection, realized []float64) error {
	if len(intervals) != len(realized) {
		return api.ErrInvalidInput("calibration", "intervals and realized outcomes have different lengths")
	}
	for i := range intervals {
		e.Record(intervals[i], realized[i])
	}
	return nil
}

// State derives the current calibration state. With no evaluations the
// neutral default state is returned.
func (e *Evaluator) State() api.CalibrationState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.evals)
	if n == 0 {
		return api.DefaultCalibrationState()
	}

	hits := 0
	for _, ev := range e.evals {
		if ev.Hit {
			hits++
		}
	}
	hitRate := 100 * float64(hits) / float64(n)

	return api.CalibrationState{
		HitRate:           hitRate,
		CalibrationFactor: Factor(hitRate, e.lowPct, e.highPct),
		Evaluations:       n,
		UpdatedAt:         time.Now(),
	}
}

// Size returns the number of evaluations in the window.
func (e *Evaluator) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.evals)
}

// Factor maps a hit rate (percent) to an interval correction factor.
// Under-covering intervals widen in proportion to the shortfall below
// lowPct; over-covering intervals above highPct shrink slightly; rates
// in between leave the intervals alone.
func Factor(hitRate, lowPct, highPct float64) float64 {
	switch {
	case hitRate < lowPct:
		return 1 + (lowPct-hitRate)/100
	case hitRate > highPct:
		return 0.95
	default:
		return 1.0
	}
}

// Calibrate is the stateless form: evaluate intervals against outcomes
// in one shot and return the resulting state.
func Calibrate(intervals []api.Projection, realized []float64, params api.EngineParams) (api.CalibrationState, error) {
	if len(intervals) != len(realized) {
		return api.CalibrationState{}, api.ErrInvalidInput("calibration", "intervals and realized outcomes have different lengths")
	}
	if len(intervals) == 0 {
		return api.CalibrationState{}, api.ErrInsufficientData("calibration", "no evaluations supplied")
	}

	hits := 0
	for i, p := range intervals {
		if realized[i] >= p.Lower && realized[i] <= p.Upper {
			hits++
		}
	}
	hitRate := 100 * float64(hits) / float64(len(intervals))

	return api.CalibrationState{
		HitRate:           hitRate,
		CalibrationFactor: Factor(hitRate, params.CalibrationLowPct, params.CalibrationHighPct),
		Evaluations:       len(intervals),
		UpdatedAt:         time.Now(),
	}, nil
}
