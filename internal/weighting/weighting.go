// Package weighting computes recency-decay weights over historical series.
// Every downstream estimator uses these weights to favor recent observations.
package weighting

import (
	"math"
	"time"

	"github.com/edumetrics/funnelcast/internal/api"
)

// Weights returns one half-life exponential decay weight per TimePoint, in
// the same order as the input. A point `age` days before the most recent
// point gets exp(-ln2/halfLifeDays * age); the most recent point is always
// weighted 1.0. An empty series yields an empty result.
func Weights(series api.Series, halfLifeDays float64) ([]float64, error) {
	if halfLifeDays <= 0 {
		return nil, api.ErrInvalidParameter("weighting", "half_life_days", "must be > 0")
	}
	if len(series) == 0 {
		return []float64{}, nil
	}

	newest := series[len(series)-1].Date
	decay := math.Ln2 / halfLifeDays

	weights := make([]float64, len(series))
	for i, p := range series {
		age := newest.Sub(p.Date).Hours() / 24
		weights[i] = math.Exp(-decay * age)
	}
	return weights, nil
}

// DecayWeight returns the weight of a single observation aged `age` relative
// to a reference time. Used by time-decay attribution, which shares the same
// half-life semantics.
func DecayWeight(ts, reference time.Time, halfLifeDays float64) float64 {
	age := reference.Sub(ts).Hours() / 24
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 / halfLifeDays * age)
}
