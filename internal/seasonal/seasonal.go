// Package seasonal decomposes funnel series into trend, seasonal index and
// residual, and produces seasonality-adjusted forecasts with confidence bands.
package seasonal

import (
	"math"

	"github.com/edumetrics/funnelcast/internal/api"
)

// Decomposition is the multiplicative decomposition of a series:
// value ≈ trend × seasonal index × residual.
type Decomposition struct {
	Trend    []float64       `json:"trend"`
	Index    map[int]float64 `json:"seasonal_index"` // period position → index, mean 1.0
	Residual []float64       `json:"residual"`

	period      int
	residualStd float64
}

// Decompose fits a multiplicative decomposition with cycle length `period`
// (in series steps, e.g. 7 for a weekly pattern over daily data).
// Requires at least two full periods of data. Seasonal index values average
// to 1.0 across a period; values above 1 mark above-average positions.
func Decompose(values []float64, period int) (*Decomposition, error) {
	if period < 2 {
		return nil, api.ErrInvalidParameter("seasonal", "period", "must be ≥ 2")
	}
	if len(values) < 2*period {
		return nil, api.ErrInsufficientData("seasonal", "need at least two full periods")
	}

	trend := centeredMovingAverage(values, period)

	// Ratio of observation to trend at each step. A zero trend (all-zero
	// window) contributes a neutral ratio rather than a division error.
	ratios := make([]float64, len(values))
	for i, v := range values {
		if trend[i] > 0 {
			ratios[i] = v / trend[i]
		} else {
			ratios[i] = 1
		}
	}

	// Average ratio per period position, then normalize to mean 1.0.
	sums := make([]float64, period)
	counts := make([]int, period)
	for i, r := range ratios {
		pos := i % period
		sums[pos] += r
		counts[pos]++
	}

	index := make(map[int]float64, period)
	var indexTotal float64
	for pos := 0; pos < period; pos++ {
		idx := 1.0
		if counts[pos] > 0 {
			idx = sums[pos] / float64(counts[pos])
		}
		index[pos] = idx
		indexTotal += idx
	}
	if indexTotal > 0 {
		scale := float64(period) / indexTotal
		for pos := range index {
			index[pos] *= scale
		}
	}

	residual := make([]float64, len(values))
	for i, v := range values {
		expected := trend[i] * index[i%period]
		if expected > 0 {
			residual[i] = v / expected
		} else {
			residual[i] = 1
		}
	}

	return &Decomposition{
		Trend:       trend,
		Index:       index,
		Residual:    residual,
		period:      period,
		residualStd: stdAround(residual, 1.0),
	}, nil
}

// Forecast extrapolates the trend n steps ahead, reapplies the seasonal
// index, and derives a confidence band from the residual dispersion. The
// band widens with sqrt of the horizon step: uncertainty grows with
// distance. A constant series yields a zero-width band.
func (d *Decomposition) Forecast(n int, confidenceZ float64) (central, lower, upper []float64, err error) {
	if n < 1 {
		return nil, nil, nil, api.ErrInvalidParameter("seasonal", "n_periods", "must be ≥ 1")
	}

	level, slope := trendTail(d.Trend, d.period)

	central = make([]float64, n)
	lower = make([]float64, n)
	upper = make([]float64, n)

	offset := len(d.Trend)
	for h := 0; h < n; h++ {
		trend := level + slope*float64(h+1)
		if trend < 0 {
			trend = 0
		}
		pos := (offset + h) % d.period
		c := trend * d.Index[pos]

		margin := confidenceZ * d.residualStd * math.Sqrt(float64(h+1)) * c
		central[h] = c
		lower[h] = math.Max(0, c-margin)
		upper[h] = c + margin
	}
	return central, lower, upper, nil
}

// ResidualStd exposes the residual dispersion used for band width.
func (d *Decomposition) ResidualStd() float64 {
	return d.residualStd
}

// centeredMovingAverage smooths with a symmetric window of the period
// length, shrinking the window at the edges so the trend is defined at
// every step.
func centeredMovingAverage(values []float64, period int) []float64 {
	half := period / 2
	out := make([]float64, len(values))
	for i := range values {
		lo := i - half
		hi := i + half
		if lo < 0 {
			lo = 0
		}
		if hi > len(values)-1 {
			hi = len(values) - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// trendTail fits the last full period of the trend with a least-squares
// line and returns its endpoint level and per-step slope.
func trendTail(trend []float64, period int) (level, slope float64) {
	n := period
	if n > len(trend) {
		n = len(trend)
	}
	tail := trend[len(trend)-n:]
	level = tail[len(tail)-1]
	if n < 2 {
		return level, 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range tail {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return level, 0
	}
	slope = (fn*sumXY - sumX*sumY) / denom
	return level, slope
}

// stdAround is the standard deviation of values around a fixed center.
func stdAround(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		d := v - center
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}
