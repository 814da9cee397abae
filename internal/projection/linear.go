// Package projection holds the time-proportional baseline estimator.
// It is the trust-building projection: every number it emits can be
// reproduced by hand from the inputs.
package projection

import (
	"math"

	"github.com/edumetrics/funnelcast/internal/api"
)

// Default band applied when there is no usable history: ±15% of central.
const defaultBand = 0.15

// Historical variability only kicks in with more samples than this.
const minHistory = 5

// Linear extrapolates a final-period total from a partial observation.
type Linear struct {
	// ConfidenceZ scales the margin (1.96 for 95%).
	ConfidenceZ float64

	// CalibrationFactor multiplies the margin term; threaded in from the
	// interval calibrator, 1.0 when no feedback exists.
	CalibrationFactor float64
}

// NewLinear returns a projector with the 95% z-factor and neutral
// calibration.
func NewLinear() *Linear {
	return &Linear{ConfidenceZ: 1.96, CalibrationFactor: 1.0}
}

// Project extrapolates partialValue observed after timeRatio of the
// campaign to a full-campaign total.
//
// A non-positive timeRatio is the documented degenerate input (no elapsed
// time to extrapolate from) and yields Projection{0,0,0}, not an error.
// A timeRatio above 1 (campaign past its planned end) is clamped to 1, so
// the projection is the partial value itself with no remaining volume and
// no residual-time uncertainty.
//
// With more than five historical values, the band is derived from their
// coefficient of variation, shrunk by sqrt(1-timeRatio) as the campaign
// progresses; otherwise a fixed ±15% band applies.
func (l *Linear) Project(partialValue, timeRatio float64, historical []float64) api.Projection {
	if timeRatio <= 0 {
		return api.Projection{}
	}
	if timeRatio > 1 {
		timeRatio = 1
	}

	central := partialValue / timeRatio

	if len(historical) > minHistory {
		cv := coefficientOfVariation(historical)
		uncertainty := math.Sqrt(1 - timeRatio)
		margin := central * cv * uncertainty * l.CalibrationFactor

		lower := central - l.ConfidenceZ*margin
		if lower < 0 {
			lower = 0
		}
		return api.Projection{
			Central: central,
			Lower:   lower,
			Upper:   central + l.ConfidenceZ*margin,
		}
	}

	band := defaultBand * l.CalibrationFactor
	lower := central * (1 - band)
	if lower < 0 {
		lower = 0
	}
	return api.Projection{
		Central: central,
		Lower:   lower,
		Upper:   central * (1 + band),
	}
}

// coefficientOfVariation is std/mean with a zero-guard: a zero mean
// yields 0 rather than a division error.
func coefficientOfVariation(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(values)))

	return std / mean
}
