// Package anomaly flags outlier observations in a funnel series so
// reports can mark days whose volumes are implausible (tracking bugs,
// double imports, flash promotions) before they distort a forecast.
package anomaly

import (
	"math"

	"github.com/edumetrics/funnelcast/internal/api"
)

// DefaultThreshold is the |z| above which a point is flagged.
const DefaultThreshold = 3.0

// Flag marks one outlier observation.
type Flag struct {
	Index  int     `json:"index"`
	Metric string  `json:"metric"` // "leads", "enrollments" or "spend"
	Value  float64 `json:"value"`
	ZScore float64 `json:"z_score"`
}

// DetectSeries z-scores leads, enrollments and spend independently and
// returns flags for every point beyond the threshold. Series shorter
// than 3 points have no meaningful dispersion and yield no flags.
func DetectSeries(series api.Series, threshold float64) []Flag {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var flags []Flag
	flags = append(flags, detect(series.Leads(), "leads", threshold)...)
	flags = append(flags, detect(series.Enrollments(), "enrollments", threshold)...)
	flags = append(flags, detect(series.Spend(), "spend", threshold)...)
	return flags
}

func detect(values []float64, metric string, threshold float64) []Flag {
	if len(values) < 3 {
		return nil
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std == 0 {
		return nil
	}

	var flags []Flag
	for i, v := range values {
		z := (v - mean) / std
		if math.Abs(z) > threshold {
			flags = append(flags, Flag{Index: i, Metric: metric, Value: v, ZScore: z})
		}
	}
	return flags
}
