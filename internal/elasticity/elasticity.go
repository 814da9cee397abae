// Package elasticity estimates how responsive lead volume is to spend
// changes, per channel, using a log-log ordinary least squares fit. The
// fitted slope reads directly as an elasticity coefficient: a value of
// 0.8 means a 1% spend increase moves leads by roughly 0.8%.
package elasticity

import (
	"math"

	"github.com/edumetrics/funnelcast/internal/api"
)

// minObservations is the smallest paired sample that yields a slope
// with any meaning.
const minObservations = 3

// Estimate fits log(leads) = a + b*log(spend) and returns b as the
// elasticity coefficient together with the fit's R-squared. All spend
// and lead values must be strictly positive: zeros or negatives have no
// logarithm and indicate upstream data problems rather than real weeks.
func Estimate(channel string, spend, leads []float64) (api.ElasticityResult, error) {
	if len(spend) != len(leads) {
		return api.ElasticityResult{}, api.ErrInvalidInput("elasticity", "spend and leads series have different lengths")
	}
	if len(spend) < minObservations {
		return api.ElasticityResult{}, api.ErrInsufficientData("elasticity", "need at least 3 paired observations")
	}

	logSpend := make([]float64, len(spend))
	logLeads := make([]float64, len(leads))
	for i := range spend {
		if spend[i] <= 0 || leads[i] <= 0 {
			return api.ElasticityResult{}, api.ErrInvalidInput("elasticity", "spend and leads must be strictly positive")
		}
		logSpend[i] = math.Log(spend[i])
		logLeads[i] = math.Log(leads[i])
	}

	slope, r2, ok := leastSquares(logSpend, logLeads)
	if !ok {
		return api.ElasticityResult{}, api.ErrInvalidInput("elasticity", "spend series has no variation")
	}

	return api.ElasticityResult{
		Channel:     channel,
		Coefficient: slope,
		RSquared:    r2,
		N:           len(spend),
	}, nil
}

// EstimateSeries groups a series by channel and estimates elasticity for
// each channel that has enough valid observations. Channels that fail
// estimation are skipped rather than aborting the whole batch.
func EstimateSeries(series api.Series) map[string]api.ElasticityResult {
	spendBy := make(map[string][]float64)
	leadsBy := make(map[string][]float64)
	for _, p := range series {
		if p.Channel == "" {
			continue
		}
		spendBy[p.Channel] = append(spendBy[p.Channel], p.Spend)
		leadsBy[p.Channel] = append(leadsBy[p.Channel], p.Leads)
	}

	out := make(map[string]api.ElasticityResult)
	for channel := range spendBy {
		res, err := Estimate(channel, spendBy[channel], leadsBy[channel])
		if err != nil {
			continue
		}
		out[channel] = res
	}
	return out
}

// leastSquares fits y = a + b*x and returns the slope and R-squared.
// ok is false when x is constant and the slope is undefined.
func leastSquares(x, y []float64) (slope, r2 float64, ok bool) {
	n := float64(len(x))
	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / n
	meanY := sumY / n

	var ssXX, ssXY, ssYY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		ssXX += dx * dx
		ssXY += dx * dy
		ssYY += dy * dy
	}
	if ssXX == 0 {
		return 0, 0, false
	}

	slope = ssXY / ssXX
	if ssYY == 0 {
		// Flat response: the fit is exact and the slope is zero.
		return slope, 1, true
	}
	r2 = (ssXY * ssXY) / (ssXX * ssYY)
	return slope, r2, true
}
