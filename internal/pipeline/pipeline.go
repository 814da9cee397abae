// Package pipeline wires the estimators into the end-to-end forecast
// flow used by the server and CLI: load calibration state, flag
// outliers, project the campaign total, refine with the tree ensemble
// when enough data exists, simulate the outcome distribution, and
// derive scenarios, risk probabilities and pace alerts.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/edumetrics/funnelcast/internal/anomaly"
	"github.com/edumetrics/funnelcast/internal/api"
	"github.com/edumetrics/funnelcast/internal/cache"
	"github.com/edumetrics/funnelcast/internal/calibration"
	"github.com/edumetrics/funnelcast/internal/elasticity"
	"github.com/edumetrics/funnelcast/internal/forest"
	"github.com/edumetrics/funnelcast/internal/metrics"
	"github.com/edumetrics/funnelcast/internal/montecarlo"
	"github.com/edumetrics/funnelcast/internal/projection"
	"github.com/edumetrics/funnelcast/internal/scenario"
	"github.com/edumetrics/funnelcast/internal/seasonal"
	"github.com/edumetrics/funnelcast/internal/store"
	"github.com/edumetrics/funnelcast/internal/weighting"
)

// modelTTL bounds how long a persisted tree ensemble is served before
// a retrain on fresh observations.
const modelTTL = 24 * time.Hour

// Estimation methods reported per forecast.
const (
	MethodTreeEnsemble = "tree_ensemble"
	MethodLinear       = "linear"
)

// Request is one forecast invocation for a brand's campaign.
type Request struct {
	Brand    string             `json:"brand"`
	Metric   string             `json:"metric"` // defaults to "enrollments"
	Series   api.Series         `json:"series"`
	Campaign api.CampaignConfig `json:"campaign"`

	// PartialValue is the metric accumulated so far this campaign.
	PartialValue float64 `json:"partial_value"`

	// Target is the campaign goal; drives risk probabilities and alerts.
	Target float64 `json:"target,omitempty"`

	Params api.EngineParams `json:"params"`
	Seed   *int64           `json:"seed,omitempty"`
}

// Report is the full forecast output.
type Report struct {
	Brand  string `json:"brand"`
	Metric string `json:"metric"`
	Method string `json:"method"`

	Base      api.Projection            `json:"base"`
	Scenarios map[string]api.Projection `json:"scenarios"`

	SimMean         float64 `json:"sim_mean"`
	SimP10          float64 `json:"sim_p10"`
	SimP50          float64 `json:"sim_p50"`
	SimP90          float64 `json:"sim_p90"`
	ProbBelowTarget float64 `json:"prob_below_target,omitempty"`

	SeasonalForecast []float64 `json:"seasonal_forecast,omitempty"`

	Elasticities map[string]api.ElasticityResult `json:"elasticities,omitempty"`

	Calibration api.CalibrationState `json:"calibration"`
	Alert       string               `json:"alert,omitempty"`
	CPL         float64              `json:"cpl"`
	CPA         float64              `json:"cpa"`

	// WeightedConversionRate is enrollments/leads with recent periods
	// weighted up by the half-life decay, a leading indicator of
	// conversion drift that a plain ratio hides.
	WeightedConversionRate float64 `json:"weighted_conversion_rate"`

	Outliers []anomaly.Flag `json:"outliers,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Runner holds the shared dependencies of the forecast flow. Store,
// cache, metrics and KPI tracker are all optional; a zero Runner still
// produces forecasts without persistence or instrumentation.
type Runner struct {
	Store  store.StateStore
	Models *cache.ModelCache
	Met    *metrics.Metrics
	KPIs   *metrics.CampaignKPITracker
}

// Forecast runs the full pipeline for one request.
func (r *Runner) Forecast(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()

	if len(req.Series) == 0 {
		return nil, api.ErrInsufficientData("pipeline", "empty series")
	}
	params := normalizeParams(req.Params)
	metric := req.Metric
	if metric == "" {
		metric = "enrollments"
	}

	rep := &Report{Brand: req.Brand, Metric: metric}

	if r.Met != nil {
		r.Met.ForecastTotal.Inc()
		r.Met.ForecastByBrand.WithLabelValues(req.Brand).Inc()
		defer func() { r.Met.ForecastDuration.Observe(time.Since(start).Seconds()) }()
	}

	cal := r.loadCalibration(ctx, req.Brand, metric, rep)
	rep.Calibration = cal

	rep.Outliers = anomaly.DetectSeries(req.Series, anomaly.DefaultThreshold)

	if weights, werr := weighting.Weights(req.Series, params.HalfLifeDays); werr == nil {
		rep.WeightedConversionRate = weightedConversionRate(req.Series, weights)
	}

	history := metricValues(req.Series, metric)

	// Base projection: partial-to-total extrapolation with a CV band
	// scaled by the calibration factor.
	linear := projection.NewLinear()
	linear.ConfidenceZ = params.ConfidenceZ
	linear.CalibrationFactor = cal.CalibrationFactor
	timeRatio := req.Campaign.TimeRatio()
	rep.Base = linear.Project(req.PartialValue, timeRatio, history)
	rep.Method = MethodLinear

	// Tree ensemble refinement: when enough observations exist, the
	// per-period enrollment prediction replaces the remaining-volume
	// estimate of the plain extrapolation.
	if metric == "enrollments" {
		r.refineWithEnsemble(ctx, req, params, cal, rep)
	}

	// Seasonal view of the next cycle.
	if dec, err := seasonal.Decompose(history, params.Period); err == nil {
		central, _, _, ferr := dec.Forecast(params.Period, params.ConfidenceZ)
		if ferr == nil {
			rep.SeasonalForecast = central
		}
	} else {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("seasonality skipped: %v", err))
	}

	// Empirical outcome distribution around the base projection.
	simCfg := montecarlo.Config{
		Variability:       params.Variability,
		NSimulations:      params.NSimulations,
		Seed:              req.Seed,
		Realized:          req.PartialValue,
		CalibrationFactor: cal.CalibrationFactor,
	}
	sim, err := montecarlo.Simulate(rep.Base, simCfg)
	if err != nil {
		return nil, err
	}
	rep.SimMean = sim.Mean()
	rep.SimP10 = sim.Percentile(10)
	rep.SimP50 = sim.Percentile(50)
	rep.SimP90 = sim.Percentile(90)
	if req.Target > 0 {
		rep.ProbBelowTarget = sim.ProbabilityBelow(req.Target)
	}

	rep.Scenarios = scenario.NewGenerator(params).Generate(rep.Base)

	rep.Elasticities = elasticity.EstimateSeries(req.Series)

	r.finishKPIs(req, rep)

	return rep, nil
}

// CalibrateFeedback evaluates realized outcomes against previously
// issued intervals, persists the updated state and reports it.
func (r *Runner) CalibrateFeedback(ctx context.Context, brand, metric string, intervals []api.Projection, realized []float64, params api.EngineParams) (api.CalibrationState, error) {
	state, err := calibration.Calibrate(intervals, realized, normalizeParams(params))
	if err != nil {
		return api.CalibrationState{}, err
	}

	key := store.Key(brand, metric)
	if r.Store != nil {
		if serr := r.Store.SetCalibration(ctx, key, &state); serr != nil {
			return state, fmt.Errorf("failed to persist calibration state: %w", serr)
		}
	}
	if r.Met != nil {
		r.Met.CalibrationFactor.WithLabelValues(key).Set(state.CalibrationFactor)
		r.Met.HitRate.WithLabelValues(key).Set(state.HitRate)
	}
	return state, nil
}

func (r *Runner) loadCalibration(ctx context.Context, brand, metric string, rep *Report) api.CalibrationState {
	if r.Store == nil {
		return api.DefaultCalibrationState()
	}
	state, err := r.Store.GetCalibration(ctx, store.Key(brand, metric))
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("calibration state unavailable, using defaults: %v", err))
		return api.DefaultCalibrationState()
	}
	if state == nil {
		return api.DefaultCalibrationState()
	}
	return *state
}

// refineWithEnsemble swaps the remaining-volume estimate for the tree
// ensemble's per-period prediction when a model can be trained or
// restored. Insufficient data leaves the linear projection in place.
func (r *Runner) refineWithEnsemble(ctx context.Context, req Request, params api.EngineParams, cal api.CalibrationState, rep *Report) {
	remaining := float64(req.Campaign.RemainingWeeks)
	if remaining <= 0 {
		return
	}

	predictor := r.obtainPredictor(ctx, req, rep)
	if predictor == nil {
		if r.Met != nil {
			r.Met.DegradedByBrand.WithLabelValues(req.Brand).Inc()
		}
		rep.Warnings = append(rep.Warnings, "tree ensemble unavailable, linear projection only")
		return
	}
	leads, spend := recentAverages(req.Series)
	perPeriod := predictor.PredictWithInterval(leads, spend, params.ConfidenceZ, cal.CalibrationFactor)

	rep.Base = api.Projection{
		Central: req.PartialValue + perPeriod.Central*remaining,
		Lower:   req.PartialValue + perPeriod.Lower*remaining,
		Upper:   req.PartialValue + perPeriod.Upper*remaining,
	}
	rep.Method = MethodTreeEnsemble
}

// obtainPredictor resolves a trained ensemble: model cache first, then
// the persisted blob (falling back to a retrain if corrupt), then a
// fresh fit. Returns nil when the series cannot support training.
func (r *Runner) obtainPredictor(ctx context.Context, req Request, rep *Report) *forest.Predictor {
	key := store.Key(req.Brand, "enrollments")

	if r.Models != nil {
		if p, ok := r.Models.Get(key); ok {
			if r.Met != nil {
				r.Met.ModelCacheHits.WithLabelValues(req.Brand).Inc()
			}
			return p
		}
	}

	obs := observations(req.Series)

	var blob []byte
	if r.Store != nil {
		if b, err := r.Store.GetModel(ctx, key); err == nil {
			blob = b
		} else {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("model state unavailable: %v", err))
		}
	}

	var predictor *forest.Predictor
	if blob != nil {
		p, warning, err := forest.RestoreOrFit(blob, obs)
		if err != nil {
			return nil
		}
		if warning != "" {
			rep.Warnings = append(rep.Warnings, warning)
		}
		predictor = p
	} else {
		p, err := forest.Fit(obs)
		if err != nil {
			return nil
		}
		predictor = p
	}

	if r.Met != nil {
		r.Met.ModelRetrains.WithLabelValues(req.Brand).Inc()
	}
	if r.Models != nil {
		r.Models.Put(key, predictor)
	}
	if r.Store != nil {
		if data, err := predictor.Serialize(); err == nil {
			if serr := r.Store.SetModel(ctx, key, data, modelTTL); serr != nil {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("model persistence failed: %v", serr))
			}
		}
	}

	return predictor
}

func (r *Runner) finishKPIs(req Request, rep *Report) {
	var spend, leads, enrollments float64
	for _, p := range req.Series {
		spend += p.Spend
		leads += p.Leads
		enrollments += p.Enrollments
	}
	rep.CPL = api.CPL(spend, leads)
	rep.CPA = api.CPA(spend, enrollments)

	if r.KPIs != nil {
		r.KPIs.RecordFunnel(req.Brand, spend, leads, enrollments)
	}
	if req.Target > 0 {
		pct := 100 * rep.Base.Central / req.Target
		rep.Alert = metrics.AlertLevel(pct)
		if r.KPIs != nil {
			r.KPIs.RecordPace(req.Brand, rep.Base.Central, req.Target)
		}
	}
}

// normalizeParams fills zero-valued tunables with the documented
// defaults so partial parameter payloads behave predictably.
func normalizeParams(p api.EngineParams) api.EngineParams {
	d := api.DefaultEngineParams()
	if p.HalfLifeDays <= 0 {
		p.HalfLifeDays = d.HalfLifeDays
	}
	if p.Period <= 0 {
		p.Period = d.Period
	}
	if p.NSimulations <= 0 {
		p.NSimulations = d.NSimulations
	}
	if p.Variability <= 0 {
		p.Variability = d.Variability
	}
	if p.ConfidenceZ <= 0 {
		p.ConfidenceZ = d.ConfidenceZ
	}
	if p.ActualMult <= 0 {
		p.ActualMult = d.ActualMult
	}
	if p.OptimistaMult <= 0 {
		p.OptimistaMult = d.OptimistaMult
	}
	if p.AgresivoMult <= 0 {
		p.AgresivoMult = d.AgresivoMult
	}
	if p.CalibrationLowPct <= 0 {
		p.CalibrationLowPct = d.CalibrationLowPct
	}
	if p.CalibrationHighPct <= 0 {
		p.CalibrationHighPct = d.CalibrationHighPct
	}
	return p
}

func metricValues(s api.Series, metric string) []float64 {
	switch metric {
	case "leads":
		return s.Leads()
	case "spend":
		return s.Spend()
	default:
		return s.Enrollments()
	}
}

func observations(s api.Series) []forest.Observation {
	obs := make([]forest.Observation, len(s))
	for i, p := range s {
		obs[i] = forest.Observation{Leads: p.Leads, Spend: p.Spend, Enrollments: p.Enrollments}
	}
	return obs
}

// weightedConversionRate is the decay-weighted enrollments/leads ratio.
// Zero weighted leads yields 0.
func weightedConversionRate(s api.Series, weights []float64) float64 {
	var leads, enrollments float64
	for i, p := range s {
		leads += weights[i] * p.Leads
		enrollments += weights[i] * p.Enrollments
	}
	if leads == 0 {
		return 0
	}
	return enrollments / leads
}

// recentAverages returns mean leads and spend over the trailing week
// (or the whole series when shorter), the feature vector for the
// per-period prediction.
func recentAverages(s api.Series) (leads, spend float64) {
	n := len(s)
	window := 7
	if n < window {
		window = n
	}
	for _, p := range s[n-window:] {
		leads += p.Leads
		spend += p.Spend
	}
	return leads / float64(window), spend / float64(window)
}
