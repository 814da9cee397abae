package api

import (
	"time"
)

// TimePoint is a single immutable funnel observation for one day (or one
// period) of one brand, optionally narrowed to a channel.
type TimePoint struct {
	Date        time.Time `json:"date"`
	Leads       float64   `json:"leads"`
	Enrollments float64   `json:"enrollments"`
	Spend       float64   `json:"spend"`
	Channel     string    `json:"channel,omitempty"`
}

// Series is a chronologically ordered sequence of TimePoints for one brand.
// Dates are strictly increasing; gaps are tolerated and treated as zeros.
// The engine only ever reads a Series, never mutates it.
type Series []TimePoint

// Leads returns the lead counts of the series in order.
func (s Series) Leads() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Leads
	}
	return out
}

// Enrollments returns the enrollment counts of the series in order.
func (s Series) Enrollments() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Enrollments
	}
	return out
}

// Spend returns the spend amounts of the series in order.
func (s Series) Spend() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Spend
	}
	return out
}

// CampaignConfig describes where a campaign stands in its planned duration.
// The caller enforces CurrentWeek + RemainingWeeks ≈ TotalWeeks; the engine
// only derives the elapsed-time ratio from it.
type CampaignConfig struct {
	CurrentWeek    int `json:"current_week"`
	TotalWeeks     int `json:"total_weeks"`
	RemainingWeeks int `json:"remaining_weeks"`
}

// TimeRatio returns the fraction of the campaign elapsed, in (0, 1] for a
// well-formed config. A non-positive TotalWeeks yields 0.
func (c CampaignConfig) TimeRatio() float64 {
	if c.TotalWeeks <= 0 {
		return 0
	}
	return float64(c.CurrentWeek) / float64(c.TotalWeeks)
}

// Projection is a point estimate with a confidence band.
// Invariant: 0 ≤ Lower ≤ Central ≤ Upper.
type Projection struct {
	Central float64 `json:"central"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
}

// Scenario names used by the scenario generator. The names are business
// constants carried over from the planning reports.
const (
	ScenarioActual    = "actual"
	ScenarioOptimista = "optimista"
	ScenarioAgresivo  = "agresivo"
)

// ElasticityResult is the log-log regression slope for one channel:
// the percentage lead response per percentage spend change. Values above 1
// are elastic, near 1 unit-elastic, below 1 inelastic; classification is a
// reporting concern, not enforced here. Negative values signal a data anomaly.
type ElasticityResult struct {
	Channel     string  `json:"channel"`
	Coefficient float64 `json:"coefficient"`
	RSquared    float64 `json:"r_squared"`
	N           int     `json:"n"`
}

// CalibrationState is the only engine state that survives across calls.
// It is loaded and stored explicitly by the caller, keyed per brand/metric,
// and read by estimators to scale interval width on their next run.
type CalibrationState struct {
	HitRate           float64   `json:"hit_rate"`           // [0, 100]
	CalibrationFactor float64   `json:"calibration_factor"` // > 0
	Evaluations       int       `json:"evaluations"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultCalibrationState is the state used before any feedback exists:
// intervals pass through unscaled.
func DefaultCalibrationState() CalibrationState {
	return CalibrationState{HitRate: 0, CalibrationFactor: 1.0}
}

// ChannelCredit is the attribution outcome for a single channel.
type ChannelCredit struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"` // [0, 100]
}

// AttributionResult maps channel name to its conversion credit. Percentages
// sum to 100 (within floating tolerance) over channels with nonzero credit.
type AttributionResult map[string]ChannelCredit

// Touch is one marketing contact on the path of a converted lead.
type Touch struct {
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}

// EngineParams carries every tunable the engine accepts. All values are
// per-call; the engine never reads configuration from the environment.
type EngineParams struct {
	// HalfLifeDays controls recency decay in temporal weighting and
	// time-decay attribution. Must be > 0.
	HalfLifeDays float64 `json:"half_life_days"`

	// Period is the seasonality cycle length in series steps
	// (7 for a weekly pattern over daily data).
	Period int `json:"period"`

	// NSimulations is the Monte Carlo sample count. Must be ≥ 1.
	NSimulations int `json:"n_simulations"`

	// Variability is the relative perturbation applied per simulated
	// trajectory. Must be ≥ 0; 0 collapses to a point mass.
	Variability float64 `json:"variability"`

	// ConfidenceZ is the z-factor for interval width (1.96 for 95%).
	ConfidenceZ float64 `json:"confidence_z"`

	// Scenario central multipliers. Business constants; isolated here so a
	// policy change is a one-line edit.
	ActualMult    float64 `json:"actual_mult"`
	OptimistaMult float64 `json:"optimista_mult"`
	AgresivoMult  float64 `json:"agresivo_mult"`

	// Calibration thresholds on hit rate percentage.
	CalibrationLowPct  float64 `json:"calibration_low_pct"`
	CalibrationHighPct float64 `json:"calibration_high_pct"`
}

// DefaultEngineParams returns the documented defaults.
func DefaultEngineParams() EngineParams {
	return EngineParams{
		HalfLifeDays:       14,
		Period:             7,
		NSimulations:       1000,
		Variability:        0.15,
		ConfidenceZ:        1.96,
		ActualMult:         1.0,
		OptimistaMult:      1.05,
		AgresivoMult:       1.2,
		CalibrationLowPct:  90,
		CalibrationHighPct: 98,
	}
}

// CPL returns cost per lead with a zero-guard: 0 when no leads.
func CPL(spend, leads float64) float64 {
	if leads <= 0 {
		return 0
	}
	return spend / leads
}

// CPA returns cost per acquisition with a zero-guard: 0 when no enrollments.
func CPA(spend, enrollments float64) float64 {
	if enrollments <= 0 {
		return 0
	}
	return spend / enrollments
}
