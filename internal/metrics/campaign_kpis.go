package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edumetrics/funnelcast/internal/api"
)

// Campaign pace alert levels. A campaign is green when its projected
// finish covers at least 90% of target, yellow down to 70%, red below.
const (
	AlertGreen  = "green"
	AlertYellow = "yellow"
	AlertRed    = "red"
)

// CampaignKPITracker exposes funnel economics per brand so dashboards
// can watch cost efficiency and campaign pace alongside the forecasts.
type CampaignKPITracker struct {
	mu sync.RWMutex

	costPerLead        *prometheus.GaugeVec
	costPerAcquisition *prometheus.GaugeVec
	projectedFinishPct *prometheus.GaugeVec
	alertLevel         *prometheus.GaugeVec

	// Last computed alert per brand, for the report endpoints.
	alerts map[string]string
}

// NewCampaignKPITracker creates a new campaign KPI tracker
func NewCampaignKPITracker() *CampaignKPITracker {
	return &CampaignKPITracker{
		costPerLead: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fcast_cost_per_lead",
				Help: "Spend divided by leads over the reported window",
			},
			[]string{"brand"},
		),
		costPerAcquisition: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fcast_cost_per_acquisition",
				Help: "Spend divided by enrollments over the reported window",
			},
			[]string{"brand"},
		),
		projectedFinishPct: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fcast_projected_finish_pct",
				Help: "Projected end-of-campaign total as a percentage of target",
			},
			[]string{"brand"},
		),
		alertLevel: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fcast_alert_level",
				Help: "Campaign pace alert: 0=green, 1=yellow, 2=red",
			},
			[]string{"brand"},
		),
		alerts: make(map[string]string),
	}
}

// RecordFunnel updates cost KPIs from a window of observations.
func (t *CampaignKPITracker) RecordFunnel(brand string, spend, leads, enrollments float64) {
	if cpl := api.CPL(spend, leads); cpl > 0 {
		t.costPerLead.WithLabelValues(brand).Set(cpl)
	}
	if cpa := api.CPA(spend, enrollments); cpa > 0 {
		t.costPerAcquisition.WithLabelValues(brand).Set(cpa)
	}
}

// RecordPace updates the projected-finish gauge and derives the alert
// level from projected central vs target.
func (t *CampaignKPITracker) RecordPace(brand string, projectedCentral, target float64) string {
	pct := 0.0
	if target > 0 {
		pct = 100 * projectedCentral / target
	}
	t.projectedFinishPct.WithLabelValues(brand).Set(pct)

	level := AlertLevel(pct)
	t.alertLevel.WithLabelValues(brand).Set(alertValue(level))

	t.mu.Lock()
	t.alerts[brand] = level
	t.mu.Unlock()

	return level
}

// Alert returns the last computed alert level for a brand, defaulting
// to green for brands never scored.
func (t *CampaignKPITracker) Alert(brand string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if level, ok := t.alerts[brand]; ok {
		return level
	}
	return AlertGreen
}

// AlertLevel maps a projected-finish percentage to an alert level.
func AlertLevel(projectedPct float64) string {
	switch {
	case projectedPct >= 90:
		return AlertGreen
	case projectedPct >= 70:
		return AlertYellow
	default:
		return AlertRed
	}
}

func alertValue(level string) float64 {
	switch level {
	case AlertGreen:
		return 0
	case AlertYellow:
		return 1
	default:
		return 2
	}
}
