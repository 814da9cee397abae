package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the forecasting service
type Metrics struct {
	ForecastTotal    prometheus.Counter
	SimulationTotal  prometheus.Counter
	AttributionTotal prometheus.Counter
	WALErrors        prometheus.Counter
	RateLimited      prometheus.Counter

	// Per-brand labeled metrics
	ForecastByBrand   *prometheus.CounterVec
	DegradedByBrand   *prometheus.CounterVec
	ModelRetrains     *prometheus.CounterVec
	ModelCacheHits    *prometheus.CounterVec
	CalibrationFactor *prometheus.GaugeVec
	HitRate           *prometheus.GaugeVec

	ForecastDuration   prometheus.Histogram
	SimulationDuration prometheus.Histogram
}

// New creates and registers all metrics
func New() *Metrics {
	return &Metrics{
		ForecastTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fcast_forecast_total",
			Help: "Total number of forecast requests received",
		}),
		SimulationTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fcast_simulation_total",
			Help: "Total number of Monte Carlo simulation requests received",
		}),
		AttributionTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fcast_attribution_total",
			Help: "Total number of attribution requests received",
		}),
		WALErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fcast_wal_errors",
			Help: "Number of WAL write errors",
		}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fcast_rate_limited",
			Help: "Number of requests rejected by the rate limiter (429)",
		}),

		ForecastByBrand: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fcast_forecast_total_by_brand",
				Help: "Total number of forecast requests received per brand",
			},
			[]string{"brand"},
		),
		DegradedByBrand: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fcast_degraded_by_brand",
				Help: "Forecasts that fell back to a simpler estimator for lack of data, per brand",
			},
			[]string{"brand"},
		),
		ModelRetrains: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fcast_model_retrains",
				Help: "Tree ensemble retrains per brand, including restores from corrupt state",
			},
			[]string{"brand"},
		),
		ModelCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fcast_model_cache_hits",
				Help: "Forecasts served from a cached tree ensemble per brand",
			},
			[]string{"brand"},
		),
		CalibrationFactor: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fcast_calibration_factor",
				Help: "Current interval calibration factor per forecast stream",
			},
			[]string{"stream"},
		),
		HitRate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fcast_calibration_hit_rate",
				Help: "Observed interval hit rate (percent) per forecast stream",
			},
			[]string{"stream"},
		),

		ForecastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fcast_forecast_duration_seconds",
			Help:    "End-to-end forecast pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),
		SimulationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fcast_simulation_duration_seconds",
			Help:    "Monte Carlo simulation latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
