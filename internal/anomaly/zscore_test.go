package anomaly

import (
	"math"
	"testing"
	"time"

	"github.com/edumetrics/funnelcast/internal/api"
)

func seriesWithLeads(leads ...float64) api.Series {
	t0 := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	s := make(api.Series, len(leads))
	for i, l := range leads {
		s[i] = api.TimePoint{Date: t0.AddDate(0, 0, i), Leads: l, Enrollments: 10, Spend: 100}
	}
	return s
}

func TestDetectSeries_FlagsSpike(t *testing.T) {
	// 19 ordinary days and one 10x spike.
	leads := make([]float64, 20)
	for i := range leads {
		leads[i] = 100 + float64(i%5)
	}
	leads[12] = 1000

	flags := DetectSeries(seriesWithLeads(leads...), DefaultThreshold)

	var found *Flag
	for i := range flags {
		if flags[i].Metric == "leads" && flags[i].Index == 12 {
			found = &flags[i]
		}
	}
	if found == nil {
		t.Fatalf("Spike at index 12 not flagged; flags = %+v", flags)
	}
	if found.ZScore <= DefaultThreshold {
		t.Errorf("ZScore = %v, want > %v", found.ZScore, DefaultThreshold)
	}
	if found.Value != 1000 {
		t.Errorf("Value = %v, want 1000", found.Value)
	}
}

func TestDetectSeries_CleanSeries(t *testing.T) {
	leads := []float64{100, 105, 98, 102, 97, 103, 101, 99, 104, 100}
	if flags := DetectSeries(seriesWithLeads(leads...), DefaultThreshold); len(flags) != 0 {
		t.Errorf("Clean series produced flags: %+v", flags)
	}
}

func TestDetectSeries_ConstantAndShort(t *testing.T) {
	if flags := DetectSeries(seriesWithLeads(50, 50, 50, 50), DefaultThreshold); len(flags) != 0 {
		t.Errorf("Constant series produced flags: %+v", flags)
	}
	if flags := DetectSeries(seriesWithLeads(1, 1000), DefaultThreshold); len(flags) != 0 {
		t.Errorf("Two-point series produced flags: %+v", flags)
	}
}

func TestDetect_ZeroThresholdDefaults(t *testing.T) {
	leads := make([]float64, 20)
	for i := range leads {
		leads[i] = 100 + float64(i%5)
	}
	leads[7] = 900

	withDefault := DetectSeries(seriesWithLeads(leads...), DefaultThreshold)
	withZero := DetectSeries(seriesWithLeads(leads...), 0)
	if len(withDefault) != len(withZero) {
		t.Fatalf("Zero threshold should fall back to the default: %d vs %d flags",
			len(withZero), len(withDefault))
	}
	for i := range withDefault {
		if math.Abs(withDefault[i].ZScore-withZero[i].ZScore) > 1e-12 {
			t.Errorf("Flag %d differs between default and zero threshold", i)
		}
	}
}
