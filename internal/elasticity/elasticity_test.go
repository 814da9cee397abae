package elasticity

import (
	"math"
	"testing"
	"time"

	"github.com/edumetrics/funnelcast/internal/api"
)

func TestEstimate_KnownPowerLaw(t *testing.T) {
	// leads = 2 * spend^0.8 exactly, so the log-log slope must be 0.8
	// with a perfect fit.
	spend := []float64{100, 200, 400, 800, 1600}
	leads := make([]float64, len(spend))
	for i, s := range spend {
		leads[i] = 2 * math.Pow(s, 0.8)
	}

	res, err := Estimate("search", spend, leads)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if math.Abs(res.Coefficient-0.8) > 1e-9 {
		t.Errorf("Coefficient = %v, want 0.8", res.Coefficient)
	}
	if math.Abs(res.RSquared-1.0) > 1e-9 {
		t.Errorf("RSquared = %v, want 1.0", res.RSquared)
	}
	if res.Channel != "search" || res.N != 5 {
		t.Errorf("Metadata mismatch: %+v", res)
	}
}

func TestEstimate_NoisyFitHasLowerR2(t *testing.T) {
	spend := []float64{100, 200, 400, 800, 1600, 3200}
	leads := []float64{40, 75, 110, 260, 390, 700}

	res, err := Estimate("social", spend, leads)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if res.Coefficient <= 0 {
		t.Errorf("Expected positive elasticity, got %v", res.Coefficient)
	}
	if res.RSquared <= 0 || res.RSquared >= 1 {
		t.Errorf("RSquared = %v, want strictly between 0 and 1", res.RSquared)
	}
	t.Logf("social elasticity %.3f (r2=%.3f)", res.Coefficient, res.RSquared)
}

func TestEstimate_RejectsNonPositive(t *testing.T) {
	cases := []struct {
		name  string
		spend []float64
		leads []float64
	}{
		{"zero spend", []float64{100, 0, 300}, []float64{10, 20, 30}},
		{"negative spend", []float64{100, -5, 300}, []float64{10, 20, 30}},
		{"zero leads", []float64{100, 200, 300}, []float64{10, 0, 30}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Estimate("x", c.spend, c.leads)
			if !api.IsKind(err, api.KindInvalidInput) {
				t.Errorf("Expected InvalidInput, got %v", err)
			}
		})
	}
}

func TestEstimate_InsufficientData(t *testing.T) {
	_, err := Estimate("x", []float64{100, 200}, []float64{10, 20})
	if !api.IsKind(err, api.KindInsufficientData) {
		t.Errorf("Expected InsufficientData, got %v", err)
	}
}

func TestEstimate_LengthMismatch(t *testing.T) {
	_, err := Estimate("x", []float64{100, 200, 300}, []float64{10, 20})
	if !api.IsKind(err, api.KindInvalidInput) {
		t.Errorf("Expected InvalidInput, got %v", err)
	}
}

func TestEstimate_ConstantSpend(t *testing.T) {
	_, err := Estimate("x", []float64{100, 100, 100}, []float64{10, 20, 30})
	if !api.IsKind(err, api.KindInvalidInput) {
		t.Errorf("Expected InvalidInput for constant spend, got %v", err)
	}
}

func TestEstimateSeries_GroupsByChannel(t *testing.T) {
	day := 24 * time.Hour
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	var series api.Series
	for i := 0; i < 5; i++ {
		s := 100.0 * math.Pow(2, float64(i))
		series = append(series, api.TimePoint{
			Date: t0.Add(time.Duration(i) * day), Channel: "search",
			Spend: s, Leads: 2 * math.Pow(s, 0.8),
		})
		series = append(series, api.TimePoint{
			Date: t0.Add(time.Duration(i) * day), Channel: "broken",
			Spend: 0, Leads: 10,
		})
	}

	out := EstimateSeries(series)
	if _, ok := out["search"]; !ok {
		t.Fatal("Expected elasticity for channel search")
	}
	if _, ok := out["broken"]; ok {
		t.Error("Channel with zero spend should be skipped, not estimated")
	}
	if math.Abs(out["search"].Coefficient-0.8) > 1e-9 {
		t.Errorf("search coefficient = %v, want 0.8", out["search"].Coefficient)
	}
}
