package montecarlo

import (
	"math"
	"sort"
	"testing"

	"github.com/edumetrics/funnelcast/internal/api"
)

func seeded(seed int64, cfg Config) Config {
	cfg.Seed = &seed
	return cfg
}

func base() api.Projection {
	return api.Projection{Central: 200, Lower: 170, Upper: 230}
}

func TestSimulate_SampleCount(t *testing.T) {
	cfg := seeded(7, DefaultConfig())
	cfg.NSimulations = 500

	res, err := Simulate(base(), cfg)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if len(res.Samples) != 500 {
		t.Errorf("Expected 500 samples, got %d", len(res.Samples))
	}
}

func TestSimulate_Reproducible(t *testing.T) {
	cfg := seeded(42, DefaultConfig())

	a, err := Simulate(base(), cfg)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	b, err := Simulate(base(), cfg)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("Sample %d differs for equal seeds: %v vs %v", i, a.Samples[i], b.Samples[i])
		}
	}
}

func TestSimulate_DifferentSeedsDiffer(t *testing.T) {
	a, err := Simulate(base(), seeded(1, DefaultConfig()))
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	b, err := Simulate(base(), seeded(2, DefaultConfig()))
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	same := true
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Different seeds produced identical sample sets")
	}
}

func TestSimulate_ZeroVariabilityPointMass(t *testing.T) {
	cfg := seeded(3, DefaultConfig())
	cfg.Variability = 0

	res, err := Simulate(base(), cfg)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	for _, s := range res.Samples {
		if math.Abs(s-200) > 1e-9 {
			t.Fatalf("Zero variability should collapse to the base central, got %v", s)
		}
	}
}

func TestSimulate_InvalidParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NSimulations = 0
	if _, err := Simulate(base(), cfg); !api.IsKind(err, api.KindInvalidParameter) {
		t.Errorf("n_simulations=0: expected InvalidParameter, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Variability = -0.1
	if _, err := Simulate(base(), cfg); !api.IsKind(err, api.KindInvalidParameter) {
		t.Errorf("variability<0: expected InvalidParameter, got %v", err)
	}
}

func TestPercentile_MedianConsistency(t *testing.T) {
	res, err := Simulate(base(), seeded(11, DefaultConfig()))
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	sorted := append([]float64(nil), res.Samples...)
	sort.Float64s(sorted)
	n := len(sorted)
	median := (sorted[(n-1)/2] + sorted[n/2]) / 2

	if math.Abs(res.Percentile(50)-median) > 1e-9 {
		t.Errorf("percentile(50)=%.6f differs from direct median %.6f", res.Percentile(50), median)
	}
}

func TestProbability_Boundaries(t *testing.T) {
	res, err := Simulate(base(), seeded(13, DefaultConfig()))
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	if p := res.ProbabilityBelow(math.Inf(1)); p != 1.0 {
		t.Errorf("probability_below(+inf)=%v, want 1.0", p)
	}
	if p := res.ProbabilityAbove(math.Inf(-1)); p != 1.0 {
		t.Errorf("probability_above(-inf)=%v, want 1.0", p)
	}

	pb := res.ProbabilityBelow(200)
	pa := res.ProbabilityAbove(200)
	if math.Abs(pb+pa-1.0) > 1e-12 {
		t.Errorf("below+above should sum to 1, got %v", pb+pa)
	}
}

func TestSimulate_RealizedPartIsStable(t *testing.T) {
	// A larger realized share leaves less remaining volume exposed to
	// velocity noise, so the spread should shrink.
	cfgLoose := seeded(5, DefaultConfig())
	loose, err := Simulate(base(), cfgLoose)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	cfgTight := seeded(5, DefaultConfig())
	cfgTight.Realized = 180
	tight, err := Simulate(base(), cfgTight)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	if tight.Std() >= loose.Std() {
		t.Errorf("Realized share should reduce spread: %.3f vs %.3f", tight.Std(), loose.Std())
	}
}

func TestInterval_Ordering(t *testing.T) {
	res, err := Simulate(base(), seeded(17, DefaultConfig()))
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	p := res.Interval(2.5, 97.5)
	if p.Lower > p.Central || p.Central > p.Upper || p.Lower < 0 {
		t.Errorf("Interval ordering violated: %+v", p)
	}

	t.Logf("95%% interval: %+v", p)
}
