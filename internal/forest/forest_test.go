package forest

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/edumetrics/funnelcast/internal/api"
)

// trainingData builds n observations where enrollments track leads at a
// roughly 10% conversion with a mild spend effect.
func trainingData(n int) []Observation {
	obs := make([]Observation, n)
	for i := 0; i < n; i++ {
		leads := 100 + float64(i%7)*15
		spend := 1000 + float64(i%5)*200
		obs[i] = Observation{
			Leads:       leads,
			Spend:       spend,
			Enrollments: leads*0.1 + spend*0.001 + float64(i%3),
		}
	}
	return obs
}

func TestFit_MinimumObservations(t *testing.T) {
	_, err := Fit(trainingData(9))
	if !api.IsKind(err, api.KindInsufficientData) {
		t.Errorf("9 rows: expected InsufficientData, got %v", err)
	}

	if _, err := Fit(trainingData(10)); err != nil {
		t.Errorf("10 rows should train, got %v", err)
	}
}

func TestPredictWithInterval_Ordering(t *testing.T) {
	p, err := Fit(trainingData(40))
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	cases := [][2]float64{{100, 1000}, {150, 1500}, {0, 0}, {500, 9000}}
	for _, c := range cases {
		proj := p.PredictWithInterval(c[0], c[1], 1.96, 1.0)
		if proj.Lower > proj.Central || proj.Central > proj.Upper || proj.Lower < 0 {
			t.Errorf("predict(%v, %v): ordering violated: %+v", c[0], c[1], proj)
		}
	}
}

func TestPredict_TracksTarget(t *testing.T) {
	p, err := Fit(trainingData(60))
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	// In-distribution point: 160 leads, 1400 spend → roughly 18-19.
	proj := p.PredictWithInterval(160, 1400, 1.96, 1.0)
	if proj.Central < 12 || proj.Central > 25 {
		t.Errorf("Central %.2f outside plausible range for 160 leads", proj.Central)
	}

	t.Logf("prediction: %+v", proj)
}

func TestFit_Deterministic(t *testing.T) {
	obs := trainingData(30)

	a, err := Fit(obs)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	b, err := Fit(obs)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pa := a.PredictWithInterval(140, 1200, 1.96, 1.0)
	pb := b.PredictWithInterval(140, 1200, 1.96, 1.0)
	if pa != pb {
		t.Errorf("Same data should yield identical ensembles: %+v vs %+v", pa, pb)
	}
}

func TestPredict_CalibrationFactorWidensInterval(t *testing.T) {
	p, err := Fit(trainingData(40))
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	neutral := p.PredictWithInterval(150, 1400, 1.96, 1.0)
	widened := p.PredictWithInterval(150, 1400, 1.96, 1.5)

	if widened.Central != neutral.Central {
		t.Errorf("Factor must not move the central estimate: %v vs %v", widened.Central, neutral.Central)
	}
	if widened.Upper-widened.Lower <= neutral.Upper-neutral.Lower {
		t.Errorf("Factor 1.5 should widen the band: %+v vs %+v", widened, neutral)
	}
}

// A single trained predictor is shared across request goroutines, each
// with its own calibration state. Predictions must be independent of
// what other goroutines pass.
func TestPredict_ConcurrentCallersIndependent(t *testing.T) {
	p, err := Fit(trainingData(40))
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	want := p.PredictWithInterval(150, 1400, 1.96, 1.0)

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for g := 0; g < 4; g++ {
		factor := 1.0 + 0.3*float64(g)
		wg.Add(1)
		go func(factor float64) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p.PredictWithInterval(150, 1400, 1.96, factor)
				got := p.PredictWithInterval(150, 1400, 1.96, 1.0)
				if got != want {
					errs <- fmt.Sprintf("%+v != %+v", got, want)
					return
				}
			}
		}(factor)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("Concurrent caller observed foreign calibration: %s", e)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	p, err := Fit(trainingData(30))
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}

	orig := p.PredictWithInterval(130, 1100, 1.96, 1.0)
	back := restored.PredictWithInterval(130, 1100, 1.96, 1.0)
	if math.Abs(orig.Central-back.Central) > 1e-12 {
		t.Errorf("Round trip changed prediction: %v vs %v", orig.Central, back.Central)
	}
}

func TestRestoreOrFit_FallbackOnCorruptState(t *testing.T) {
	obs := trainingData(20)

	p, warning, err := RestoreOrFit([]byte("{not json"), obs)
	if err != nil {
		t.Fatalf("Corrupt state should retrain, got error: %v", err)
	}
	if p == nil {
		t.Fatal("Expected a trained predictor")
	}
	if warning == "" {
		t.Error("Expected a retrain warning for corrupt state")
	}
}

func TestRestoreOrFit_UsesValidState(t *testing.T) {
	trained, err := Fit(trainingData(20))
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	state, err := trained.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	// Too few observations to retrain, but the state is valid, so no error.
	p, warning, err := RestoreOrFit(state, trainingData(3))
	if err != nil {
		t.Fatalf("Valid state should restore, got %v", err)
	}
	if warning != "" {
		t.Errorf("Unexpected warning: %s", warning)
	}
	if p == nil {
		t.Fatal("Expected restored predictor")
	}
}

func TestRestoreOrFit_InsufficientEverywhere(t *testing.T) {
	_, _, err := RestoreOrFit(nil, trainingData(4))
	if !api.IsKind(err, api.KindInsufficientData) {
		t.Errorf("Expected InsufficientData, got %v", err)
	}
}
