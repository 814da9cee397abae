package weighting

import (
	"math"
	"testing"
	"time"

	"github.com/edumetrics/funnelcast/internal/api"
)

func dailySeries(n int) api.Series {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(api.Series, n)
	for i := 0; i < n; i++ {
		s[i] = api.TimePoint{Date: start.AddDate(0, 0, i), Leads: float64(10 + i)}
	}
	return s
}

func TestWeights_MostRecentIsOne(t *testing.T) {
	s := dailySeries(10)

	w, err := Weights(s, 7)
	if err != nil {
		t.Fatalf("Weights failed: %v", err)
	}
	if len(w) != len(s) {
		t.Fatalf("Expected %d weights, got %d", len(s), len(w))
	}
	if w[len(w)-1] != 1.0 {
		t.Errorf("Most recent weight should be 1.0, got %v", w[len(w)-1])
	}
}

func TestWeights_StrictlyDecreasingWithAge(t *testing.T) {
	s := dailySeries(20)

	w, err := Weights(s, 14)
	if err != nil {
		t.Fatalf("Weights failed: %v", err)
	}
	for i := 1; i < len(w); i++ {
		if w[i] <= w[i-1] {
			t.Errorf("Weight at index %d (%.6f) not greater than older weight (%.6f)", i, w[i], w[i-1])
		}
	}
}

func TestWeights_HalfLifePoint(t *testing.T) {
	s := dailySeries(8) // ages 7..0 with half-life 7

	w, err := Weights(s, 7)
	if err != nil {
		t.Fatalf("Weights failed: %v", err)
	}
	// Oldest point is exactly one half-life old: weight 0.5
	if math.Abs(w[0]-0.5) > 1e-9 {
		t.Errorf("Expected weight 0.5 at one half-life, got %.9f", w[0])
	}
}

func TestWeights_EmptySeries(t *testing.T) {
	w, err := Weights(api.Series{}, 7)
	if err != nil {
		t.Fatalf("Empty series should not error: %v", err)
	}
	if len(w) != 0 {
		t.Errorf("Expected empty result, got %d weights", len(w))
	}
}

func TestWeights_InvalidHalfLife(t *testing.T) {
	for _, hl := range []float64{0, -3} {
		_, err := Weights(dailySeries(5), hl)
		if !api.IsKind(err, api.KindInvalidParameter) {
			t.Errorf("half_life=%v: expected InvalidParameter, got %v", hl, err)
		}
	}
}

func TestDecayWeight_FutureClampedToOne(t *testing.T) {
	ref := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	w := DecayWeight(ref.AddDate(0, 0, 2), ref, 7)
	if w != 1.0 {
		t.Errorf("Touch after reference should weigh 1.0, got %v", w)
	}
}
