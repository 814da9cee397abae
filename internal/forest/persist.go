package forest

import (
	"encoding/json"
	"fmt"

	"github.com/edumetrics/funnelcast/internal/api"
)

// modelState is the wire form of a trained ensemble. Only the trees are
// persisted; confidence and calibration are per-call inputs.
type modelState struct {
	Version string  `json:"version"`
	Trees   []*tree `json:"trees"`
}

const stateVersion = "rf-v1"

// Serialize encodes the trained ensemble so it can be stored and reused
// across calls without retraining.
func (p *Predictor) Serialize() ([]byte, error) {
	return json.Marshal(modelState{
		Version: stateVersion,
		Trees:   p.trees,
	})
}

// Deserialize restores a previously serialized ensemble. A corrupt or
// incompatible payload is an error; callers recover by retraining.
func Deserialize(data []byte) (*Predictor, error) {
	var state modelState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode model state: %w", err)
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("unsupported model state version %q", state.Version)
	}
	if len(state.Trees) == 0 {
		return nil, fmt.Errorf("model state has no trees")
	}

	return &Predictor{trees: state.Trees}, nil
}

// RestoreOrFit tries a persisted model state first and falls back to a
// fresh training run when the state is missing or corrupt. The fallback is
// never fatal: the returned warning tells the caller what happened so it
// can log it.
func RestoreOrFit(state []byte, observations []Observation) (p *Predictor, warning string, err error) {
	if len(state) > 0 {
		p, derr := Deserialize(state)
		if derr == nil {
			return p, "", nil
		}
		warning = fmt.Sprintf("persisted model state unusable, retraining: %v", derr)
	}

	p, err = Fit(observations)
	if err != nil {
		if api.IsKind(err, api.KindInsufficientData) {
			return nil, warning, err
		}
		return nil, warning, fmt.Errorf("retrain: %w", err)
	}
	return p, warning, nil
}
