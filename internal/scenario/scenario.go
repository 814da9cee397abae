// Package scenario derives alternative planning projections from a base
// forecast by scaling its central value and propagating the base's
// relative uncertainty onto each scaled scenario.
package scenario

import (
	"github.com/edumetrics/funnelcast/internal/api"
)

// defaultRelativeMargin is used when the base projection is degenerate
// (zero central value) and its own margin cannot be expressed as a ratio.
const defaultRelativeMargin = 0.15

// Generator produces named scenario projections from a base forecast.
// The zero value is not usable; construct with NewGenerator.
type Generator struct {
	// Multipliers maps scenario name to the factor applied to the base
	// central value.
	Multipliers map[string]float64
	// UncertaintyScale maps scenario name to the factor applied to the
	// base's relative margin. Unlisted scenarios keep the base margin.
	UncertaintyScale map[string]float64
}

// NewGenerator returns a Generator with the standard three planning
// scenarios: actual (1.0x), optimista (1.05x) and agresivo (1.2x).
// The aggressive scenario carries proportionally wider uncertainty
// because its assumptions are further from observed behaviour.
func NewGenerator(params api.EngineParams) *Generator {
	return &Generator{
		Multipliers: map[string]float64{
			api.ScenarioActual:    params.ActualMult,
			api.ScenarioOptimista: params.OptimistaMult,
			api.ScenarioAgresivo:  params.AgresivoMult,
		},
		UncertaintyScale: map[string]float64{
			api.ScenarioAgresivo: 1.2,
		},
	}
}

// Generate scales the base projection into one projection per configured
// scenario. The base's uncertainty travels with each scenario as a
// relative margin: (upper-lower)/(2*central), falling back to
// defaultRelativeMargin when the base central is zero.
func (g *Generator) Generate(base api.Projection) map[string]api.Projection {
	margin := RelativeMargin(base)

	out := make(map[string]api.Projection, len(g.Multipliers))
	for name, mult := range g.Multipliers {
		central := base.Central * mult
		m := margin
		if scale, ok := g.UncertaintyScale[name]; ok {
			m *= scale
		}
		lower := central * (1 - m)
		if lower < 0 {
			lower = 0
		}
		out[name] = api.Projection{
			Central: central,
			Lower:   lower,
			Upper:   central * (1 + m),
		}
	}
	return out
}

// RelativeMargin expresses a projection's half-width as a fraction of
// its central value. Degenerate projections get the default margin.
func RelativeMargin(p api.Projection) float64 {
	if p.Central == 0 {
		return defaultRelativeMargin
	}
	return (p.Upper - p.Lower) / (2 * p.Central)
}
