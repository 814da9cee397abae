// Package attribution distributes conversion credit across the marketing
// touches that preceded each enrollment. Six rules are supported, from
// single-touch heuristics up to Shapley values over the touch set.
package attribution

import (
	"math/rand"
	"sort"

	"github.com/edumetrics/funnelcast/internal/api"
	"github.com/edumetrics/funnelcast/internal/weighting"
)

// Attribution model names.
const (
	ModelLastTouch  = "last_touch"
	ModelFirstTouch = "first_touch"
	ModelLinear     = "linear"
	ModelTimeDecay  = "time_decay"
	ModelPositional = "positional"
	ModelShapley    = "shapley"
)

const (
	// shapleyExactCap bounds the unique-channel count for which all
	// permutations are enumerated. 8 channels is 40320 orderings per
	// lead, which is still cheap; beyond that the sampled estimator
	// takes over.
	shapleyExactCap = 8
	// shapleySamplePermutations is the number of random orderings drawn
	// per lead when sampling.
	shapleySamplePermutations = 200
	// shapleySeed fixes the sampling RNG so repeated attribution runs
	// over the same journeys agree.
	shapleySeed = 42
)

// Journey is the ordered touch sequence of one converted lead.
type Journey []api.Touch

// Attribute distributes one unit of credit per converted lead across
// channels according to the named model, then expresses the totals as
// percentages summing to 100. Journeys without touches are ignored; if
// none remain the result is InsufficientData.
func Attribute(journeys []Journey, model string, params api.EngineParams) (api.AttributionResult, error) {
	perLead, err := creditFunc(model, params)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64)
	counts := make(map[string]int)
	leads := 0
	for _, j := range journeys {
		if len(j) == 0 {
			continue
		}
		leads++
		for channel, credit := range perLead(j) {
			if credit <= 0 {
				continue
			}
			totals[channel] += credit
			counts[channel]++
		}
	}
	if leads == 0 {
		return nil, api.ErrInsufficientData("attribution", "no journeys with touches")
	}

	result := make(api.AttributionResult, len(totals))
	for channel, credit := range totals {
		result[channel] = api.ChannelCredit{
			Count:      counts[channel],
			Percentage: 100 * credit / float64(leads),
		}
	}
	return result, nil
}

// creditFunc resolves a model name to its per-lead credit rule. Every
// rule returns credits summing to 1 over the journey's channels.
func creditFunc(model string, params api.EngineParams) (func(Journey) map[string]float64, error) {
	switch model {
	case ModelLastTouch:
		return func(j Journey) map[string]float64 {
			return map[string]float64{j[len(j)-1].Channel: 1}
		}, nil
	case ModelFirstTouch:
		return func(j Journey) map[string]float64 {
			return map[string]float64{j[0].Channel: 1}
		}, nil
	case ModelLinear:
		return linearCredit, nil
	case ModelTimeDecay:
		halfLife := params.HalfLifeDays
		if halfLife <= 0 {
			return nil, api.ErrInvalidParameter("attribution", "half_life_days", "must be positive for time_decay")
		}
		return func(j Journey) map[string]float64 {
			return timeDecayCredit(j, halfLife)
		}, nil
	case ModelPositional:
		return positionalCredit, nil
	case ModelShapley:
		return shapleyCredit, nil
	default:
		return nil, api.ErrInvalidParameter("attribution", "model", "unknown model "+model)
	}
}

// linearCredit splits credit evenly across the unique channels touched.
func linearCredit(j Journey) map[string]float64 {
	channels := uniqueChannels(j)
	share := 1.0 / float64(len(channels))
	out := make(map[string]float64, len(channels))
	for _, c := range channels {
		out[c] = share
	}
	return out
}

// timeDecayCredit weights each touch by its recency relative to the last
// touch using the standard half-life decay, normalized per lead.
func timeDecayCredit(j Journey, halfLifeDays float64) map[string]float64 {
	reference := j[len(j)-1].Timestamp
	raw := make(map[string]float64)
	total := 0.0
	for _, t := range j {
		w := weighting.DecayWeight(t.Timestamp, reference, halfLifeDays)
		raw[t.Channel] += w
		total += w
	}
	if total == 0 {
		// All weights underflowed (touches far older than the half
		// life): fall back to an even split by touch.
		for _, t := range j {
			raw[t.Channel] += 1
			total++
		}
	}
	for c := range raw {
		raw[c] /= total
	}
	return raw
}

// positionalCredit gives 40% to the first touch, 40% to the last and
// splits the remaining 20% evenly among the middle touches. With one or
// two touches the credit renormalizes onto the touches that exist.
func positionalCredit(j Journey) map[string]float64 {
	out := make(map[string]float64)
	switch len(j) {
	case 1:
		out[j[0].Channel] = 1
	case 2:
		out[j[0].Channel] += 0.5
		out[j[1].Channel] += 0.5
	default:
		out[j[0].Channel] += 0.4
		out[j[len(j)-1].Channel] += 0.4
		middle := 0.2 / float64(len(j)-2)
		for _, t := range j[1 : len(j)-1] {
			out[t.Channel] += middle
		}
	}
	return out
}

// shapleyCredit computes each channel's average marginal contribution
// over orderings of the journey's unique channel set. The coalition
// value is the fraction of the journey's touches covered by the
// coalition's channels, so heavily touched channels earn more. Exact
// enumeration is used up to shapleyExactCap channels; beyond that a
// fixed-seed permutation sample approximates the average.
func shapleyCredit(j Journey) map[string]float64 {
	channels := uniqueChannels(j)
	n := len(channels)
	if n == 1 {
		return map[string]float64{channels[0]: 1}
	}

	touchShare := make(map[string]float64, n)
	for _, t := range j {
		touchShare[t.Channel] += 1.0 / float64(len(j))
	}

	credit := make(map[string]float64, n)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	if n <= shapleyExactCap {
		total := 0
		forEachPermutation(perm, func(order []int) {
			accumulateMarginals(credit, channels, order, touchShare)
			total++
		})
		for c := range credit {
			credit[c] /= float64(total)
		}
		return credit
	}

	rng := rand.New(rand.NewSource(shapleySeed))
	for s := 0; s < shapleySamplePermutations; s++ {
		rng.Shuffle(n, func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		accumulateMarginals(credit, channels, perm, touchShare)
	}
	for c := range credit {
		credit[c] /= shapleySamplePermutations
	}
	return credit
}

// accumulateMarginals adds each channel's marginal contribution under
// one ordering. With an additive coalition value the marginal of a
// channel is its own touch share regardless of position, but walking
// the ordering keeps the estimator correct if the value function gains
// interaction terms later.
func accumulateMarginals(credit map[string]float64, channels []string, order []int, touchShare map[string]float64) {
	coalition := 0.0
	for _, idx := range order {
		c := channels[idx]
		with := coalition + touchShare[c]
		credit[c] += with - coalition
		coalition = with
	}
}

// forEachPermutation visits every permutation of perm in place
// (Heap's algorithm).
func forEachPermutation(perm []int, visit func([]int)) {
	var generate func(k int)
	generate = func(k int) {
		if k == 1 {
			visit(perm)
			return
		}
		for i := 0; i < k; i++ {
			generate(k - 1)
			if k%2 == 0 {
				perm[i], perm[k-1] = perm[k-1], perm[i]
			} else {
				perm[0], perm[k-1] = perm[k-1], perm[0]
			}
		}
	}
	generate(len(perm))
}

// uniqueChannels returns the distinct channels of a journey in sorted
// order for deterministic iteration.
func uniqueChannels(j Journey) []string {
	seen := make(map[string]struct{}, len(j))
	var out []string
	for _, t := range j {
		if _, ok := seen[t.Channel]; ok {
			continue
		}
		seen[t.Channel] = struct{}{}
		out = append(out, t.Channel)
	}
	sort.Strings(out)
	return out
}
