// Package forest implements the bagged regression-tree predictor mapping
// (leads, spend) observations to enrollments, with a predictive interval
// derived from the dispersion of the individual member predictions.
package forest

import (
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/edumetrics/funnelcast/internal/api"
)

// Training needs at least this many complete observations.
const minObservations = 10

// Hyperparameters are fixed by design to bound overfitting on small
// marketing datasets; they are not tunable per call.
const (
	numTrees    = 100
	maxDepth    = 6
	minLeafSize = 2
	bagSeed     = 42
)

// Observation is one historical row used for training.
type Observation struct {
	Leads       float64 `json:"leads"`
	Spend       float64 `json:"spend"`
	Enrollments float64 `json:"enrollments"`
}

// Predictor is a trained ensemble. The zero value is not usable; obtain one
// via Fit or Deserialize. A Predictor is immutable after construction and
// safe for concurrent use, so one trained instance can be shared across
// requests; confidence and calibration are per-call inputs to
// PredictWithInterval, never state on the model.
type Predictor struct {
	trees []*tree
}

// Fit trains a bagged ensemble on historical observations. Requires at
// least ten rows; fewer is an InsufficientData failure so the caller can
// fall back to the linear projector.
//
// Bagging uses a fixed seed, so training on identical data yields an
// identical ensemble.
func Fit(observations []Observation) (*Predictor, error) {
	if len(observations) < minObservations {
		return nil, api.ErrInsufficientData("forest", "need at least 10 observations with leads, spend and enrollments")
	}

	trees := make([]*tree, numTrees)

	// Members are independent: train them across workers and reduce at
	// the end. Each member derives its bootstrap RNG from the bag seed
	// and its index so the result is worker-count independent.
	workers := runtime.NumCPU()
	if workers > numTrees {
		workers = numTrees
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rng := rand.New(rand.NewSource(bagSeed + int64(i)))
				sample := bootstrap(observations, rng)
				trees[i] = growTree(sample, 0, rng)
			}
		}()
	}
	for i := 0; i < numTrees; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return &Predictor{trees: trees}, nil
}

// PredictWithInterval returns the ensemble mean for one (leads, spend)
// input together with a band of ± z·σ over the member predictions, the
// lower bound clamped at zero. z and calibrationFactor are supplied per
// call; non-positive values fall back to 1.96 and 1.0.
func (p *Predictor) PredictWithInterval(leads, spend, z, calibrationFactor float64) api.Projection {
	if z <= 0 {
		z = 1.96
	}
	if calibrationFactor <= 0 {
		calibrationFactor = 1.0
	}

	members := make([]float64, len(p.trees))
	var sum float64
	for i, t := range p.trees {
		members[i] = t.predict(leads, spend)
		sum += members[i]
	}
	mean := sum / float64(len(members))

	var variance float64
	for _, m := range members {
		d := m - mean
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(len(members)))

	margin := z * sigma * calibrationFactor
	lower := mean - margin
	if lower < 0 {
		lower = 0
	}
	return api.Projection{Central: mean, Lower: lower, Upper: mean + margin}
}

// bootstrap draws a with-replacement sample the size of the input.
func bootstrap(observations []Observation, rng *rand.Rand) []Observation {
	sample := make([]Observation, len(observations))
	for i := range sample {
		sample[i] = observations[rng.Intn(len(observations))]
	}
	return sample
}

// tree is a binary regression tree node. Leaves carry the mean target of
// their training subset.
type tree struct {
	Feature   int     `json:"f"` // 0 = leads, 1 = spend; -1 for leaves
	Threshold float64 `json:"t"`
	Value     float64 `json:"v"`
	Left      *tree   `json:"l,omitempty"`
	Right     *tree   `json:"r,omitempty"`
}

func (t *tree) predict(leads, spend float64) float64 {
	node := t
	for node.Feature >= 0 {
		var v float64
		if node.Feature == 0 {
			v = leads
		} else {
			v = spend
		}
		if v < node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

func growTree(sample []Observation, depth int, rng *rand.Rand) *tree {
	if depth >= maxDepth || len(sample) <= 2*minLeafSize || constantTarget(sample) {
		return &tree{Feature: -1, Value: meanTarget(sample)}
	}

	feature, threshold, ok := bestSplit(sample)
	if !ok {
		return &tree{Feature: -1, Value: meanTarget(sample)}
	}

	var left, right []Observation
	for _, o := range sample {
		if featureValue(o, feature) < threshold {
			left = append(left, o)
		} else {
			right = append(right, o)
		}
	}
	if len(left) < minLeafSize || len(right) < minLeafSize {
		return &tree{Feature: -1, Value: meanTarget(sample)}
	}

	return &tree{
		Feature:   feature,
		Threshold: threshold,
		Left:      growTree(left, depth+1, rng),
		Right:     growTree(right, depth+1, rng),
	}
}

// bestSplit scans both features for the threshold minimizing the summed
// squared error of the two children.
func bestSplit(sample []Observation) (feature int, threshold float64, ok bool) {
	bestSSE := math.Inf(1)
	for f := 0; f < 2; f++ {
		candidates := midpoints(sample, f)
		for _, th := range candidates {
			sse, valid := splitSSE(sample, f, th)
			if valid && sse < bestSSE {
				bestSSE = sse
				feature = f
				threshold = th
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

// midpoints returns candidate thresholds between adjacent distinct sorted
// feature values.
func midpoints(sample []Observation, feature int) []float64 {
	values := make([]float64, len(sample))
	for i, o := range sample {
		values[i] = featureValue(o, feature)
	}
	// Insertion sort: samples at a node are small by construction.
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j] < values[j-1]; j-- {
			values[j], values[j-1] = values[j-1], values[j]
		}
	}

	var mids []float64
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			mids = append(mids, (values[i]+values[i-1])/2)
		}
	}
	return mids
}

func splitSSE(sample []Observation, feature int, threshold float64) (float64, bool) {
	var leftSum, rightSum float64
	var leftN, rightN int
	for _, o := range sample {
		if featureValue(o, feature) < threshold {
			leftSum += o.Enrollments
			leftN++
		} else {
			rightSum += o.Enrollments
			rightN++
		}
	}
	if leftN < minLeafSize || rightN < minLeafSize {
		return 0, false
	}

	leftMean := leftSum / float64(leftN)
	rightMean := rightSum / float64(rightN)

	var sse float64
	for _, o := range sample {
		var d float64
		if featureValue(o, feature) < threshold {
			d = o.Enrollments - leftMean
		} else {
			d = o.Enrollments - rightMean
		}
		sse += d * d
	}
	return sse, true
}

func featureValue(o Observation, feature int) float64 {
	if feature == 0 {
		return o.Leads
	}
	return o.Spend
}

func meanTarget(sample []Observation) float64 {
	if len(sample) == 0 {
		return 0
	}
	var sum float64
	for _, o := range sample {
		sum += o.Enrollments
	}
	return sum / float64(len(sample))
}

func constantTarget(sample []Observation) bool {
	for _, o := range sample[1:] {
		if o.Enrollments != sample[0].Enrollments {
			return false
		}
	}
	return true
}
