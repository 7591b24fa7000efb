// Package boost fits boosted binary classifiers over dense numeric data.
// A Trainer is bound to one training set; every Train call runs one boost
// configuration and returns an immutable predictor. The parallel driver
// in this package fans many configurations out over a bounded worker
// budget.
package boost

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/jrade/jrboost/data"
	"github.com/jrade/jrboost/predictor"
	"github.com/jrade/jrboost/tree"
)

// Trainer holds the training set, the derived +-1 targets and the tree
// trainer with its presort index. All state is read-only after
// construction, so concurrent Train calls are safe.
type Trainer struct {
	x           *data.Matrix
	sampleCount int
	outData     []float64 // labels mapped to -1/+1
	weights     []float64 // nil means unit weights
	logOdds     float64
	trees       *tree.Trainer
}

// NewTrainer validates the training set and builds the presort index.
// weights may be nil (unit weights); strata may be nil (stratify by
// label).
func NewTrainer(x *data.Matrix, labels []uint8, weights []float64, strata []uint8) (*Trainer, error) {
	if x.Rows() == 0 || x.Cols() == 0 {
		return nil, data.Errf(data.InvalidInput, "train indata has 0 samples or 0 variables")
	}
	if err := data.ValidateLabels(labels, x.Rows()); err != nil {
		return nil, err
	}
	if err := data.ValidateWeights(weights, x.Rows()); err != nil {
		return nil, err
	}
	if err := data.ValidateStrata(strata, x.Rows()); err != nil {
		return nil, err
	}
	if strata == nil {
		strata = labels
	}

	t := &Trainer{
		x:           x,
		sampleCount: x.Rows(),
		weights:     weights,
	}

	t.outData = make([]float64, len(labels))
	for i, v := range labels {
		t.outData[i] = 2.0*float64(v) - 1.0
	}

	logOdds, err := globalLogOdds(t.outData, weights)
	if err != nil {
		return nil, err
	}
	t.logOdds = logOdds

	trees, err := tree.NewTrainer(x, strata)
	if err != nil {
		return nil, err
	}
	t.trees = trees
	return t, nil
}

// globalLogOdds is log of the weighted label-1 mass over the weighted
// label-0 mass, the natural initializer for the score vector.
func globalLogOdds(outData, weights []float64) (float64, error) {
	var p0, p1 float64
	if weights == nil {
		for _, y := range outData {
			p0 += (1.0 - y) / 2.0
			p1 += (1.0 + y) / 2.0
		}
	} else {
		for i, y := range outData {
			p0 += weights[i] * (1.0 - y) / 2.0
			p1 += weights[i] * (1.0 + y) / 2.0
		}
	}
	if p0 == 0 {
		return 0, data.Errf(data.InvalidInput, "there are no train samples with label 0")
	}
	if p1 == 0 {
		return 0, data.Errf(data.InvalidInput, "there are no train samples with label 1")
	}
	return math.Log(p1) - math.Log(p0), nil
}

// GlobalLogOdds returns the score-vector initializer derived from the
// training labels and weights.
func (t *Trainer) GlobalLogOdds() float64 { return t.logOdds }

// ReleaseBuffers drops the tree trainer's scratch buffers.
func (t *Trainer) ReleaseBuffers() { t.trees.ReleaseBuffers() }

// Train runs one boost configuration and returns the fitted predictor.
// The gradient family is selected by gamma. threadCount bounds the
// workers of the per-layer split search; ctx is polled once per boost
// iteration.
func (t *Trainer) Train(ctx context.Context, opt *Options, threadCount int) (predictor.Predictor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch {
	case opt.gamma == 1.0:
		return t.trainAda(ctx, opt, threadCount)
	case opt.gamma == 0.0:
		return t.trainLogit(ctx, opt, threadCount)
	default:
		return t.trainRegularizedLogit(ctx, opt, threadCount)
	}
}

func checkpoint(ctx context.Context) error {
	if err := data.CheckInterrupt(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return data.ErrAborted
	default:
		return nil
	}
}

func overflowErr(opt *Options) error {
	if opt.gamma == 1.0 {
		return data.Errf(data.Overflow, "numerical overflow in the boost algorithm; try decreasing eta")
	}
	return data.Errf(data.Overflow, "numerical overflow in the boost algorithm; try decreasing eta or increasing gamma")
}

func isFinite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

//----------------------------------------------------------------------

func (t *Trainer) trainAda(ctx context.Context, opt *Options, threadCount int) (predictor.Predictor, error) {
	eta := opt.eta
	adjWeights := make([]float64, t.sampleCount)
	f := make([]float64, t.sampleCount)
	for i := range f {
		f[i] = t.logOdds / 2.0
	}

	var bases []predictor.BasePredictor

	seed := int64(opt.Seed())
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rsrc := rand.New(rand.NewSource(seed))
	a := rsrc.Float64()

	k0 := 0
	for k1 := 0; k1-k0 != opt.iterationCount; k1++ {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}

		// summing the adjusted weights both feeds the tree fit and
		// detects the first non-finite value
		adjWeightSum := t.adaAdjustedWeights(opt.fastExp, f, adjWeights)
		if !isFinite(adjWeightSum) {
			return nil, overflowErr(opt)
		}

		base, err := t.trees.Train(t.outData, adjWeights, &opt.Options, threadCount)
		if err != nil {
			return nil, err
		}
		base.Add(t.x, eta, f)
		bases = append(bases, base)

		// circular buffer: past the warm-up, admitting a tree retires
		// the oldest one at the cycle rate
		a += opt.cycle
		if a >= 1.0 {
			bases[k0].Add(t.x, -eta, f)
			k0++
			a -= 1.0
		}
	}

	return predictor.NewBoosted(t.logOdds, 2.0*eta, bases[k0:]), nil
}

// adaAdjustedWeights fills adjW[i] = w[i] * exp(-F[i]*y[i]) and returns
// the sum.
func (t *Trainer) adaAdjustedWeights(fast bool, f, adjW []float64) float64 {
	y := t.outData
	w := t.weights
	sum := 0.0

	if fast && hasWideVectors {
		for i := range adjW {
			adjW[i] = -f[i] * y[i]
		}
		fastExpBlock4(adjW, adjW)
		if w == nil {
			for _, x := range adjW {
				sum += x
			}
		} else {
			for i := range adjW {
				adjW[i] *= w[i]
				sum += adjW[i]
			}
		}
		return sum
	}

	expFn := math.Exp
	if fast {
		expFn = fastExp
	}
	if w == nil {
		for i := range adjW {
			x := expFn(-f[i] * y[i])
			adjW[i] = x
			sum += x
		}
	} else {
		for i := range adjW {
			x := expFn(-f[i]*y[i]) * w[i]
			adjW[i] = x
			sum += x
		}
	}
	return sum
}

//----------------------------------------------------------------------

func (t *Trainer) trainLogit(ctx context.Context, opt *Options, threadCount int) (predictor.Predictor, error) {
	eta := opt.eta
	adjOutData := make([]float64, t.sampleCount)
	adjWeights := make([]float64, t.sampleCount)
	f := make([]float64, t.sampleCount)
	for i := range f {
		f[i] = t.logOdds
	}

	expFn := math.Exp
	if opt.fastExp {
		expFn = fastExp
	}

	bases := make([]predictor.BasePredictor, 0, opt.iterationCount)
	for k := 0; k < opt.iterationCount; k++ {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}

		absAdjOutSum := 0.0
		if t.weights == nil {
			for i, y := range t.outData {
				x := expFn(-f[i] * y)
				z := y * (x + 1.0)
				adjOutData[i] = z
				absAdjOutSum += math.Abs(z)
				adjWeights[i] = x / ((x + 1.0) * (x + 1.0))
			}
		} else {
			for i, y := range t.outData {
				x := expFn(-f[i] * y)
				z := y * (x + 1.0)
				adjOutData[i] = z
				absAdjOutSum += math.Abs(z)
				adjWeights[i] = t.weights[i] * x / ((x + 1.0) * (x + 1.0))
			}
		}
		if !isFinite(absAdjOutSum) {
			return nil, overflowErr(opt)
		}

		base, err := t.trees.Train(adjOutData, adjWeights, &opt.Options, threadCount)
		if err != nil {
			return nil, err
		}
		base.Add(t.x, eta, f)
		bases = append(bases, base)
	}

	return predictor.NewBoosted(t.logOdds, eta, bases), nil
}

//----------------------------------------------------------------------

func (t *Trainer) trainRegularizedLogit(ctx context.Context, opt *Options, threadCount int) (predictor.Predictor, error) {
	eta := opt.eta
	gamma := opt.gamma
	adjOutData := make([]float64, t.sampleCount)
	adjWeights := make([]float64, t.sampleCount)
	f := make([]float64, t.sampleCount)
	for i := range f {
		f[i] = t.logOdds / (gamma + 1.0)
	}

	expFn := math.Exp
	if opt.fastExp {
		expFn = fastExp
	}

	bases := make([]predictor.BasePredictor, 0, opt.iterationCount)
	for k := 0; k < opt.iterationCount; k++ {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}

		adjWeightSum := 0.0
		if t.weights == nil {
			for i, y := range t.outData {
				x := expFn(-f[i] * y)
				adjOutData[i] = y * (x + 1.0) / (gamma*x + 1.0)
				u := x * (gamma*x + 1.0) * math.Pow(x+1.0, gamma-2.0)
				adjWeights[i] = u
				adjWeightSum += u
			}
		} else {
			for i, y := range t.outData {
				x := expFn(-f[i] * y)
				adjOutData[i] = y * (x + 1.0) / (gamma*x + 1.0)
				u := t.weights[i] * x * (gamma*x + 1.0) * math.Pow(x+1.0, gamma-2.0)
				adjWeights[i] = u
				adjWeightSum += u
			}
		}
		if !isFinite(adjWeightSum) {
			return nil, overflowErr(opt)
		}

		base, err := t.trees.Train(adjOutData, adjWeights, &opt.Options, threadCount)
		if err != nil {
			return nil, err
		}
		base.Add(t.x, eta, f)
		bases = append(bases, base)
	}

	return predictor.NewBoosted(t.logOdds, (1.0+gamma)*eta, bases), nil
}
