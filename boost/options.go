package boost

import (
	"github.com/jrade/jrboost/data"
	"github.com/jrade/jrboost/tree"
)

// Options configures one boosted fit: the tree options plus the gradient
// family (gamma), the iteration count and the learning rate.
type Options struct {
	tree.Options

	gamma          float64
	iterationCount int
	eta            float64
	fastExp        bool
	cycle          float64
}

// NewOptions returns the default configuration: ada boosting (gamma 1)
// with 1000 iterations at eta 0.1 over default depth-1 trees.
func NewOptions() *Options {
	return &Options{
		Options:        *tree.NewOptions(),
		gamma:          1.0,
		iterationCount: 1000,
		eta:            0.1,
	}
}

func (o *Options) Gamma() float64      { return o.gamma }
func (o *Options) IterationCount() int { return o.iterationCount }
func (o *Options) Eta() float64        { return o.eta }
func (o *Options) FastExp() bool       { return o.fastExp }
func (o *Options) Cycle() float64      { return o.cycle }

// SetGamma selects the gradient family: 1 is ada, 0 is logit, anything
// between is the regularized logit blend.
func (o *Options) SetGamma(gamma float64) error {
	if !(gamma >= 0.0 && gamma <= 1.0) {
		return data.ArgErr("gamma", "must lie in the interval [0.0, 1.0]")
	}
	o.gamma = gamma
	return nil
}

func (o *Options) SetIterationCount(n int) error {
	if n < 0 {
		return data.ArgErr("iterationCount", "must be non-negative")
	}
	o.iterationCount = n
	return nil
}

func (o *Options) SetEta(eta float64) error {
	if !(eta > 0.0) {
		return data.ArgErr("eta", "must be positive")
	}
	o.eta = eta
	return nil
}

// SetFastExp trades the exact exponential for the approximate one in the
// re-weighting pass.
func (o *Options) SetFastExp(b bool) { o.fastExp = b }

// SetCycle enables the ada circular buffer: after a warm-up, each new tree
// retires the oldest at this rate per iteration. 0 disables retirement.
// Only the gamma = 1 family honors it.
func (o *Options) SetCycle(c float64) error {
	if !(c >= 0.0 && c < 1.0) {
		return data.ArgErr("cycle", "must lie in the interval [0.0, 1.0)")
	}
	o.cycle = c
	return nil
}

// Cost estimates the work of one boosted fit, used by the parallel driver
// to schedule expensive configurations first.
func (o *Options) Cost() float64 {
	return o.Options.Cost() * float64(o.iterationCount) / o.eta
}
