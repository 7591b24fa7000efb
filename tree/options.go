package tree

import (
	"math"

	"github.com/jrade/jrboost/data"
)

// Options configures one tree fit. The zero value is not useful; create
// with NewOptions and adjust through the setters, which validate their
// arguments. The range checks are written as negated conjunctions so that
// NaN is rejected too.
type Options struct {
	forestSize             int
	maxDepth               int
	minAbsSampleWeight     float64
	minRelSampleWeight     float64
	usedSampleRatio        float64
	stratified             bool
	topVariableCount       int
	usedVariableRatio      float64
	selectVariablesByLevel bool
	minNodeSize            int
	minNodeWeight          float64
	minGain                float64
	pruneFactor            float64
	seed                   uint64
}

// NewOptions returns the default configuration: a single depth-1 tree over
// all samples and all variables, stratified subsampling enabled.
func NewOptions() *Options {
	return &Options{
		forestSize:        1,
		maxDepth:          1,
		usedSampleRatio:   1.0,
		stratified:        true,
		topVariableCount:  math.MaxInt,
		usedVariableRatio: 1.0,
		minNodeSize:       1,
	}
}

func (o *Options) ForestSize() int              { return o.forestSize }
func (o *Options) MaxDepth() int                { return o.maxDepth }
func (o *Options) MinAbsSampleWeight() float64  { return o.minAbsSampleWeight }
func (o *Options) MinRelSampleWeight() float64  { return o.minRelSampleWeight }
func (o *Options) UsedSampleRatio() float64     { return o.usedSampleRatio }
func (o *Options) Stratified() bool             { return o.stratified }
func (o *Options) TopVariableCount() int        { return o.topVariableCount }
func (o *Options) UsedVariableRatio() float64   { return o.usedVariableRatio }
func (o *Options) SelectVariablesByLevel() bool { return o.selectVariablesByLevel }
func (o *Options) MinNodeSize() int             { return o.minNodeSize }
func (o *Options) MinNodeWeight() float64       { return o.minNodeWeight }
func (o *Options) MinGain() float64             { return o.minGain }
func (o *Options) PruneFactor() float64         { return o.pruneFactor }
func (o *Options) Seed() uint64                 { return o.seed }

func (o *Options) SetForestSize(n int) error {
	if n < 1 {
		return data.ArgErr("forestSize", "must be at least 1")
	}
	o.forestSize = n
	return nil
}

func (o *Options) SetMaxDepth(d int) error {
	if d < 1 {
		return data.ArgErr("maxDepth", "must be at least 1")
	}
	o.maxDepth = d
	return nil
}

func (o *Options) SetMinAbsSampleWeight(w float64) error {
	if !(w >= 0.0) {
		return data.ArgErr("minAbsSampleWeight", "must be non-negative")
	}
	o.minAbsSampleWeight = w
	return nil
}

func (o *Options) SetMinRelSampleWeight(w float64) error {
	if !(w >= 0.0 && w <= 1.0) {
		return data.ArgErr("minRelSampleWeight", "must lie in the interval [0.0, 1.0]")
	}
	o.minRelSampleWeight = w
	return nil
}

func (o *Options) SetUsedSampleRatio(r float64) error {
	if !(r > 0.0 && r <= 1.0) {
		return data.ArgErr("usedSampleRatio", "must lie in the interval (0.0, 1.0]")
	}
	o.usedSampleRatio = r
	return nil
}

func (o *Options) SetStratified(b bool) { o.stratified = b }

func (o *Options) SetTopVariableCount(n int) error {
	if n < 1 {
		return data.ArgErr("topVariableCount", "must be at least 1")
	}
	o.topVariableCount = n
	return nil
}

func (o *Options) SetUsedVariableRatio(r float64) error {
	if !(r >= 0.0 && r <= 1.0) {
		return data.ArgErr("usedVariableRatio", "must lie in the interval [0.0, 1.0]")
	}
	o.usedVariableRatio = r
	return nil
}

func (o *Options) SetSelectVariablesByLevel(b bool) { o.selectVariablesByLevel = b }

func (o *Options) SetMinNodeSize(n int) error {
	if n < 1 {
		return data.ArgErr("minNodeSize", "must be at least 1")
	}
	o.minNodeSize = n
	return nil
}

func (o *Options) SetMinNodeWeight(w float64) error {
	if !(w >= 0.0) {
		return data.ArgErr("minNodeWeight", "must be non-negative")
	}
	o.minNodeWeight = w
	return nil
}

func (o *Options) SetMinGain(g float64) error {
	if !(g >= 0.0) {
		return data.ArgErr("minGain", "must be non-negative")
	}
	o.minGain = g
	return nil
}

func (o *Options) SetPruneFactor(p float64) error {
	if !(p >= 0.0 && p <= 1.0) {
		return data.ArgErr("pruneFactor", "must lie in the interval [0.0, 1.0]")
	}
	o.pruneFactor = p
	return nil
}

// SetSeed fixes the random source for sample and variable subsetting.
// 0 (the default) seeds non-deterministically.
func (o *Options) SetSeed(seed uint64) { o.seed = seed }

// Cost estimates the work of one tree fit, used to schedule expensive
// configurations first.
func (o *Options) Cost() float64 {
	return o.usedVariableRatio * float64(o.topVariableCount) *
		o.usedSampleRatio * float64(o.maxDepth) * float64(o.forestSize)
}
