// Package tree trains single decision trees (and small forests of them)
// over a presorted column-major matrix. One Trainer is built per training
// matrix; every Train call produces an immutable base predictor from a
// regression target and a weight vector under randomized sample and
// variable subsetting.
package tree

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jrade/jrboost/data"
	"github.com/jrade/jrboost/predictor"
)

// sampleIndex is the set of integer widths used for sample indices and
// sample status values. The trainer picks the narrowest width that fits
// the sample count.
type sampleIndex interface {
	uint8 | uint16 | uint32 | uint64
}

// Trainer owns the presort index for one training matrix and the
// grow-only scratch buffers reused across Train calls.
type Trainer struct {
	impl trainerImpl
}

type trainerImpl interface {
	train(outData, weights []float64, opt *Options, threadCount int) (predictor.BasePredictor, error)
	release()
}

// NewTrainer validates x and strata and builds the per-variable presort
// index, parallelized over variables. strata may be nil, which puts every
// sample in one stratum.
func NewTrainer(x *data.Matrix, strata []uint8) (*Trainer, error) {
	if x.Rows() == 0 || x.Cols() == 0 {
		return nil, data.Errf(data.InvalidInput, "train indata has 0 samples or 0 variables")
	}
	if err := x.CheckFinite(); err != nil {
		return nil, err
	}
	if err := data.ValidateStrata(strata, x.Rows()); err != nil {
		return nil, err
	}

	// a status value is a node index plus one, so the width must fit
	// sampleCount + 1
	n := x.Rows()
	var im trainerImpl
	switch {
	case n < math.MaxUint8:
		im = newImpl[uint8](x, strata)
	case n < math.MaxUint16:
		im = newImpl[uint16](x, strata)
	case n < math.MaxUint32:
		im = newImpl[uint32](x, strata)
	default:
		im = newImpl[uint64](x, strata)
	}
	return &Trainer{impl: im}, nil
}

// Train fits one tree (or a forest of ForestSize trees) to the regression
// target outData with the given sample weights. threadCount bounds the
// workers used for the per-variable split search; 0 means one per
// available CPU.
func (t *Trainer) Train(outData, weights []float64, opt *Options, threadCount int) (predictor.BasePredictor, error) {
	if threadCount <= 0 {
		threadCount = runtime.GOMAXPROCS(0)
	}
	return t.impl.train(outData, weights, opt, threadCount)
}

// ReleaseBuffers drops the scratch buffers accumulated by Train calls.
// They grow back on demand.
func (t *Trainer) ReleaseBuffers() { t.impl.release() }

//----------------------------------------------------------------------

// trainNode is one node of the tree under construction, stored per layer.
// left and right index into the next layer.
type trainNode struct {
	isLeaf      bool
	y           float32
	j           int
	x           float32
	gain        float32
	left        int
	right       int
	sampleCount int
	sumW        float64
	sumWY       float64
}

type impl[S sampleIndex] struct {
	x             *data.Matrix
	sampleCount   int
	variableCount int
	sortedSamples [][]S
	strata        []uint8
	stratumCounts []int
	pool          bufferPool[S]
}

func newImpl[S sampleIndex](x *data.Matrix, strata []uint8) *impl[S] {
	im := &impl[S]{
		x:             x,
		sampleCount:   x.Rows(),
		variableCount: x.Cols(),
		strata:        strata,
	}

	maxStratum := 0
	for _, s := range strata {
		if int(s) > maxStratum {
			maxStratum = int(s)
		}
	}
	im.stratumCounts = make([]int, maxStratum+1)
	if strata == nil {
		im.stratumCounts[0] = im.sampleCount
	} else {
		for _, s := range strata {
			im.stratumCounts[s]++
		}
	}

	im.sortedSamples = im.buildSortedSamples()
	return im
}

// buildSortedSamples fills, for every variable, the permutation of sample
// indices that sorts that variable ascending.
func (im *impl[S]) buildSortedSamples() [][]S {
	sorted := make([][]S, im.variableCount)

	workers := minInt(runtime.GOMAXPROCS(0), im.variableCount)
	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := make([]float32, im.sampleCount)
			for {
				j := int(next.Add(1)) - 1
				if j >= im.variableCount {
					return
				}
				copy(keys, im.x.Col(j))
				inx := make([]S, im.sampleCount)
				for i := range inx {
					inx[i] = S(i)
				}
				sortSamples(keys, inx)
				sorted[j] = inx
			}
		}()
	}
	wg.Wait()
	return sorted
}

func (im *impl[S]) stratum(i int) int {
	if im.strata == nil {
		return 0
	}
	return int(im.strata[i])
}

func (im *impl[S]) validate(outData, weights []float64) error {
	if len(outData) != im.sampleCount {
		return data.Errf(data.InvalidInput, "train indata and outdata have different numbers of samples")
	}
	for _, v := range outData {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return data.Errf(data.InvalidInput, "train outdata has values that are infinity or NaN")
		}
	}
	if len(weights) != im.sampleCount {
		return data.Errf(data.InvalidInput, "train indata and weights have different numbers of samples")
	}
	for _, v := range weights {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return data.Errf(data.InvalidInput, "train weights have values that are infinity or NaN")
		}
		if v < 0 {
			return data.Errf(data.InvalidInput, "train weights have negative values")
		}
	}
	return nil
}

func (im *impl[S]) train(outData, weights []float64, opt *Options, threadCount int) (predictor.BasePredictor, error) {
	if err := im.validate(outData, weights); err != nil {
		return nil, err
	}

	sc := im.pool.get(opt.seed)
	defer im.pool.put(sc)

	if opt.forestSize == 1 {
		return im.trainTree(sc, outData, weights, opt, threadCount), nil
	}

	bases := make([]predictor.BasePredictor, opt.forestSize)
	for k := range bases {
		bases[k] = im.trainTree(sc, outData, weights, opt, threadCount)
	}
	return predictor.NewForest(bases), nil
}

func (im *impl[S]) release() { im.pool.release() }

//----------------------------------------------------------------------

// scratch is the grow-only per-call working state. One instance is
// checked out of the pool per Train call, so concurrent calls on the same
// Trainer never share it.
type scratch[S sampleIndex] struct {
	rng            *rng
	sampleStatus   []S
	tmpIndices     []S
	usedVariables  []int
	orderedSamples [][]S
	layers         [][]trainNode
	workers        []*workerScratch[S]
}

// workerScratch is the slice of scratch owned by one inner worker during
// the split search of a layer.
type workerScratch[S sampleIndex] struct {
	nodeTrainers []nodeTrainer
	cursors      []int
	tmp          []S
}

type bufferPool[S sampleIndex] struct {
	mu   sync.Mutex
	free []*scratch[S]
}

func (p *bufferPool[S]) get(seed uint64) *scratch[S] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		sc := p.free[n-1]
		p.free = p.free[:n-1]
		return sc
	}
	return &scratch[S]{rng: newRNG(seed)}
}

func (p *bufferPool[S]) put(sc *scratch[S]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, sc)
}

func (p *bufferPool[S]) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = nil
}

func (sc *scratch[S]) worker(w int) *workerScratch[S] {
	for len(sc.workers) <= w {
		sc.workers = append(sc.workers, &workerScratch[S]{})
	}
	return sc.workers[w]
}

// grow returns buf with length n, reallocating only when the capacity is
// insufficient.
func grow[S sampleIndex](buf []S, n int) []S {
	if cap(buf) < n {
		return make([]S, n)
	}
	return buf[:n]
}

func growInts(buf []int, n int) []int {
	if cap(buf) < n {
		return make([]int, n)
	}
	return buf[:n]
}
