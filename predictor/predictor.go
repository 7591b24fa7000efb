package predictor

import (
	"io"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jrade/jrboost/data"
)

// Predictor maps feature rows to probabilities. The three implementations
// are Boosted (sigmoid of a scaled base-predictor sum), Ensemble (mean of
// member probabilities) and Union (1 - prod(1 - p) over members).
type Predictor interface {
	// Predict returns one probability per row of x. threadCount 0 means
	// one worker per available CPU.
	Predict(x *data.Matrix, threadCount int) ([]float64, error)
	// PredictOne returns the probability for a single row.
	PredictOne(row []float32) (float64, error)
	VariableCount() int
	// VariableWeights sums gain-weighted split counts per variable,
	// normalized by the number of members.
	VariableWeights() []float32
	// ReindexVariables returns a copy with every variable index j
	// replaced by newIndices[j].
	ReindexVariables(newIndices []int) (Predictor, error)
	// Save writes the predictor in the binary file format.
	Save(w io.Writer) error

	predict(x *data.Matrix, threadCount int) []float64
	predictOne(row []float32) float64
	save(w *writer)
}

// doubles per cache line; per-worker accumulator columns are padded by
// this much to keep them on separate lines
const linePad = 8

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

func resolveThreads(threadCount int) int {
	max := runtime.GOMAXPROCS(0)
	if threadCount <= 0 || threadCount > max {
		return max
	}
	return threadCount
}

func checkPredictInput(x *data.Matrix, variableCount int) error {
	if err := data.CheckInterrupt(); err != nil {
		return err
	}
	if x.Cols() < variableCount {
		return data.Errf(data.InvalidInput, "test indata has fewer variables than train indata")
	}
	return x.CheckFinite()
}

func checkPredictOneInput(row []float32, variableCount int) error {
	if len(row) < variableCount {
		return data.Errf(data.InvalidInput, "test indata has fewer variables than train indata")
	}
	for _, v := range row {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return data.Errf(data.InvalidInput, "test indata has values that are infinity or NaN")
		}
	}
	return nil
}

//----------------------------------------------------------------------

// Boosted applies sigmoid(c0 + c1 * sum of base predictions).
type Boosted struct {
	C0    float32
	C1    float32
	Bases []BasePredictor

	varCount int
}

// NewBoosted builds a boosted predictor from the trained base predictors.
func NewBoosted(c0, c1 float64, bases []BasePredictor) *Boosted {
	p := &Boosted{C0: float32(c0), C1: float32(c1), Bases: bases}
	for _, b := range bases {
		if c := b.VariableCount(); c > p.varCount {
			p.varCount = c
		}
	}
	return p
}

func (p *Boosted) Predict(x *data.Matrix, threadCount int) ([]float64, error) {
	if err := checkPredictInput(x, p.varCount); err != nil {
		return nil, err
	}
	return p.predict(x, resolveThreads(threadCount)), nil
}

func (p *Boosted) predict(x *data.Matrix, threadCount int) []float64 {
	sampleCount := x.Rows()
	if threadCount == 1 {
		pred := make([]float64, sampleCount)
		for i := range pred {
			pred[i] = float64(p.C0)
		}
		for _, b := range p.Bases {
			b.Add(x, float64(p.C1), pred)
		}
		for i := range pred {
			pred[i] = sigmoid(pred[i])
		}
		return pred
	}

	workers := threadCount
	if len(p.Bases) < workers {
		workers = len(p.Bases)
	}
	stride := sampleCount + linePad
	buf := make([]float64, stride*workers)

	var next atomic.Int64
	var wg sync.WaitGroup
	for id := 0; id < workers; id++ {
		wg.Add(1)
		go func(acc []float64) {
			defer wg.Done()
			for {
				k := int(next.Add(1)) - 1
				if k >= len(p.Bases) {
					return
				}
				p.Bases[k].Add(x, float64(p.C1), acc)
			}
		}(buf[id*stride : id*stride+sampleCount])
	}
	wg.Wait()

	pred := make([]float64, sampleCount)
	for i := range pred {
		v := float64(p.C0)
		for id := 0; id < workers; id++ {
			v += buf[id*stride+i]
		}
		pred[i] = sigmoid(v)
	}
	return pred
}

func (p *Boosted) PredictOne(row []float32) (float64, error) {
	if err := checkPredictOneInput(row, p.varCount); err != nil {
		return 0, err
	}
	return p.predictOne(row), nil
}

func (p *Boosted) predictOne(row []float32) float64 {
	pred := float64(p.C0)
	for _, b := range p.Bases {
		pred += float64(p.C1) * b.PredictOne(row)
	}
	return sigmoid(pred)
}

func (p *Boosted) VariableCount() int { return p.varCount }

func (p *Boosted) VariableWeights() []float32 {
	acc := make([]float64, p.varCount)
	c := 1.0 / float64(len(p.Bases))
	for _, b := range p.Bases {
		b.AddVariableWeights(c, acc)
	}
	weights := make([]float32, p.varCount)
	for i, v := range acc {
		weights[i] = float32(v)
	}
	return weights
}

func (p *Boosted) ReindexVariables(newIndices []int) (Predictor, error) {
	if len(newIndices) < p.varCount {
		return nil, data.Errf(data.InvalidInput,
			"the new indices array must cover the variable count")
	}
	bases := make([]BasePredictor, len(p.Bases))
	for i, b := range p.Bases {
		bases[i] = b.Reindex(newIndices)
	}
	return NewBoosted(float64(p.C0), float64(p.C1), bases), nil
}

//----------------------------------------------------------------------

// Ensemble averages the probabilities of its members.
type Ensemble struct {
	Members []Predictor

	varCount int
}

// NewEnsemble builds an ensemble. The member list must be non-empty.
func NewEnsemble(members []Predictor) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, data.Errf(data.InvalidInput, "an ensemble must have at least one member")
	}
	p := &Ensemble{Members: members}
	for _, m := range members {
		if c := m.VariableCount(); c > p.varCount {
			p.varCount = c
		}
	}
	return p, nil
}

func (p *Ensemble) Predict(x *data.Matrix, threadCount int) ([]float64, error) {
	if err := checkPredictInput(x, p.varCount); err != nil {
		return nil, err
	}
	return p.predict(x, resolveThreads(threadCount)), nil
}

func (p *Ensemble) predict(x *data.Matrix, threadCount int) []float64 {
	pred := compositePredict(p.Members, x, threadCount, 0,
		func(acc []float64, memberPred []float64) {
			for i, v := range memberPred {
				acc[i] += v
			}
		},
		func(acc float64, v float64) float64 { return acc + v })
	n := float64(len(p.Members))
	for i := range pred {
		pred[i] /= n
	}
	return pred
}

func (p *Ensemble) PredictOne(row []float32) (float64, error) {
	if err := checkPredictOneInput(row, p.varCount); err != nil {
		return 0, err
	}
	return p.predictOne(row), nil
}

func (p *Ensemble) predictOne(row []float32) float64 {
	pred := 0.0
	for _, m := range p.Members {
		pred += m.predictOne(row)
	}
	return pred / float64(len(p.Members))
}

func (p *Ensemble) VariableCount() int { return p.varCount }

func (p *Ensemble) VariableWeights() []float32 {
	weights := make([]float32, p.varCount)
	for _, m := range p.Members {
		for i, v := range m.VariableWeights() {
			weights[i] += v
		}
	}
	n := float32(len(p.Members))
	for i := range weights {
		weights[i] /= n
	}
	return weights
}

func (p *Ensemble) ReindexVariables(newIndices []int) (Predictor, error) {
	members, err := reindexMembers(p.Members, newIndices, p.varCount)
	if err != nil {
		return nil, err
	}
	return NewEnsemble(members)
}

//----------------------------------------------------------------------

// Union combines the probabilities of its members as the probability that
// at least one of them fires: 1 - prod(1 - p).
type Union struct {
	Members []Predictor

	varCount int
}

// NewUnion builds a union predictor.
func NewUnion(members []Predictor) *Union {
	p := &Union{Members: members}
	for _, m := range members {
		if c := m.VariableCount(); c > p.varCount {
			p.varCount = c
		}
	}
	return p
}

func (p *Union) Predict(x *data.Matrix, threadCount int) ([]float64, error) {
	if err := checkPredictInput(x, p.varCount); err != nil {
		return nil, err
	}
	return p.predict(x, resolveThreads(threadCount)), nil
}

func (p *Union) predict(x *data.Matrix, threadCount int) []float64 {
	pred := compositePredict(p.Members, x, threadCount, 1,
		func(acc []float64, memberPred []float64) {
			for i, v := range memberPred {
				acc[i] *= 1 - v
			}
		},
		func(acc float64, v float64) float64 { return acc * v })
	for i := range pred {
		pred[i] = 1 - pred[i]
	}
	return pred
}

func (p *Union) PredictOne(row []float32) (float64, error) {
	if err := checkPredictOneInput(row, p.varCount); err != nil {
		return 0, err
	}
	return p.predictOne(row), nil
}

func (p *Union) predictOne(row []float32) float64 {
	pred := 1.0
	for _, m := range p.Members {
		pred *= 1 - m.predictOne(row)
	}
	return 1 - pred
}

func (p *Union) VariableCount() int { return p.varCount }

func (p *Union) VariableWeights() []float32 {
	weights := make([]float32, p.varCount)
	for _, m := range p.Members {
		for i, v := range m.VariableWeights() {
			weights[i] += v
		}
	}
	n := float32(len(p.Members))
	for i := range weights {
		weights[i] /= n
	}
	return weights
}

func (p *Union) ReindexVariables(newIndices []int) (Predictor, error) {
	members, err := reindexMembers(p.Members, newIndices, p.varCount)
	if err != nil {
		return nil, err
	}
	return NewUnion(members), nil
}

//----------------------------------------------------------------------

// compositePredict fans member predictions out over an outer worker pool
// and reduces them with the given fold. Each outer worker gets a padded
// accumulator column initialized to unit and an inner thread budget; the
// budgets partition threadCount exactly.
func compositePredict(
	members []Predictor, x *data.Matrix, threadCount int, unit float64,
	fold func(acc, memberPred []float64), reduce func(acc, v float64) float64,
) []float64 {
	sampleCount := x.Rows()

	if threadCount == 1 {
		acc := make([]float64, sampleCount)
		for i := range acc {
			acc[i] = unit
		}
		for _, m := range members {
			fold(acc, m.predict(x, 1))
		}
		return acc
	}

	outer := threadCount
	if len(members) < outer {
		outer = len(members)
	}
	stride := sampleCount + linePad
	buf := make([]float64, stride*outer)
	for id := 0; id < outer; id++ {
		acc := buf[id*stride : id*stride+sampleCount]
		for i := range acc {
			acc[i] = unit
		}
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	for id := 0; id < outer; id++ {
		inner := (threadCount*(id+1))/outer - (threadCount*id)/outer
		wg.Add(1)
		go func(acc []float64, inner int) {
			defer wg.Done()
			for {
				k := int(next.Add(1)) - 1
				if k >= len(members) {
					return
				}
				fold(acc, members[k].predict(x, inner))
			}
		}(buf[id*stride:id*stride+sampleCount], inner)
	}
	wg.Wait()

	pred := make([]float64, sampleCount)
	for i := range pred {
		v := unit
		for id := 0; id < outer; id++ {
			v = reduce(v, buf[id*stride+i])
		}
		pred[i] = v
	}
	return pred
}

func reindexMembers(members []Predictor, newIndices []int, varCount int) ([]Predictor, error) {
	if len(newIndices) < varCount {
		return nil, data.Errf(data.InvalidInput,
			"the new indices array must cover the variable count")
	}
	out := make([]Predictor, len(members))
	for i, m := range members {
		r, err := m.ReindexVariables(newIndices)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
