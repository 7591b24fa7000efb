package predictor

import "github.com/jrade/jrboost/data"

// BasePredictor is one additive term of a boosted model. Implementations
// are immutable; sharing one across goroutines is safe.
type BasePredictor interface {
	// Add accumulates c times the raw prediction of every row of x into
	// out, which must have x.Rows() entries.
	Add(x *data.Matrix, c float64, out []float64)
	// PredictOne returns the raw prediction for a single row.
	PredictOne(row []float32) float64
	// VariableCount returns one past the largest variable index used.
	VariableCount() int
	// AddVariableWeights accumulates c times the gain of every split into
	// the slot of its variable.
	AddVariableWeights(c float64, out []float64)
	// Reindex returns a copy with every variable index j replaced by
	// newIndices[j].
	Reindex(newIndices []int) BasePredictor

	save(w *writer)
}

// Zero is the base predictor that is identically zero.
type Zero struct{}

func NewZero() BasePredictor { return Zero{} }

func (Zero) Add(*data.Matrix, float64, []float64)  {}
func (Zero) PredictOne([]float32) float64          { return 0 }
func (Zero) VariableCount() int                    { return 0 }
func (Zero) AddVariableWeights(float64, []float64) {}
func (Zero) Reindex([]int) BasePredictor           { return Zero{} }

// Constant is a base predictor with the same value for every row.
type Constant struct {
	Y float32
}

func NewConstant(y float32) BasePredictor { return Constant{Y: y} }

func (p Constant) Add(x *data.Matrix, c float64, out []float64) {
	cy := c * float64(p.Y)
	for i := range out {
		out[i] += cy
	}
}

func (p Constant) PredictOne([]float32) float64          { return float64(p.Y) }
func (p Constant) VariableCount() int                    { return 0 }
func (p Constant) AddVariableWeights(float64, []float64) {}
func (p Constant) Reindex([]int) BasePredictor           { return p }

// Stump is a depth-1 tree stored flat.
type Stump struct {
	J      int
	X      float32
	LeftY  float32
	RightY float32
	Gain   float32
}

func NewStump(j int, x, leftY, rightY, gain float32) BasePredictor {
	return Stump{J: j, X: x, LeftY: leftY, RightY: rightY, Gain: gain}
}

func (p Stump) Add(x *data.Matrix, c float64, out []float64) {
	col := x.Col(p.J)
	cl := c * float64(p.LeftY)
	cr := c * float64(p.RightY)
	for i := range out {
		if col[i] < p.X {
			out[i] += cl
		} else {
			out[i] += cr
		}
	}
}

func (p Stump) PredictOne(row []float32) float64 {
	if row[p.J] < p.X {
		return float64(p.LeftY)
	}
	return float64(p.RightY)
}

func (p Stump) VariableCount() int { return p.J + 1 }

func (p Stump) AddVariableWeights(c float64, out []float64) {
	out[p.J] += c * float64(p.Gain)
}

func (p Stump) Reindex(newIndices []int) BasePredictor {
	p.J = newIndices[p.J]
	return p
}

// Tree is a decision tree stored as a contiguous arena in depth-first
// order.
type Tree struct {
	Nodes []Node
}

// NewTree packs a depth-first arena into the most specialized base
// predictor that represents it: Zero or Constant for a bare leaf, Stump
// for a single split, Tree otherwise.
func NewTree(nodes []Node) BasePredictor {
	switch nodeDepth(nodes, 0) {
	case 0:
		if nodes[0].Y == 0 {
			return Zero{}
		}
		return Constant{Y: nodes[0].Y}
	case 1:
		root := nodes[0]
		return Stump{
			J:      root.J,
			X:      root.X,
			LeftY:  nodes[root.Left].Y,
			RightY: nodes[root.Right].Y,
			Gain:   root.Gain,
		}
	}
	return Tree{Nodes: nodes}
}

func (p Tree) Add(x *data.Matrix, c float64, out []float64) {
	treePredict(p.Nodes, x, c, out)
}

func (p Tree) PredictOne(row []float32) float64 { return treePredictOne(p.Nodes, row) }

func (p Tree) VariableCount() int { return treeVariableCount(p.Nodes) }

func (p Tree) AddVariableWeights(c float64, out []float64) {
	treeVariableWeights(p.Nodes, c, out)
}

func (p Tree) Reindex(newIndices []int) BasePredictor {
	return Tree{Nodes: reindexNodes(p.Nodes, newIndices)}
}

// Forest averages the raw predictions of its members.
type Forest struct {
	Bases []BasePredictor
}

func NewForest(bases []BasePredictor) BasePredictor { return Forest{Bases: bases} }

func (p Forest) Add(x *data.Matrix, c float64, out []float64) {
	c /= float64(len(p.Bases))
	for _, b := range p.Bases {
		b.Add(x, c, out)
	}
}

func (p Forest) PredictOne(row []float32) float64 {
	pred := 0.0
	for _, b := range p.Bases {
		pred += b.PredictOne(row)
	}
	return pred / float64(len(p.Bases))
}

func (p Forest) VariableCount() int {
	n := 0
	for _, b := range p.Bases {
		if c := b.VariableCount(); c > n {
			n = c
		}
	}
	return n
}

func (p Forest) AddVariableWeights(c float64, out []float64) {
	c /= float64(len(p.Bases))
	for _, b := range p.Bases {
		b.AddVariableWeights(c, out)
	}
}

func (p Forest) Reindex(newIndices []int) BasePredictor {
	bases := make([]BasePredictor, len(p.Bases))
	for i, b := range p.Bases {
		bases[i] = b.Reindex(newIndices)
	}
	return Forest{Bases: bases}
}
