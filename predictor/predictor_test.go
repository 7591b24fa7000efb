package predictor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrade/jrboost/data"
)

func testMatrix(t *testing.T) *data.Matrix {
	t.Helper()
	m, err := data.FromRows([][]float32{
		{0.1, -1.0, 2.0},
		{0.9, 0.0, -3.0},
		{0.5, 2.5, 0.0},
		{-0.25, 1.0, 1.0},
	})
	require.NoError(t, err)
	return m
}

func TestTreeTraversal(t *testing.T) {
	x := testMatrix(t)
	tree := sampleTree()

	out := make([]float64, x.Rows())
	tree.Add(x, 1.0, out)

	row := make([]float32, x.Cols())
	for i := range out {
		x.Row(i, row)
		require.Equal(t, tree.PredictOne(row), out[i])
	}

	// rows with x0 < 0.5 route left, then on x1 at -1.25
	require.Equal(t, 0.25, out[0])  // x0=0.1 left, x1=-1.0 right
	require.Equal(t, 1.5, out[1])   // x0=0.9 right
	require.Equal(t, 1.5, out[2])   // x0=0.5 right (not strictly less)
	require.Equal(t, 0.25, out[3])  // x0=-0.25 left, x1=1.0 right
}

func TestBoostedPredictLaw(t *testing.T) {
	x := testMatrix(t)
	p := NewBoosted(0.3, 0.7, []BasePredictor{
		NewConstant(0.5),
		NewStump(0, 0.4, -1, 1, 1),
		sampleTree(),
	})

	pred, err := p.Predict(x, 1)
	require.NoError(t, err)
	require.Len(t, pred, x.Rows())

	row := make([]float32, x.Cols())
	for i := range pred {
		x.Row(i, row)
		sum := 0.0
		for _, b := range p.Bases {
			sum += b.PredictOne(row)
		}
		want := 1.0 / (1.0 + math.Exp(-(0.3 + 0.7*sum)))
		require.InDelta(t, want, pred[i], 1e-9)
		require.GreaterOrEqual(t, pred[i], 0.0)
		require.LessOrEqual(t, pred[i], 1.0)
	}
}

func TestEnsembleIsMean(t *testing.T) {
	x := testMatrix(t)
	a := NewBoosted(0.5, 1, []BasePredictor{NewStump(0, 0.4, -1, 1, 1)})
	b := NewBoosted(-0.25, 1, []BasePredictor{sampleTree()})

	ens, err := NewEnsemble([]Predictor{a, b})
	require.NoError(t, err)

	pa, err := a.Predict(x, 1)
	require.NoError(t, err)
	pb, err := b.Predict(x, 1)
	require.NoError(t, err)
	pe, err := ens.Predict(x, 1)
	require.NoError(t, err)

	for i := range pe {
		require.InDelta(t, (pa[i]+pb[i])/2, pe[i], 1e-12)
	}
}

func TestUnionLaw(t *testing.T) {
	x := testMatrix(t)
	a := NewBoosted(0.5, 1, []BasePredictor{NewStump(0, 0.4, -1, 1, 1)})
	b := NewBoosted(-0.25, 1, []BasePredictor{sampleTree()})

	union := NewUnion([]Predictor{a, b})

	pa, err := a.Predict(x, 1)
	require.NoError(t, err)
	pb, err := b.Predict(x, 1)
	require.NoError(t, err)
	pu, err := union.Predict(x, 1)
	require.NoError(t, err)

	for i := range pu {
		require.InDelta(t, 1-(1-pa[i])*(1-pb[i]), pu[i], 1e-12)
	}
}

func TestParallelPredictMatchesSerial(t *testing.T) {
	x := testMatrix(t)
	p := sampleBoosted().(*Boosted)

	serial, err := p.Predict(x, 1)
	require.NoError(t, err)
	parallel, err := p.Predict(x, 4)
	require.NoError(t, err)

	for i := range serial {
		require.InDelta(t, serial[i], parallel[i], 1e-12)
	}

	ens, err := NewEnsemble([]Predictor{p, p, p})
	require.NoError(t, err)
	es, err := ens.Predict(x, 1)
	require.NoError(t, err)
	ep, err := ens.Predict(x, 3)
	require.NoError(t, err)
	for i := range es {
		require.InDelta(t, es[i], ep[i], 1e-12)
	}
}

func TestPredictValidation(t *testing.T) {
	p := NewBoosted(0, 1, []BasePredictor{NewStump(2, 0.5, -1, 1, 1)})

	small, err := data.FromRows([][]float32{{1, 2}})
	require.NoError(t, err)
	_, err = p.Predict(small, 1)
	require.True(t, data.IsKind(err, data.InvalidInput))

	bad, err := data.FromRows([][]float32{{1, 2, float32(math.Inf(1))}})
	require.NoError(t, err)
	_, err = p.Predict(bad, 1)
	require.True(t, data.IsKind(err, data.InvalidInput))

	_, err = p.PredictOne([]float32{1, 2})
	require.True(t, data.IsKind(err, data.InvalidInput))
}

func TestVariableWeights(t *testing.T) {
	p := NewBoosted(0, 1, []BasePredictor{
		NewStump(1, 0.5, -1, 1, 2.0),
		sampleTree(), // gains: 2.0 on var 0, 0.5 on var 1
	})

	w := p.VariableWeights()
	require.Len(t, w, 2)
	require.InDelta(t, 1.0, float64(w[0]), 1e-6)   // 2.0 / 2 bases
	require.InDelta(t, 1.25, float64(w[1]), 1e-6)  // (2.0 + 0.5) / 2 bases
}

func TestReindexLaws(t *testing.T) {
	p := sampleBoosted()

	identity := []int{0, 1, 2}
	r1, err := p.ReindexVariables(identity)
	require.NoError(t, err)

	x := testMatrix(t)
	want, err := p.Predict(x, 1)
	require.NoError(t, err)
	got, err := r1.Predict(x, 1)
	require.NoError(t, err)
	require.Equal(t, want, got)

	// composition: reindex(q) after reindex(p) == reindex(p then q)
	perm := []int{2, 0, 1}
	perm2 := []int{1, 2, 0}
	composed := make([]int, 3)
	for i := range composed {
		composed[i] = perm2[perm[i]]
	}

	a, err := p.ReindexVariables(perm)
	require.NoError(t, err)
	a, err = a.ReindexVariables(perm2)
	require.NoError(t, err)
	b, err := p.ReindexVariables(composed)
	require.NoError(t, err)

	wide, err := data.FromRows([][]float32{
		{0.1, -1.0, 2.0},
		{0.9, 0.0, -3.0},
	})
	require.NoError(t, err)
	pra, err := a.Predict(wide, 1)
	require.NoError(t, err)
	prb, err := b.Predict(wide, 1)
	require.NoError(t, err)
	require.Equal(t, prb, pra)

	_, err = p.ReindexVariables([]int{0})
	require.True(t, data.IsKind(err, data.InvalidInput))
}

func TestNewTreeSpecializes(t *testing.T) {
	leaf := NewTree([]Node{{IsLeaf: true, Y: 0.5}})
	require.IsType(t, Constant{}, leaf)

	zero := NewTree([]Node{{IsLeaf: true, Y: 0}})
	require.IsType(t, Zero{}, zero)

	stump := NewTree([]Node{
		{J: 1, X: 0.5, Gain: 1, Left: 1, Right: 2},
		{IsLeaf: true, Y: -1},
		{IsLeaf: true, Y: 1},
	})
	require.IsType(t, Stump{}, stump)
	s := stump.(Stump)
	require.Equal(t, 1, s.J)
	require.Equal(t, float32(-1), s.LeftY)

	deep := sampleTree()
	require.IsType(t, Tree{}, NewTree(deep.(Tree).Nodes))
}
