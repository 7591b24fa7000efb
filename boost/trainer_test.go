package boost

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrade/jrboost/data"
	"github.com/jrade/jrboost/predictor"
)

func matrixFromRows(t *testing.T, rows [][]float32) *data.Matrix {
	t.Helper()
	m, err := data.FromRows(rows)
	require.NoError(t, err)
	return m
}

// deterministic separable data: label 1 iff variable 0 exceeds 0.5, with
// a second informative variable and a third constant one
func separableData(t *testing.T, n int) (*data.Matrix, []uint8) {
	rows := make([][]float32, n)
	labels := make([]uint8, n)
	for i := 0; i < n; i++ {
		v0 := float32(i) / float32(n)
		v1 := float32((i*13)%n) / float32(n)
		rows[i] = []float32{v0, 0.5*v1 + 0.25*v0, 1.0}
		if v0 >= 0.5 {
			labels[i] = 1
		}
	}
	return matrixFromRows(t, rows), labels
}

func fullOptions(t *testing.T) *Options {
	t.Helper()
	opt := NewOptions()
	require.NoError(t, opt.SetUsedSampleRatio(1.0))
	require.NoError(t, opt.SetUsedVariableRatio(1.0))
	return opt
}

func TestTwoSampleDiagonalSplit(t *testing.T) {
	x := matrixFromRows(t, [][]float32{{0.0}, {1.0}})
	labels := []uint8{0, 1}

	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opt := fullOptions(t)
	require.NoError(t, opt.SetMaxDepth(1))
	require.NoError(t, opt.SetIterationCount(1))
	require.NoError(t, opt.SetEta(0.5))
	require.NoError(t, opt.SetGamma(1.0))

	pred, err := trainer.Train(context.Background(), opt, 1)
	require.NoError(t, err)

	boosted := pred.(*predictor.Boosted)
	require.Len(t, boosted.Bases, 1)
	stump, ok := boosted.Bases[0].(predictor.Stump)
	require.True(t, ok, "expected a stump, got %T", boosted.Bases[0])
	require.Equal(t, 0, stump.J)
	require.Equal(t, float32(0.5), stump.X)
	require.Greater(t, float64(stump.Gain), 0.0)

	probs, err := pred.Predict(x, 1)
	require.NoError(t, err)
	require.Less(t, probs[0], 0.5)
	require.Greater(t, probs[1], 0.5)
}

func TestDegenerateFeature(t *testing.T) {
	// one feature, all values equal, unbalanced labels
	rows := make([][]float32, 12)
	labels := make([]uint8, 12)
	for i := range rows {
		rows[i] = []float32{0.25}
		if i%3 == 0 {
			labels[i] = 1
		}
	}
	x := matrixFromRows(t, rows)

	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opt := fullOptions(t)
	require.NoError(t, opt.SetIterationCount(3))

	pred, err := trainer.Train(context.Background(), opt, 1)
	require.NoError(t, err)

	boosted := pred.(*predictor.Boosted)
	for _, b := range boosted.Bases {
		switch b.(type) {
		case predictor.Zero, predictor.Constant:
		default:
			t.Fatalf("expected constant bases on a degenerate feature, got %T", b)
		}
	}

	// c0 is stored as float32, so compare at that precision
	want := 1.0 / (1.0 + math.Exp(-trainer.GlobalLogOdds()))
	probs, err := pred.Predict(x, 1)
	require.NoError(t, err)
	for _, p := range probs {
		require.InDelta(t, want, p, 1e-6)
	}
}

func TestOverflowTrap(t *testing.T) {
	x, labels := separableData(t, 50)
	// a couple of label flips keep any single stump from classifying
	// perfectly, so the re-weighting blows up under a huge eta
	labels[3] = 1
	labels[46] = 0
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opt := fullOptions(t)
	require.NoError(t, opt.SetIterationCount(100))
	require.NoError(t, opt.SetEta(1e6))
	require.NoError(t, opt.SetGamma(1.0))

	pred, err := trainer.Train(context.Background(), opt, 1)
	require.Nil(t, pred)
	require.True(t, data.IsKind(err, data.Overflow), "want overflow, got %v", err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	x, labels := separableData(t, 80)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opt := fullOptions(t)
	require.NoError(t, opt.SetIterationCount(5))
	require.NoError(t, opt.SetMaxDepth(2))

	pred, err := trainer.Train(context.Background(), opt, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, pred.Save(&buf))
	raw := append([]byte(nil), buf.Bytes()...)

	loaded, err := predictor.Load(&buf)
	require.NoError(t, err)

	var buf2 bytes.Buffer
	require.NoError(t, loaded.Save(&buf2))
	require.Equal(t, raw, buf2.Bytes())

	want, err := pred.Predict(x, 1)
	require.NoError(t, err)
	got, err := loaded.Predict(x, 1)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestGradientFamilies(t *testing.T) {
	x, labels := separableData(t, 100)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	for _, gamma := range []float64{1.0, 0.5, 0.0} {
		opt := fullOptions(t)
		require.NoError(t, opt.SetGamma(gamma))
		require.NoError(t, opt.SetIterationCount(30))
		require.NoError(t, opt.SetEta(0.3))
		require.NoError(t, opt.SetMaxDepth(2))

		pred, err := trainer.Train(context.Background(), opt, 1)
		require.NoError(t, err)

		probs, err := pred.Predict(x, 1)
		require.NoError(t, err)
		require.Less(t, ErrorRate(labels, probs, nil), 0.05,
			"gamma %v should separate the data", gamma)
		for _, p := range probs {
			require.GreaterOrEqual(t, p, 0.0)
			require.LessOrEqual(t, p, 1.0)
		}
	}
}

func TestFastExpTraining(t *testing.T) {
	x, labels := separableData(t, 100)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opt := fullOptions(t)
	opt.SetFastExp(true)
	require.NoError(t, opt.SetIterationCount(20))
	require.NoError(t, opt.SetEta(0.3))

	pred, err := trainer.Train(context.Background(), opt, 1)
	require.NoError(t, err)

	probs, err := pred.Predict(x, 1)
	require.NoError(t, err)
	require.Less(t, ErrorRate(labels, probs, nil), 0.1)
}

func TestAdaCycleRetiresTrees(t *testing.T) {
	x, labels := separableData(t, 60)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opt := fullOptions(t)
	require.NoError(t, opt.SetIterationCount(20))
	require.NoError(t, opt.SetCycle(0.5))
	opt.SetSeed(9)

	pred, err := trainer.Train(context.Background(), opt, 1)
	require.NoError(t, err)

	// the iteration count bounds the live window, not the total number
	// of admissions; retired trees must not be returned
	boosted := pred.(*predictor.Boosted)
	require.Len(t, boosted.Bases, 20)
}

func TestZeroIterations(t *testing.T) {
	x, labels := separableData(t, 20)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opt := fullOptions(t)
	require.NoError(t, opt.SetIterationCount(0))

	pred, err := trainer.Train(context.Background(), opt, 1)
	require.NoError(t, err)

	probs, err := pred.Predict(x, 1)
	require.NoError(t, err)
	want := 1.0 / (1.0 + math.Exp(-trainer.GlobalLogOdds()))
	for _, p := range probs {
		require.InDelta(t, want, p, 1e-9)
	}
}

func TestEmptyClassRejected(t *testing.T) {
	x := matrixFromRows(t, [][]float32{{0}, {1}})

	_, err := NewTrainer(x, []uint8{1, 1}, nil, nil)
	require.True(t, data.IsKind(err, data.InvalidInput))

	_, err = NewTrainer(x, []uint8{0, 0}, nil, nil)
	require.True(t, data.IsKind(err, data.InvalidInput))
}

func TestTrainerValidation(t *testing.T) {
	x := matrixFromRows(t, [][]float32{{0}, {1}})

	_, err := NewTrainer(x, []uint8{0, 2}, nil, nil)
	require.True(t, data.IsKind(err, data.InvalidInput))

	_, err = NewTrainer(x, []uint8{0, 1}, []float64{1, -1}, nil)
	require.True(t, data.IsKind(err, data.InvalidInput))

	_, err = NewTrainer(x, []uint8{0, 1}, []float64{1}, nil)
	require.True(t, data.IsKind(err, data.InvalidInput))

	_, err = NewTrainer(x, []uint8{0, 1}, nil, []uint8{0})
	require.True(t, data.IsKind(err, data.InvalidInput))
}

func TestCanceledContext(t *testing.T) {
	x, labels := separableData(t, 40)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opt := fullOptions(t)
	require.NoError(t, opt.SetIterationCount(10))
	_, err = trainer.Train(ctx, opt, 1)
	require.True(t, data.IsKind(err, data.ThreadAborted))
}

func TestBoostOptionValidation(t *testing.T) {
	opt := NewOptions()

	require.True(t, data.IsKind(opt.SetEta(0), data.InvalidArgument))
	require.True(t, data.IsKind(opt.SetEta(math.NaN()), data.InvalidArgument))
	require.True(t, data.IsKind(opt.SetGamma(-0.1), data.InvalidArgument))
	require.True(t, data.IsKind(opt.SetGamma(math.NaN()), data.InvalidArgument))
	require.True(t, data.IsKind(opt.SetIterationCount(-1), data.InvalidArgument))
	require.True(t, data.IsKind(opt.SetCycle(1.0), data.InvalidArgument))

	// cost grows with iterations and shrinks with eta
	a := NewOptions()
	require.NoError(t, a.SetTopVariableCount(10))
	b := NewOptions()
	require.NoError(t, b.SetTopVariableCount(10))
	require.NoError(t, b.SetIterationCount(2000))
	require.Greater(t, b.Cost(), a.Cost())
	require.NoError(t, b.SetEta(10))
	require.Less(t, b.Cost(), a.Cost())
}
