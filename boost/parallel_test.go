package boost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrade/jrboost/data"
)

func gridOptions(t *testing.T) []*Options {
	t.Helper()
	var opts []*Options
	for _, cfg := range []struct {
		iterations int
		eta        float64
		gamma      float64
		depth      int
	}{
		{5, 0.1, 1.0, 1},
		{15, 0.3, 0.0, 2},
		{10, 0.2, 0.5, 2},
		{1, 0.5, 1.0, 1},
	} {
		opt := fullOptions(t)
		require.NoError(t, opt.SetIterationCount(cfg.iterations))
		require.NoError(t, opt.SetEta(cfg.eta))
		require.NoError(t, opt.SetGamma(cfg.gamma))
		require.NoError(t, opt.SetMaxDepth(cfg.depth))
		opts = append(opts, opt)
	}
	return opts
}

func TestParallelTrainMatchesSequential(t *testing.T) {
	x, labels := separableData(t, 120)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opts := gridOptions(t)

	// with full sample and variable ratios the fits are deterministic,
	// so the parallel schedule cannot change the results
	preds, err := ParallelTrain(context.Background(), trainer, opts, 4)
	require.NoError(t, err)
	require.Len(t, preds, len(opts))

	for i, opt := range opts {
		want, err := trainer.Train(context.Background(), opt, 1)
		require.NoError(t, err)
		wantProbs, err := want.Predict(x, 1)
		require.NoError(t, err)
		gotProbs, err := preds[i].Predict(x, 1)
		require.NoError(t, err)
		require.Equal(t, wantProbs, gotProbs, "option %d", i)
	}
}

func TestParallelTrainAndPredict(t *testing.T) {
	x, labels := separableData(t, 100)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opts := gridOptions(t)
	cols, err := ParallelTrainAndPredict(context.Background(), trainer, opts, x, 3)
	require.NoError(t, err)
	require.Len(t, cols, len(opts))
	for i, col := range cols {
		require.Len(t, col, x.Rows(), "option %d", i)
		for _, p := range col {
			require.GreaterOrEqual(t, p, 0.0)
			require.LessOrEqual(t, p, 1.0)
		}
	}

	empty := data.NewMatrix(0, 0)
	_, err = ParallelTrainAndPredict(context.Background(), trainer, opts, empty, 2)
	require.True(t, data.IsKind(err, data.InvalidInput))
}

func TestParallelTrainAndEval(t *testing.T) {
	x, labels := separableData(t, 100)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	opts := gridOptions(t)
	scores, err := ParallelTrainAndEval(context.Background(), trainer, opts, LogLoss, x, labels, nil, 2)
	require.NoError(t, err)
	require.Len(t, scores, len(opts))
	for i, s := range scores {
		require.False(t, s != s, "score %d is NaN", i)
		require.GreaterOrEqual(t, s, 0.0)
	}

	// the 15-iteration depth-2 fit should beat the single stump
	require.Less(t, scores[1], scores[3])
}

func TestParallelTrainFirstErrorWins(t *testing.T) {
	x, labels := separableData(t, 50)
	labels[2] = 1
	labels[47] = 0
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	good := fullOptions(t)
	require.NoError(t, good.SetIterationCount(5))

	bad := fullOptions(t)
	require.NoError(t, bad.SetIterationCount(100))
	require.NoError(t, bad.SetEta(1e6))

	_, err = ParallelTrain(context.Background(), trainer, []*Options{good, bad, good}, 4)
	require.Error(t, err)
	require.True(t, data.IsKind(err, data.Overflow), "want the real error, got %v", err)
}

func TestParallelTrainInterrupted(t *testing.T) {
	x, labels := separableData(t, 50)
	trainer, err := NewTrainer(x, labels, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := gridOptions(t)
	_, err = ParallelTrain(ctx, trainer, opts, 2)
	require.Error(t, err)
	require.False(t, data.IsKind(err, data.Overflow))
}

func TestOuterThreadCount(t *testing.T) {
	require.Equal(t, 1, outerThreadCount(1))
	require.Equal(t, 8, outerThreadCount(8))
	require.Equal(t, 11, outerThreadCount(16)) // round(sqrt(128))
	require.Equal(t, 16, outerThreadCount(32)) // round(sqrt(256))
}

func TestInnerBudgetsPartitionTotal(t *testing.T) {
	for total := 1; total <= 64; total++ {
		outer := outerThreadCount(total)
		sum := 0
		for id := 0; id < outer; id++ {
			sum += (total*(id+1))/outer - (total*id)/outer
		}
		require.Equal(t, total, sum, "total %d", total)
	}
}

func TestCostOrderDescending(t *testing.T) {
	opts := gridOptions(t)
	order := costOrder(opts)
	require.Len(t, order, len(opts))
	for i := 1; i < len(order); i++ {
		require.GreaterOrEqual(t,
			opts[order[i-1]].Cost(), opts[order[i]].Cost())
	}
}
