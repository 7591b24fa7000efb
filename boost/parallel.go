package boost

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jrade/jrboost/data"
	"github.com/jrade/jrboost/predictor"
)

// The parallel driver runs many boost configurations over a bounded
// worker budget: an outer pool over configurations, cost-sorted
// descending to keep the workers balanced, and an inner budget per outer
// slot handed down to the per-layer split search. The inner budgets are
// an integer partition of the total, so the worker count never exceeds
// it.

func outerThreadCount(total int) int {
	if total <= 8 {
		return total
	}
	return int(math.Round(math.Sqrt(8.0 * float64(total))))
}

// costOrder returns the option indices sorted by descending cost.
func costOrder(opts []*Options) []int {
	order := make([]int, len(opts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return opts[order[a]].Cost() > opts[order[b]].Cost()
	})
	return order
}

// runParallel schedules work(optIndex, innerThreads) for every option.
// The first real error cancels the group; workers that observe the
// cancellation unwind with a ThreadAborted error, which the errgroup
// absorbs because only the first error survives.
func runParallel(
	ctx context.Context, opts []*Options, totalThreads int,
	work func(ctx context.Context, optIndex, innerThreads int) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if totalThreads <= 0 {
		totalThreads = runtime.GOMAXPROCS(0)
	}

	order := costOrder(opts)
	outer := minInt(len(opts), outerThreadCount(totalThreads))
	if outer == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var next atomic.Int64
	for id := 0; id < outer; id++ {
		inner := (totalThreads*(id+1))/outer - (totalThreads*id)/outer
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("train worker panic: %v", r)
				}
			}()
			for {
				if gctx.Err() != nil {
					return data.ErrAborted
				}
				k := int(next.Add(1)) - 1
				if k >= len(order) {
					return nil
				}
				optIndex := order[k]
				start := time.Now()
				if err := work(gctx, optIndex, inner); err != nil {
					return err
				}
				log.WithFields(log.Fields{
					"option":   optIndex,
					"cost":     opts[optIndex].Cost(),
					"duration": time.Since(start),
					"threads":  inner,
				}).Debug("boost configuration trained")
			}
		})
	}

	err := g.Wait()
	// a worker that lost the race to report the real failure unwinds with
	// ThreadAborted; when the cancellation came from the caller's context
	// there is no real failure to report, so surface Interrupted
	if err != nil && data.IsKind(err, data.ThreadAborted) && ctx.Err() != nil {
		return data.Errf(data.Interrupted, "interrupted: %v", ctx.Err())
	}
	return err
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ParallelTrain fits every option and returns the predictors in option
// order. totalThreads 0 means one worker per available CPU.
func ParallelTrain(ctx context.Context, trainer *Trainer, opts []*Options, totalThreads int) ([]predictor.Predictor, error) {
	preds := make([]predictor.Predictor, len(opts))
	err := runParallel(ctx, opts, totalThreads, func(ctx context.Context, optIndex, inner int) error {
		p, err := trainer.Train(ctx, opts[optIndex], inner)
		if err != nil {
			return err
		}
		preds[optIndex] = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preds, nil
}

// ParallelTrainAndPredict fits every option and predicts testX with it.
// The result holds one probability column per option.
func ParallelTrainAndPredict(ctx context.Context, trainer *Trainer, opts []*Options, testX *data.Matrix, totalThreads int) ([][]float64, error) {
	if testX.Rows() == 0 {
		return nil, data.Errf(data.InvalidInput, "test indata has 0 samples")
	}
	preds := make([][]float64, len(opts))
	err := runParallel(ctx, opts, totalThreads, func(ctx context.Context, optIndex, inner int) error {
		p, err := trainer.Train(ctx, opts[optIndex], inner)
		if err != nil {
			return err
		}
		col, err := p.Predict(testX, inner)
		if err != nil {
			return err
		}
		preds[optIndex] = col
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preds, nil
}

// ParallelTrainAndEval fits every option, predicts testX and scores the
// probabilities with lossFn, which must be thread-safe.
func ParallelTrainAndEval(
	ctx context.Context, trainer *Trainer, opts []*Options, lossFn LossFunc,
	testX *data.Matrix, testY []uint8, testWeights []float64, totalThreads int,
) ([]float64, error) {
	if err := data.ValidateLabels(testY, testX.Rows()); err != nil {
		return nil, err
	}
	if err := data.ValidateWeights(testWeights, testX.Rows()); err != nil {
		return nil, err
	}
	scores := make([]float64, len(opts))
	err := runParallel(ctx, opts, totalThreads, func(ctx context.Context, optIndex, inner int) error {
		p, err := trainer.Train(ctx, opts[optIndex], inner)
		if err != nil {
			return err
		}
		col, err := p.Predict(testX, inner)
		if err != nil {
			return err
		}
		scores[optIndex] = lossFn(testY, col, testWeights)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}
