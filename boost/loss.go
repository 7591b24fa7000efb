package boost

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// LossFunc scores predicted probabilities against test labels; lower is
// better. weights may be nil. Implementations must be safe to call from
// multiple goroutines.
type LossFunc func(yTest []uint8, predProbs []float64, weights []float64) float64

// LogLoss is the weighted negative log-likelihood
// -sum w * (y*log(p) + (1-y)*log(1-p)).
func LogLoss(yTest []uint8, predProbs []float64, weights []float64) float64 {
	loss := 0.0
	for i, p := range predProbs {
		var term float64
		if yTest[i] == 1 {
			term = math.Log(p)
		} else {
			term = math.Log(1.0 - p)
		}
		if weights != nil {
			term *= weights[i]
		}
		loss -= term
	}
	return loss
}

// ErrorRate is the weighted fraction of rows misclassified at the 0.5
// threshold.
func ErrorRate(yTest []uint8, predProbs []float64, weights []float64) float64 {
	errSum := 0.0
	wSum := 0.0
	for i, p := range predProbs {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		wSum += w
		if (p >= 0.5) != (yTest[i] == 1) {
			errSum += w
		}
	}
	if wSum == 0 {
		return 0
	}
	return errSum / wSum
}

// NegAUC is the negated area under the ROC curve, so that lower remains
// better.
func NegAUC(yTest []uint8, predProbs []float64, weights []float64) float64 {
	n := len(predProbs)
	scores := make([]float64, n)
	classes := make([]bool, n)
	var w []float64
	if weights != nil {
		w = make([]float64, n)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return predProbs[order[a]] < predProbs[order[b]] })
	for pos, i := range order {
		scores[pos] = predProbs[i]
		classes[pos] = yTest[i] == 1
		if w != nil {
			w[pos] = weights[i]
		}
	}

	tpr, fpr, _ := stat.ROC(nil, scores, classes, w)

	// trapezoid rule over the curve; fpr rises from 0 to 1
	auc := 0.0
	for i := 1; i < len(fpr); i++ {
		auc += (fpr[i] - fpr[i-1]) * (tpr[i-1] + tpr[i]) / 2.0
	}
	return -auc
}
