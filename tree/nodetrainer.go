package tree

import "math"

// nodeTrainer is the per-(node, worker) scratch state used to find the
// best split of one layer node. Workers fill independent copies which are
// merged in ascending worker order, so the selected split is a
// deterministic function of the per-variable scans.
type nodeTrainer struct {
	sampleCount int
	sumW        float64
	sumWY       float64

	baseScore     float64 // score of leaving the node unsplit
	bestScore     float64
	minNodeWeight float64
	minNodeSize   int

	splitFound     bool
	bestJ          int
	bestX          float32
	bestLeftY      float64
	bestRightY     float64
	bestLeftCount  int
	bestRightCount int
	bestLeftSumW   float64
	bestLeftSumWY  float64
	bestRightSumW  float64
	bestRightSumWY float64
}

func (nt *nodeTrainer) reset(n *trainNode, opt *Options) {
	nt.sampleCount = n.sampleCount
	nt.sumW = n.sumW
	nt.sumWY = n.sumWY

	nt.baseScore = 0
	if nt.sumW > 0 {
		nt.baseScore = nt.sumWY * nt.sumWY / nt.sumW
	}
	nt.bestScore = nt.baseScore + opt.minGain

	// lift the weight floor to absorb the floating-point drift of the
	// incremental subtraction in the scan
	tol := nt.sumW * math.Sqrt(float64(nt.sampleCount)) * (0x1p-52 / 2)
	nt.minNodeWeight = opt.minNodeWeight
	if tol > nt.minNodeWeight {
		nt.minNodeWeight = tol
	}
	nt.minNodeSize = opt.minNodeSize

	nt.splitFound = false
}

// scanSplits walks one ordered block of samples for variable j, keeping
// running left sums and deriving the right sums by subtraction from the
// node totals. The score comparison is the only test on the fast path;
// the constraints run only on improvement.
func scanSplits[S sampleIndex](nt *nodeTrainer, j int, samples []S, col []float32, outData, weights []float64) {
	count := len(samples)
	if count < 2 || nt.sumW == 0 {
		return
	}

	bestScore := nt.bestScore
	leftSumW, leftSumWY := 0.0, 0.0
	rightSumW, rightSumWY := nt.sumW, nt.sumWY

	for pos := 0; pos < count-1; pos++ {
		i := int(samples[pos])
		w := weights[i]
		wy := w * outData[i]
		leftSumW += w
		rightSumW -= w
		leftSumWY += wy
		rightSumWY -= wy
		score := leftSumWY*leftSumWY/leftSumW + rightSumWY*rightSumWY/rightSumW

		if score <= bestScore { // usually true
			continue
		}

		leftCount := pos + 1
		if leftCount < nt.minNodeSize ||
			count-leftCount < nt.minNodeSize ||
			leftSumW < nt.minNodeWeight ||
			rightSumW < nt.minNodeWeight {
			continue
		}

		leftX := col[i]
		rightX := col[int(samples[pos+1])]
		midX := (leftX + rightX) / 2
		if leftX == midX {
			continue // degenerate pair, threshold would not separate
		}

		bestScore = score
		nt.splitFound = true
		nt.bestJ = j
		nt.bestX = midX
		nt.bestLeftY = leftSumWY / leftSumW
		nt.bestRightY = rightSumWY / rightSumW
		nt.bestLeftCount = leftCount
		nt.bestRightCount = count - leftCount
		nt.bestLeftSumW = leftSumW
		nt.bestLeftSumWY = leftSumWY
		nt.bestRightSumW = rightSumW
		nt.bestRightSumWY = rightSumWY
	}

	nt.bestScore = bestScore
}

// merge folds another worker's result for the same node into nt. Strict
// comparison keeps the earlier worker on ties.
func (nt *nodeTrainer) merge(o *nodeTrainer) {
	if o.splitFound && (!nt.splitFound || o.bestScore > nt.bestScore) {
		*nt = *o
	}
}
