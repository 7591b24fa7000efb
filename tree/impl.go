package tree

import (
	"sync"
	"sync/atomic"

	"github.com/jrade/jrboost/predictor"
)

// Layer-by-layer construction. Layer d+1 is materialized only after every
// split of layer d is final; the per-layer split search fans out over the
// used variables and joins before the children are linked.

func (im *impl[S]) trainTree(sc *scratch[S], outData, weights []float64, opt *Options, threadCount int) predictor.BasePredictor {
	im.initSampleStatus(sc, opt, weights)
	count, sumW, sumWY := im.rootStats(sc, outData, weights)

	rootY := 0.0
	if sumW > 0 {
		rootY = sumWY / sumW
	}
	sc.layers = append(sc.layers[:0], []trainNode{{
		isLeaf:      true,
		y:           float32(rootY),
		sampleCount: count,
		sumW:        sumW,
		sumWY:       sumWY,
	}})

	usedCount := 0
	if !opt.selectVariablesByLevel {
		usedCount = im.initUsedVariables(sc, opt)
	}

	counts := []int{count}
	offsets := []int{0}
	var prevParents []trainNode
	var prevCounts, prevOffsets []int

	for d := 0; d < opt.maxDepth; d++ {
		if opt.selectVariablesByLevel {
			usedCount = im.initUsedVariables(sc, opt)
		}
		if usedCount == 0 {
			break
		}

		parents := sc.layers[d]
		merged := im.findSplits(sc, d, splitSearchArgs[S]{
			parents:     parents,
			counts:      counts,
			offsets:     offsets,
			prevParents: prevParents,
			prevCounts:  prevCounts,
			prevOffsets: prevOffsets,
			usedCount:   usedCount,
		}, outData, weights, opt, threadCount)

		// link children
		children := make([]trainNode, 0, 2*len(parents))
		for k := range parents {
			nt := &merged[k]
			if !nt.splitFound {
				continue
			}
			p := &parents[k]
			p.isLeaf = false
			p.j = nt.bestJ
			p.x = nt.bestX
			p.gain = float32(nt.bestScore - nt.baseScore)
			p.left = len(children)
			p.right = len(children) + 1
			children = append(children,
				trainNode{
					isLeaf:      true,
					y:           float32(nt.bestLeftY),
					sampleCount: nt.bestLeftCount,
					sumW:        nt.bestLeftSumW,
					sumWY:       nt.bestLeftSumWY,
				},
				trainNode{
					isLeaf:      true,
					y:           float32(nt.bestRightY),
					sampleCount: nt.bestRightCount,
					sumW:        nt.bestRightSumW,
					sumWY:       nt.bestRightSumWY,
				})
		}
		if len(children) == 0 {
			break
		}
		sc.layers = append(sc.layers, children)
		if d+1 == opt.maxDepth {
			break
		}

		childCounts := im.updateSampleStatus(sc, parents, children, outData, weights)

		prevParents, prevCounts, prevOffsets = parents, counts, offsets
		counts = childCounts
		offsets = makeOffsets(counts)
	}

	if opt.pruneFactor > 0 {
		pruneLayers(sc.layers, opt.pruneFactor)
	}
	return packLayers(sc.layers)
}

// makeOffsets lays blocks out with one sentinel slot after each block, so
// the branch-free partition copy may write one element past a block's
// logical end.
func makeOffsets(counts []int) []int {
	offsets := make([]int, len(counts))
	pos := 0
	for k, c := range counts {
		offsets[k] = pos
		pos += c + 1
	}
	return offsets
}

func ratioCount(ratio float64, n int) int {
	k := int(ratio*float64(n) + 0.5)
	if k == 0 && n > 0 {
		k = 1
	}
	return k
}

//----------------------------------------------------------------------

// initSampleStatus decides used/unused per sample for one tree: status 1
// assigns a sample to the root, status 0 drops it. The Bernoulli draws
// keep the exact running counts, so exactly k of n samples come out used.
func (im *impl[S]) initSampleStatus(sc *scratch[S], opt *Options, weights []float64) {
	sc.sampleStatus = grow(sc.sampleStatus, im.sampleCount)
	status := sc.sampleStatus

	minSampleWeight := opt.minAbsSampleWeight
	if opt.minRelSampleWeight > 0 {
		maxW := 0.0
		for _, w := range weights {
			if w > maxW {
				maxW = w
			}
		}
		if r := maxW * opt.minRelSampleWeight; r > minSampleWeight {
			minSampleWeight = r
		}
	}

	if minSampleWeight == 0 {
		if !opt.stratified {
			n := im.sampleCount
			k := ratioCount(opt.usedSampleRatio, n)
			for i := range status {
				if sc.rng.bernoulli(k, n) {
					status[i] = 1
					k--
				} else {
					status[i] = 0
				}
				n--
			}
			return
		}

		n := append([]int(nil), im.stratumCounts...)
		k := make([]int, len(n))
		for s := range n {
			k[s] = ratioCount(opt.usedSampleRatio, n[s])
		}
		for i := range status {
			s := im.stratum(i)
			if sc.rng.bernoulli(k[s], n[s]) {
				status[i] = 1
				k[s]--
			} else {
				status[i] = 0
			}
			n[s]--
		}
		return
	}

	// restrict to the samples heavy enough to use, then subsample among
	// those
	for i := range status {
		status[i] = 0
	}
	sc.tmpIndices = sc.tmpIndices[:0]
	n := make([]int, len(im.stratumCounts))
	for i := 0; i < im.sampleCount; i++ {
		if weights[i] >= minSampleWeight {
			sc.tmpIndices = append(sc.tmpIndices, S(i))
			n[im.stratum(i)]++
		}
	}

	if !opt.stratified {
		total := len(sc.tmpIndices)
		k := ratioCount(opt.usedSampleRatio, total)
		for _, i := range sc.tmpIndices {
			if sc.rng.bernoulli(k, total) {
				status[i] = 1
				k--
			}
			total--
		}
		return
	}

	k := make([]int, len(n))
	for s := range n {
		k[s] = ratioCount(opt.usedSampleRatio, n[s])
	}
	for _, i := range sc.tmpIndices {
		s := im.stratum(int(i))
		if sc.rng.bernoulli(k[s], n[s]) {
			status[i] = 1
			k[s]--
		}
		n[s]--
	}
}

func (im *impl[S]) rootStats(sc *scratch[S], outData, weights []float64) (count int, sumW, sumWY float64) {
	for i, s := range sc.sampleStatus {
		if s == 0 {
			continue
		}
		count++
		w := weights[i]
		sumW += w
		sumWY += w * outData[i]
	}
	return count, sumW, sumWY
}

// initUsedVariables draws the variable subset for this tree (or this
// layer) and returns its size, which may be zero.
func (im *impl[S]) initUsedVariables(sc *scratch[S], opt *Options) int {
	candidates := minInt(im.variableCount, opt.topVariableCount)
	usedCount := int(opt.usedVariableRatio*float64(candidates) + 0.5)
	if usedCount == 0 && opt.usedVariableRatio > 0 {
		usedCount = 1
	}

	sc.usedVariables = growInts(sc.usedVariables, usedCount)
	n := candidates
	k := usedCount
	i := 0
	pos := 0
	for k > 0 {
		sc.usedVariables[pos] = i
		if sc.rng.bernoulli(k, n) {
			pos++
			k--
		}
		n--
		i++
	}

	for len(sc.orderedSamples) < usedCount {
		sc.orderedSamples = append(sc.orderedSamples, nil)
	}
	return usedCount
}

//----------------------------------------------------------------------

type splitSearchArgs[S sampleIndex] struct {
	parents     []trainNode
	counts      []int
	offsets     []int
	prevParents []trainNode
	prevCounts  []int
	prevOffsets []int
	usedCount   int
}

// findSplits runs the per-layer split search: for every used variable it
// refreshes that variable's ordered-sample blocks and scans them against
// every layer node. The variables fan out over at most threadCount
// workers; the per-worker node trainers are merged in worker order after
// the join.
func (im *impl[S]) findSplits(sc *scratch[S], d int, args splitSearchArgs[S], outData, weights []float64, opt *Options, threadCount int) []nodeTrainer {
	nodeCount := len(args.parents)

	workers := threadCount
	if workers <= 0 {
		workers = 1
	}
	if workers > args.usedCount {
		workers = args.usedCount
	}

	for w := 0; w < workers; w++ {
		ws := sc.worker(w)
		ws.nodeTrainers = growNodeTrainers(ws.nodeTrainers, nodeCount)
		for k := range args.parents {
			ws.nodeTrainers[k].reset(&args.parents[k], opt)
		}
	}

	scanVariable := func(ws *workerScratch[S], uvi int) {
		j := sc.usedVariables[uvi]
		switch {
		case d == 0:
			im.initOrderedSamples(sc, uvi, j, args.counts[0])
		case opt.selectVariablesByLevel:
			im.rebuildOrderedSamples(sc, ws, uvi, j, args.counts, args.offsets)
		default:
			im.updateOrderedSamples(sc, ws, uvi, args)
		}
		col := im.x.Col(j)
		buf := sc.orderedSamples[uvi]
		for k := 0; k < nodeCount; k++ {
			off := args.offsets[k]
			scanSplits(&ws.nodeTrainers[k], j, buf[off:off+args.counts[k]], col, outData, weights)
		}
	}

	if workers == 1 {
		ws := sc.worker(0)
		for uvi := 0; uvi < args.usedCount; uvi++ {
			scanVariable(ws, uvi)
		}
	} else {
		var next atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(ws *workerScratch[S]) {
				defer wg.Done()
				for {
					uvi := int(next.Add(1)) - 1
					if uvi >= args.usedCount {
						return
					}
					scanVariable(ws, uvi)
				}
			}(sc.worker(w))
		}
		wg.Wait()
	}

	merged := sc.workers[0].nodeTrainers
	for w := 1; w < workers; w++ {
		for k := range merged {
			merged[k].merge(&sc.workers[w].nodeTrainers[k])
		}
	}
	return merged
}

func growNodeTrainers(buf []nodeTrainer, n int) []nodeTrainer {
	if cap(buf) < n {
		return make([]nodeTrainer, n)
	}
	return buf[:n]
}

// initOrderedSamples builds the layer-0 block for one variable: the used
// samples in presorted order. The copy is branch-free; the write cursor
// advances by the 0/1 status, so the buffer carries one sentinel slot.
func (im *impl[S]) initOrderedSamples(sc *scratch[S], uvi, j, usedCount int) {
	buf := grow(sc.orderedSamples[uvi], usedCount+1)
	status := sc.sampleStatus
	q := 0
	for _, i := range im.sortedSamples[j] {
		buf[q] = i
		q += int(status[i])
	}
	sc.orderedSamples[uvi] = buf
}

// rebuildOrderedSamples builds the blocks for one variable from the
// presort index and the sample status, used when the variable set changes
// between layers. Status values index the write cursors directly; unused
// samples land in a trash region past the blocks.
func (im *impl[S]) rebuildOrderedSamples(sc *scratch[S], ws *workerScratch[S], uvi, j int, counts, offsets []int) {
	nodeCount := len(counts)
	total := 0
	for _, c := range counts {
		total += c
	}

	buf := grow(sc.orderedSamples[uvi], im.sampleCount+nodeCount)
	ws.cursors = growInts(ws.cursors, nodeCount+1)
	ws.cursors[0] = total + nodeCount // trash
	for k := 0; k < nodeCount; k++ {
		ws.cursors[k+1] = offsets[k]
	}

	status := sc.sampleStatus
	for _, i := range im.sortedSamples[j] {
		s := status[i]
		c := ws.cursors[s]
		buf[c] = i
		ws.cursors[s] = c + 1
	}
	sc.orderedSamples[uvi] = buf
}

// updateOrderedSamples derives the blocks of this layer from the previous
// layer's blocks for the same variable, splitting each parent block left
// and right on the parent's threshold. Both candidate slots are written
// and the matching cursor advances, which may touch each block's sentinel
// slot.
func (im *impl[S]) updateOrderedSamples(sc *scratch[S], ws *workerScratch[S], uvi int, args splitSearchArgs[S]) {
	nodeCount := len(args.counts)
	total := 0
	for _, c := range args.counts {
		total += c
	}

	src := sc.orderedSamples[uvi]
	dst := grow(ws.tmp, total+nodeCount)

	child := 0
	for pk := range args.prevParents {
		parent := &args.prevParents[pk]
		if parent.isLeaf {
			continue
		}
		block := src[args.prevOffsets[pk] : args.prevOffsets[pk]+args.prevCounts[pk]]
		col := im.x.Col(parent.j)
		x := parent.x
		l := args.offsets[child]
		r := args.offsets[child+1]
		for _, i := range block {
			dst[l] = i
			dst[r] = i
			if col[i] < x {
				l++
			} else {
				r++
			}
		}
		child += 2
	}

	sc.orderedSamples[uvi] = dst
	ws.tmp = src
}

//----------------------------------------------------------------------

// updateSampleStatus routes every used sample to its child node (or to
// unused when the parent became a leaf) and recomputes the child sums
// from scratch, which is more precise than the subtraction-based sums of
// the split scan.
func (im *impl[S]) updateSampleStatus(sc *scratch[S], parents, children []trainNode, outData, weights []float64) []int {
	counts := make([]int, len(children))
	sumW := make([]float64, len(children))
	sumWY := make([]float64, len(children))

	status := sc.sampleStatus
	for i, s := range status {
		if s == 0 {
			continue
		}
		p := &parents[int(s)-1]
		if p.isLeaf {
			status[i] = 0
			continue
		}
		c := p.right
		if im.x.At(i, p.j) < p.x {
			c = p.left
		}
		status[i] = S(c + 1)
		w := weights[i]
		counts[c]++
		sumW[c] += w
		sumWY[c] += w * outData[i]
	}

	for c := range children {
		n := &children[c]
		n.sampleCount = counts[c]
		n.sumW = sumW[c]
		n.sumWY = sumWY[c]
		if sumW[c] > 0 {
			n.y = float32(sumWY[c] / sumW[c])
		} else {
			n.y = 0
		}
	}
	return counts
}

// pruneLayers turns internal nodes with two leaf children into leaves,
// bottom-up, when their gain falls below pruneFactor times the root gain.
func pruneLayers(layers [][]trainNode, pruneFactor float64) {
	root := &layers[0][0]
	if root.isLeaf {
		return
	}
	limit := float32(pruneFactor) * root.gain
	for d := len(layers) - 2; d >= 0; d-- {
		for k := range layers[d] {
			n := &layers[d][k]
			if n.isLeaf {
				continue
			}
			left := &layers[d+1][n.left]
			right := &layers[d+1][n.right]
			if left.isLeaf && right.isLeaf && n.gain < limit {
				n.isLeaf = true
			}
		}
	}
}

// packLayers clones the layered construction into a depth-first arena and
// specializes it.
func packLayers(layers [][]trainNode) predictor.BasePredictor {
	var nodes []predictor.Node

	var emit func(d, k int) int32
	emit = func(d, k int) int32 {
		n := &layers[d][k]
		idx := int32(len(nodes))
		nodes = append(nodes, predictor.Node{})
		if n.isLeaf {
			nodes[idx] = predictor.Node{IsLeaf: true, Y: n.y}
		} else {
			left := emit(d+1, n.left)
			right := emit(d+1, n.right)
			nodes[idx] = predictor.Node{J: n.j, X: n.x, Gain: n.gain, Left: left, Right: right}
		}
		return idx
	}
	emit(0, 0)

	return predictor.NewTree(nodes)
}
