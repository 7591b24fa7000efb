// Package predictor implements the immutable predictors produced by
// training: the base predictors that make up a boosted model (zero,
// constant, stump, tree, forest) and the composite predictors built from
// them (boosted, ensemble, union), with inference, variable importance and
// binary persistence.
package predictor

import "github.com/jrade/jrboost/data"

// Node is one slot of a tree arena. A tree owns all its nodes in a single
// slice in depth-first order with the root first; Left and Right are
// indices into that slice and are meaningful only when IsLeaf is false.
type Node struct {
	IsLeaf bool
	Y      float32 // leaf value
	J      int     // split variable
	X      float32 // split threshold; rows with value < X go left
	Gain   float32
	Left   int32
	Right  int32
}

func nodeDepth(nodes []Node, i int32) int {
	n := nodes[i]
	if n.IsLeaf {
		return 0
	}
	l := nodeDepth(nodes, n.Left)
	r := nodeDepth(nodes, n.Right)
	if r > l {
		l = r
	}
	return 1 + l
}

func treeVariableCount(nodes []Node) int {
	n := 0
	for i := range nodes {
		if !nodes[i].IsLeaf && nodes[i].J+1 > n {
			n = nodes[i].J + 1
		}
	}
	return n
}

func treePredict(nodes []Node, x *data.Matrix, c float64, out []float64) {
	for i := range out {
		k := int32(0)
		for !nodes[k].IsLeaf {
			if x.At(i, nodes[k].J) < nodes[k].X {
				k = nodes[k].Left
			} else {
				k = nodes[k].Right
			}
		}
		out[i] += c * float64(nodes[k].Y)
	}
}

func treePredictOne(nodes []Node, row []float32) float64 {
	k := int32(0)
	for !nodes[k].IsLeaf {
		if row[nodes[k].J] < nodes[k].X {
			k = nodes[k].Left
		} else {
			k = nodes[k].Right
		}
	}
	return float64(nodes[k].Y)
}

func treeVariableWeights(nodes []Node, c float64, out []float64) {
	for i := range nodes {
		if !nodes[i].IsLeaf {
			out[nodes[i].J] += c * float64(nodes[i].Gain)
		}
	}
}

func reindexNodes(nodes []Node, newIndices []int) []Node {
	clone := make([]Node, len(nodes))
	copy(clone, nodes)
	for i := range clone {
		if !clone[i].IsLeaf {
			clone[i].J = newIndices[clone[i].J]
		}
	}
	return clone
}
