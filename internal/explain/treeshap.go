package explain

import (
	"math"

	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/model"
)

// MethodTreePathDependent names the exact tree algorithm in attribution sets
const MethodTreePathDependent = "tree_path_dependent"

// pathElement tracks one feature on the current root-to-node path.
// zero is the fraction of paths that flow through when the feature is unknown,
// one is 1 when the explained row follows this path and 0 otherwise.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

// columnAttribution is a decomposition over encoded columns
type columnAttribution struct {
	method   string
	space    domain.OutputSpace
	baseline float64
	output   float64
	values   []float64
	warnings []string

	// residualSpace is set when the additivity residual was measured before
	// values were moved into space.
	residualSpace domain.OutputSpace
	residual      float64
}

// TreeShap returns the exact path-dependent Shapley values of one tree for row x,
// indexed by encoded column.
func TreeShap(tree model.TreeSpec, x []float64, width int) []float64 {
	phi := make([]float64, width)
	s := &treeShapper{nodes: tree.Nodes, x: x, phi: phi}
	s.recurse(0, nil, 1, 1, -1)
	return phi
}

// ExpectedValue returns the cover-weighted mean output of a tree
func ExpectedValue(tree model.TreeSpec) float64 {
	return expectedFrom(tree.Nodes, 0)
}

func expectedFrom(nodes []model.Node, i int) float64 {
	n := nodes[i]
	if n.IsLeaf() {
		return n.Value
	}
	left, right := nodes[n.Left], nodes[n.Right]
	return (left.Cover*expectedFrom(nodes, n.Left) + right.Cover*expectedFrom(nodes, n.Right)) / n.Cover
}

type treeShapper struct {
	nodes []model.Node
	x     []float64
	phi   []float64
}

func (s *treeShapper) recurse(node int, parent []pathElement, zero, one float64, feature int) {
	path := make([]pathElement, len(parent), len(parent)+1)
	copy(path, parent)
	path = extendPath(path, zero, one, feature)

	n := s.nodes[node]
	if n.IsLeaf() {
		for i := 1; i < len(path); i++ {
			w := unwoundPathSum(path, i)
			el := path[i]
			s.phi[el.feature] += w * (el.one - el.zero) * n.Value
		}
		return
	}

	hot, cold := n.Right, n.Left
	if s.x[n.Feature] <= n.Threshold {
		hot, cold = n.Left, n.Right
	}

	incomingZero, incomingOne := 1.0, 1.0
	for i := 1; i < len(path); i++ {
		if path[i].feature == n.Feature {
			incomingZero, incomingOne = path[i].zero, path[i].one
			path = unwindPath(path, i)
			break
		}
	}

	s.recurse(hot, path, incomingZero*s.nodes[hot].Cover/n.Cover, incomingOne, n.Feature)
	s.recurse(cold, path, incomingZero*s.nodes[cold].Cover/n.Cover, 0, n.Feature)
}

func extendPath(path []pathElement, zero, one float64, feature int) []pathElement {
	depth := len(path)
	w := 0.0
	if depth == 0 {
		w = 1
	}
	path = append(path, pathElement{feature: feature, zero: zero, one: one, weight: w})
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / float64(depth+1)
		path[i].weight = zero * path[i].weight * float64(depth-i) / float64(depth+1)
	}
	return path
}

// unwindPath removes element idx from the path, undoing its extension
func unwindPath(path []pathElement, idx int) []pathElement {
	depth := len(path) - 1
	one, zero := path[idx].one, path[idx].zero
	next := path[depth].weight

	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * float64(depth+1) / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/float64(depth+1)
		} else {
			path[i].weight = path[i].weight * float64(depth+1) / (zero * float64(depth-i))
		}
	}
	for i := idx; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
	return path[:depth]
}

// unwoundPathSum is the total permutation weight of the path with idx removed
func unwoundPathSum(path []pathElement, idx int) float64 {
	depth := len(path) - 1
	one, zero := path[idx].one, path[idx].zero
	total := 0.0

	if one != 0 {
		next := path[depth].weight
		for i := depth - 1; i >= 0; i-- {
			tmp := next * float64(depth+1) / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/float64(depth+1)
		}
	} else if zero != 0 {
		for i := depth - 1; i >= 0; i-- {
			total += path[i].weight * float64(depth+1) / (zero * float64(depth-i))
		}
	}
	return total
}

// explainTrees decomposes the ensemble output for one row.
func explainTrees(m *model.TreeEnsemble, x []float64, space domain.OutputSpace) *columnAttribution {
	width := m.NumFeatures()
	lr := m.LearningRate()

	phi := make([]float64, width)
	base := m.InitScore()
	for _, tree := range m.Trees() {
		base += lr * ExpectedValue(tree)
		for j, v := range TreeShap(tree, x, width) {
			phi[j] += lr * v
		}
	}
	margin := m.Margin(x)
	residual := base - margin
	for _, v := range phi {
		residual += v
	}

	if space == domain.OutputLogOdds {
		return &columnAttribution{
			method: MethodTreePathDependent, space: domain.OutputLogOdds,
			baseline: base, output: margin, values: phi,
			residualSpace: domain.OutputLogOdds, residual: residual,
		}
	}

	// Rescale log-odds contributions onto the probability delta. Signs and
	// relative sizes are kept and the sum lands on the probability output.
	p := model.Sigmoid(margin)
	p0 := model.Sigmoid(base)
	delta := margin - base
	scale := p0 * (1 - p0)
	if math.Abs(delta) > 1e-12 {
		scale = (p - p0) / delta
	}
	values := make([]float64, width)
	for j, v := range phi {
		values[j] = v * scale
	}
	return &columnAttribution{
		method: MethodTreePathDependent, space: domain.OutputProbability,
		baseline: p0, output: p, values: values,
		residualSpace: domain.OutputLogOdds, residual: residual,
	}
}
