package model

import (
	"fmt"
	"math"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// LeafIndex marks a missing child in a serialized tree
const LeafIndex = -1

// TreeArtifact is the serialized gradient-boosted ensemble
type TreeArtifact struct {
	Version      string     `json:"version"`
	NumFeatures  int        `json:"n_features"`
	FeatureNames []string   `json:"feature_names,omitempty"`
	LearningRate float64    `json:"learning_rate"`
	InitScore    float64    `json:"init_score"`
	Trees        []TreeSpec `json:"trees"`
}

// TreeSpec is one regression tree in array form
type TreeSpec struct {
	Nodes []Node `json:"nodes"`
}

// Node is one split or leaf. Samples with x[Feature] <= Threshold go left.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Cover     float64 `json:"cover"`
}

// IsLeaf reports whether the node has no children
func (n Node) IsLeaf() bool {
	return n.Left == LeafIndex && n.Right == LeafIndex
}

// TreeEnsemble is a binary gradient-boosted classifier on the log-odds scale
type TreeEnsemble struct {
	version      string
	path         string
	numFeatures  int
	featureNames []string
	learningRate float64
	initScore    float64
	trees        []TreeSpec
}

// NewTreeEnsemble validates an artifact and builds the model
func NewTreeEnsemble(a *TreeArtifact, path string) (*TreeEnsemble, error) {
	if a == nil {
		return nil, fmt.Errorf("tree artifact is nil")
	}
	nf := a.NumFeatures
	if nf == 0 {
		nf = len(a.FeatureNames)
	}
	if nf <= 0 {
		return nil, fmt.Errorf("tree artifact declares no features")
	}
	if len(a.FeatureNames) > 0 && len(a.FeatureNames) != nf {
		return nil, fmt.Errorf("tree artifact lists %d feature names for %d features", len(a.FeatureNames), nf)
	}
	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("tree artifact has no trees")
	}
	if a.LearningRate <= 0 || math.IsNaN(a.LearningRate) {
		return nil, fmt.Errorf("invalid learning rate %v", a.LearningRate)
	}
	for i, tree := range a.Trees {
		if err := validateTree(tree, nf); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}

	trees := make([]TreeSpec, len(a.Trees))
	for i, t := range a.Trees {
		trees[i] = TreeSpec{Nodes: append([]Node(nil), t.Nodes...)}
	}
	return &TreeEnsemble{
		version:      a.Version,
		path:         path,
		numFeatures:  nf,
		featureNames: append([]string(nil), a.FeatureNames...),
		learningRate: a.LearningRate,
		initScore:    a.InitScore,
		trees:        trees,
	}, nil
}

// validateTree checks structure and cover consistency. Children must come after
// their parent, which rules out cycles.
func validateTree(t TreeSpec, numFeatures int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("no nodes")
	}
	for i, n := range t.Nodes {
		if !(n.Cover > 0) {
			return fmt.Errorf("node %d has non-positive cover", i)
		}
		if n.IsLeaf() {
			if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
				return fmt.Errorf("leaf %d has non-finite value", i)
			}
			continue
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, n.Left, n.Right)
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d splits on unknown feature %d", i, n.Feature)
		}
		children := t.Nodes[n.Left].Cover + t.Nodes[n.Right].Cover
		if math.Abs(children-n.Cover) > 1e-6*n.Cover {
			return fmt.Errorf("node %d cover %v does not match children %v", i, n.Cover, children)
		}
	}
	return nil
}

func (m *TreeEnsemble) sealed() {}

// Kind implements Model
func (m *TreeEnsemble) Kind() domain.ModelKind { return domain.ModelKindTree }

// Version implements Model
func (m *TreeEnsemble) Version() string { return m.version }

// Path implements Model
func (m *TreeEnsemble) Path() string { return m.path }

// NumFeatures implements Model
func (m *TreeEnsemble) NumFeatures() int { return m.numFeatures }

// FeatureNames implements Model
func (m *TreeEnsemble) FeatureNames() []string { return append([]string(nil), m.featureNames...) }

// LearningRate returns the shrinkage applied to every tree
func (m *TreeEnsemble) LearningRate() float64 { return m.learningRate }

// InitScore returns the starting log-odds
func (m *TreeEnsemble) InitScore() float64 { return m.initScore }

// Trees returns the trees; callers must not modify them
func (m *TreeEnsemble) Trees() []TreeSpec { return m.trees }

// Margin returns the raw log-odds for one encoded row
func (m *TreeEnsemble) Margin(x []float64) float64 {
	sum := 0.0
	for _, t := range m.trees {
		sum += leafValue(t, x)
	}
	return m.initScore + m.learningRate*sum
}

// Predict implements Model
func (m *TreeEnsemble) Predict(t domain.EncodedTensor) (float64, error) {
	if err := checkWidth(m, t); err != nil {
		return 0, err
	}
	return checkProbability(Sigmoid(m.Margin(t.Values)))
}

func leafValue(t TreeSpec, x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
