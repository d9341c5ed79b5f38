package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// Activation names accepted in neural artifacts
const (
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationTanh    = "tanh"
	ActivationLinear  = "linear"
)

// NeuralArtifact is the serialized feed-forward network
type NeuralArtifact struct {
	Version      string      `json:"version"`
	FeatureNames []string    `json:"feature_names,omitempty"`
	Layers       []LayerSpec `json:"layers"`
}

// LayerSpec is one dense layer; Weights is out x in
type LayerSpec struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// DenseLayer is a compiled dense layer
type DenseLayer struct {
	W          *mat.Dense
	B          *mat.VecDense
	Activation string
}

// Trace holds the intermediate values of one forward pass.
// Pre[l] is the pre-activation of layer l and Post[l] its output; Input is the network input.
type Trace struct {
	Input *mat.VecDense
	Pre   []*mat.VecDense
	Post  []*mat.VecDense
}

// Output returns the final network output
func (t *Trace) Output() float64 {
	return t.Post[len(t.Post)-1].AtVec(0)
}

// NeuralNetwork is a feed-forward binary classifier with a sigmoid output unit
type NeuralNetwork struct {
	version      string
	path         string
	inputDim     int
	featureNames []string
	layers       []DenseLayer
}

// NewNeuralNetwork validates an artifact and builds the model
func NewNeuralNetwork(a *NeuralArtifact, path string) (*NeuralNetwork, error) {
	if a == nil {
		return nil, fmt.Errorf("neural artifact is nil")
	}
	if len(a.Layers) == 0 {
		return nil, fmt.Errorf("neural artifact has no layers")
	}

	layers := make([]DenseLayer, 0, len(a.Layers))
	in := 0
	for i, spec := range a.Layers {
		rows := len(spec.Weights)
		if rows == 0 || rows != len(spec.Bias) {
			return nil, fmt.Errorf("layer %d: %d weight rows for %d biases", i, rows, len(spec.Bias))
		}
		cols := len(spec.Weights[0])
		if cols == 0 {
			return nil, fmt.Errorf("layer %d has no inputs", i)
		}
		if i == 0 {
			in = cols
		} else if cols != layers[i-1].W.RawMatrix().Rows {
			return nil, fmt.Errorf("layer %d expects %d inputs, previous layer has %d outputs", i, cols, layers[i-1].W.RawMatrix().Rows)
		}
		data := make([]float64, 0, rows*cols)
		for r, row := range spec.Weights {
			if len(row) != cols {
				return nil, fmt.Errorf("layer %d: weight row %d has %d columns, want %d", i, r, len(row), cols)
			}
			for _, w := range row {
				if math.IsNaN(w) || math.IsInf(w, 0) {
					return nil, fmt.Errorf("layer %d: non-finite weight", i)
				}
			}
			data = append(data, row...)
		}
		if !knownActivation(spec.Activation) {
			return nil, fmt.Errorf("layer %d: unsupported activation %q", i, spec.Activation)
		}
		layers = append(layers, DenseLayer{
			W:          mat.NewDense(rows, cols, data),
			B:          mat.NewVecDense(rows, append([]float64(nil), spec.Bias...)),
			Activation: spec.Activation,
		})
	}

	last := layers[len(layers)-1]
	if last.W.RawMatrix().Rows != 1 || last.Activation != ActivationSigmoid {
		return nil, fmt.Errorf("output layer must be a single sigmoid unit")
	}
	if len(a.FeatureNames) > 0 && len(a.FeatureNames) != in {
		return nil, fmt.Errorf("neural artifact lists %d feature names for %d inputs", len(a.FeatureNames), in)
	}

	return &NeuralNetwork{
		version:      a.Version,
		path:         path,
		inputDim:     in,
		featureNames: append([]string(nil), a.FeatureNames...),
		layers:       layers,
	}, nil
}

func (m *NeuralNetwork) sealed() {}

// Kind implements Model
func (m *NeuralNetwork) Kind() domain.ModelKind { return domain.ModelKindNeural }

// Version implements Model
func (m *NeuralNetwork) Version() string { return m.version }

// Path implements Model
func (m *NeuralNetwork) Path() string { return m.path }

// NumFeatures implements Model
func (m *NeuralNetwork) NumFeatures() int { return m.inputDim }

// FeatureNames implements Model
func (m *NeuralNetwork) FeatureNames() []string { return append([]string(nil), m.featureNames...) }

// Layers returns the compiled layers; callers must not modify them
func (m *NeuralNetwork) Layers() []DenseLayer { return m.layers }

// Forward runs one row through the network and keeps every intermediate value
func (m *NeuralNetwork) Forward(x []float64) *Trace {
	input := mat.NewVecDense(len(x), append([]float64(nil), x...))
	trace := &Trace{Input: input}

	a := input
	for _, layer := range m.layers {
		rows, _ := layer.W.Dims()
		z := mat.NewVecDense(rows, nil)
		z.MulVec(layer.W, a)
		z.AddVec(z, layer.B)

		out := mat.NewVecDense(rows, nil)
		for i := 0; i < rows; i++ {
			out.SetVec(i, Activate(layer.Activation, z.AtVec(i)))
		}
		trace.Pre = append(trace.Pre, z)
		trace.Post = append(trace.Post, out)
		a = out
	}
	return trace
}

// Predict implements Model
func (m *NeuralNetwork) Predict(t domain.EncodedTensor) (float64, error) {
	if err := checkWidth(m, t); err != nil {
		return 0, err
	}
	return checkProbability(m.Forward(t.Values).Output())
}

func knownActivation(name string) bool {
	switch name {
	case ActivationReLU, ActivationSigmoid, ActivationTanh, ActivationLinear:
		return true
	}
	return false
}

// Activate applies a named activation function
func Activate(name string, z float64) float64 {
	switch name {
	case ActivationReLU:
		if z > 0 {
			return z
		}
		return 0
	case ActivationSigmoid:
		return Sigmoid(z)
	case ActivationTanh:
		return math.Tanh(z)
	default:
		return z
	}
}

// Derivative returns the slope of a named activation at z
func Derivative(name string, z float64) float64 {
	switch name {
	case ActivationReLU:
		if z > 0 {
			return 1
		}
		return 0
	case ActivationSigmoid:
		s := Sigmoid(z)
		return s * (1 - s)
	case ActivationTanh:
		t := math.Tanh(z)
		return 1 - t*t
	default:
		return 1
	}
}
