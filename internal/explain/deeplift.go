package explain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/model"
)

// MethodDeepLIFT names the neural network algorithm in attribution sets
const MethodDeepLIFT = "deep_lift_rescale"

// below this pre-activation gap the rescale multiplier falls back to the gradient
const rescaleEpsilon = 1e-7

// DeepLIFT attributes f(x) - f(r) for one reference row with the Rescale rule.
// The result is indexed by input column and sums to the output difference.
func DeepLIFT(net *model.NeuralNetwork, x []float64, xTrace, rTrace *model.Trace) []float64 {
	mult := inputMultipliers(net, xTrace, rTrace)
	r := rTrace.Input
	phi := make([]float64, len(x))
	for i := range x {
		phi[i] = (x[i] - r.AtVec(i)) * mult.AtVec(i)
	}
	return phi
}

// inputMultipliers backpropagates rescale multipliers from the output unit to the inputs
func inputMultipliers(net *model.NeuralNetwork, xTrace, rTrace *model.Trace) *mat.VecDense {
	layers := net.Layers()
	m := mat.NewVecDense(1, []float64{1})

	for l := len(layers) - 1; l >= 0; l-- {
		layer := layers[l]
		zx, zr := xTrace.Pre[l], rTrace.Pre[l]
		rows, cols := layer.W.Dims()

		mz := mat.NewVecDense(rows, nil)
		for i := 0; i < rows; i++ {
			mz.SetVec(i, m.AtVec(i)*rescale(layer.Activation, zx.AtVec(i), zr.AtVec(i)))
		}

		prev := mat.NewVecDense(cols, nil)
		prev.MulVec(layer.W.T(), mz)
		m = prev
	}
	return m
}

// rescale is the DeepLIFT multiplier of a nonlinearity between two pre-activations
func rescale(activation string, zx, zr float64) float64 {
	dz := zx - zr
	if math.Abs(dz) < rescaleEpsilon {
		return model.Derivative(activation, 0.5*(zx+zr))
	}
	return (model.Activate(activation, zx) - model.Activate(activation, zr)) / dz
}

// explainNetwork averages DeepLIFT attributions over every background row.
func explainNetwork(net *model.NeuralNetwork, x []float64, background BackgroundSample) (*columnAttribution, error) {
	if len(background.Rows) == 0 {
		return nil, fmt.Errorf("neural network explanations require a non-empty background sample")
	}
	width := net.NumFeatures()
	xTrace := net.Forward(x)

	phi := make([]float64, width)
	baseline := 0.0
	for i, ref := range background.Rows {
		if len(ref) != width {
			return nil, fmt.Errorf("background row %d has %d columns, model expects %d", i, len(ref), width)
		}
		rTrace := net.Forward(ref)
		baseline += rTrace.Output()
		for j, v := range DeepLIFT(net, x, xTrace, rTrace) {
			phi[j] += v
		}
	}

	n := float64(len(background.Rows))
	baseline /= n
	for j := range phi {
		phi[j] /= n
	}

	return &columnAttribution{
		method:   MethodDeepLIFT,
		space:    domain.OutputProbability,
		baseline: baseline,
		output:   xTrace.Output(),
		values:   phi,
	}, nil
}
