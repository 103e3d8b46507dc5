package layers

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation selects an element-wise nonlinearity
type Activation int

const (
	ActLinear Activation = iota
	ActReLU
	ActLeakyReLU
)

// LeakyReLUSlope matches the Keras default for LeakyReLU
const LeakyReLUSlope = 0.3

func (a Activation) String() string {
	switch a {
	case ActLinear:
		return "linear"
	case ActReLU:
		return "relu"
	case ActLeakyReLU:
		return "leaky_relu"
	default:
		return fmt.Sprintf("Unknown(%d)", int(a))
	}
}

// ParseActivation maps a name to an Activation
func ParseActivation(name string) (Activation, error) {
	switch name {
	case "linear", "":
		return ActLinear, nil
	case "relu":
		return ActReLU, nil
	case "leaky_relu", "leakyrelu":
		return ActLeakyReLU, nil
	}
	return ActLinear, fmt.Errorf("unsupported activation %q", name)
}

// ActivationLayer applies an Activation and remembers its input for Backward
type ActivationLayer struct {
	Kind Activation

	input *mat.Dense
}

// NewActivationLayer creates an activation layer
func NewActivationLayer(kind Activation) *ActivationLayer {
	return &ActivationLayer{Kind: kind}
}

// Forward applies the activation
func (a *ActivationLayer) Forward(x *mat.Dense) *mat.Dense {
	a.input = x
	if a.Kind == ActLinear {
		return x
	}
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		return a.apply(v)
	}, x)
	return &y
}

// Backward multiplies grad by the activation derivative at the cached input
func (a *ActivationLayer) Backward(grad *mat.Dense) *mat.Dense {
	if a.Kind == ActLinear {
		return grad
	}
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		return g * a.derivative(a.input.At(i, j))
	}, grad)
	return &dx
}

func (a *ActivationLayer) apply(v float64) float64 {
	switch a.Kind {
	case ActReLU:
		if v > 0 {
			return v
		}
		return 0
	case ActLeakyReLU:
		if v > 0 {
			return v
		}
		return LeakyReLUSlope * v
	}
	return v
}

func (a *ActivationLayer) derivative(v float64) float64 {
	switch a.Kind {
	case ActReLU:
		if v > 0 {
			return 1
		}
		return 0
	case ActLeakyReLU:
		if v > 0 {
			return 1
		}
		return LeakyReLUSlope
	}
	return 1
}

// DropoutLayer implements inverted dropout: kept units are scaled by 1/(1-rate)
// during training so evaluation is the identity.
type DropoutLayer struct {
	Rate float64

	mask *mat.Dense
	rng  *rand.Rand
}

// NewDropoutLayer creates a dropout layer drawing masks from rng
func NewDropoutLayer(rate float64, rng *rand.Rand) *DropoutLayer {
	return &DropoutLayer{Rate: rate, rng: rng}
}

// Forward drops units when training is true
func (d *DropoutLayer) Forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.Rate <= 0 {
		d.mask = nil
		return x
	}
	r, c := x.Dims()
	keep := 1.0 - d.Rate
	d.mask = mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := d.mask.RawRowView(i)
		for j := range row {
			if d.rng.Float64() < keep {
				row[j] = 1.0 / keep
			}
		}
	}
	var y mat.Dense
	y.MulElem(x, d.mask)
	return &y
}

// Backward applies the cached mask
func (d *DropoutLayer) Backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	var dx mat.Dense
	dx.MulElem(grad, d.mask)
	return &dx
}
