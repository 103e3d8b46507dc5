package layers

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// DenseLayer implements y = xW + b
type DenseLayer struct {
	W *Param
	B *Param

	input *mat.Dense
}

// NewDenseLayer creates a dense layer with Xavier weights and zero bias
func NewDenseLayer(name string, inputSize, outputSize int, rng *rand.Rand) *DenseLayer {
	w := NewParam(name+"/kernel", inputSize, outputSize)
	XavierUniform(w.Value, 0, rng)
	return &DenseLayer{
		W: w,
		B: NewParam(name+"/bias", 1, outputSize),
	}
}

// Forward caches the input for Backward
func (d *DenseLayer) Forward(x *mat.Dense) *mat.Dense {
	d.input = x
	n, _ := x.Dims()
	_, out := d.W.Value.Dims()
	y := mat.NewDense(n, out, nil)
	y.Mul(x, d.W.Value)
	addRowVector(y, d.B.Value)
	return y
}

// Backward accumulates parameter gradients and returns the input gradient
func (d *DenseLayer) Backward(grad *mat.Dense) *mat.Dense {
	if d.input == nil {
		panic("layers: Backward called before Forward")
	}
	in, out := d.W.Value.Dims()

	dw := mat.NewDense(in, out, nil)
	dw.Mul(d.input.T(), grad)
	d.W.Grad.Add(d.W.Grad, dw)
	sumRowsInto(d.B.Grad, grad)

	n, _ := grad.Dims()
	dx := mat.NewDense(n, in, nil)
	dx.Mul(grad, d.W.Value.T())
	return dx
}

// Params returns the layer's parameters
func (d *DenseLayer) Params() []*Param {
	return []*Param{d.W, d.B}
}

// Clone deep-copies the layer without its cached activations
func (d *DenseLayer) Clone() *DenseLayer {
	return &DenseLayer{W: d.W.Clone(), B: d.B.Clone()}
}

// ConditionalDenseLayer is a dense layer over the concatenation [x, onehot(c)].
// The condition block of the kernel is kept as a separate parameter so that it
// can grow when new conditions are introduced.
type ConditionalDenseLayer struct {
	DenseLayer
	C *Param

	conditions []int
}

// NewConditionalDenseLayer creates the layer with Xavier initialised kernels
func NewConditionalDenseLayer(name string, inputSize, nConditions, outputSize int, rng *rand.Rand) *ConditionalDenseLayer {
	c := NewParam(name+"/condition_kernel", nConditions, outputSize)
	XavierUniform(c.Value, 0, rng)
	return &ConditionalDenseLayer{
		DenseLayer: *NewDenseLayer(name, inputSize, outputSize, rng),
		C:          c,
	}
}

// NumConditions returns the number of condition rows
func (l *ConditionalDenseLayer) NumConditions() int {
	r, _ := l.C.Value.Dims()
	return r
}

// ForwardConditional computes xW + C[c] + b
func (l *ConditionalDenseLayer) ForwardConditional(x *mat.Dense, conditions []int) (*mat.Dense, error) {
	n, _ := x.Dims()
	if len(conditions) != n {
		return nil, fmt.Errorf("conditions length mismatch: expected %d, got %d", n, len(conditions))
	}
	nc := l.NumConditions()
	for _, c := range conditions {
		if c < 0 || c >= nc {
			return nil, fmt.Errorf("condition index %d out of range [0, %d)", c, nc)
		}
	}

	y := l.DenseLayer.Forward(x)
	l.conditions = conditions
	for i, c := range conditions {
		row := y.RawRowView(i)
		cond := l.C.Value.RawRowView(c)
		for j := range row {
			row[j] += cond[j]
		}
	}
	return y, nil
}

// Backward accumulates gradients for the kernel, bias and condition rows
func (l *ConditionalDenseLayer) Backward(grad *mat.Dense) *mat.Dense {
	for i, c := range l.conditions {
		g := grad.RawRowView(i)
		dc := l.C.Grad.RawRowView(c)
		for j := range dc {
			dc[j] += g[j]
		}
	}
	return l.DenseLayer.Backward(grad)
}

// Params returns kernel, bias and condition kernel
func (l *ConditionalDenseLayer) Params() []*Param {
	return []*Param{l.W, l.B, l.C}
}

// Clone deep-copies the layer
func (l *ConditionalDenseLayer) Clone() *ConditionalDenseLayer {
	return &ConditionalDenseLayer{
		DenseLayer: *l.DenseLayer.Clone(),
		C:          l.C.Clone(),
	}
}

// ExtendConditions appends n condition rows, keeping the existing rows intact
func (l *ConditionalDenseLayer) ExtendConditions(n int, init Init, rng *rand.Rand) {
	if n <= 0 {
		return
	}
	old, out := l.C.Value.Dims()
	grown := NewParam(l.C.Name, old+n, out)
	grown.Trainable = l.C.Trainable
	grown.Value.Slice(0, old, 0, out).(*mat.Dense).Copy(l.C.Value)
	if init == InitXavier {
		XavierUniform(grown.Value, old, rng)
	}
	l.C = grown
}

func addRowVector(m *mat.Dense, v *mat.Dense) {
	b := v.RawRowView(0)
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}
}

func sumRowsInto(dst *mat.Dense, m *mat.Dense) {
	d := dst.RawRowView(0)
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			d[j] += row[j]
		}
	}
}
