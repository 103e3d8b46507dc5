package layers

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is a learnable matrix together with its accumulated gradient.
// Biases are stored as 1 x n matrices so every parameter has the same shape
// handling in the optimizer and in checkpoints.
type Param struct {
	Name      string
	Value     *mat.Dense
	Grad      *mat.Dense
	Trainable bool
}

// NewParam allocates a zero-valued trainable parameter
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:      name,
		Value:     mat.NewDense(rows, cols, nil),
		Grad:      mat.NewDense(rows, cols, nil),
		Trainable: true,
	}
}

// ZeroGrad clears the accumulated gradient
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Shape returns [rows, cols]
func (p *Param) Shape() []int {
	r, c := p.Value.Dims()
	return []int{r, c}
}

// Clone returns a deep copy with a fresh gradient buffer
func (p *Param) Clone() *Param {
	r, c := p.Value.Dims()
	return &Param{
		Name:      p.Name,
		Value:     mat.DenseCopyOf(p.Value),
		Grad:      mat.NewDense(r, c, nil),
		Trainable: p.Trainable,
	}
}

// Init selects how freshly created weights are filled
type Init int

const (
	InitXavier Init = iota
	InitZeros
)

// ParseInit maps a name ("xavier", "zeros") to an Init
func ParseInit(name string) (Init, bool) {
	switch name {
	case "Xavier", "xavier", "glorot", "glorot_uniform", "":
		return InitXavier, true
	case "zeros", "Zeros", "zero":
		return InitZeros, true
	}
	return InitXavier, false
}

// XavierUniform fills rows [from, r) of m with Glorot uniform values.
// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
// where fan_in is the number of initialised rows.
func XavierUniform(m *mat.Dense, from int, rng *rand.Rand) {
	r, c := m.Dims()
	if from >= r {
		return
	}
	bound := math.Sqrt(6.0 / float64(r-from+c))
	for i := from; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, (rng.Float64()*2.0-1.0)*bound)
		}
	}
}
