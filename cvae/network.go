package cvae

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-surgeon/layers"
	"github.com/tsawler/go-surgeon/optimizer"
	"github.com/tsawler/go-surgeon/training"
)

// block is one hidden layer: dense (conditional for the first layer of the
// encoder and of the decoder), LeakyReLU, dropout.
type block struct {
	dense *layers.DenseLayer
	cond  *layers.ConditionalDenseLayer
	act   *layers.ActivationLayer
	drop  *layers.DropoutLayer
}

func newBlock(name string, in, nCond, out int, dropout float64, rng *rand.Rand) *block {
	b := &block{
		act:  layers.NewActivationLayer(layers.ActLeakyReLU),
		drop: layers.NewDropoutLayer(dropout, rng),
	}
	if nCond > 0 {
		b.cond = layers.NewConditionalDenseLayer(name, in, nCond, out, rng)
	} else {
		b.dense = layers.NewDenseLayer(name, in, out, rng)
	}
	return b
}

func (b *block) forward(x *mat.Dense, conds []int, training bool) (*mat.Dense, error) {
	var h *mat.Dense
	if b.cond != nil {
		var err error
		if h, err = b.cond.ForwardConditional(x, conds); err != nil {
			return nil, err
		}
	} else {
		h = b.dense.Forward(x)
	}
	return b.drop.Forward(b.act.Forward(h), training), nil
}

func (b *block) backward(grad *mat.Dense) *mat.Dense {
	grad = b.act.Backward(b.drop.Backward(grad))
	if b.cond != nil {
		return b.cond.Backward(grad)
	}
	return b.dense.Backward(grad)
}

func (b *block) params() []*layers.Param {
	if b.cond != nil {
		return b.cond.Params()
	}
	return b.dense.Params()
}

func (b *block) clone(rng *rand.Rand) *block {
	c := &block{
		act:  layers.NewActivationLayer(b.act.Kind),
		drop: layers.NewDropoutLayer(b.drop.Rate, rng),
	}
	if b.cond != nil {
		c.cond = b.cond.Clone()
	} else {
		c.dense = b.dense.Clone()
	}
	return c
}

// Model is a conditional VAE. The encoder maps (x, condition) to the mean and
// log-variance of a Gaussian latent; the decoder maps (z, condition) back to
// expression space.
type Model struct {
	config Config

	encoder []*block
	zMean   *layers.DenseLayer
	zLogVar *layers.DenseLayer

	decoder []*block
	output  *layers.DenseLayer
	outAct  *layers.ActivationLayer

	// per-gene log inverse dispersion of the negative binomial
	logTheta *layers.Param

	// ConditionEncoder maps condition labels to the indices the conditional
	// layers were trained with. Set by Train and extended by Operate.
	ConditionEncoder *training.ConditionEncoder

	history *training.History
	lastOpt *optimizer.OptimizerState

	rng    *rand.Rand
	logger *zap.Logger
	noise  func(rows, cols int) *mat.Dense
}

// New builds an untrained model with Xavier initialised weights
func New(config Config, rng *rand.Rand, logger *zap.Logger) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.Architecture = append([]int(nil), config.Architecture...)
	outKind, _ := layers.ParseActivation(config.OutputActivation)

	m := &Model{
		config: config,
		rng:    rng,
		logger: logger,
		outAct: layers.NewActivationLayer(outKind),
	}

	in := config.XDimension
	for i, h := range config.Architecture {
		nCond := 0
		if i == 0 {
			nCond = config.NConditions
		}
		m.encoder = append(m.encoder, newBlock(fmt.Sprintf("encoder_%d", i), in, nCond, h, config.DropoutRate, rng))
		in = h
	}
	m.zMean = layers.NewDenseLayer("z_mean", in, config.ZDimension, rng)
	m.zLogVar = layers.NewDenseLayer("z_log_var", in, config.ZDimension, rng)

	in = config.ZDimension
	for i := len(config.Architecture) - 1; i >= 0; i-- {
		h := config.Architecture[i]
		nCond := 0
		if i == len(config.Architecture)-1 {
			nCond = config.NConditions
		}
		name := fmt.Sprintf("decoder_%d", len(config.Architecture)-1-i)
		m.decoder = append(m.decoder, newBlock(name, in, nCond, h, config.DropoutRate, rng))
		in = h
	}
	m.output = layers.NewDenseLayer("reconstruction", in, config.XDimension, rng)

	if config.LossFn == LossNB {
		m.logTheta = layers.NewParam("dispersion/log_theta", 1, config.XDimension)
	}
	m.noise = m.gaussianNoise
	return m, nil
}

func (m *Model) gaussianNoise(rows, cols int) *mat.Dense {
	eps := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := eps.RawRowView(i)
		for j := range row {
			row[j] = m.rng.NormFloat64()
		}
	}
	return eps
}

// Config returns a copy of the model's hyperparameters
func (m *Model) Config() Config {
	c := m.config
	c.Architecture = append([]int(nil), m.config.Architecture...)
	return c
}

// NConditions returns the number of conditions the model accepts
func (m *Model) NConditions() int {
	return m.config.NConditions
}

// History returns the outcome of the last Train call, nil before training
func (m *Model) History() *training.History {
	return m.history
}

// Parameters returns every weight of the model in a stable order
func (m *Model) Parameters() []*layers.Param {
	var ps []*layers.Param
	for _, b := range m.encoder {
		ps = append(ps, b.params()...)
	}
	ps = append(ps, m.zMean.Params()...)
	ps = append(ps, m.zLogVar.Params()...)
	for _, b := range m.decoder {
		ps = append(ps, b.params()...)
	}
	ps = append(ps, m.output.Params()...)
	if m.logTheta != nil {
		ps = append(ps, m.logTheta)
	}
	return ps
}

// conditionLayers returns the two layers that take the condition as input
func (m *Model) conditionLayers() []*layers.ConditionalDenseLayer {
	return []*layers.ConditionalDenseLayer{m.encoder[0].cond, m.decoder[0].cond}
}

// Specs describes the encoder and decoder for summaries and checkpoints
func (m *Model) Specs() ([]*layers.ModelSpec, error) {
	c := m.config
	enc := layers.NewModelBuilder("encoder", c.XDimension)
	for i, h := range c.Architecture {
		name := fmt.Sprintf("encoder_%d", i)
		if i == 0 {
			enc.AddConditionalDense(h, c.NConditions, name)
		} else {
			enc.AddDense(h, name)
		}
		enc.AddActivation(layers.ActLeakyReLU, name+"_leaky_relu").AddDropout(c.DropoutRate, name+"_dropout")
	}
	// z_mean and z_log_var side by side
	enc.AddDense(2*c.ZDimension, "z_mean_log_var")
	encSpec, err := enc.Compile()
	if err != nil {
		return nil, err
	}

	dec := layers.NewModelBuilder("decoder", c.ZDimension)
	for i := range c.Architecture {
		h := c.Architecture[len(c.Architecture)-1-i]
		name := fmt.Sprintf("decoder_%d", i)
		if i == 0 {
			dec.AddConditionalDense(h, c.NConditions, name)
		} else {
			dec.AddDense(h, name)
		}
		dec.AddActivation(layers.ActLeakyReLU, name+"_leaky_relu").AddDropout(c.DropoutRate, name+"_dropout")
	}
	outKind, _ := layers.ParseActivation(c.OutputActivation)
	dec.AddDense(c.XDimension, "reconstruction").AddActivation(outKind, "reconstruction_"+outKind.String())
	decSpec, err := dec.Compile()
	if err != nil {
		return nil, err
	}
	return []*layers.ModelSpec{encSpec, decSpec}, nil
}

// encode returns the latent mean and log-variance
func (m *Model) encode(x *mat.Dense, conds []int, training bool) (*mat.Dense, *mat.Dense, error) {
	h := x
	for i, b := range m.encoder {
		var err error
		if h, err = b.forward(h, conds, training); err != nil {
			return nil, nil, fmt.Errorf("encoder layer %d: %v", i, err)
		}
	}
	return m.zMean.Forward(h), m.zLogVar.Forward(h), nil
}

// decode maps latent vectors back to expression space
func (m *Model) decode(z *mat.Dense, conds []int, training bool) (*mat.Dense, error) {
	h := z
	for i, b := range m.decoder {
		var err error
		if h, err = b.forward(h, conds, training); err != nil {
			return nil, fmt.Errorf("decoder layer %d: %v", i, err)
		}
	}
	return m.outAct.Forward(m.output.Forward(h)), nil
}

// backward propagates the reconstruction gradient dy and the latent
// gradients through decoder and encoder, accumulating parameter gradients.
func (m *Model) backward(dy *mat.Dense, latentGrad func(dz *mat.Dense) (dMean, dLogVar *mat.Dense)) {
	g := m.output.Backward(m.outAct.Backward(dy))
	for i := len(m.decoder) - 1; i >= 0; i-- {
		g = m.decoder[i].backward(g)
	}

	dMean, dLogVar := latentGrad(g)
	var dh mat.Dense
	dh.Add(m.zMean.Backward(dMean), m.zLogVar.Backward(dLogVar))
	g = &dh
	for i := len(m.encoder) - 1; i >= 0; i-- {
		g = m.encoder[i].backward(g)
	}
}
