package optimizer

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-surgeon/checkpoints"
	"github.com/tsawler/go-surgeon/layers"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGDOptimizerState is stochastic gradient descent with optional
// (Nesterov) momentum. Velocity buffers are keyed by parameter name.
type SGDOptimizerState struct {
	config   SGDConfig
	velocity map[string][]float64

	StepCount uint64
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig) (*SGDOptimizerState, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %v", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %v", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}
	return &SGDOptimizerState{
		config:   config,
		velocity: make(map[string][]float64),
	}, nil
}

// Step performs a single SGD update
func (sgd *SGDOptimizerState) Step(params []*layers.Param) error {
	sgd.StepCount++
	c := sgd.config

	for _, p := range params {
		if !p.Trainable {
			continue
		}
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		if len(w) != len(g) {
			return fmt.Errorf("parameter %s: gradient size %d does not match weight size %d", p.Name, len(g), len(w))
		}

		if c.Momentum == 0 {
			for i := range w {
				w[i] -= c.LearningRate * (g[i] + c.WeightDecay*w[i])
			}
			continue
		}

		v, ok := sgd.velocity[p.Name]
		if !ok || len(v) != len(w) {
			v = make([]float64, len(w))
			sgd.velocity[p.Name] = v
		}
		for i := range w {
			grad := g[i] + c.WeightDecay*w[i]
			v[i] = c.Momentum*v[i] + grad
			if c.Nesterov {
				grad += c.Momentum * v[i]
			} else {
				grad = v[i]
			}
			w[i] -= c.LearningRate * grad
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(lr float64) {
	sgd.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (sgd *SGDOptimizerState) LearningRate() float64 {
	return sgd.config.LearningRate
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts the velocity buffers for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.config.LearningRate,
			"momentum":      sgd.config.Momentum,
			"weight_decay":  sgd.config.WeightDecay,
			"nesterov":      sgd.config.Nesterov,
			"step_count":    sgd.StepCount,
		},
	}
	for _, name := range sortedKeys(sgd.velocity) {
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      "velocity:" + name,
			Shape:     []int{len(sgd.velocity[name])},
			Data:      append([]float64(nil), sgd.velocity[name]...),
			StateType: "momentum",
		})
	}
	return state, nil
}

// LoadState restores velocity buffers from a checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	if lr, ok := toFloat(state.Parameters["learning_rate"]); ok {
		sgd.config.LearningRate = lr
	}
	if steps, ok := toFloat(state.Parameters["step_count"]); ok {
		sgd.StepCount = uint64(steps)
	}

	velocity := make(map[string][]float64)
	for _, st := range state.StateData {
		if !strings.HasPrefix(st.Name, "velocity:") {
			return fmt.Errorf("unknown SGD state tensor %q", st.Name)
		}
		velocity[strings.TrimPrefix(st.Name, "velocity:")] = append([]float64(nil), st.Data...)
	}
	sgd.velocity = velocity
	return nil
}
