package optimizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-surgeon/checkpoints"
	"github.com/tsawler/go-surgeon/layers"
)

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// AdamOptimizerState keeps first and second moment estimates per parameter,
// keyed by parameter name so that parameters can be added (for example when
// a model is extended with new conditions) without disturbing the others.
type AdamOptimizerState struct {
	config AdamConfig

	momentum map[string][]float64
	variance map[string][]float64

	// Step tracking for bias correction
	StepCount uint64
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizerState, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got %v and %v", config.Beta1, config.Beta2)
	}
	if config.Epsilon <= 0 {
		config.Epsilon = 1e-8
	}
	return &AdamOptimizerState{
		config:   config,
		momentum: make(map[string][]float64),
		variance: make(map[string][]float64),
	}, nil
}

// Step performs a single Adam update
func (adam *AdamOptimizerState) Step(params []*layers.Param) error {
	adam.StepCount++
	t := float64(adam.StepCount)
	c := adam.config
	biasCorrection1 := 1 - math.Pow(c.Beta1, t)
	biasCorrection2 := 1 - math.Pow(c.Beta2, t)

	for _, p := range params {
		if !p.Trainable {
			continue
		}
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		if len(w) != len(g) {
			return fmt.Errorf("parameter %s: gradient size %d does not match weight size %d", p.Name, len(g), len(w))
		}

		m, ok := adam.momentum[p.Name]
		if !ok || len(m) != len(w) {
			m = make([]float64, len(w))
			adam.momentum[p.Name] = m
		}
		v, ok := adam.variance[p.Name]
		if !ok || len(v) != len(w) {
			v = make([]float64, len(w))
			adam.variance[p.Name] = v
		}

		for i := range w {
			grad := g[i]
			if c.WeightDecay != 0 {
				grad += c.WeightDecay * w[i]
			}
			m[i] = c.Beta1*m[i] + (1-c.Beta1)*grad
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*grad*grad
			mHat := m[i] / biasCorrection1
			vHat := v[i] / biasCorrection2
			w[i] -= c.LearningRate * mHat / (math.Sqrt(vHat) + c.Epsilon)
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(lr float64) {
	adam.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (adam *AdamOptimizerState) LearningRate() float64 {
	return adam.config.LearningRate
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts the moment buffers for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.config.LearningRate,
			"beta1":         adam.config.Beta1,
			"beta2":         adam.config.Beta2,
			"epsilon":       adam.config.Epsilon,
			"weight_decay":  adam.config.WeightDecay,
			"step_count":    adam.StepCount,
		},
	}
	for _, name := range sortedKeys(adam.momentum) {
		state.StateData = append(state.StateData,
			checkpoints.OptimizerTensor{
				Name:      "momentum:" + name,
				Shape:     []int{len(adam.momentum[name])},
				Data:      append([]float64(nil), adam.momentum[name]...),
				StateType: "momentum",
			},
			checkpoints.OptimizerTensor{
				Name:      "variance:" + name,
				Shape:     []int{len(adam.variance[name])},
				Data:      append([]float64(nil), adam.variance[name]...),
				StateType: "variance",
			},
		)
	}
	return state, nil
}

// LoadState restores moment buffers from a checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}
	if lr, ok := toFloat(state.Parameters["learning_rate"]); ok {
		adam.config.LearningRate = lr
	}
	if steps, ok := toFloat(state.Parameters["step_count"]); ok {
		adam.StepCount = uint64(steps)
	}

	momentum := make(map[string][]float64)
	variance := make(map[string][]float64)
	for _, st := range state.StateData {
		switch {
		case strings.HasPrefix(st.Name, "momentum:"):
			momentum[strings.TrimPrefix(st.Name, "momentum:")] = append([]float64(nil), st.Data...)
		case strings.HasPrefix(st.Name, "variance:"):
			variance[strings.TrimPrefix(st.Name, "variance:")] = append([]float64(nil), st.Data...)
		default:
			return fmt.Errorf("unknown Adam state tensor %q", st.Name)
		}
	}
	adam.momentum = momentum
	adam.variance = variance
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}
