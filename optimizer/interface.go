package optimizer

import (
	"fmt"

	"github.com/tsawler/go-surgeon/checkpoints"
	"github.com/tsawler/go-surgeon/layers"
)

// Optimizer defines the common interface for all optimizers
// This interface enables state save/restore for checkpoint functionality
type Optimizer interface {
	// Step applies one update to every trainable parameter using its
	// accumulated gradient. Frozen parameters are left untouched.
	Step(params []*layers.Param) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)

	// LearningRate returns the current learning rate
	LearningRate() float64
}

// OptimizerState represents the complete state of an optimizer
// Compatible with checkpoints.OptimizerState for serialization
type OptimizerState struct {
	Type       string                        `json:"type"`       // "Adam", "SGD", etc.
	Parameters map[string]interface{}        `json:"parameters"` // Hyperparameters
	StateData  []checkpoints.OptimizerTensor `json:"state_data"`
}

// ToCheckpoint converts the state into its checkpoint representation
func (s *OptimizerState) ToCheckpoint() *checkpoints.OptimizerState {
	return &checkpoints.OptimizerState{
		Type:       s.Type,
		Parameters: s.Parameters,
		StateData:  s.StateData,
	}
}

// ClipByValue clamps every gradient element to [-clip, clip].
// A non-positive clip disables clipping.
func ClipByValue(params []*layers.Param, clip float64) {
	if clip <= 0 {
		return
	}
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		data := p.Grad.RawMatrix().Data
		for i, g := range data {
			if g > clip {
				data[i] = clip
			} else if g < -clip {
				data[i] = -clip
			}
		}
	}
}

// ZeroGrad clears every parameter gradient
func ZeroGrad(params []*layers.Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// New creates the named optimizer ("adam" or "sgd") with default settings
// apart from the learning rate and, for SGD, the momentum.
func New(name string, lr, momentum float64) (Optimizer, error) {
	switch name {
	case "adam", "Adam", "":
		c := DefaultAdamConfig()
		c.LearningRate = lr
		return NewAdamOptimizer(c)
	case "sgd", "SGD":
		c := DefaultSGDConfig()
		c.LearningRate = lr
		c.Momentum = momentum
		return NewSGDOptimizer(c)
	}
	return nil, fmt.Errorf("unsupported optimizer %q", name)
}
