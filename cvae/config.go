// Package cvae implements a conditional variational autoencoder for
// single-cell expression data and the "operate" step that adapts a trained
// model to conditions it has never seen.
package cvae

import (
	"fmt"

	"github.com/tsawler/go-surgeon/checkpoints"
	"github.com/tsawler/go-surgeon/layers"
	"github.com/tsawler/go-surgeon/optimizer"
)

// Reconstruction losses
const (
	LossMSE = "mse" // squared error, for normalized data
	LossNB  = "nb"  // negative binomial likelihood, for raw counts
)

// DefaultModelPath is where checkpoints are written unless configured
const DefaultModelPath = "./models/CVAE/Subsample/Toy_normalized/"

// Config holds the hyperparameters of a CVAE
type Config struct {
	XDimension       int     `json:"x_dimension" yaml:"x_dimension"`
	ZDimension       int     `json:"z_dimension" yaml:"z_dimension"`
	NConditions      int     `json:"n_conditions" yaml:"n_conditions"`
	LearningRate     float64 `json:"lr" yaml:"lr"`
	Alpha            float64 `json:"alpha" yaml:"alpha"` // KL weight
	Eta              float64 `json:"eta" yaml:"eta"`     // reconstruction weight
	ClipValue        float64 `json:"clip_value" yaml:"clip_value"`
	LossFn           string  `json:"loss_fn" yaml:"loss_fn"`
	ModelPath        string  `json:"model_path" yaml:"model_path"`
	DropoutRate      float64 `json:"dropout_rate" yaml:"dropout_rate"`
	OutputActivation string  `json:"output_activation" yaml:"output_activation"`
	Architecture     []int   `json:"architecture" yaml:"architecture"`
	Optimizer        string  `json:"optimizer" yaml:"optimizer"` // "adam" or "sgd"
	Momentum         float64 `json:"momentum" yaml:"momentum"`   // sgd only
	CheckpointFormat string  `json:"checkpoint_format" yaml:"checkpoint_format"`
}

// DefaultConfig returns the benchmark hyperparameters. XDimension and
// NConditions depend on the data and must be filled in by the caller.
func DefaultConfig() Config {
	return Config{
		ZDimension:       20,
		LearningRate:     0.001,
		Alpha:            0.001,
		Eta:              1.0,
		ClipValue:        1e6,
		LossFn:           LossMSE,
		ModelPath:        DefaultModelPath,
		DropoutRate:      0.2,
		OutputActivation: "relu",
		Architecture:     []int{128, 64},
		Optimizer:        "adam",
		CheckpointFormat: "json",
	}
}

// Validate checks that the configuration describes a buildable model
func (c Config) Validate() error {
	if c.XDimension <= 0 {
		return fmt.Errorf("x_dimension must be positive, got %d", c.XDimension)
	}
	if c.ZDimension <= 0 {
		return fmt.Errorf("z_dimension must be positive, got %d", c.ZDimension)
	}
	if c.NConditions <= 0 {
		return fmt.Errorf("n_conditions must be positive, got %d", c.NConditions)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("lr must be positive, got %v", c.LearningRate)
	}
	if c.LossFn != LossMSE && c.LossFn != LossNB {
		return fmt.Errorf("unsupported loss %q, expected %q or %q", c.LossFn, LossMSE, LossNB)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("dropout_rate must be in [0, 1), got %v", c.DropoutRate)
	}
	act, err := layers.ParseActivation(c.OutputActivation)
	if err != nil {
		return err
	}
	if c.LossFn == LossNB && act != layers.ActReLU {
		return fmt.Errorf("loss %q needs a non-negative output, use output_activation \"relu\"", LossNB)
	}
	if _, err := optimizer.New(c.Optimizer, c.LearningRate, c.Momentum); err != nil {
		return err
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	if len(c.Architecture) == 0 {
		return fmt.Errorf("architecture needs at least one hidden layer")
	}
	for i, h := range c.Architecture {
		if h <= 0 {
			return fmt.Errorf("hidden layer %d has size %d", i, h)
		}
	}
	return nil
}
