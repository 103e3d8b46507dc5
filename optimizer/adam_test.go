package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-surgeon/layers"
)

// TestAdamConfig tests the Adam configuration
func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()

	if config.LearningRate != 0.001 {
		t.Errorf("Expected learning rate 0.001, got %f", config.LearningRate)
	}
	if config.Beta1 != 0.9 {
		t.Errorf("Expected beta1 0.9, got %f", config.Beta1)
	}
	if config.Beta2 != 0.999 {
		t.Errorf("Expected beta2 0.999, got %f", config.Beta2)
	}
	if config.Epsilon != 1e-8 {
		t.Errorf("Expected epsilon 1e-8, got %f", config.Epsilon)
	}
	if config.WeightDecay != 0.0 {
		t.Errorf("Expected weight decay 0.0, got %f", config.WeightDecay)
	}
}

func TestNewAdamOptimizerValidation(t *testing.T) {
	bad := []AdamConfig{
		{LearningRate: 0, Beta1: 0.9, Beta2: 0.999},
		{LearningRate: 0.1, Beta1: 1, Beta2: 0.999},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: -0.1},
	}
	for i, cfg := range bad {
		if _, err := NewAdamOptimizer(cfg); err == nil {
			t.Errorf("config %d: expected error", i)
		}
	}
}

// The first Adam step moves every weight by lr*sign(grad) (up to epsilon).
func TestAdamFirstStep(t *testing.T) {
	adam, err := NewAdamOptimizer(DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdamOptimizer: %v", err)
	}

	p := layers.NewParam("w", 1, 3)
	p.Grad.SetRow(0, []float64{2, -0.5, 0})

	if err := adam.Step([]*layers.Param{p}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	want := []float64{-0.001, 0.001, 0}
	for i, v := range p.Value.RawRowView(0) {
		if math.Abs(v-want[i]) > 1e-7 {
			t.Errorf("weight %d: expected %v, got %v", i, want[i], v)
		}
	}
	if adam.GetStepCount() != 1 {
		t.Errorf("Expected step count 1, got %d", adam.GetStepCount())
	}
}

func TestAdamSkipsFrozenParameters(t *testing.T) {
	adam, _ := NewAdamOptimizer(DefaultAdamConfig())

	frozen := layers.NewParam("frozen", 2, 2)
	frozen.Trainable = false
	frozen.Grad.SetRow(0, []float64{1, 1})
	live := layers.NewParam("live", 2, 2)
	live.Grad.SetRow(0, []float64{1, 1})

	for i := 0; i < 5; i++ {
		if err := adam.Step([]*layers.Param{frozen, live}); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	for _, v := range frozen.Value.RawMatrix().Data {
		if v != 0 {
			t.Fatalf("frozen parameter moved: %v", frozen.Value.RawMatrix().Data)
		}
	}
	if live.Value.At(0, 0) >= 0 {
		t.Errorf("trainable parameter should decrease, got %v", live.Value.At(0, 0))
	}
}

// Adam should drive a simple quadratic towards its minimum.
func TestAdamMinimizesQuadratic(t *testing.T) {
	adam, _ := NewAdamOptimizer(AdamConfig{LearningRate: 0.05, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8})
	p := layers.NewParam("x", 1, 1)
	p.Value.Set(0, 0, 5)

	for i := 0; i < 2000; i++ {
		p.ZeroGrad()
		p.Grad.Set(0, 0, 2*(p.Value.At(0, 0)-1)) // d/dx (x-1)^2
		_ = adam.Step([]*layers.Param{p})
	}
	if math.Abs(p.Value.At(0, 0)-1) > 1e-2 {
		t.Errorf("Expected x close to 1, got %v", p.Value.At(0, 0))
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	adam, _ := NewAdamOptimizer(DefaultAdamConfig())
	p := layers.NewParam("w", 1, 2)
	p.Grad.SetRow(0, []float64{0.5, -0.25})
	_ = adam.Step([]*layers.Param{p})
	adam.UpdateLearningRate(0.01)

	state, err := adam.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(state.StateData) != 2 {
		t.Fatalf("Expected 2 state tensors, got %d", len(state.StateData))
	}

	restored, _ := NewAdamOptimizer(DefaultAdamConfig())
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if restored.LearningRate() != 0.01 {
		t.Errorf("Expected restored lr 0.01, got %v", restored.LearningRate())
	}
	if restored.GetStepCount() != 1 {
		t.Errorf("Expected restored step count 1, got %d", restored.GetStepCount())
	}

	state.Type = "SGD"
	if err := restored.LoadState(state); err == nil {
		t.Error("Expected type mismatch error")
	}
}

func TestClipByValue(t *testing.T) {
	p := layers.NewParam("w", 1, 3)
	p.Grad.SetRow(0, []float64{10, -10, 0.5})
	frozen := layers.NewParam("f", 1, 1)
	frozen.Trainable = false
	frozen.Grad.Set(0, 0, 10)

	ClipByValue([]*layers.Param{p, frozen}, 1)

	want := []float64{1, -1, 0.5}
	for i, g := range p.Grad.RawRowView(0) {
		if g != want[i] {
			t.Errorf("grad %d: expected %v, got %v", i, want[i], g)
		}
	}
	if frozen.Grad.At(0, 0) != 10 {
		t.Errorf("frozen gradients are not clipped, got %v", frozen.Grad.At(0, 0))
	}

	ClipByValue([]*layers.Param{p}, 0)
}
