package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tsawler/go-surgeon/layers"
)

func testCheckpoint(t *testing.T) *Checkpoint {
	t.Helper()

	spec, err := layers.NewModelBuilder("encoder", 6).
		AddConditionalDense(4, 2, "enc_0").
		AddActivation(layers.ActLeakyReLU, "enc_0_act").
		AddDense(2, "mu").
		Compile()
	if err != nil {
		t.Fatalf("Failed to create test model: %v", err)
	}

	return &Checkpoint{
		Config:       json.RawMessage(`{"z_dimension":2}`),
		Architecture: []*layers.ModelSpec{spec},
		Weights: []WeightTensor{
			{Name: "enc_0/kernel", Shape: []int{6, 4}, Data: make([]float64, 24), Trainable: false},
			{Name: "enc_0/condition_kernel", Shape: []int{2, 4}, Data: []float64{1, -2, 3.5, 0, 1e-9, -1e9, 0.25, 7}, Trainable: true},
		},
		Conditions: map[string]int{"Batch1": 0, "Batch2": 1},
		TrainingState: TrainingState{
			Epoch:        10,
			Step:         1000,
			LearningRate: 0.001,
			BestLoss:     0.5,
			StoppedEarly: true,
		},
		OptimizerState: &OptimizerState{
			Type:       "Adam",
			Parameters: map[string]interface{}{"learning_rate": 0.001},
			StateData: []OptimizerTensor{
				{Name: "momentum:enc_0/kernel", Shape: []int{24}, Data: make([]float64, 24), StateType: "momentum"},
			},
		},
		Metadata: CheckpointMetadata{
			Version:     Version,
			Framework:   Framework,
			CreatedAt:   time.Unix(1700000000, 0),
			RunID:       "run-1",
			Description: "Test checkpoint",
			Tags:        []string{"test", "cvae"},
		},
	}
}

func assertCheckpointsEqual(t *testing.T, want, got *Checkpoint) {
	t.Helper()

	if len(got.Weights) != len(want.Weights) {
		t.Fatalf("Expected %d weights, got %d", len(want.Weights), len(got.Weights))
	}
	for i, w := range want.Weights {
		g := got.Weights[i]
		if g.Name != w.Name || g.Trainable != w.Trainable {
			t.Errorf("weight %d: expected %s/%v, got %s/%v", i, w.Name, w.Trainable, g.Name, g.Trainable)
		}
		if len(g.Shape) != len(w.Shape) || g.Shape[0] != w.Shape[0] || g.Shape[1] != w.Shape[1] {
			t.Errorf("weight %s: expected shape %v, got %v", w.Name, w.Shape, g.Shape)
		}
		for j := range w.Data {
			if g.Data[j] != w.Data[j] {
				t.Fatalf("weight %s[%d]: expected %v, got %v", w.Name, j, w.Data[j], g.Data[j])
			}
		}
	}
	if got.Conditions["Batch2"] != 1 || got.Conditions["Batch1"] != 0 || len(got.Conditions) != 2 {
		t.Errorf("Unexpected conditions %v", got.Conditions)
	}
	if got.TrainingState != want.TrainingState {
		t.Errorf("Expected training state %+v, got %+v", want.TrainingState, got.TrainingState)
	}
	if got.Metadata.RunID != want.Metadata.RunID || !got.Metadata.CreatedAt.Equal(want.Metadata.CreatedAt) {
		t.Errorf("Metadata mismatch: %+v", got.Metadata)
	}
	if len(got.Metadata.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %v", got.Metadata.Tags)
	}
	if got.OptimizerState == nil || got.OptimizerState.Type != "Adam" || len(got.OptimizerState.StateData) != 1 {
		t.Errorf("Optimizer state mismatch: %+v", got.OptimizerState)
	}
	if len(got.Architecture) != 1 || got.Architecture[0].Name != "encoder" {
		t.Errorf("Architecture mismatch: %+v", got.Architecture)
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(got.Config, &cfg); err != nil || cfg["z_dimension"] != 2.0 {
		t.Errorf("Config mismatch: %s (%v)", got.Config, err)
	}
}

func TestCheckpointJSONSaveLoad(t *testing.T) {
	checkpoint := testCheckpoint(t)
	saver := NewCheckpointSaver(FormatJSON)
	path := filepath.Join(t.TempDir(), "nested", "model.json")

	if err := saver.SaveCheckpoint(checkpoint, path); err != nil {
		t.Fatalf("Failed to save JSON checkpoint: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Checkpoint file was not created: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load JSON checkpoint: %v", err)
	}
	assertCheckpointsEqual(t, checkpoint, loaded)
}

func TestCheckpointBinarySaveLoad(t *testing.T) {
	checkpoint := testCheckpoint(t)
	saver := NewCheckpointSaver(FormatBinary)
	path := filepath.Join(t.TempDir(), "model"+FormatBinary.Extension())

	if err := saver.SaveCheckpoint(checkpoint, path); err != nil {
		t.Fatalf("Failed to save binary checkpoint: %v", err)
	}
	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load binary checkpoint: %v", err)
	}
	assertCheckpointsEqual(t, checkpoint, loaded)
}

func TestSaveFillsMetadata(t *testing.T) {
	checkpoint := testCheckpoint(t)
	checkpoint.Metadata = CheckpointMetadata{}

	path := filepath.Join(t.TempDir(), "model.json")
	if err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(checkpoint, path); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if checkpoint.Metadata.Framework != Framework || checkpoint.Metadata.Version != Version {
		t.Errorf("Expected framework metadata to be filled, got %+v", checkpoint.Metadata)
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
}

func TestLoadInvalidBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pb")
	if err := os.WriteFile(path, []byte{0x0a, 0xff}, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewCheckpointSaver(FormatBinary).LoadCheckpoint(path); err == nil {
		t.Error("Expected error for truncated binary checkpoint")
	}
	if _, err := NewCheckpointSaver(FormatJSON).LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing checkpoint")
	}
}

func TestCheckpointFormat(t *testing.T) {
	tests := []struct {
		name     string
		format   CheckpointFormat
		ext      string
		str      string
		hasError bool
	}{
		{"json", FormatJSON, ".json", "JSON", false},
		{"binary", FormatBinary, ".pb", "Binary", false},
		{"protobuf", FormatBinary, ".pb", "Binary", false},
		{"onnx", FormatJSON, ".json", "JSON", true},
	}
	for _, test := range tests {
		f, err := ParseFormat(test.name)
		if (err != nil) != test.hasError {
			t.Errorf("ParseFormat(%q) error = %v", test.name, err)
			continue
		}
		if f != test.format || f.Extension() != test.ext || f.String() != test.str {
			t.Errorf("ParseFormat(%q) = %v (%s, %s)", test.name, f, f.Extension(), f.String())
		}
	}
	if CheckpointFormat(9).String() != "Unknown" {
		t.Error("Expected Unknown for invalid format")
	}
}
