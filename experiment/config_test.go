package experiment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []float64{1.0, 0.8, 0.6, 0.4, 0.2}, cfg.Fractions)
	assert.Equal(t, []string{"Batch8", "Batch9"}, cfg.TargetConditions)
	assert.Equal(t, "batch", cfg.ConditionKey)
	assert.Equal(t, 0.85, cfg.TrainFraction)
	assert.Equal(t, StageConfig{Epochs: 200, BatchSize: 128, EarlyStopLimit: 20, LRReducer: 15, Save: true, Verbose: 2}, cfg.Base)
	assert.Equal(t, StageConfig{Epochs: 100, BatchSize: 128, EarlyStopLimit: 25, LRReducer: 20, Save: true, Verbose: 2}, cfg.Adapt)
	assert.Equal(t, 20, cfg.Model.ZDimension)
	assert.Equal(t, "./models/CVAE/Subsample/Toy_normalized/", cfg.Model.ModelPath)
	assert.Equal(t, 1, cfg.Metrics.NPools)
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
results_dir: /tmp/out
fractions: [1.0, 0.5]
model:
  z_dimension: 8
  architecture: [32]
adapt:
  epochs: 10
metrics:
  n_init: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", cfg.ResultsDir)
	assert.Equal(t, []float64{1.0, 0.5}, cfg.Fractions)
	assert.Equal(t, 8, cfg.Model.ZDimension)
	assert.Equal(t, []int{32}, cfg.Model.Architecture)
	assert.Equal(t, 10, cfg.Adapt.Epochs)
	assert.Equal(t, 10, cfg.Metrics.NInit)

	// untouched keys keep their defaults
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 0.001, cfg.Model.LearningRate)
	assert.Equal(t, 128, cfg.Adapt.BatchSize)
	assert.Equal(t, 50, cfg.Metrics.NNeighbors)
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("fractions: [1.0, 2.0]\n"), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	garbled := filepath.Join(dir, "garbled.yaml")
	require.NoError(t, os.WriteFile(garbled, []byte("fractions: {\n"), 0644))
	_, err = LoadConfig(garbled)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"no key", func(c *Config) { c.ConditionKey = "" }},
		{"no targets", func(c *Config) { c.TargetConditions = nil }},
		{"no fractions", func(c *Config) { c.Fractions = nil }},
		{"zero fraction", func(c *Config) { c.Fractions = []float64{1, 0} }},
		{"bad split", func(c *Config) { c.TrainFraction = 0 }},
		{"bad init", func(c *Config) { c.Init = "he_normal" }},
		{"no epochs", func(c *Config) { c.Base.Epochs = 0 }},
		{"no batch size", func(c *Config) { c.Adapt.BatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
