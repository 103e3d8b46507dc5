// Package experiment runs the subsample benchmark: train a base CVAE on the
// reference batches, then adapt it to the target batches with less and less
// target data and score how well the latent space mixes them.
package experiment

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-surgeon/cvae"
	"github.com/tsawler/go-surgeon/layers"
	"github.com/tsawler/go-surgeon/metrics"
)

// StageConfig holds the training schedule of one stage
type StageConfig struct {
	Epochs         int  `yaml:"epochs"`
	BatchSize      int  `yaml:"batch_size"`
	EarlyStopLimit int  `yaml:"early_stop_limit"`
	LRReducer      int  `yaml:"lr_reducer"`
	Save           bool `yaml:"save"`
	Verbose        int  `yaml:"verbose"`
}

func (s StageConfig) options(conditionKey string) cvae.TrainOptions {
	return cvae.TrainOptions{
		ConditionKey:   conditionKey,
		Epochs:         s.Epochs,
		BatchSize:      s.BatchSize,
		EarlyStopLimit: s.EarlyStopLimit,
		LRReducer:      s.LRReducer,
		Save:           s.Save,
		Verbose:        s.Verbose,
	}
}

// MetricsConfig tunes the integration metrics
type MetricsConfig struct {
	NNeighbors      int `yaml:"n_neighbors"`
	NPools          int `yaml:"n_pools"`
	NSamplesPerPool int `yaml:"n_samples_per_pool"`
	MaxCells        int `yaml:"max_cells"`
	NInit           int `yaml:"n_init"`
}

func (m MetricsConfig) options() metrics.Options {
	return metrics.Options{
		EBM: metrics.EBMOptions{
			NNeighbors:      m.NNeighbors,
			NPools:          m.NPools,
			NSamplesPerPool: m.NSamplesPerPool,
			MaxCells:        m.MaxCells,
		},
		NInit: m.NInit,
	}
}

// Config describes one benchmark run. x_dimension, n_conditions and loss_fn
// of the model are derived from the data and the count flag.
type Config struct {
	DataDir          string    `yaml:"data_dir"`
	ResultsDir       string    `yaml:"results_dir"`
	ConditionKey     string    `yaml:"condition_key"`
	TargetConditions []string  `yaml:"target_conditions"`
	Fractions        []float64 `yaml:"fractions"`
	TrainFraction    float64   `yaml:"train_fraction"`
	Init             string    `yaml:"init"`

	Model   cvae.Config   `yaml:"model"`
	Base    StageConfig   `yaml:"base"`
	Adapt   StageConfig   `yaml:"adapt"`
	Metrics MetricsConfig `yaml:"metrics"`

	// SaveLatent writes each fraction's latent embedding next to the scores
	SaveLatent bool `yaml:"save_latent"`
}

// DefaultConfig returns the published benchmark settings
func DefaultConfig() Config {
	ebm := metrics.DefaultEBMOptions()
	return Config{
		DataDir:          "./data",
		ResultsDir:       "./results/subsample",
		ConditionKey:     "batch",
		TargetConditions: []string{"Batch8", "Batch9"},
		Fractions:        []float64{1.0, 0.8, 0.6, 0.4, 0.2},
		TrainFraction:    0.85,
		Init:             "Xavier",
		Model:            cvae.DefaultConfig(),
		Base: StageConfig{
			Epochs:         200,
			BatchSize:      128,
			EarlyStopLimit: 20,
			LRReducer:      15,
			Save:           true,
			Verbose:        2,
		},
		Adapt: StageConfig{
			Epochs:         100,
			BatchSize:      128,
			EarlyStopLimit: 25,
			LRReducer:      20,
			Save:           true,
			Verbose:        2,
		},
		Metrics: MetricsConfig{
			NNeighbors:      ebm.NNeighbors,
			NPools:          1,
			NSamplesPerPool: ebm.NSamplesPerPool,
			MaxCells:        ebm.MaxCells,
			NInit:           metrics.DefaultNInit,
		},
	}
}

// LoadConfig returns DefaultConfig overlaid with the YAML file at path.
// An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate checks the settings that do not depend on the data
func (c Config) Validate() error {
	if c.ConditionKey == "" {
		return errors.New("condition_key is empty")
	}
	if len(c.TargetConditions) == 0 {
		return errors.New("no target_conditions")
	}
	if len(c.Fractions) == 0 {
		return errors.New("no fractions")
	}
	for _, f := range c.Fractions {
		if f <= 0 || f > 1 {
			return errors.Errorf("fraction %v outside (0, 1]", f)
		}
	}
	if c.TrainFraction <= 0 || c.TrainFraction > 1 {
		return errors.Errorf("train_fraction %v outside (0, 1]", c.TrainFraction)
	}
	if _, ok := layers.ParseInit(c.Init); !ok {
		return errors.Errorf("unknown init %q", c.Init)
	}
	for name, s := range map[string]StageConfig{"base": c.Base, "adapt": c.Adapt} {
		if s.Epochs <= 0 || s.BatchSize <= 0 {
			return errors.Errorf("%s: epochs and batch_size must be positive", name)
		}
	}
	return nil
}
