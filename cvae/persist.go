package cvae

import (
	"encoding/json"
	"math/rand"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-surgeon/checkpoints"
	"github.com/tsawler/go-surgeon/training"
)

// CheckpointName is the base name Save writes under the model path. The
// extension follows the configured checkpoint format.
const CheckpointName = "cvae"

// CheckpointPath returns where Save writes the model
func (m *Model) CheckpointPath() string {
	format, _ := checkpoints.ParseFormat(m.config.CheckpointFormat)
	return filepath.Join(m.config.ModelPath, CheckpointName+format.Extension())
}

// Save writes the model to CheckpointPath
func (m *Model) Save() error {
	format, err := checkpoints.ParseFormat(m.config.CheckpointFormat)
	if err != nil {
		return err
	}
	return m.SaveTo(m.CheckpointPath(), format)
}

// SaveTo writes weights, configuration, condition encoder, training state
// and optimizer state to path.
func (m *Model) SaveTo(path string, format checkpoints.CheckpointFormat) error {
	cfg, err := json.Marshal(m.config)
	if err != nil {
		return errors.Wrap(err, "failed to encode model config")
	}
	specs, err := m.Specs()
	if err != nil {
		return errors.Wrap(err, "failed to describe model")
	}

	c := &checkpoints.Checkpoint{
		Config:       cfg,
		Architecture: specs,
		Metadata: checkpoints.CheckpointMetadata{
			RunID:       uuid.NewString(),
			Description: "conditional VAE",
			Tags:        []string{m.config.LossFn},
		},
	}
	for _, p := range m.Parameters() {
		c.Weights = append(c.Weights, checkpoints.WeightTensor{
			Name:      p.Name,
			Shape:     p.Shape(),
			Data:      append([]float64(nil), p.Value.RawMatrix().Data...),
			Trainable: p.Trainable,
		})
	}
	if m.ConditionEncoder != nil {
		c.Conditions = m.ConditionEncoder.Map()
	}
	if h := m.history; h != nil {
		c.TrainingState = checkpoints.TrainingState{
			Epoch:        h.LastEpoch(),
			Step:         h.Steps,
			BestLoss:     finiteOrZero(h.BestLoss),
			StoppedEarly: h.StoppedEarly,
		}
		if len(h.Epochs) > 0 {
			c.TrainingState.LearningRate = h.Epochs[len(h.Epochs)-1].LearningRate
		}
	}
	if m.lastOpt != nil {
		c.OptimizerState = m.lastOpt.ToCheckpoint()
	}

	if err := checkpoints.NewCheckpointSaver(format).SaveCheckpoint(c, path); err != nil {
		return err
	}
	m.logger.Info("saved model", zap.String("path", path), zap.String("run_id", c.Metadata.RunID))
	return nil
}

// Restore loads a model written by SaveTo. The format is chosen by the
// file extension.
func Restore(path string, rng *rand.Rand, logger *zap.Logger) (*Model, error) {
	format := checkpoints.FormatJSON
	if filepath.Ext(path) == checkpoints.FormatBinary.Extension() {
		format = checkpoints.FormatBinary
	}
	c, err := checkpoints.NewCheckpointSaver(format).LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(c.Config, &config); err != nil {
		return nil, errors.Wrapf(err, "bad model config in %s", path)
	}
	m, err := New(config, rng, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot rebuild model from %s", path)
	}

	for _, p := range m.Parameters() {
		w, ok := c.Weight(p.Name)
		if !ok {
			return nil, errors.Errorf("checkpoint %s has no weight %q", path, p.Name)
		}
		shape := p.Shape()
		if len(w.Shape) != 2 || w.Shape[0] != shape[0] || w.Shape[1] != shape[1] || len(w.Data) != shape[0]*shape[1] {
			return nil, errors.Errorf("weight %q has shape %v, model expects %v", p.Name, w.Shape, shape)
		}
		p.Value.Copy(mat.NewDense(shape[0], shape[1], append([]float64(nil), w.Data...)))
		p.Trainable = w.Trainable
	}

	if len(c.Conditions) > 0 {
		enc, err := training.NewConditionEncoder(c.Conditions)
		if err != nil {
			return nil, errors.Wrapf(err, "bad condition map in %s", path)
		}
		m.ConditionEncoder = enc
	}
	return m, nil
}
