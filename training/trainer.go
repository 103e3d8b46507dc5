package training

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/tsawler/go-surgeon/layers"
	"github.com/tsawler/go-surgeon/optimizer"
)

// Objective is a model whose loss can be evaluated on a batch. When training
// is true, Loss also accumulates gradients into Parameters().
type Objective interface {
	Parameters() []*layers.Param
	Loss(batch *Batch, training bool) (float64, error)
}

// TrainingConfig holds configuration for training
type TrainingConfig struct {
	Epochs         int
	BatchSize      int
	EarlyStopLimit int     // Epochs without improvement before stopping (0 disables)
	LRReducer      int     // Epochs without improvement before the LR is reduced (0 disables)
	LRFactor       float64 // Multiplicative LR reduction, 0.1 if unset
	ClipValue      float64 // Element-wise gradient clip (0 disables)
	Verbose        int     // 0 silent, 1 progress bar, 2 one line per epoch
	Name           string  // Used in log lines
}

// TrainingMetrics holds metrics for a single epoch
type TrainingMetrics struct {
	Epoch         int
	TrainLoss     float64
	ValidLoss     float64
	HasValid      bool
	LearningRate  float64
	EpochDuration time.Duration
	BatchCount    int
}

// History is the outcome of a training run
type History struct {
	Epochs       []TrainingMetrics
	BestLoss     float64
	StoppedEarly bool
	Steps        int
}

// LastEpoch returns the final epoch index, -1 if no epoch ran
func (h *History) LastEpoch() int {
	if len(h.Epochs) == 0 {
		return -1
	}
	return h.Epochs[len(h.Epochs)-1].Epoch
}

// Trainer manages the training process
type Trainer struct {
	model     Objective
	optimizer optimizer.Optimizer
	config    TrainingConfig
	logger    *zap.Logger
	rng       *rand.Rand
	reporter  *EpochReporter
}

// NewTrainer creates a new Trainer
func NewTrainer(model Objective, opt optimizer.Optimizer, config TrainingConfig, logger *zap.Logger, rng *rand.Rand) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LRFactor <= 0 || config.LRFactor >= 1 {
		config.LRFactor = 0.1
	}
	return &Trainer{
		model:     model,
		optimizer: opt,
		config:    config,
		logger:    logger,
		rng:       rng,
		reporter:  NewEpochReporter(config.Name, config.Epochs, config.Verbose, logger),
	}
}

// Reporter exposes the epoch reporter so callers can redirect its output
func (t *Trainer) Reporter() *EpochReporter {
	return t.reporter
}

// Train runs the complete training loop. valid may be nil or empty, in which
// case the training loss is monitored instead of the validation loss.
func (t *Trainer) Train(train, valid Dataset) (*History, error) {
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("training set is empty")
	}

	hasValid := valid != nil && valid.Len() > 0
	trainLoader := NewDataLoader(train, t.config.BatchSize, true, t.rng)
	var validLoader *DataLoader
	if hasValid {
		validLoader = NewDataLoader(valid, t.config.BatchSize, false, t.rng)
	}

	var scheduler LRScheduler = &NoOpScheduler{}
	if t.config.LRReducer > 0 {
		scheduler = NewReduceLROnPlateauScheduler(t.config.LRFactor, t.config.LRReducer, 1e-4, "min")
	}
	stopper := NewEarlyStopping(t.config.EarlyStopLimit)

	t.logger.Debug("starting training",
		zap.String("model", t.config.Name),
		zap.Int("epochs", t.config.Epochs),
		zap.Int("train_samples", train.Len()),
		zap.Int("valid_samples", lenOrZero(valid)),
		zap.Float64("learning_rate", t.optimizer.LearningRate()),
		zap.String("lr_schedule", scheduler.GetName()))

	history := &History{BestLoss: math.Inf(1)}
	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		epochStart := time.Now()

		trainLoss, batchCount, err := t.trainEpoch(trainLoader, epoch)
		if err != nil {
			return history, fmt.Errorf("training epoch %d failed: %v", epoch, err)
		}
		history.Steps += batchCount

		metrics := TrainingMetrics{
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			LearningRate: t.optimizer.LearningRate(),
			BatchCount:   batchCount,
		}

		monitor := trainLoss
		if hasValid {
			validLoss, err := t.evaluate(validLoader)
			if err != nil {
				return history, fmt.Errorf("validation epoch %d failed: %v", epoch, err)
			}
			metrics.ValidLoss = validLoss
			metrics.HasValid = true
			monitor = validLoss
		}
		if math.IsNaN(monitor) {
			return history, fmt.Errorf("loss became NaN at epoch %d", epoch)
		}

		metrics.EpochDuration = time.Since(epochStart)
		history.Epochs = append(history.Epochs, metrics)
		if monitor < history.BestLoss {
			history.BestLoss = monitor
		}
		t.reporter.EpochEnd(metrics)

		if plateau, ok := scheduler.(*ReduceLROnPlateauScheduler); ok {
			plateau.Step(monitor, t.optimizer.LearningRate())
		}
		if lr := scheduler.GetLR(epoch, history.Steps, t.optimizer.LearningRate()); lr != t.optimizer.LearningRate() {
			t.logger.Debug("reducing learning rate",
				zap.String("model", t.config.Name),
				zap.Int("epoch", epoch+1),
				zap.Float64("learning_rate", lr))
			t.optimizer.UpdateLearningRate(lr)
		}

		if stopper.Observe(monitor) {
			history.StoppedEarly = true
			t.logger.Info("early stopping",
				zap.String("model", t.config.Name),
				zap.Int("epoch", epoch+1),
				zap.Float64("best_loss", stopper.Best()))
			break
		}
	}

	return history, nil
}

// trainEpoch runs one training epoch and returns the sample-weighted loss
func (t *Trainer) trainEpoch(loader *DataLoader, epoch int) (float64, int, error) {
	params := t.model.Parameters()
	loader.Reset()
	t.reporter.EpochStart(epoch, loader.Len())

	var totalLoss float64
	var totalSamples, batchCount int
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return 0, batchCount, err
		}

		optimizer.ZeroGrad(params)
		loss, err := t.model.Loss(batch, true)
		if err != nil {
			return 0, batchCount, fmt.Errorf("forward pass failed: %v", err)
		}
		optimizer.ClipByValue(params, t.config.ClipValue)
		if err := t.optimizer.Step(params); err != nil {
			return 0, batchCount, fmt.Errorf("optimizer step failed: %v", err)
		}

		n := batch.Size()
		totalLoss += loss * float64(n)
		totalSamples += n
		batchCount++
		t.reporter.BatchEnd(batchCount, totalLoss/float64(totalSamples))
	}

	return totalLoss / float64(totalSamples), batchCount, nil
}

// evaluate computes the sample-weighted loss without updating parameters
func (t *Trainer) evaluate(loader *DataLoader) (float64, error) {
	loader.Reset()

	var totalLoss float64
	var totalSamples int
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return 0, err
		}
		loss, err := t.model.Loss(batch, false)
		if err != nil {
			return 0, err
		}
		n := batch.Size()
		totalLoss += loss * float64(n)
		totalSamples += n
	}
	return totalLoss / float64(totalSamples), nil
}

func lenOrZero(d Dataset) int {
	if d == nil {
		return 0
	}
	return d.Len()
}
