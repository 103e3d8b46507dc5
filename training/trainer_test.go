package training

import (
	"bytes"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-surgeon/layers"
	"github.com/tsawler/go-surgeon/optimizer"
)

// linearModel fits y = xw with mean squared error
type linearModel struct {
	w *layers.Param
}

func (m *linearModel) Parameters() []*layers.Param {
	return []*layers.Param{m.w}
}

func (m *linearModel) Loss(b *Batch, training bool) (float64, error) {
	n, _ := b.Input.Dims()
	var pred mat.Dense
	pred.Mul(b.Input, m.w.Value)
	var diff mat.Dense
	diff.Sub(&pred, b.Target)

	loss := 0.0
	for i := 0; i < n; i++ {
		v := diff.At(i, 0)
		loss += v * v
	}
	loss /= float64(n)

	if training {
		var g mat.Dense
		g.Mul(b.Input.T(), &diff)
		g.Scale(2/float64(n), &g)
		m.w.Grad.Add(m.w.Grad, &g)
	}
	return loss, nil
}

func linearData(n int, rng *rand.Rand) *matrixDataset {
	x := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		a, b := rng.NormFloat64(), rng.NormFloat64()
		x.Set(i, 0, a)
		x.Set(i, 1, b)
		y.Set(i, 0, 3*a-2*b)
	}
	return &matrixDataset{x: x, y: y}
}

func newTestTrainer(t *testing.T, model Objective, cfg TrainingConfig, lr float64) *Trainer {
	t.Helper()
	adamCfg := optimizer.DefaultAdamConfig()
	adamCfg.LearningRate = lr
	opt, err := optimizer.NewAdamOptimizer(adamCfg)
	require.NoError(t, err)
	return NewTrainer(model, opt, cfg, nil, rand.New(rand.NewSource(7)))
}

func TestTrainerFitsLinearModel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	model := &linearModel{w: layers.NewParam("w", 2, 1)}
	train, valid := linearData(200, rng), linearData(50, rng)

	trainer := newTestTrainer(t, model, TrainingConfig{Epochs: 150, BatchSize: 32, Name: "linear"}, 0.02)
	history, err := trainer.Train(train, valid)
	require.NoError(t, err)

	assert.Len(t, history.Epochs, 150)
	assert.False(t, history.StoppedEarly)
	assert.Equal(t, 150*7, history.Steps)
	assert.True(t, history.Epochs[0].HasValid)
	assert.Less(t, history.BestLoss, 1e-2)
	assert.InDelta(t, 3.0, model.w.Value.At(0, 0), 0.1)
	assert.InDelta(t, -2.0, model.w.Value.At(1, 0), 0.1)
}

func TestTrainerEarlyStopping(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	model := &linearModel{w: layers.NewParam("w", 2, 1)}
	// Frozen weights: the validation loss never improves after the first epoch
	model.w.Trainable = false
	trainer := newTestTrainer(t, model, TrainingConfig{Epochs: 50, BatchSize: 16, EarlyStopLimit: 3}, 0.01)

	history, err := trainer.Train(linearData(40, rng), linearData(10, rng))
	require.NoError(t, err)
	assert.True(t, history.StoppedEarly)
	assert.Len(t, history.Epochs, 4)
	assert.Equal(t, 3, history.LastEpoch())
	assert.True(t, history.Epochs[0].HasValid)
}

func TestTrainerReducesLearningRate(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	model := &linearModel{w: layers.NewParam("w", 2, 1)}
	model.w.Trainable = false
	trainer := newTestTrainer(t, model, TrainingConfig{Epochs: 5, BatchSize: 16, LRReducer: 2}, 0.01)

	history, err := trainer.Train(linearData(40, rng), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, history.Epochs[0].LearningRate, 1e-15)
	assert.InDelta(t, 0.01, history.Epochs[2].LearningRate, 1e-15)
	assert.InDelta(t, 0.001, history.Epochs[3].LearningRate, 1e-15)
	assert.InDelta(t, 0.0001, trainer.optimizer.LearningRate(), 1e-15)
	assert.False(t, history.Epochs[0].HasValid)
}

func TestTrainerRejectsEmptyData(t *testing.T) {
	model := &linearModel{w: layers.NewParam("w", 2, 1)}
	trainer := newTestTrainer(t, model, TrainingConfig{Epochs: 1, BatchSize: 4}, 0.01)

	_, err := trainer.Train(nil, nil)
	assert.Error(t, err)
}

func TestTrainerReportsEpochs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, verbose := range []int{0, 1, 2} {
		model := &linearModel{w: layers.NewParam("w", 2, 1)}
		trainer := newTestTrainer(t, model, TrainingConfig{Epochs: 2, BatchSize: 8, Verbose: verbose}, 0.01)
		var out bytes.Buffer
		trainer.Reporter().SetOutput(&out)

		_, err := trainer.Train(linearData(16, rng), linearData(8, rng))
		require.NoError(t, err)

		switch verbose {
		case 0:
			assert.Empty(t, out.String())
		case 1:
			assert.Contains(t, out.String(), "Epoch 2/2")
			assert.Contains(t, out.String(), "val_loss=")
		case 2:
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			assert.Len(t, lines, 2)
			assert.True(t, strings.HasPrefix(lines[1], "Epoch 2/2"))
			assert.Contains(t, lines[1], "val_loss:")
		}
	}
}

type nanModel struct{ linearModel }

func (m *nanModel) Loss(*Batch, bool) (float64, error) {
	return math.NaN(), nil
}

func TestTrainerStopsOnNaN(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	model := &nanModel{linearModel{w: layers.NewParam("w", 2, 1)}}
	trainer := newTestTrainer(t, model, TrainingConfig{Epochs: 3, BatchSize: 8}, 0.01)
	_, err := trainer.Train(linearData(16, rng), nil)
	assert.Error(t, err)
}
