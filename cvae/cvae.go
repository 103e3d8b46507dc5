package cvae

import (
	"fmt"
	"io"
	"math"
	"os"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-surgeon/dataset"
	"github.com/tsawler/go-surgeon/optimizer"
	"github.com/tsawler/go-surgeon/training"
)

// TrainOptions controls a call to Train
type TrainOptions struct {
	ConditionKey   string                     // obs column holding the condition
	Encoder        *training.ConditionEncoder // replaces the model's encoder when set
	Epochs         int
	BatchSize      int
	EarlyStopLimit int
	LRReducer      int
	Save           bool      // write a checkpoint to the model path afterwards
	Verbose        int       // 0 silent, 1 progress bar, 2 one line per epoch
	Out            io.Writer // console output, stdout if nil
}

// Train fits the model on train, monitoring valid for early stopping and
// learning-rate reduction. Conditions are looked up with the model's
// condition encoder; labels it does not know are fed as condition 0.
func (m *Model) Train(train, valid *dataset.AnnData, opts TrainOptions) (*training.History, error) {
	if opts.Encoder != nil {
		m.ConditionEncoder = opts.Encoder
	}
	if m.ConditionEncoder == nil {
		return nil, fmt.Errorf("model has no condition encoder")
	}

	trainData, err := m.prepare(train, opts.ConditionKey)
	if err != nil {
		return nil, fmt.Errorf("training data: %v", err)
	}
	var validData training.Dataset
	if valid != nil && valid.NObs() > 0 {
		vd, err := m.prepare(valid, opts.ConditionKey)
		if err != nil {
			return nil, fmt.Errorf("validation data: %v", err)
		}
		validData = vd
	}

	opt, err := optimizer.New(m.config.Optimizer, m.config.LearningRate, m.config.Momentum)
	if err != nil {
		return nil, err
	}

	trainer := training.NewTrainer(m, opt, training.TrainingConfig{
		Epochs:         opts.Epochs,
		BatchSize:      opts.BatchSize,
		EarlyStopLimit: opts.EarlyStopLimit,
		LRReducer:      opts.LRReducer,
		LRFactor:       0.1,
		ClipValue:      m.config.ClipValue,
		Verbose:        opts.Verbose,
		Name:           "cvae",
	}, m.logger, m.rng)
	if opts.Out != nil {
		trainer.Reporter().SetOutput(opts.Out)
	}
	if opts.Verbose > 1 {
		specs, err := m.Specs()
		if err != nil {
			return nil, err
		}
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		training.PrintArchitecture(out, "cvae", specs...)
	}

	history, err := trainer.Train(trainData, validData)
	m.history = history
	if state, stateErr := opt.GetState(); stateErr == nil {
		m.lastOpt = state
	}
	if err != nil {
		return history, err
	}

	m.logger.Info("training finished",
		zap.Int("epochs", len(history.Epochs)),
		zap.Bool("stopped_early", history.StoppedEarly),
		zap.Float64("best_loss", history.BestLoss))

	if opts.Save {
		if err := m.Save(); err != nil {
			return history, err
		}
	}
	return history, nil
}

// ToLatent encodes every cell of a with the given condition indices and
// returns the latent means as a new AnnData carrying a's annotations.
func (m *Model) ToLatent(a *dataset.AnnData, conditions []int) (*dataset.AnnData, error) {
	data, err := m.newCellData(a, conditions)
	if err != nil {
		return nil, err
	}
	mean, _, err := m.encode(data.input, data.conds, false)
	if err != nil {
		return nil, err
	}

	varNames := make([]string, m.config.ZDimension)
	for i := range varNames {
		varNames[i] = fmt.Sprintf("latent_%d", i)
	}
	latent, err := dataset.New(mean, append([]string(nil), a.ObsNames...), varNames)
	if err != nil {
		return nil, err
	}
	all := make([]int, a.NObs())
	for i := range all {
		all[i] = i
	}
	for key, col := range a.Obs {
		latent.Obs[key] = col.Subset(all)
	}
	for key, col := range a.Numeric {
		latent.Numeric[key] = append([]float64(nil), col...)
	}
	return latent, nil
}

// Reconstruct decodes the latent means of a, the model's denoised view of it
func (m *Model) Reconstruct(a *dataset.AnnData, conditions []int) (*mat.Dense, error) {
	data, err := m.newCellData(a, conditions)
	if err != nil {
		return nil, err
	}
	mean, _, err := m.encode(data.input, data.conds, false)
	if err != nil {
		return nil, err
	}
	y, err := m.decode(mean, data.conds, false)
	if err != nil {
		return nil, err
	}
	if m.config.LossFn == LossNB {
		// back to counts
		for i, sf := range data.sf {
			row := y.RawRowView(i)
			for j := range row {
				row[j] *= sf
			}
		}
	}
	return y, nil
}

// cellData serves an AnnData to the training loop. For the count loss the
// network input is log1p(x / size factor) while the target stays raw.
type cellData struct {
	input  *mat.Dense
	target *mat.Dense
	conds  []int
	sf     []float64
}

func (m *Model) prepare(a *dataset.AnnData, key string) (*cellData, error) {
	labels, err := a.Labels(key)
	if err != nil {
		return nil, err
	}
	return m.newCellData(a, m.ConditionEncoder.Encode(labels))
}

func (m *Model) newCellData(a *dataset.AnnData, conds []int) (*cellData, error) {
	if a == nil || a.NObs() == 0 {
		return nil, fmt.Errorf("no cells")
	}
	if a.NVars() != m.config.XDimension {
		return nil, fmt.Errorf("data has %d genes, model expects %d", a.NVars(), m.config.XDimension)
	}
	if len(conds) != a.NObs() {
		return nil, fmt.Errorf("got %d conditions for %d cells", len(conds), a.NObs())
	}

	d := &cellData{input: a.X, target: a.X, conds: conds}
	if m.config.LossFn == LossNB {
		sf, err := dataset.SizeFactors(a.X)
		if err != nil {
			return nil, err
		}
		d.sf = sf
		d.input = dataset.NormalizeLog1p(a.X, sf)
	}
	return d, nil
}

func (d *cellData) Len() int {
	return len(d.conds)
}

func (d *cellData) Batch(indices []int) (*training.Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	_, g := d.input.Dims()
	b := &training.Batch{
		Input:      mat.NewDense(len(indices), g, nil),
		Conditions: make([]int, len(indices)),
	}
	b.Target = b.Input
	if d.target != d.input {
		b.Target = mat.NewDense(len(indices), g, nil)
	}
	if d.sf != nil {
		b.SizeFactors = make([]float64, len(indices))
	}
	for i, idx := range indices {
		if idx < 0 || idx >= d.Len() {
			return nil, fmt.Errorf("index %d out of range", idx)
		}
		b.Input.SetRow(i, d.input.RawRowView(idx))
		if b.Target != b.Input {
			b.Target.SetRow(i, d.target.RawRowView(idx))
		}
		b.Conditions[i] = d.conds[idx]
		if d.sf != nil {
			b.SizeFactors[i] = d.sf[idx]
		}
	}
	return b, nil
}

func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
