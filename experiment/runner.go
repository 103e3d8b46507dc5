package experiment

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tsawler/go-surgeon/cvae"
	"github.com/tsawler/go-surgeon/dataset"
	"github.com/tsawler/go-surgeon/metrics"
	"github.com/tsawler/go-surgeon/training"
)

// Loader reads an annotated matrix from path
type Loader func(path string) (*dataset.AnnData, error)

// Runner executes the benchmark. It owns the random source used for
// splitting, subsampling, initialisation and the metrics.
type Runner struct {
	Config Config
	Load   Loader
	Out    io.Writer // score rows are printed here

	rng    *rand.Rand
	logger *zap.Logger
}

// NewRunner creates a runner reading h5ad files and printing to stdout
func NewRunner(cfg Config, rng *rand.Rand, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Config: cfg,
		Load:   dataset.ReadH5AD,
		Out:    os.Stdout,
		rng:    rng,
		logger: logger,
	}
}

// TrainAndEvaluate trains a base model on the reference batches of dataset
// name, adapts it to the target batches at every configured fraction and
// writes the score table. The target set shrinks cumulatively: each
// fraction subsamples what the previous one kept.
func (r *Runner) TrainAndEvaluate(name string, freeze, count bool) ([]Score, error) {
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key := cfg.ConditionKey
	log := r.logger.With(zap.String("data", name), zap.Bool("freeze", freeze), zap.Bool("count", count))

	resultsDir := filepath.Join(cfg.ResultsDir, name)
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create results directory")
	}

	modelConfig := cfg.Model
	modelConfig.LossFn = cvae.LossMSE
	if count {
		modelConfig.LossFn = cvae.LossNB
	}

	path := DataPath(cfg.DataDir, name, count)
	adata, err := r.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", path)
	}
	log.Info("loaded data", zap.String("path", path), zap.Int("cells", adata.NObs()), zap.Int("genes", adata.NVars()))

	target, reference, err := adata.Partition(key, cfg.TargetConditions)
	if err != nil {
		return nil, err
	}
	if target.NObs() == 0 {
		return nil, errors.Errorf("no cells with %s in %v", key, cfg.TargetConditions)
	}

	train, valid, err := dataset.TrainTestSplit(reference, cfg.TrainFraction, r.rng)
	if err != nil {
		return nil, err
	}
	trainConditions, err := train.Unique(key)
	if err != nil {
		return nil, err
	}
	modelConfig.XDimension = train.NVars()
	modelConfig.NConditions = len(trainConditions)

	base, err := cvae.New(modelConfig, r.rng, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build base model")
	}
	conditions, err := reference.Unique(key)
	if err != nil {
		return nil, err
	}
	baseOpts := cfg.Base.options(key)
	baseOpts.Encoder = training.CreateDictionary(conditions, cfg.TargetConditions)

	log.Info("training base model",
		zap.Int("train_cells", train.NObs()),
		zap.Int("valid_cells", valid.NObs()),
		zap.Strings("conditions", baseOpts.Encoder.Labels()))
	if _, err := base.Train(train, valid, baseOpts); err != nil {
		return nil, errors.Wrap(err, "failed to train base model")
	}

	scores := make([]Score, 0, len(cfg.Fractions))
	for _, frac := range cfg.Fractions {
		score, kept, err := r.adapt(base, target, frac, freeze, resultsDir, count)
		if err != nil {
			return scores, errors.Wrapf(err, "fraction %v", frac)
		}
		target = kept
		scores = append(scores, score)
		fmt.Fprintln(r.Out, score)
	}

	out := filepath.Join(resultsDir, ScoresFilename(freeze, count))
	if err := WriteScores(out, scores); err != nil {
		return scores, err
	}
	log.Info("wrote scores", zap.String("path", out))
	return scores, nil
}

// adapt runs one fraction: operate on the base model, subsample the target
// set, fine-tune and score. It returns the subsampled target set.
func (r *Runner) adapt(base *cvae.Model, target *dataset.AnnData, frac float64, freeze bool, resultsDir string, count bool) (Score, *dataset.AnnData, error) {
	cfg := r.Config
	key := cfg.ConditionKey

	model, err := cvae.Operate(base, cfg.TargetConditions, cfg.Init, freeze)
	if err != nil {
		return Score{}, nil, err
	}

	target, err = dataset.Subsample(target, frac, r.rng)
	if err != nil {
		return Score{}, nil, err
	}
	if target.NObs() == 0 {
		return Score{}, nil, errors.New("subsample selected no cells")
	}
	train, valid, err := dataset.TrainTestSplit(target, cfg.TrainFraction, r.rng)
	if err != nil {
		return Score{}, nil, err
	}

	r.logger.Info("adapting model",
		zap.Float64("fraction", frac),
		zap.Int("target_cells", target.NObs()),
		zap.Int("train_cells", train.NObs()))
	if _, err := model.Train(train, valid, cfg.Adapt.options(key)); err != nil {
		return Score{}, nil, errors.Wrap(err, "failed to fine-tune")
	}

	labels, err := target.Labels(key)
	if err != nil {
		return Score{}, nil, err
	}
	// cells are encoded with the base model's conditions, so target labels
	// all map to index 0
	latent, err := model.ToLatent(target, base.ConditionEncoder.Encode(labels))
	if err != nil {
		return Score{}, nil, errors.Wrap(err, "failed to encode latent space")
	}

	res, err := metrics.Evaluate(latent.X, labels, cfg.Metrics.options(), r.rng)
	if err != nil {
		return Score{}, nil, err
	}

	if cfg.SaveLatent {
		name := fmt.Sprintf("latent_%s_%s_%.1f.h5ad", freezeMode(freeze), dataKind(count), frac)
		if err := dataset.WriteH5AD(filepath.Join(resultsDir, name), latent); err != nil {
			return Score{}, nil, err
		}
	}

	return Score{Fraction: frac, EBM: res.EBM, ASW: res.ASW, ARI: res.ARI, NMI: res.NMI}, target, nil
}
