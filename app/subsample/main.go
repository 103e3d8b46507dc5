// Command subsample benchmarks how well a trained CVAE integrates the target
// batches Batch8 and Batch9 as less and less of their data is available.
//
//	subsample -d pancreas -f 1 -c 0
//
// reads ./data/pancreas/pancreas_normalized.h5ad and writes
// ./results/subsample/pancreas/scores_Freezed_normalized.log.
package main

import (
	"math/rand"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tsawler/go-surgeon/experiment"
)

type options struct {
	Data   string `arg:"-d,--data,required" help:"data name"`
	Freeze int    `arg:"-f,--freeze,required" help:"freeze the base model's weights while adapting (> 0 means yes)"`
	Count  int    `arg:"-c,--count" help:"use raw counts with the negative binomial loss (> 0 means yes)"`
	Config string `arg:"--config" help:"YAML file overriding the benchmark settings"`
	Seed   *int64 `arg:"--seed" help:"seed for all random choices, time based when omitted"`
}

func (options) Description() string {
	return "scNet subsample benchmark"
}

func defaultOptions() options {
	return options{Freeze: 1}
}

// newLogger writes errors to stderr and everything else to stdout
func newLogger() *zap.Logger {
	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.InfoLevel && lvl < zapcore.ErrorLevel
	})

	config := zap.NewDevelopmentEncoderConfig()
	config.EncodeTime = zapcore.RFC3339TimeEncoder
	encoder := zapcore.NewConsoleEncoder(config)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), isErrorLevel),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), isInfoLevel),
	)
	return zap.New(core)
}

func run(args options, logger *zap.Logger) error {
	cfg, err := experiment.LoadConfig(args.Config)
	if err != nil {
		return err
	}

	seed := time.Now().UnixNano()
	if args.Seed != nil {
		seed = *args.Seed
	}
	logger.Info("starting",
		zap.String("data", args.Data),
		zap.Int("freeze", args.Freeze),
		zap.Int("count", args.Count),
		zap.Int64("seed", seed))

	runner := experiment.NewRunner(cfg, rand.New(rand.NewSource(seed)), logger)
	_, err = runner.TrainAndEvaluate(args.Data, args.Freeze > 0, args.Count > 0)
	return err
}

func main() {
	args := defaultOptions()
	arg.MustParse(&args)

	logger := newLogger()
	defer logger.Sync()

	if err := run(args, logger); err != nil {
		logger.Error("subsample benchmark failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
