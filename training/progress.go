package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tsawler/go-surgeon/layers"
)

// ProgressBar provides Keras-style training progress visualization
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	if out == nil {
		out = os.Stdout
	}
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       30,
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("=", filled) + strings.Repeat(".", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 && elapsed > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		totalTime := time.Duration(float64(elapsed) / percentage)
		eta = totalTime - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%[%s] %d/%d", pb.description, percentage*100, bar, pb.current, pb.total)
	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}
	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	// Sorted so repeated renders don't jitter
	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(", %s=%.4f", k, pb.metrics[k])
	}
	line += "]"

	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// EpochReporter prints training progress at one of three verbosity levels:
// 0 prints nothing, 1 draws a progress bar per epoch, 2 prints one line per
// epoch. Every epoch is also logged at debug level.
type EpochReporter struct {
	name    string
	epochs  int
	verbose int
	out     io.Writer
	logger  *zap.Logger
	bar     *ProgressBar
}

// NewEpochReporter creates a reporter writing to stdout
func NewEpochReporter(name string, epochs, verbose int, logger *zap.Logger) *EpochReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EpochReporter{
		name:    name,
		epochs:  epochs,
		verbose: verbose,
		out:     os.Stdout,
		logger:  logger,
	}
}

// SetOutput redirects console output
func (r *EpochReporter) SetOutput(out io.Writer) {
	r.out = out
}

// EpochStart is called before the first batch of an epoch
func (r *EpochReporter) EpochStart(epoch, batches int) {
	if r.verbose == 1 {
		r.bar = NewProgressBar(r.out, fmt.Sprintf("Epoch %d/%d", epoch+1, r.epochs), batches)
	}
}

// BatchEnd is called after every optimizer step with the running mean loss
func (r *EpochReporter) BatchEnd(step int, loss float64) {
	if r.bar != nil {
		r.bar.Update(step, map[string]float64{"loss": loss})
	}
}

// EpochEnd is called once the epoch's metrics are known
func (r *EpochReporter) EpochEnd(m TrainingMetrics) {
	r.logger.Debug("epoch finished",
		zap.String("model", r.name),
		zap.Int("epoch", m.Epoch+1),
		zap.Float64("loss", m.TrainLoss),
		zap.Float64("val_loss", m.ValidLoss),
		zap.Float64("learning_rate", m.LearningRate),
		zap.Duration("duration", m.EpochDuration))

	switch r.verbose {
	case 1:
		if r.bar != nil {
			if m.HasValid {
				r.bar.Update(r.bar.total, map[string]float64{"val_loss": m.ValidLoss})
			}
			r.bar.Finish()
			r.bar = nil
		}
	case 2:
		line := fmt.Sprintf("Epoch %d/%d - %s - loss: %.4f", m.Epoch+1, r.epochs, formatDuration(m.EpochDuration), m.TrainLoss)
		if m.HasValid {
			line += fmt.Sprintf(" - val_loss: %.4f", m.ValidLoss)
		}
		fmt.Fprintln(r.out, line)
	}
}

// PrintArchitecture writes a summary of the given model specs
func PrintArchitecture(out io.Writer, modelName string, specs ...*layers.ModelSpec) {
	fmt.Fprintf(out, "Model: %s\n", modelName)
	var total int64
	for _, spec := range specs {
		fmt.Fprint(out, spec.Summary())
		total += spec.TotalParameters
	}
	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(total))
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
