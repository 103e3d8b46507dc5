package cvae

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tsawler/go-surgeon/layers"
)

// Operate returns a copy of base that additionally accepts newConditions.
// Each conditional layer gets one new condition row per new label,
// initialised with init ("Xavier" or "zeros"); every existing weight is
// copied unchanged. With freeze set, only the condition kernels remain
// trainable. base itself is never modified.
func Operate(base *Model, newConditions []string, init string, freeze bool) (*Model, error) {
	if base == nil {
		return nil, fmt.Errorf("no base model")
	}
	if base.ConditionEncoder == nil {
		return nil, fmt.Errorf("base model has no condition encoder, train it first")
	}
	kind, ok := layers.ParseInit(init)
	if !ok {
		return nil, fmt.Errorf("unknown initializer %q", init)
	}

	encoder, added := base.ConditionEncoder.Extend(newConditions)
	if len(added) != len(newConditions) {
		return nil, fmt.Errorf("conditions %v include labels already known to the model or duplicates", newConditions)
	}

	m := &Model{
		config:           base.Config(),
		zMean:            base.zMean.Clone(),
		zLogVar:          base.zLogVar.Clone(),
		output:           base.output.Clone(),
		outAct:           layers.NewActivationLayer(base.outAct.Kind),
		ConditionEncoder: encoder,
		rng:              base.rng,
		logger:           base.logger,
	}
	m.noise = m.gaussianNoise
	for _, b := range base.encoder {
		m.encoder = append(m.encoder, b.clone(base.rng))
	}
	for _, b := range base.decoder {
		m.decoder = append(m.decoder, b.clone(base.rng))
	}
	if base.logTheta != nil {
		m.logTheta = base.logTheta.Clone()
	}

	for _, l := range m.conditionLayers() {
		l.ExtendConditions(len(added), kind, m.rng)
	}
	m.config.NConditions = encoder.Len()

	for _, p := range m.Parameters() {
		p.Trainable = !freeze
	}
	if freeze {
		for _, l := range m.conditionLayers() {
			l.C.Trainable = true
		}
	}

	m.logger.Info("operated model",
		zap.Strings("new_conditions", added),
		zap.Int("n_conditions", m.config.NConditions),
		zap.Bool("freeze", freeze))
	return m, nil
}
