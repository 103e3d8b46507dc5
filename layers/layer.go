package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ConditionalDense
	ReLU
	LeakyReLU
	Dropout
	Linear
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ConditionalDense:
		return "ConditionalDense"
	case ReLU:
		return "ReLU"
	case LeakyReLU:
		return "LeakyReLU"
	case Dropout:
		return "Dropout"
	case Linear:
		return "Linear"
	default:
		return "Unknown"
	}
}

// LayerSpec describes a layer for summaries and checkpoints.
// This is pure configuration - no execution logic
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputSize  int `json:"input_size,omitempty"`
	OutputSize int `json:"output_size,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec describes a stack of layers. The CVAE builds one for its encoder
// and one for its decoder.
type ModelSpec struct {
	Name   string      `json:"name"`
	Layers []LayerSpec `json:"layers"`

	TotalParameters int64 `json:"total_parameters"`
	InputSize       int   `json:"input_size"`
	OutputSize      int   `json:"output_size"`
	Compiled        bool  `json:"compiled"`
}

// ModelBuilder helps construct model descriptions
type ModelBuilder struct {
	name      string
	layers    []LayerSpec
	inputSize int
}

// NewModelBuilder creates a new model builder
func NewModelBuilder(name string, inputSize int) *ModelBuilder {
	return &ModelBuilder{
		name:      name,
		layers:    make([]LayerSpec, 0),
		inputSize: inputSize,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddDense adds a dense layer to the model
func (mb *ModelBuilder) AddDense(outputSize int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
		},
	})
}

// AddConditionalDense adds a dense layer that also receives a one-hot condition
func (mb *ModelBuilder) AddConditionalDense(outputSize, nConditions int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: ConditionalDense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size":  outputSize,
			"n_conditions": nConditions,
		},
	})
}

// AddActivation adds an activation layer
func (mb *ModelBuilder) AddActivation(kind Activation, name string) *ModelBuilder {
	lt := Linear
	params := map[string]interface{}{}
	switch kind {
	case ActReLU:
		lt = ReLU
	case ActLeakyReLU:
		lt = LeakyReLU
		params["negative_slope"] = LeakyReLUSlope
	}
	return mb.AddLayer(LayerSpec{Type: lt, Name: name, Parameters: params})
}

// AddDropout adds a dropout layer
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
}

// Compile computes layer sizes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if mb.inputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", mb.inputSize)
	}

	model := &ModelSpec{
		Name:      mb.name,
		Layers:    make([]LayerSpec, len(mb.layers)),
		InputSize: mb.inputSize,
	}
	copy(model.Layers, mb.layers)

	current := mb.inputSize
	for i := range model.Layers {
		layer := &model.Layers[i]
		layer.InputSize = current

		switch layer.Type {
		case Dense, ConditionalDense:
			out, ok := layer.Parameters["output_size"].(int)
			if !ok || out <= 0 {
				return nil, fmt.Errorf("layer %d (%s): missing output_size parameter", i, layer.Name)
			}
			layer.ParameterShapes = [][]int{{current, out}, {1, out}}
			layer.ParameterCount = int64(current*out + out)
			if layer.Type == ConditionalDense {
				nc, _ := layer.Parameters["n_conditions"].(int)
				layer.ParameterShapes = append(layer.ParameterShapes, []int{nc, out})
				layer.ParameterCount += int64(nc * out)
			}
			current = out
		case ReLU, LeakyReLU, Dropout, Linear:
		default:
			return nil, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
		}

		layer.OutputSize = current
		model.TotalParameters += layer.ParameterCount
	}

	model.OutputSize = current
	model.Compiled = true
	return model, nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(\n", ms.Name)
	for _, layer := range ms.Layers {
		switch layer.Type {
		case Dense:
			fmt.Fprintf(&sb, "  (%s): Dense(in=%d, out=%d)\n", layer.Name, layer.InputSize, layer.OutputSize)
		case ConditionalDense:
			fmt.Fprintf(&sb, "  (%s): ConditionalDense(in=%d, out=%d, conditions=%v)\n",
				layer.Name, layer.InputSize, layer.OutputSize, layer.Parameters["n_conditions"])
		case Dropout:
			fmt.Fprintf(&sb, "  (%s): Dropout(p=%v)\n", layer.Name, layer.Parameters["rate"])
		default:
			fmt.Fprintf(&sb, "  (%s): %s()\n", layer.Name, layer.Type.String())
		}
	}
	fmt.Fprintf(&sb, ")\nTotal parameters: %d\n", ms.TotalParameters)
	return sb.String()
}
