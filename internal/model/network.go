// Package model loads regression networks from JSON model files and runs
// inference on them.
//
// A model file holds the network's layers and weights. Kernel layout follows
// the usual Keras convention: kernels are input_dim × (gates·units), recurrent
// kernels are units × (gates·units).
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/i474232898/climate-predict/internal/weather"
)

// FileExt is the extension recognised as a model file.
const FileExt = ".json"

// ErrEmptyInput is returned by Predict when given no timesteps.
var ErrEmptyInput = &ShapeError{msg: "model input is empty"}

// ShapeError reports input that does not fit the network. It is caused by
// the request, not by the model.
type ShapeError struct {
	msg string
}

func shapeErrorf(format string, args ...interface{}) *ShapeError {
	return &ShapeError{msg: fmt.Sprintf(format, args...)}
}

func (e *ShapeError) Error() string { return e.msg }

// InputError marks the error as caused by the caller's input.
func (e *ShapeError) InputError() bool { return true }

// File is the on-disk representation of a network.
type File struct {
	InputKind weather.InputKind `json:"input_kind,omitempty"`
	Layers    []LayerSpec       `json:"layers"`
}

// LayerSpec describes a single layer and its weights.
type LayerSpec struct {
	Type            string      `json:"type"`
	Activation      string      `json:"activation,omitempty"`
	Kernel          [][]float64 `json:"kernel"`
	RecurrentKernel [][]float64 `json:"recurrent_kernel,omitempty"`
	Bias            []float64   `json:"bias"`
	RecurrentBias   []float64   `json:"recurrent_bias,omitempty"`
	ReturnSequences bool        `json:"return_sequences,omitempty"`
}

// Network is a loaded, immutable model.
type Network struct {
	kind   weather.InputKind
	layers []layer
}

// Load reads and parses a model file.
func Load(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	net, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return net, nil
}

// Parse decodes a model file document.
func Parse(data []byte) (*Network, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model file: %w", err)
	}
	return Build(f)
}

// Build validates a model description and assembles the network.
func Build(f File) (*Network, error) {
	if len(f.Layers) == 0 {
		return nil, fmt.Errorf("model has no layers")
	}

	net := &Network{}
	for i, spec := range f.Layers {
		l, err := buildLayer(spec)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, spec.Type, err)
		}
		if i > 0 && net.layers[i-1].outputDim() != l.inputDim() {
			return nil, fmt.Errorf("layer %d (%s): expects %d inputs but previous layer produces %d",
				i, spec.Type, l.inputDim(), net.layers[i-1].outputDim())
		}
		net.layers = append(net.layers, l)
	}

	switch f.InputKind {
	case weather.InputFlatVector, weather.InputPerFeatureSequence:
		net.kind = f.InputKind
	case "":
		net.kind = weather.InputFlatVector
		if net.layers[0].recurrent() {
			net.kind = weather.InputPerFeatureSequence
		}
	default:
		return nil, fmt.Errorf("unknown input_kind %q", f.InputKind)
	}

	return net, nil
}

// InputKind reports how the network expects its input to be shaped.
func (n *Network) InputKind() weather.InputKind {
	return n.kind
}

// InputShape describes the expected input tensor, with None for the batch axis.
func (n *Network) InputShape() string {
	first := n.layers[0]
	if first.recurrent() {
		return fmt.Sprintf("(None, None, %d)", first.inputDim())
	}
	return fmt.Sprintf("(None, %d)", first.inputDim())
}

// OutputDim is the length of the prediction vector.
func (n *Network) OutputDim() int {
	return n.layers[len(n.layers)-1].outputDim()
}

// Predict runs one sample through the network. x holds one row per timestep;
// flat-vector models take a single row.
func (n *Network) Predict(x [][]float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, ErrEmptyInput
	}

	seq := make([][]float64, len(x))
	for i, row := range x {
		seq[i] = append([]float64(nil), row...)
	}

	var err error
	for _, l := range n.layers {
		seq, err = l.forward(seq)
		if err != nil {
			return nil, err
		}
	}

	if len(seq) != 1 {
		return nil, shapeErrorf("model produced %d output rows, expected 1", len(seq))
	}
	return seq[0], nil
}

func buildLayer(spec LayerSpec) (layer, error) {
	kind := strings.ToLower(spec.Type)

	defaultActivation := ActivationTanh
	if kind == LayerDense {
		defaultActivation = ActivationLinear
	}
	actName := spec.Activation
	if actName == "" {
		actName = defaultActivation
	}
	act, err := lookupActivation(actName)
	if err != nil {
		return nil, err
	}

	switch kind {
	case LayerDense:
		units := len(spec.Bias)
		if err := checkMatrix("kernel", spec.Kernel, units); err != nil {
			return nil, err
		}
		return &denseLayer{kernel: toDense(spec.Kernel), bias: toVec(spec.Bias), activation: act}, nil

	case LayerSimpleRNN, LayerLSTM, LayerGRU:
		gates := map[string]int{LayerSimpleRNN: 1, LayerLSTM: 4, LayerGRU: 3}[kind]
		if len(spec.Bias) == 0 || len(spec.Bias)%gates != 0 {
			return nil, fmt.Errorf("bias length %d is not a multiple of %d gates", len(spec.Bias), gates)
		}
		units := len(spec.Bias) / gates
		width := gates * units
		if err := checkMatrix("kernel", spec.Kernel, width); err != nil {
			return nil, err
		}
		if len(spec.RecurrentKernel) != units {
			return nil, fmt.Errorf("recurrent_kernel has %d rows, expected %d", len(spec.RecurrentKernel), units)
		}
		if err := checkMatrix("recurrent_kernel", spec.RecurrentKernel, width); err != nil {
			return nil, err
		}

		rl := &recurrentLayer{
			kind:            kind,
			units:           units,
			in:              len(spec.Kernel),
			returnSequences: spec.ReturnSequences,
		}
		kernel, recurrentKernel, bias := toDense(spec.Kernel), toDense(spec.RecurrentKernel), toVec(spec.Bias)
		switch kind {
		case LayerSimpleRNN:
			rl.cell = &simpleRNNCell{kernel: kernel, recurrentKernel: recurrentKernel, bias: bias, activation: act}
		case LayerLSTM:
			rl.cell = &lstmCell{units: units, kernel: kernel, recurrentKernel: recurrentKernel, bias: bias, activation: act}
		case LayerGRU:
			recBias := spec.RecurrentBias
			if recBias == nil {
				recBias = make([]float64, width)
			}
			if len(recBias) != width {
				return nil, fmt.Errorf("recurrent_bias length %d, expected %d", len(recBias), width)
			}
			rl.cell = &gruCell{units: units, kernel: kernel, recurrentKernel: recurrentKernel, bias: bias, recurrentBias: toVec(recBias), activation: act}
		}
		return rl, nil

	default:
		return nil, fmt.Errorf("unsupported layer type %q", spec.Type)
	}
}

func checkMatrix(name string, m [][]float64, cols int) error {
	if len(m) == 0 {
		return fmt.Errorf("%s is empty", name)
	}
	if cols == 0 {
		return fmt.Errorf("%s: layer has no units", name)
	}
	for i, row := range m {
		if len(row) != cols {
			return fmt.Errorf("%s row %d has %d columns, expected %d", name, i, len(row), cols)
		}
	}
	return nil
}
