package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Activation names accepted in model files.
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationTanh    = "tanh"
	ActivationSoftmax = "softmax"
)

// Layer type names accepted in model files.
const (
	LayerDense     = "dense"
	LayerSimpleRNN = "simple_rnn"
	LayerLSTM      = "lstm"
	LayerGRU       = "gru"
)

type activationFunc func([]float64) []float64

func lookupActivation(name string) (activationFunc, error) {
	switch name {
	case "", ActivationLinear:
		return func(v []float64) []float64 { return v }, nil
	case ActivationReLU:
		return elementwise(func(x float64) float64 { return math.Max(0, x) }), nil
	case ActivationSigmoid:
		return elementwise(sigmoid), nil
	case ActivationTanh:
		return elementwise(math.Tanh), nil
	case ActivationSoftmax:
		return softmax, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}

func elementwise(f func(float64) float64) activationFunc {
	return func(v []float64) []float64 {
		for i := range v {
			v[i] = f(v[i])
		}
		return v
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

var sigmoidAct = elementwise(sigmoid)

func softmax(v []float64) []float64 {
	if len(v) == 0 {
		return v
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for i := range v {
		v[i] = math.Exp(v[i] - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}

// layer transforms a sequence of timestep rows into another sequence.
type layer interface {
	inputDim() int
	outputDim() int
	forward(seq [][]float64) ([][]float64, error)
	recurrent() bool
}

// toDense copies a row-major weight matrix. Rows must be non-empty and of
// equal length.
func toDense(rows [][]float64) *mat.Dense {
	r, c := len(rows), len(rows[0])
	data := make([]float64, 0, r*c)
	for _, row := range rows {
		data = append(data, row...)
	}
	return mat.NewDense(r, c, data)
}

func toVec(v []float64) *mat.VecDense {
	return mat.NewVecDense(len(v), append([]float64(nil), v...))
}

// affine computes Wᵀx + b for a kernel W of shape len(x) × units. b may be
// nil.
func affine(w *mat.Dense, x []float64, b *mat.VecDense) *mat.VecDense {
	r, c := w.Dims()
	out := mat.NewVecDense(c, nil)
	out.MulVec(w.T(), mat.NewVecDense(r, x))
	if b != nil {
		out.AddVec(out, b)
	}
	return out
}

// gate returns the j-th block of size units from a fused gate vector.
func gate(z *mat.VecDense, j, units int) *mat.VecDense {
	return z.SliceVec(j*units, (j+1)*units).(*mat.VecDense)
}

// apply runs an activation over a copy of v.
func apply(f activationFunc, v mat.Vector) *mat.VecDense {
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return mat.NewVecDense(len(data), f(data))
}

type denseLayer struct {
	kernel     *mat.Dense
	bias       *mat.VecDense
	activation activationFunc
}

func (l *denseLayer) inputDim() int {
	r, _ := l.kernel.Dims()
	return r
}
func (l *denseLayer) outputDim() int { return l.bias.Len() }
func (l *denseLayer) recurrent() bool {
	return false
}

func (l *denseLayer) forward(seq [][]float64) ([][]float64, error) {
	out := make([][]float64, len(seq))
	for t, row := range seq {
		if len(row) != l.inputDim() {
			return nil, shapeErrorf("dense layer expects %d inputs, got %d", l.inputDim(), len(row))
		}
		out[t] = l.activation(affine(l.kernel, row, l.bias).RawVector().Data)
	}
	return out, nil
}

// recurrentCell advances the hidden state by one timestep.
type recurrentCell interface {
	step(x []float64, state *cellState)
}

type cellState struct {
	h *mat.VecDense
	c *mat.VecDense // LSTM carry only
}

type recurrentLayer struct {
	kind            string
	units           int
	in              int
	cell            recurrentCell
	returnSequences bool
}

func (l *recurrentLayer) inputDim() int   { return l.in }
func (l *recurrentLayer) outputDim() int  { return l.units }
func (l *recurrentLayer) recurrent() bool { return true }

func (l *recurrentLayer) forward(seq [][]float64) ([][]float64, error) {
	if len(seq) == 0 {
		return nil, shapeErrorf("%s layer received an empty sequence", l.kind)
	}
	state := &cellState{
		h: mat.NewVecDense(l.units, nil),
		c: mat.NewVecDense(l.units, nil),
	}
	var outputs [][]float64
	for _, x := range seq {
		if len(x) != l.in {
			return nil, shapeErrorf("%s layer expects %d features per timestep, got %d", l.kind, l.in, len(x))
		}
		l.cell.step(x, state)
		if l.returnSequences {
			outputs = append(outputs, mat.Col(nil, 0, state.h))
		}
	}
	if !l.returnSequences {
		outputs = [][]float64{mat.Col(nil, 0, state.h)}
	}
	return outputs, nil
}

type simpleRNNCell struct {
	kernel, recurrentKernel *mat.Dense
	bias                    *mat.VecDense
	activation              activationFunc
}

func (c *simpleRNNCell) step(x []float64, s *cellState) {
	z := affine(c.kernel, x, c.bias)
	z.AddVec(z, affine(c.recurrentKernel, s.h.RawVector().Data, nil))
	s.h = apply(c.activation, z)
}

// lstmCell uses gate order i, f, c, o.
type lstmCell struct {
	units                   int
	kernel, recurrentKernel *mat.Dense
	bias                    *mat.VecDense
	activation              activationFunc
}

func (c *lstmCell) step(x []float64, s *cellState) {
	u := c.units
	z := affine(c.kernel, x, c.bias)
	z.AddVec(z, affine(c.recurrentKernel, s.h.RawVector().Data, nil))

	input := apply(sigmoidAct, gate(z, 0, u))
	forget := apply(sigmoidAct, gate(z, 1, u))
	candidate := apply(c.activation, gate(z, 2, u))
	output := apply(sigmoidAct, gate(z, 3, u))

	carry := mat.NewVecDense(u, nil)
	carry.MulElemVec(forget, s.c)
	input.MulElemVec(input, candidate)
	carry.AddVec(carry, input)

	h := apply(c.activation, carry)
	h.MulElemVec(h, output)
	s.c = carry
	s.h = h
}

// gruCell uses gate order z, r, h and applies the reset gate after the
// recurrent matmul.
type gruCell struct {
	units                   int
	kernel, recurrentKernel *mat.Dense
	bias, recurrentBias     *mat.VecDense
	activation              activationFunc
}

func (c *gruCell) step(x []float64, s *cellState) {
	u := c.units
	xz := affine(c.kernel, x, c.bias)
	hz := affine(c.recurrentKernel, s.h.RawVector().Data, c.recurrentBias)

	update := mat.NewVecDense(u, nil)
	update.AddVec(gate(xz, 0, u), gate(hz, 0, u))
	update = apply(sigmoidAct, update)

	reset := mat.NewVecDense(u, nil)
	reset.AddVec(gate(xz, 1, u), gate(hz, 1, u))
	reset = apply(sigmoidAct, reset)

	candidate := mat.NewVecDense(u, nil)
	candidate.MulElemVec(reset, gate(hz, 2, u))
	candidate.AddVec(candidate, gate(xz, 2, u))
	candidate = apply(c.activation, candidate)

	// h = z⊙h₋₁ + (1-z)⊙candidate
	keep := mat.NewVecDense(u, nil)
	keep.MulElemVec(update, s.h)
	update.ScaleVec(-1, update)
	update.AddVec(update, ones(u))
	update.MulElemVec(update, candidate)
	keep.AddVec(keep, update)
	s.h = keep
}

func ones(n int) *mat.VecDense {
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, 1)
	}
	return v
}
