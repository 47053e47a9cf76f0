package inference

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// LayerWeights is one affine layer as stored on disk. Weights is row-major
// [In, Out], so the output is W^T x + b.
type LayerWeights struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float32 `json:"weights"`
	Bias    []float32 `json:"bias"`
}

// MLPWeights is the JSON layout read by LoadMLP. Trunk holds the input layer
// followed by the hidden layers; every trunk layer is followed by ReLU.
type MLPWeights struct {
	Trunk  []LayerWeights `json:"trunk"`
	Policy LayerWeights   `json:"policy"`
	Value  LayerWeights   `json:"value"`
}

type affine struct {
	w blas32.General
	b blas32.Vector
}

func (a affine) forward(x blas32.Vector) blas32.Vector {
	y := blas32.Vector{N: a.w.Cols, Inc: 1, Data: make([]float32, a.w.Cols)}
	blas32.Copy(a.b, y)
	blas32.Gemv(blas.Trans, 1.0, a.w, x, 1.0, y)
	return y
}

// MLP is a policy/value network: a ReLU trunk feeding a softmax policy head
// and a tanh value head. It is immutable after construction and safe for
// concurrent use.
type MLP struct {
	trunk  []affine
	policy affine
	value  affine
}

// NewMLP validates shapes and builds the network.
func NewMLP(w MLPWeights) (*MLP, error) {
	if len(w.Trunk) == 0 {
		return nil, fmt.Errorf("mlp: no trunk layers")
	}

	m := &MLP{}
	prev := w.Trunk[0].In
	for i, lw := range w.Trunk {
		if lw.In != prev {
			return nil, fmt.Errorf("mlp: trunk layer %d has input %d, previous layer outputs %d", i, lw.In, prev)
		}
		a, err := newAffine(lw)
		if err != nil {
			return nil, fmt.Errorf("mlp: trunk layer %d: %w", i, err)
		}
		m.trunk = append(m.trunk, a)
		prev = lw.Out
	}

	if w.Policy.In != prev {
		return nil, fmt.Errorf("mlp: policy head input %d, trunk outputs %d", w.Policy.In, prev)
	}
	if w.Value.In != prev || w.Value.Out != 1 {
		return nil, fmt.Errorf("mlp: value head must be %dx1, got %dx%d", prev, w.Value.In, w.Value.Out)
	}

	var err error
	if m.policy, err = newAffine(w.Policy); err != nil {
		return nil, fmt.Errorf("mlp: policy head: %w", err)
	}
	if m.value, err = newAffine(w.Value); err != nil {
		return nil, fmt.Errorf("mlp: value head: %w", err)
	}
	return m, nil
}

func newAffine(lw LayerWeights) (affine, error) {
	if lw.In <= 0 || lw.Out <= 0 {
		return affine{}, fmt.Errorf("bad shape %dx%d", lw.In, lw.Out)
	}
	if len(lw.Weights) != lw.In*lw.Out {
		return affine{}, fmt.Errorf("weights have %d values, want %d", len(lw.Weights), lw.In*lw.Out)
	}
	if len(lw.Bias) != lw.Out {
		return affine{}, fmt.Errorf("bias has %d values, want %d", len(lw.Bias), lw.Out)
	}
	return affine{
		w: blas32.General{Rows: lw.In, Cols: lw.Out, Stride: lw.Out, Data: lw.Weights},
		b: blas32.Vector{N: lw.Out, Inc: 1, Data: lw.Bias},
	}, nil
}

// LoadMLP reads MLPWeights JSON from path.
func LoadMLP(path string) (*MLP, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	var w MLPWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode weights %s: %w", path, err)
	}
	return NewMLP(w)
}

// NewRandomMLP builds a network with sizes [input, hidden..., actions] and
// weights drawn uniformly from +-1/sqrt(fan_in).
func NewRandomMLP(sizes []int, seed int64) (*MLP, error) {
	if len(sizes) < 3 {
		return nil, fmt.Errorf("mlp: need input, at least one hidden and output size, got %v", sizes)
	}
	rng := rand.New(rand.NewSource(seed))
	layer := func(in, out int) LayerWeights {
		lim := 1 / math32.Sqrt(float32(in))
		lw := LayerWeights{In: in, Out: out, Weights: make([]float32, in*out), Bias: make([]float32, out)}
		for i := range lw.Weights {
			lw.Weights[i] = (2*rng.Float32() - 1) * lim
		}
		for i := range lw.Bias {
			lw.Bias[i] = (2*rng.Float32() - 1) * lim
		}
		return lw
	}

	var w MLPWeights
	for i := 0; i+2 < len(sizes); i++ {
		w.Trunk = append(w.Trunk, layer(sizes[i], sizes[i+1]))
	}
	hidden := sizes[len(sizes)-2]
	w.Policy = layer(hidden, sizes[len(sizes)-1])
	w.Value = layer(hidden, 1)
	return NewMLP(w)
}

// InputSize is the width of the encoded state the network accepts.
func (m *MLP) InputSize() int { return m.trunk[0].w.Rows }

// Actions is the width of the policy head.
func (m *MLP) Actions() int { return m.policy.w.Cols }

func (m *MLP) Predict(encoded []float32) ([]float32, float32, error) {
	if len(encoded) != m.InputSize() {
		return nil, 0, fmt.Errorf("mlp: %w: got %d want %d", ErrInputSize, len(encoded), m.InputSize())
	}

	h := blas32.Vector{N: len(encoded), Inc: 1, Data: encoded}
	for _, l := range m.trunk {
		h = l.forward(h)
		relu(h.Data)
	}

	logits := m.policy.forward(h)
	policy := softmax(logits.Data)

	v := m.value.forward(h).Data[0]
	return policy, math32.Tanh(v), nil
}

func relu(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

func softmax(x []float32) []float32 {
	maxV := math32.Inf(-1)
	for _, v := range x {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float32, len(x))
	sum := float32(0)
	for i, v := range x {
		out[i] = math32.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

