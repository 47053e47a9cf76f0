package inference

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/rules"
)

var (
	_ mcts.Predictor = Uniform{}
	_ mcts.Predictor = Lookup{}
	_ mcts.Predictor = (*MLP)(nil)
	_ mcts.Predictor = (*OnnxClient)(nil)
	_ mcts.Predictor = (*OnnxPool)(nil)
)

func sum(xs []float32) float32 {
	s := float32(0)
	for _, x := range xs {
		s += x
	}
	return s
}

func TestUniform(t *testing.T) {
	policy, value, err := Uniform{Actions: 4}.Predict(make([]float32, 9))
	require.NoError(t, err)
	require.Equal(t, []float32{0.25, 0.25, 0.25, 0.25}, policy)
	require.Zero(t, value)
}

func TestLookup(t *testing.T) {
	l := Lookup{Actions: 7, Seed: 3}
	a := make([]float32, 42)
	b := make([]float32, 42)
	b[40] = 1

	p1, v1, err := l.Predict(a)
	require.NoError(t, err)
	p2, v2, err := l.Predict(a)
	require.NoError(t, err)
	require.Equal(t, p1, p2)
	require.Equal(t, v1, v2)

	require.InDelta(t, 1.0, sum(p1), 1e-5)
	require.GreaterOrEqual(t, v1, float32(-1))
	require.LessOrEqual(t, v1, float32(1))

	p3, _, err := l.Predict(b)
	require.NoError(t, err)
	require.NotEqual(t, p1, p3)

	p4, _, err := Lookup{Actions: 7, Seed: 4}.Predict(a)
	require.NoError(t, err)
	require.NotEqual(t, p1, p4)
}

func TestMLP_KnownWeights(t *testing.T) {
	w := MLPWeights{
		Trunk:  []LayerWeights{{In: 2, Out: 2, Weights: []float32{1, 0, 0, 1}, Bias: []float32{0, 0}}},
		Policy: LayerWeights{In: 2, Out: 2, Weights: []float32{1, 0, 0, 1}, Bias: []float32{0, 0}},
		Value:  LayerWeights{In: 2, Out: 1, Weights: []float32{0.5, 0.5}, Bias: []float32{0}},
	}

	path := filepath.Join(t.TempDir(), "weights.json")
	data, err := json.Marshal(w)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m, err := LoadMLP(path)
	require.NoError(t, err)
	require.Equal(t, 2, m.InputSize())
	require.Equal(t, 2, m.Actions())

	policy, value, err := m.Predict([]float32{1, -1})
	require.NoError(t, err)

	e := math.E
	require.InDelta(t, e/(e+1), policy[0], 1e-5)
	require.InDelta(t, 1/(e+1), policy[1], 1e-5)
	require.InDelta(t, math.Tanh(0.5), value, 1e-5)

	_, _, err = m.Predict([]float32{1})
	require.ErrorIs(t, err, ErrInputSize)
}

func TestMLP_RejectsBadShapes(t *testing.T) {
	good := func() MLPWeights {
		return MLPWeights{
			Trunk:  []LayerWeights{{In: 2, Out: 3, Weights: make([]float32, 6), Bias: make([]float32, 3)}},
			Policy: LayerWeights{In: 3, Out: 2, Weights: make([]float32, 6), Bias: make([]float32, 2)},
			Value:  LayerWeights{In: 3, Out: 1, Weights: make([]float32, 3), Bias: make([]float32, 1)},
		}
	}
	_, err := NewMLP(good())
	require.NoError(t, err)

	cases := map[string]func(w *MLPWeights){
		"no trunk":          func(w *MLPWeights) { w.Trunk = nil },
		"short weights":     func(w *MLPWeights) { w.Trunk[0].Weights = w.Trunk[0].Weights[:5] },
		"short bias":        func(w *MLPWeights) { w.Policy.Bias = nil },
		"policy mismatch":   func(w *MLPWeights) { w.Policy.In = 2 },
		"value not scalar":  func(w *MLPWeights) { w.Value.Out = 2 },
		"trunk chain break": func(w *MLPWeights) { w.Trunk = append(w.Trunk, LayerWeights{In: 4, Out: 3, Weights: make([]float32, 12), Bias: make([]float32, 3)}) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			w := good()
			mutate(&w)
			_, err := NewMLP(w)
			require.Error(t, err)
		})
	}

	_, err = LoadMLP(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestMLP_RandomDrivesSearch(t *testing.T) {
	g := rules.ConnectFour{}
	m, err := NewRandomMLP([]int{g.StateSize(), 32, 32, g.ActionSpaceSize()}, 7)
	require.NoError(t, err)

	policy, value, err := m.Predict(g.EncodeState(g.Start()))
	require.NoError(t, err)
	require.Len(t, policy, g.ActionSpaceSize())
	require.InDelta(t, 1.0, sum(policy), 1e-5)
	require.Greater(t, value, float32(-1))
	require.Less(t, value, float32(1))

	again, err := NewRandomMLP([]int{g.StateSize(), 32, 32, g.ActionSpaceSize()}, 7)
	require.NoError(t, err)
	p2, v2, err := again.Predict(g.EncodeState(g.Start()))
	require.NoError(t, err)
	require.Equal(t, policy, p2)
	require.Equal(t, value, v2)

	engine := mcts.MCTS{Config: mcts.Config{Cpuct: 1.25, Simulations: 64}, Game: g, Client: m}
	res, err := engine.Search(context.Background(), g.Start())
	require.NoError(t, err)
	require.InDelta(t, 1.0, sum(res.Policy), 1e-5)

	_, err = NewRandomMLP([]int{9, 9}, 1)
	require.Error(t, err)
}
