package mcts

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/rs/zerolog/log"

	"github.com/brensch/zerosum/game"
)

// Predictor maps an encoded state to a policy over the full action space and
// a value in [-1, 1] for the side to move.
type Predictor interface {
	Predict(encoded []float32) ([]float32, float32, error)
}

// Config holds MCTS configuration
type Config struct {
	Cpuct       float32
	Simulations int
}

// MCTS holds the search context
type MCTS struct {
	Config Config
	Game   game.Game
	Client Predictor
}

// Stats describes one completed Run.
type Stats struct {
	Simulations        int
	MaxDepth           int
	DegeneratePolicies int
	Evaluations        int
}

// ChildSummary is a compact representation of a child at the root level
type ChildSummary struct {
	Action     int     `json:"action"`
	VisitCount int     `json:"n"`
	Q          float32 `json:"q"`
	PriorProb  float32 `json:"p"`
}

// Result is the outcome of Search.
// Policy is the normalized visit distribution over the full action space.
type Result struct {
	Policy             []float32      `json:"policy"`
	Visits             []int          `json:"visits"`
	RootValue          float32        `json:"value"`
	Simulations        int            `json:"simulations"`
	MaxDepth           int            `json:"max_depth"`
	DegeneratePolicies int            `json:"degenerate_policies"`
	Children           []ChildSummary `json:"children"`
}

// BestAction returns the most visited action, lowest index on ties.
func (r *Result) BestAction() int {
	best := -1
	bestN := -1
	for a, n := range r.Visits {
		if n > bestN {
			best = a
			bestN = n
		}
	}
	return best
}

// Search runs the configured number of simulations from state and returns
// the visit-count distribution of the root's children.
func (m *MCTS) Search(ctx context.Context, state game.State) (*Result, error) {
	tree, stats, err := m.Run(ctx, state)
	if err != nil {
		return nil, err
	}

	res, err := Extract(tree)
	if err != nil {
		return nil, err
	}
	res.Simulations = stats.Simulations
	res.MaxDepth = stats.MaxDepth
	res.DegeneratePolicies = stats.DegeneratePolicies
	return res, nil
}

// Run builds a fresh tree for state and runs the MCTS simulations on it.
func (m *MCTS) Run(ctx context.Context, state game.State) (*Tree, Stats, error) {
	var stats Stats
	if state.Terminal {
		return nil, stats, ErrTerminalRoot
	}

	tree := NewTree(m.Game, state, m.Config.Cpuct)

	for i := 0; i < m.Config.Simulations; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return tree, stats, ctx.Err()
			default:
			}
		}

		// Selection
		node := tree.Root()
		for tree.IsFullyExpanded(node) && !tree.Node(node).State.Terminal {
			node = tree.BestChild(node)
		}

		if d := tree.Depth(node); d > stats.MaxDepth {
			stats.MaxDepth = d
		}

		// Expansion & Evaluation
		var value float32
		if tree.Node(node).State.Terminal {
			value = tree.Node(node).Reward
		} else {
			v, degenerate, err := m.evaluate(tree, node)
			if err != nil {
				return tree, stats, err
			}
			stats.Evaluations++
			if degenerate {
				stats.DegeneratePolicies++
			}
			value = v
		}

		// Backpropagation
		tree.Backpropagate(node, value)
		stats.Simulations++
	}

	return tree, stats, nil
}

// evaluate asks the predictor about node, masks the policy to the legal
// actions and expands the node with it.
func (m *MCTS) evaluate(tree *Tree, node NodeID) (float32, bool, error) {
	state := tree.Node(node).State

	policy, value, err := m.Client.Predict(m.Game.EncodeState(state))
	if err != nil {
		return 0, false, fmt.Errorf("predict: %w", err)
	}
	if len(policy) != m.Game.ActionSpaceSize() {
		return 0, false, fmt.Errorf("%w: got %d want %d", ErrPolicySize, len(policy), m.Game.ActionSpaceSize())
	}

	masked, degenerate := MaskPolicy(policy, m.Game.ValidActions(state), m.Game.ActionSpaceSize())
	if degenerate {
		log.Debug().Str("game", m.Game.Name()).Int("node", int(node)).Msg("degenerate policy, using uniform priors")
	}

	if err := tree.Expand(node, masked); err != nil {
		return 0, false, err
	}
	return value, degenerate, nil
}

// MaskPolicy zeroes every action outside valid and renormalizes. When the
// remaining mass is not a positive finite number the result is uniform over
// valid and degenerate is true.
func MaskPolicy(policy []float32, valid []int, actionSpace int) (masked []float32, degenerate bool) {
	masked = make([]float32, actionSpace)
	sum := float32(0)
	for _, a := range valid {
		p := policy[a]
		if p < 0 || math32.IsNaN(p) {
			p = 0
		}
		masked[a] = p
		sum += p
	}

	if sum > 0 && !math32.IsInf(sum, 0) {
		inv := 1 / sum
		for _, a := range valid {
			masked[a] *= inv
		}
		return masked, false
	}

	if len(valid) == 0 {
		return masked, true
	}
	uniform := 1 / float32(len(valid))
	for _, a := range valid {
		masked[a] = uniform
	}
	return masked, true
}

// Extract turns the root's children visit counts into a distribution over
// the full action space.
func Extract(tree *Tree) (*Result, error) {
	actionSpace := tree.Game.ActionSpaceSize()
	root := tree.Node(tree.Root())

	res := &Result{
		Policy:    make([]float32, actionSpace),
		Visits:    make([]int, actionSpace),
		RootValue: root.Q(),
		Children:  make([]ChildSummary, 0, len(root.Children)),
	}

	total := 0
	for _, id := range root.Children {
		child := tree.Node(id)
		res.Visits[child.Action] = child.VisitCount
		total += child.VisitCount
		res.Children = append(res.Children, ChildSummary{
			Action:     child.Action,
			VisitCount: child.VisitCount,
			Q:          -child.Q(),
			PriorProb:  child.Prior,
		})
	}
	if total == 0 {
		return nil, ErrNoSimulations
	}

	inv := 1 / float32(total)
	for a, n := range res.Visits {
		res.Policy[a] = float32(n) * inv
	}
	return res, nil
}
