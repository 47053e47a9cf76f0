package mcts

import (
	"errors"

	"github.com/chewxy/math32"

	"github.com/brensch/zerosum/game"
)

// NodeID addresses a node inside its Tree.
type NodeID int32

const (
	// NoNode is the parent of the root.
	NoNode NodeID = -1
	// NoAction is the action recorded on the root.
	NoAction = -1
)

var (
	ErrNoSimulations = errors.New("no simulations reached the root's children")
	ErrTerminalRoot  = errors.New("search called on a terminal state")
	ErrPolicySize    = errors.New("policy length does not match action space")
)

// Node represents a state in the MCTS tree.
// ValueSum is accumulated from the perspective of the player to move in State.
type Node struct {
	ID       NodeID
	Parent   NodeID
	Action   int
	Player   int8
	Reward   float32
	Prior    float32
	State    game.State
	Children []NodeID

	VisitCount int
	ValueSum   float32

	expanded bool
}

// Q returns the mean value from this node's own perspective.
func (n *Node) Q() float32 {
	if n.VisitCount == 0 {
		return 0
	}
	return n.ValueSum / float32(n.VisitCount)
}

// Tree owns every node of one search. Nodes refer to each other by index,
// so dropping the Tree releases the whole search.
type Tree struct {
	Game  game.Game
	Cpuct float32

	nodes []Node
}

// NewTree creates a tree holding only the root for state.
func NewTree(g game.Game, state game.State, cpuct float32) *Tree {
	t := &Tree{
		Game:  g,
		Cpuct: cpuct,
		nodes: make([]Node, 0, 64),
	}
	t.nodes = append(t.nodes, Node{
		ID:     0,
		Parent: NoNode,
		Action: NoAction,
		Player: 1,
		Prior:  1,
		State:  state,
	})
	return t
}

// Root is always node 0.
func (t *Tree) Root() NodeID { return 0 }

// Node returns the node stored under id. The pointer is invalidated by the
// next Expand, which may grow the arena.
func (t *Tree) Node(id NodeID) *Node { return &t.nodes[id] }

// Len is the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.nodes) }

// IsFullyExpanded is true once the node has children, or once a terminal
// node has been evaluated at least once.
func (t *Tree) IsFullyExpanded(id NodeID) bool {
	n := &t.nodes[id]
	return len(n.Children) > 0 || (n.State.Terminal && n.VisitCount > 0)
}

// UCB scores child from parent's point of view:
// Q + c * P * sqrt(N_parent) / (1 + N_child), with Q negated because the
// child's statistics belong to the opponent.
func (t *Tree) UCB(parent, child NodeID) float32 {
	p := &t.nodes[parent]
	c := &t.nodes[child]

	q := float32(0)
	if c.VisitCount > 0 {
		q = -c.ValueSum / float32(c.VisitCount)
	}
	return q + t.Cpuct*c.Prior*math32.Sqrt(float32(p.VisitCount))/(1+float32(c.VisitCount))
}

// BestChild returns the child with the highest UCB. Ties go to the child
// created first. Returns NoNode when id has no children.
func (t *Tree) BestChild(id NodeID) NodeID {
	best := NoNode
	bestScore := math32.Inf(-1)
	for _, child := range t.nodes[id].Children {
		score := t.UCB(id, child)
		if best == NoNode || score > bestScore {
			best = child
			bestScore = score
		}
	}
	return best
}

// Expand creates one child per valid action of the node's state, in
// ascending action order. policy must already be masked and normalized.
// A node is expanded at most once; later calls do nothing.
func (t *Tree) Expand(id NodeID, policy []float32) error {
	if t.nodes[id].expanded || len(t.nodes[id].Children) > 0 {
		return nil
	}

	state := t.nodes[id].State
	player := t.nodes[id].Player
	actions := t.Game.ValidActions(state)
	children := make([]NodeID, 0, len(actions))

	for _, action := range actions {
		next, reward, err := game.Step(t.Game, state, action)
		if err != nil {
			return err
		}
		childID := NodeID(len(t.nodes))
		t.nodes = append(t.nodes, Node{
			ID:     childID,
			Parent: id,
			Action: action,
			Player: -player,
			Reward: t.Game.OpponentReward(reward),
			Prior:  policy[action],
			State:  next,
		})
		children = append(children, childID)
	}

	t.nodes[id].Children = children
	t.nodes[id].expanded = true
	return nil
}

// Backpropagate adds value to id and every ancestor, flipping the sign at
// each level so every node accumulates from its own perspective.
func (t *Tree) Backpropagate(id NodeID, value float32) {
	for id != NoNode {
		n := &t.nodes[id]
		n.VisitCount++
		n.ValueSum += value
		value = t.Game.OpponentReward(value)
		id = n.Parent
	}
}

// Depth is the number of edges between id and the root.
func (t *Tree) Depth(id NodeID) int {
	d := 0
	for t.nodes[id].Parent != NoNode {
		id = t.nodes[id].Parent
		d++
	}
	return d
}
