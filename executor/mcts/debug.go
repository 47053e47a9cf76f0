package mcts

import (
	"fmt"
	"io"
	"strings"
)

// DebugNode is a JSON-friendly snapshot of a tree node and its subtree.
type DebugNode struct {
	Action     int          `json:"action"`
	Player     int8         `json:"player"`
	VisitCount int          `json:"n"`
	Q          float32      `json:"q"`
	Prior      float32      `json:"p"`
	UCB        float32      `json:"ucb"`
	Terminal   bool         `json:"terminal"`
	Reward     float32      `json:"reward"`
	Board      []int8       `json:"board"`
	Children   []*DebugNode `json:"children,omitempty"`
}

// Snapshot copies the tree below id into DebugNodes, down to maxDepth levels.
// Children with fewer than minVisits visits are dropped.
func (t *Tree) Snapshot(id NodeID, maxDepth, minVisits int) *DebugNode {
	n := t.Node(id)
	out := &DebugNode{
		Action:     n.Action,
		Player:     n.Player,
		VisitCount: n.VisitCount,
		Q:          n.Q(),
		Prior:      n.Prior,
		Terminal:   n.State.Terminal,
		Reward:     n.Reward,
		Board:      append([]int8(nil), n.State.Board...),
	}
	if n.Parent != NoNode {
		out.UCB = t.UCB(n.Parent, id)
	}
	if maxDepth <= 0 {
		return out
	}
	for _, child := range n.Children {
		if t.Node(child).VisitCount < minVisits {
			continue
		}
		out.Children = append(out.Children, t.Snapshot(child, maxDepth-1, minVisits))
	}
	return out
}

// Print writes an indented outline of the tree, one node per line.
func (t *Tree) Print(w io.Writer, maxDepth int) error {
	return t.print(w, t.Root(), 0, maxDepth)
}

func (t *Tree) print(w io.Writer, id NodeID, depth, maxDepth int) error {
	n := t.Node(id)
	indent := strings.Repeat("  ", depth)
	if _, err := fmt.Fprintf(w, "%saction=%d player=%+d n=%d q=%.3f p=%.3f terminal=%v\n",
		indent, n.Action, n.Player, n.VisitCount, n.Q(), n.Prior, n.State.Terminal); err != nil {
		return err
	}
	if depth >= maxDepth {
		return nil
	}
	for _, child := range n.Children {
		if t.Node(child).VisitCount == 0 {
			continue
		}
		if err := t.print(w, child, depth+1, maxDepth); err != nil {
			return err
		}
	}
	return nil
}
