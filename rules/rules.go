package rules

import (
	"fmt"
	"sort"

	"github.com/brensch/zerosum/game"
)

// ByName returns the registered game with the given name.
func ByName(name string) (game.Game, error) {
	switch name {
	case TicTacToeName:
		return TicTacToe{}, nil
	case ConnectFourName:
		return ConnectFour{}, nil
	default:
		return nil, fmt.Errorf("unknown game %q (known: %v)", name, Names())
	}
}

// Names lists the registered game names.
func Names() []string {
	names := []string{TicTacToeName, ConnectFourName}
	sort.Strings(names)
	return names
}

// FromBoard builds a canonical state of g from a row-major board where 1 is
// the side to move and -1 its opponent. The side to move has either as many
// pieces as the opponent or one fewer. Terminal is set when the board is
// full or either side already has a line.
func FromBoard(g game.Game, board []int8) (game.State, error) {
	s := g.Start()
	if len(board) != len(s.Board) {
		return game.State{}, fmt.Errorf("%s: board has %d cells, want %d", g.Name(), len(board), len(s.Board))
	}
	for i, v := range board {
		if v < -1 || v > 1 {
			return game.State{}, fmt.Errorf("%s: cell %d holds %d", g.Name(), i, v)
		}
	}
	copy(s.Board, board)

	own, opp := s.Pieces()
	if d := opp - own; d != 0 && d != 1 {
		return game.State{}, fmt.Errorf("%s: side to move has %d pieces against %d", g.Name(), own, opp)
	}

	lg, ok := g.(lineGame)
	if !ok {
		return game.State{}, fmt.Errorf("%s: no line rule to judge a finished board", g.Name())
	}
	n := lg.LineLength()
	s.Terminal = s.Full() || hasLine(s, 1, n) || hasLine(s, -1, n)
	return s, nil
}

// lineGame is a game won by the first side to get LineLength pieces in a row.
type lineGame interface {
	game.Game
	LineLength() int
}

// hasLine reports whether the side with value v has n in a row anywhere on the board.
func hasLine(s game.State, v int8, n int) bool {
	dirs := [4][2]int{{0, 1}, {1, 0}, {1, 1}, {-1, 1}}
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			if s.At(r, c) != v {
				continue
			}
			for _, d := range dirs {
				endR := r + d[0]*(n-1)
				endC := c + d[1]*(n-1)
				if endR < 0 || endR >= s.Rows || endC < 0 || endC >= s.Cols {
					continue
				}
				k := 1
				for ; k < n; k++ {
					if s.At(r+d[0]*k, c+d[1]*k) != v {
						break
					}
				}
				if k == n {
					return true
				}
			}
		}
	}
	return false
}

// encodeBoard flattens the board row-major into evaluator input.
func encodeBoard(s game.State) []float32 {
	out := make([]float32, len(s.Board))
	for i, v := range s.Board {
		out[i] = float32(v)
	}
	return out
}

func validActions(g game.Game, s game.State) []int {
	actions := make([]int, 0, g.ActionSpaceSize())
	for a := 0; a < g.ActionSpaceSize(); a++ {
		if g.IsValidAction(s, a) {
			actions = append(actions, a)
		}
	}
	return actions
}
