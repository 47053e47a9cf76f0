// Package game defines the contract every two-player, zero-sum board game
// implements so that a single search engine and a single evaluator can play it.
//
// States are canonical: the board is always expressed from the perspective of
// the player about to move (own pieces +1, opponent pieces -1, empty 0). A
// transition is always Move followed by FlipBoard, see Step.
package game

// State is a board position from the side-to-move's perspective.
// Board is row-major with Rows*Cols cells.
type State struct {
	Board    []int8
	Rows     int
	Cols     int
	Terminal bool
}

// NewState returns an empty, non-terminal rows x cols position.
func NewState(rows, cols int) State {
	return State{
		Board: make([]int8, rows*cols),
		Rows:  rows,
		Cols:  cols,
	}
}

// Clone performs a deep copy of the state.
func (s State) Clone() State {
	out := State{
		Rows:     s.Rows,
		Cols:     s.Cols,
		Terminal: s.Terminal,
	}
	if len(s.Board) > 0 {
		out.Board = make([]int8, len(s.Board))
		copy(out.Board, s.Board)
	}
	return out
}

// At returns the cell at (row, col).
func (s State) At(row, col int) int8 {
	return s.Board[row*s.Cols+col]
}

// Set writes v into the cell at (row, col).
func (s State) Set(row, col int, v int8) {
	s.Board[row*s.Cols+col] = v
}

// Full reports whether no empty cell remains.
func (s State) Full() bool {
	for _, v := range s.Board {
		if v == 0 {
			return false
		}
	}
	return true
}

// Equal compares shape, board contents and the terminal flag.
func (s State) Equal(other State) bool {
	if s.Rows != other.Rows || s.Cols != other.Cols || s.Terminal != other.Terminal {
		return false
	}
	if len(s.Board) != len(other.Board) {
		return false
	}
	for i := range s.Board {
		if s.Board[i] != other.Board[i] {
			return false
		}
	}
	return true
}

// Pieces counts own and opponent pieces on the board.
func (s State) Pieces() (own, opp int) {
	for _, v := range s.Board {
		switch {
		case v > 0:
			own++
		case v < 0:
			opp++
		}
	}
	return own, opp
}
