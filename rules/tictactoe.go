package rules

import (
	"github.com/brensch/zerosum/game"
)

const (
	TicTacToeName = "tictactoe"
	tttSize       = 3
)

// TicTacToe is 3x3 noughts and crosses. Action a places a piece on
// cell (a/3, a%3).
type TicTacToe struct{}

func (TicTacToe) Name() string { return TicTacToeName }

func (TicTacToe) Start() game.State {
	return game.NewState(tttSize, tttSize)
}

func (TicTacToe) IsValidAction(s game.State, action int) bool {
	if s.Terminal {
		return false
	}
	if action < 0 || action >= tttSize*tttSize {
		return false
	}
	return s.Board[action] == 0
}

func (t TicTacToe) ValidActions(s game.State) []int {
	return validActions(t, s)
}

func (t TicTacToe) Move(s game.State, action int) (game.State, float32, error) {
	if !t.IsValidAction(s, action) {
		return game.State{}, 0, game.InvalidActionError(TicTacToeName, action)
	}

	next := s.Clone()
	next.Board[action] = 1

	won := hasLine(next, 1, t.LineLength())
	next.Terminal = won || next.Full()

	reward := float32(0)
	if won {
		reward = 1
	}
	return next, reward, nil
}

// FlipBoard negates occupancy and rotates the board by 180 degrees.
func (TicTacToe) FlipBoard(s game.State) game.State {
	out := s.Clone()
	n := len(s.Board)
	for i, v := range s.Board {
		out.Board[n-1-i] = -v
	}
	return out
}

func (TicTacToe) OpponentReward(r float32) float32 { return -r }

func (TicTacToe) EncodeState(s game.State) []float32 { return encodeBoard(s) }

func (TicTacToe) ActionSpaceSize() int { return tttSize * tttSize }

func (TicTacToe) StateSize() int { return tttSize * tttSize }

func (TicTacToe) LineLength() int { return tttSize }

// MirrorAction maps a cell to its position after FlipBoard.
func (TicTacToe) MirrorAction(action int) int { return tttSize*tttSize - 1 - action }
