package rules

import (
	"github.com/brensch/zerosum/game"
)

const (
	ConnectFourName = "connectfour"
	c4Rows          = 6
	c4Cols          = 7
	c4Connect       = 4
)

// ConnectFour is the 6x7 gravity game. Actions are columns; row 0 is the
// top of the board, so a piece lands in the highest-numbered empty row.
type ConnectFour struct{}

func (ConnectFour) Name() string { return ConnectFourName }

func (ConnectFour) Start() game.State {
	return game.NewState(c4Rows, c4Cols)
}

func (ConnectFour) IsValidAction(s game.State, action int) bool {
	if s.Terminal {
		return false
	}
	if action < 0 || action >= c4Cols {
		return false
	}
	return s.At(0, action) == 0
}

func (c ConnectFour) ValidActions(s game.State) []int {
	return validActions(c, s)
}

func (c ConnectFour) Move(s game.State, action int) (game.State, float32, error) {
	if !c.IsValidAction(s, action) {
		return game.State{}, 0, game.InvalidActionError(ConnectFourName, action)
	}

	row := c4Rows - 1
	for row >= 0 && s.At(row, action) != 0 {
		row--
	}

	next := s.Clone()
	next.Set(row, action, 1)

	won := hasLine(next, 1, c.LineLength())
	next.Terminal = won || next.Full()

	reward := float32(0)
	if won {
		reward = 1
	}
	return next, reward, nil
}

// FlipBoard negates occupancy and mirrors columns.
func (ConnectFour) FlipBoard(s game.State) game.State {
	out := s.Clone()
	for r := 0; r < s.Rows; r++ {
		for col := 0; col < s.Cols; col++ {
			out.Set(r, s.Cols-1-col, -s.At(r, col))
		}
	}
	return out
}

func (ConnectFour) OpponentReward(r float32) float32 { return -r }

func (ConnectFour) EncodeState(s game.State) []float32 { return encodeBoard(s) }

func (ConnectFour) ActionSpaceSize() int { return c4Cols }

func (ConnectFour) StateSize() int { return c4Rows * c4Cols }

func (ConnectFour) LineLength() int { return c4Connect }

// MirrorAction maps a column to its position after FlipBoard.
func (ConnectFour) MirrorAction(action int) int { return c4Cols - 1 - action }
