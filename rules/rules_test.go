package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/brensch/zerosum/game"
	"github.com/stretchr/testify/require"
)

func dumpState(s game.State) string {
	var b strings.Builder
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			switch s.At(r, c) {
			case 1:
				b.WriteByte('X')
			case -1:
				b.WriteByte('O')
			default:
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	if s.Terminal {
		b.WriteString("(terminal)\n")
	}
	return b.String()
}

func logStep(t *testing.T, name string, before game.State, action int, after game.State) {
	t.Helper()
	t.Logf("=== %s ===\nBefore:\n%sAction: %d\nAfter:\n%s", name, dumpState(before), action, dumpState(after))
}

func stateFrom(rows, cols int, cells ...int8) game.State {
	s := game.NewState(rows, cols)
	copy(s.Board, cells)
	return s
}

func TestByName(t *testing.T) {
	for _, name := range Names() {
		g, err := ByName(name)
		require.NoError(t, err)
		require.Equal(t, name, g.Name())
	}

	_, err := ByName("chess")
	require.Error(t, err)
}

func TestTicTacToe_MoveAndWin(t *testing.T) {
	g := TicTacToe{}

	t.Run("places piece for mover", func(t *testing.T) {
		before := g.Start()
		after, reward, err := g.Move(before, 4)
		logStep(t, "center", before, 4, after)
		require.NoError(t, err)
		require.Equal(t, float32(0), reward)
		require.Equal(t, int8(1), after.Board[4])
		require.False(t, after.Terminal)
		require.Equal(t, int8(0), before.Board[4], "move must not mutate its input")
	})

	t.Run("completing a row wins", func(t *testing.T) {
		before := stateFrom(3, 3,
			1, 1, 0,
			-1, -1, 0,
			0, 0, 0)
		after, reward, err := g.Move(before, 2)
		logStep(t, "row win", before, 2, after)
		require.NoError(t, err)
		require.Equal(t, float32(1), reward)
		require.True(t, after.Terminal)
	})

	t.Run("anti-diagonal wins", func(t *testing.T) {
		before := stateFrom(3, 3,
			0, -1, 1,
			0, 1, -1,
			0, 0, 0)
		after, reward, err := g.Move(before, 6)
		require.NoError(t, err)
		require.Equal(t, float32(1), reward)
		require.True(t, after.Terminal)
	})

	t.Run("full board is a draw", func(t *testing.T) {
		before := stateFrom(3, 3,
			1, -1, 1,
			1, -1, -1,
			-1, 1, 0)
		after, reward, err := g.Move(before, 8)
		logStep(t, "draw", before, 8, after)
		require.NoError(t, err)
		require.Equal(t, float32(0), reward)
		require.True(t, after.Terminal)
		require.Empty(t, g.ValidActions(after))
	})
}

func TestTicTacToe_InvalidActions(t *testing.T) {
	g := TicTacToe{}
	s := stateFrom(3, 3, 1, 0, 0, 0, 0, 0, 0, 0, 0)

	for _, a := range []int{-1, 9, 0} {
		require.False(t, g.IsValidAction(s, a), "action %d", a)
		_, _, err := g.Move(s, a)
		require.True(t, errors.Is(err, game.ErrInvalidAction), "action %d: %v", a, err)
	}

	s.Terminal = true
	require.False(t, g.IsValidAction(s, 4))
	require.Empty(t, g.ValidActions(s))
}

func TestTicTacToe_FlipBoard(t *testing.T) {
	g := TicTacToe{}
	s := stateFrom(3, 3,
		1, 0, 0,
		0, -1, 0,
		0, 1, 0)

	flipped := g.FlipBoard(s)
	want := stateFrom(3, 3,
		0, -1, 0,
		0, 1, 0,
		0, 0, -1)
	require.True(t, want.Equal(flipped), "got:\n%s", dumpState(flipped))

	for a := 0; a < g.ActionSpaceSize(); a++ {
		require.Equal(t, s.Board[a], -flipped.Board[g.MirrorAction(a)])
	}
}

func TestConnectFour_Gravity(t *testing.T) {
	g := ConnectFour{}
	s := g.Start()

	var err error
	for i := 0; i < 3; i++ {
		s, _, err = g.Move(s, 3)
		require.NoError(t, err)
	}
	require.Equal(t, int8(1), s.At(5, 3))
	require.Equal(t, int8(1), s.At(4, 3))
	require.Equal(t, int8(1), s.At(3, 3))
	require.Equal(t, int8(0), s.At(2, 3))

	full := g.Start()
	for r := 0; r < c4Rows; r++ {
		full.Set(r, 0, int8(1-2*(r%2)))
	}
	require.False(t, g.IsValidAction(full, 0))
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, g.ValidActions(full))

	_, _, err = g.Move(full, 0)
	require.ErrorIs(t, err, game.ErrInvalidAction)
	require.False(t, g.IsValidAction(full, 7))
}

func TestConnectFour_Wins(t *testing.T) {
	g := ConnectFour{}

	cases := []struct {
		name   string
		setup  func(s game.State)
		action int
	}{
		{
			name: "horizontal",
			setup: func(s game.State) {
				s.Set(5, 0, 1)
				s.Set(5, 1, 1)
				s.Set(5, 2, 1)
			},
			action: 3,
		},
		{
			name: "vertical",
			setup: func(s game.State) {
				s.Set(5, 6, 1)
				s.Set(4, 6, 1)
				s.Set(3, 6, 1)
			},
			action: 6,
		},
		{
			name: "rising diagonal",
			setup: func(s game.State) {
				s.Set(5, 0, 1)
				s.Set(5, 1, -1)
				s.Set(4, 1, 1)
				s.Set(5, 2, -1)
				s.Set(4, 2, -1)
				s.Set(3, 2, 1)
				s.Set(5, 3, -1)
				s.Set(4, 3, -1)
				s.Set(3, 3, -1)
			},
			action: 3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := g.Start()
			tc.setup(before)
			after, reward, err := g.Move(before, tc.action)
			logStep(t, tc.name, before, tc.action, after)
			require.NoError(t, err)
			require.Equal(t, float32(1), reward)
			require.True(t, after.Terminal)
		})
	}
}

func TestConnectFour_FlipBoardMirrorsColumns(t *testing.T) {
	g := ConnectFour{}
	s := g.Start()
	s.Set(5, 0, 1)
	s.Set(5, 1, -1)

	flipped := g.FlipBoard(s)
	require.Equal(t, int8(-1), flipped.At(5, 6))
	require.Equal(t, int8(1), flipped.At(5, 5))
	require.Equal(t, 6, g.MirrorAction(0))
}

func TestFlipBoardRoundTrip(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			g, err := ByName(name)
			require.NoError(t, err)

			s := g.Start()
			for i := 0; i < 5 && !s.Terminal; i++ {
				actions := g.ValidActions(s)
				s, _, err = game.Step(g, s, actions[(i*3)%len(actions)])
				require.NoError(t, err)

				twice := g.FlipBoard(g.FlipBoard(s))
				require.True(t, s.Equal(twice), "round trip changed board:\n%s\nvs\n%s", dumpState(s), dumpState(twice))
			}

			s.Terminal = true
			require.True(t, g.FlipBoard(s).Terminal)
		})
	}
}

func TestEncodeStateIsBoard(t *testing.T) {
	g := ConnectFour{}
	s := g.Start()
	s.Set(5, 2, 1)
	s.Set(0, 6, -1)

	enc := g.EncodeState(s)
	require.Len(t, enc, g.StateSize())
	require.Equal(t, float32(1), enc[5*c4Cols+2])
	require.Equal(t, float32(-1), enc[6])
}

func TestFromBoard(t *testing.T) {
	g := TicTacToe{}

	s, err := FromBoard(g, []int8{0, 0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.True(t, s.Equal(g.Start()))

	s, err = FromBoard(g, []int8{-1, 0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.False(t, s.Terminal)
	require.Len(t, g.ValidActions(s), 8)

	// The opponent has just completed the top row.
	s, err = FromBoard(g, []int8{-1, -1, -1, 1, 1, 0, 0, 0, 0})
	require.NoError(t, err)
	require.True(t, s.Terminal)
	require.Empty(t, g.ValidActions(s))

	_, err = FromBoard(g, []int8{0, 0, 0})
	require.Error(t, err)
	_, err = FromBoard(g, []int8{2, 0, 0, 0, 0, 0, 0, 0, 0})
	require.Error(t, err)
	_, err = FromBoard(g, []int8{1, 0, 0, 0, 0, 0, 0, 0, 0})
	require.Error(t, err, "side to move cannot be ahead")

	c4 := ConnectFour{}
	board := make([]int8, c4Rows*c4Cols)
	for r := 2; r < c4Rows; r++ {
		board[r*c4Cols] = -1
	}
	for r := 3; r < c4Rows; r++ {
		board[r*c4Cols+1] = 1
	}
	s, err = FromBoard(c4, board)
	require.NoError(t, err)
	require.True(t, s.Terminal, "four in column 0")

	// Three in a row ends tic-tac-toe but not connect four.
	board = make([]int8, c4Rows*c4Cols)
	for r := 3; r < c4Rows; r++ {
		board[r*c4Cols] = -1
		board[r*c4Cols+1] = 1
	}
	s, err = FromBoard(c4, board)
	require.NoError(t, err)
	require.False(t, s.Terminal)
}

// opaqueGame hides every method outside game.Game.
type opaqueGame struct{ game.Game }

func TestFromBoard_NeedsLineLength(t *testing.T) {
	require.Equal(t, 3, TicTacToe{}.LineLength())
	require.Equal(t, 4, ConnectFour{}.LineLength())

	_, err := FromBoard(opaqueGame{TicTacToe{}}, make([]int8, 9))
	require.ErrorContains(t, err, "no line rule")
}
