package selfplay

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zerosum/executor/convert"
	"github.com/brensch/zerosum/executor/inference"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/game"
	"github.com/brensch/zerosum/rules"
	"github.com/brensch/zerosum/store"
)

func newEngine(g game.Game, sims int, p mcts.Predictor) *mcts.MCTS {
	return &mcts.MCTS{Config: mcts.Config{Cpuct: 1.25, Simulations: sims}, Game: g, Client: p}
}

// replay re-applies the recorded actions and returns the final state.
func replay(t *testing.T, g game.Game, rows []store.TrainingRow) game.State {
	t.Helper()
	s := g.Start()
	for i, row := range rows {
		require.Equal(t, convert.BoardToBytes(s.Board), row.Board, "turn %d board", i)
		require.False(t, s.Terminal, "turn %d played after the end", i)
		var err error
		s, _, err = game.Step(g, s, int(row.Action))
		require.NoError(t, err)
	}
	return s
}

func TestPlayGame(t *testing.T) {
	for _, name := range rules.Names() {
		t.Run(name, func(t *testing.T) {
			g, err := rules.ByName(name)
			require.NoError(t, err)

			moves := 0
			out, err := PlayGame(context.Background(), g, newEngine(g, 40, inference.Uniform{Actions: g.ActionSpaceSize()}), Options{
				TemperatureMoves: 2,
				Seed:             11,
				OnMove:           func(Step) { moves++ },
			})
			require.NoError(t, err)
			require.NotEmpty(t, out.GameID)
			require.Len(t, out.Rows, out.Result.Moves)
			require.Equal(t, moves, out.Result.Moves)

			final := replay(t, g, out.Rows)
			require.True(t, final.Terminal)

			for i, row := range out.Rows {
				wantPlayer := int32(1)
				if i%2 == 1 {
					wantPlayer = -1
				}
				require.Equal(t, wantPlayer, row.Player)
				require.Equal(t, int32(i), row.Turn)
				require.Equal(t, g.Name(), row.Game)
				require.Equal(t, DefaultSource, row.Source)
				require.Equal(t, int32(out.Result.Winner), row.Winner)
				require.Equal(t, float32(int32(out.Result.Winner)*row.Player), row.Value)
				require.Greater(t, row.PolicyProbs[row.Action], float32(0))
				require.Len(t, row.State, g.StateSize()*convert.BytesPerFloat)
				require.NotEmpty(t, row.RootJSON)
			}
		})
	}
}

func TestPlayGame_LastMoverWins(t *testing.T) {
	g := rules.TicTacToe{}
	out, err := PlayGame(context.Background(), g, newEngine(g, 300, inference.Uniform{Actions: 9}), Options{Seed: 5})
	require.NoError(t, err)

	last := out.Rows[len(out.Rows)-1]
	if out.Result.Winner != 0 {
		require.Equal(t, int32(out.Result.Winner), last.Player, "only the player who just moved can have won")
		require.Equal(t, float32(1), last.Value)
		require.Equal(t, float32(-1), out.Rows[len(out.Rows)-2].Value)
	} else {
		require.Equal(t, 9, out.Result.Moves)
	}
}

func TestPlayGame_Deterministic(t *testing.T) {
	g := rules.ConnectFour{}
	engine := newEngine(g, 30, inference.Lookup{Actions: g.ActionSpaceSize(), Seed: 1})

	a, err := PlayGame(context.Background(), g, engine, Options{TemperatureMoves: 6, Seed: 3, GameID: "a"})
	require.NoError(t, err)
	b, err := PlayGame(context.Background(), g, engine, Options{TemperatureMoves: 6, Seed: 3, GameID: "b"})
	require.NoError(t, err)

	require.Equal(t, a.Result, b.Result)
	for i := range a.Rows {
		require.Equal(t, a.Rows[i].Action, b.Rows[i].Action)
		require.Equal(t, a.Rows[i].PolicyProbs, b.Rows[i].PolicyProbs)
	}
}

type failingSearcher struct{ err error }

func (f failingSearcher) Search(context.Context, game.State) (*mcts.Result, error) {
	return nil, f.err
}

func TestPlayGame_Errors(t *testing.T) {
	g := rules.TicTacToe{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PlayGame(ctx, g, newEngine(g, 10, inference.Uniform{Actions: 9}), Options{})
	require.ErrorIs(t, err, context.Canceled)

	boom := errors.New("boom")
	_, err = PlayGame(context.Background(), g, failingSearcher{err: boom}, Options{})
	require.ErrorIs(t, err, boom)
}

func TestSampleMove(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	seen := map[int]int{}
	for i := 0; i < 500; i++ {
		seen[sampleMove(rng, []float32{0, 0.5, 0, 0.5})]++
	}
	require.Len(t, seen, 2)
	require.Positive(t, seen[1])
	require.Positive(t, seen[3])

	require.Equal(t, 2, sampleMove(rng, []float32{0, 0, 1, 0}))
	// Rounding can leave the cumulative sum below the draw.
	require.Equal(t, 1, sampleMove(rng, []float32{0, 1e-9, 0}))
}

func TestRenderBoard(t *testing.T) {
	g := rules.TicTacToe{}
	s, _, err := game.Step(g, g.Start(), 0)
	require.NoError(t, err)

	// O to move: the view is flipped back so X stays in the corner it took.
	out := renderBoard(g, s, false, termenv.Ascii)
	require.Equal(t, "X . .\n. . .\n. . .\n", out)
	require.Equal(t, 0, AbsoluteAction(g, 8, false))
	require.Equal(t, 8, AbsoluteAction(g, 8, true))

	c4 := rules.ConnectFour{}
	s, _, err = game.Step(c4, c4.Start(), 2)
	require.NoError(t, err)
	out = renderBoard(c4, s, false, termenv.Ascii)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 7)
	require.Equal(t, ". . X . . . .", lines[5])
	require.Equal(t, "0 1 2 3 4 5 6", lines[6])

	require.NotEmpty(t, RenderBoard(g, g.Start(), true))
}

func TestPlayDebugGame(t *testing.T) {
	g := rules.TicTacToe{}
	engine := newEngine(g, 30, inference.Uniform{Actions: 9})

	turns := 0
	res, err := PlayDebugGame(context.Background(), engine, DebugOptions{TreeDepth: 1, MinVisits: 1}, func(DebugTurn) { turns++ })
	require.NoError(t, err)
	require.Equal(t, turns, len(res.Turns))
	require.Equal(t, res.Result.Moves, len(res.Turns))

	for _, turn := range res.Turns {
		require.NotNil(t, turn.Tree)
		require.Equal(t, 30, turn.Tree.VisitCount)
		require.Equal(t, turn.Result.BestAction(), turn.Action)
	}

	path, err := WriteDebugGameParquet(t.TempDir(), res)
	require.NoError(t, err)
	rows, err := store.ReadDebugGame(path)
	require.NoError(t, err)
	require.Len(t, rows, len(res.Turns))
	require.Equal(t, res.GameID, rows[0].GameID)
	require.NotEmpty(t, rows[0].TreeJSON)
}
