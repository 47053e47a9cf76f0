package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zerosum/config"
	"github.com/brensch/zerosum/executor/selfplay"
	"github.com/brensch/zerosum/store"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Search.Simulations = 16
	cfg.SelfPlay.Workers = 2
	cfg.SelfPlay.GamesPerFlush = 2
	cfg.SelfPlay.MaxGames = 4
	cfg.SelfPlay.OutDir = t.TempDir()
	return cfg
}

func countRows(t *testing.T, dir string) (files, games, rows int) {
	t.Helper()
	paths, err := store.ListBatches(dir)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, p := range paths {
		got, err := store.ReadRows(p)
		require.NoError(t, err)
		for _, r := range got {
			ids[r.GameID] = true
		}
		rows += len(got)
	}
	return len(paths), len(ids), rows
}

func TestRunSelfPlay(t *testing.T) {
	for _, stream := range []bool{false, true} {
		name := "buffered"
		if stream {
			name = "stream"
		}
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			c := &counters{}
			updates := make(chan GameUpdate, 16)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			err := runSelfPlay(ctx, cfg, c, runOptions{Stream: stream, Updates: updates})
			require.NoError(t, err)

			games := int(c.games.Load())
			require.GreaterOrEqual(t, games, cfg.SelfPlay.MaxGames)
			require.Positive(t, c.moves.Load())
			require.GreaterOrEqual(t, c.inferences.Load(), c.moves.Load())

			files, written, rows := countRows(t, cfg.SelfPlay.OutDir)
			require.Equal(t, games, written)
			// Games cut short by the stop still count their moves.
			require.GreaterOrEqual(t, int(c.moves.Load()), rows)
			require.GreaterOrEqual(t, rows, games*5)
			require.GreaterOrEqual(t, files, 2)
			require.NotEmpty(t, updates)
		})
	}
}

func TestRunSelfPlay_BadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Game = "chess"
	err := runSelfPlay(context.Background(), cfg, &counters{}, runOptions{})
	require.Error(t, err)
}

func fakeRows(gameID string, n int) []store.TrainingRow {
	rows := make([]store.TrainingRow, n)
	for i := range rows {
		rows[i] = store.TrainingRow{GameID: gameID, Game: "tictactoe", Turn: int32(i), Rows: 3, Cols: 3}
	}
	return rows
}

func TestWriterLoops(t *testing.T) {
	loops := map[string]func(string, int, <-chan gameWriteRequest) error{
		"buffered": parquetWriterLoop,
		"stream":   streamWriterLoop,
	}
	for name, loop := range loops {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			in := make(chan gameWriteRequest, 8)
			in <- gameWriteRequest{rows: fakeRows("a", 3)}
			in <- gameWriteRequest{}
			in <- gameWriteRequest{rows: fakeRows("b", 5)}
			in <- gameWriteRequest{rows: fakeRows("c", 2)}
			close(in)

			require.NoError(t, loop(dir, 2, in))

			files, games, rows := countRows(t, dir)
			require.Equal(t, 2, files, "one full batch plus the final flush")
			require.Equal(t, 3, games)
			require.Equal(t, 10, rows)
		})
	}
}

func TestModel(t *testing.T) {
	cfg := config.Default()
	c := &counters{}
	c.moves.Store(7)
	updates := make(chan GameUpdate, 1)
	m := initialModel(updates, c, cfg)

	next, _ := m.Update(TickMsg(time.Now()))
	m = next.(model)
	require.Equal(t, int64(7), m.moves)

	for i := 0; i < recentGamesShown+2; i++ {
		next, cmd := m.Update(GameUpdate{WorkerID: i, Result: selfplay.Result{Winner: -1, Moves: 6}, Examples: 6})
		require.NotNil(t, cmd)
		m = next.(model)
	}
	require.Equal(t, recentGamesShown+2, m.gamesPlayed)
	require.Len(t, m.recentGames, recentGamesShown)
	require.Equal(t, recentGamesShown+2, m.outcomes[2])
	require.Contains(t, m.View(), "Winner O")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}
