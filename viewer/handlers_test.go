package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zerosum/config"
	"github.com/brensch/zerosum/executor/inference"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/executor/selfplay"
	"github.com/brensch/zerosum/rules"
	"github.com/brensch/zerosum/store"
)

// winInOne has the side to move two in a row on the top line.
var winInOne = []int8{1, 1, 0, -1, -1, 0, 0, 0, 0}

func newTestServer(t *testing.T, roots []string, debugDir string) *httptest.Server {
	t.Helper()
	server := NewServer(roots, debugDir, NewSearcher(SearchOptions{
		Evaluator:      config.EvaluatorConfig{Kind: config.EvaluatorUniform},
		Simulations:    100,
		Cpuct:          1,
		MaxSimulations: 2000,
	}))
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = server.Close()
	})
	return ts
}

func postSearch(t *testing.T, ts *httptest.Server, req any) (*http.Response, []byte) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/search", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, nil, t.TempDir())

	resp, body := postSearch(t, ts, SearchRequest{Game: rules.TicTacToeName, Board: winInOne, Simulations: 400, TreeDepth: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got SearchResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, rules.TicTacToeName, got.Game)
	require.Equal(t, 2, got.BestAction)
	require.Equal(t, 400, got.Simulations)
	require.Len(t, got.Policy, 9)
	require.Greater(t, got.Policy[2], float32(0.5))
	require.Zero(t, got.Visits[0], "occupied cells are never visited")
	require.NotNil(t, got.Tree)
	require.Equal(t, 400, got.Tree.VisitCount)

	// Defaults fill in missing simulations.
	resp, body = postSearch(t, ts, SearchRequest{Game: rules.ConnectFourName, Board: make([]int8, 42)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var defaults SearchResponse
	require.NoError(t, json.Unmarshal(body, &defaults))
	require.Equal(t, 100, defaults.Simulations)
	require.Len(t, defaults.Policy, 7)
	require.Nil(t, defaults.Tree)
}

func TestSearchEndpoint_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil, t.TempDir())

	cases := map[string]any{
		"unknown game":  SearchRequest{Game: "chess", Board: winInOne},
		"short board":   SearchRequest{Game: rules.TicTacToeName, Board: []int8{0, 0}},
		"terminal":      SearchRequest{Game: rules.TicTacToeName, Board: []int8{-1, -1, -1, 1, 1, 0, 0, 0, 0}},
		"too many sims": SearchRequest{Game: rules.TicTacToeName, Board: winInOne, Simulations: 5000},
		"negative":      SearchRequest{Game: rules.TicTacToeName, Board: winInOne, Cpuct: -1},
		"one sim":       SearchRequest{Game: rules.TicTacToeName, Board: winInOne, Simulations: 1},
		"negative sims": SearchRequest{Game: rules.TicTacToeName, Board: winInOne, Simulations: -3},
		"not json":      json.RawMessage(`"nope"`),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			resp, body := postSearch(t, ts, req)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			require.NotEmpty(t, e.Error)
		})
	}

	require.Equal(t, http.StatusMethodNotAllowed, getJSON(t, ts, "/api/search", nil))
}

func TestSearchTerminalMentionsRoot(t *testing.T) {
	s := NewSearcher(SearchOptions{Evaluator: config.EvaluatorConfig{Kind: config.EvaluatorUniform}, Simulations: 10})
	_, err := s.Search(context.Background(), SearchRequest{Game: rules.TicTacToeName, Board: []int8{-1, -1, -1, 1, 1, 0, 0, 0, 0}})
	require.ErrorIs(t, err, errBadRequest)
	require.ErrorContains(t, err, mcts.ErrTerminalRoot.Error())
}

func TestWebsocketSearch(t *testing.T) {
	ts := newTestServer(t, nil, t.TempDir())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(SearchRequest{Game: rules.TicTacToeName, Board: winInOne, Simulations: 300}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"game":"tictactoe","board":[1]}`)))

	var first SearchResponse
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, 2, first.BestAction)
	require.Equal(t, 300, first.Simulations)

	var second ErrorResponse
	require.NoError(t, conn.ReadJSON(&second))
	require.Contains(t, second.Error, "board")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func writeSelfPlay(t *testing.T, dir string, games int) []selfplay.Outcome {
	t.Helper()
	g := rules.TicTacToe{}
	engine := &mcts.MCTS{Config: mcts.Config{Cpuct: 1, Simulations: 20}, Game: g, Client: inference.Uniform{Actions: 9}}

	var outcomes []selfplay.Outcome
	var rows []store.TrainingRow
	for i := 0; i < games; i++ {
		out, err := selfplay.PlayGame(context.Background(), g, engine, selfplay.Options{TemperatureMoves: 2, Seed: int64(i + 1)})
		require.NoError(t, err)
		outcomes = append(outcomes, out)
		rows = append(rows, out.Rows...)
	}
	_, err := store.WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)
	return outcomes
}

func TestGamesEndpoints(t *testing.T) {
	// The data root itself sits below a tmp directory; only tmp directories
	// inside the root hold unfinished batches.
	dir := filepath.Join(t.TempDir(), "tmp", "generated")
	outcomes := writeSelfPlay(t, dir, 3)
	writeSelfPlay(t, filepath.Join(dir, "tmp"), 1)
	ts := newTestServer(t, []string{dir}, t.TempDir())

	var games GamesResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/games?sort=moves&dir=asc", &games))
	require.Equal(t, int64(3), games.Total)
	require.Len(t, games.Games, 3)
	for i := 1; i < len(games.Games); i++ {
		require.LessOrEqual(t, games.Games[i-1].Moves, games.Games[i].Moves)
	}

	var page GamesResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/games?limit=1&offset=2", &page))
	require.Equal(t, int64(3), page.Total)
	require.Len(t, page.Games, 1)

	want := outcomes[0]
	var turns []Turn
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/games/"+url.PathEscape(want.GameID), &turns))
	require.Len(t, turns, len(want.Rows))
	for i, turn := range turns {
		row := want.Rows[i]
		require.Equal(t, row.Turn, turn.Turn)
		require.Equal(t, row.Action, turn.Action)
		require.Equal(t, row.Player, turn.Player)
		require.Equal(t, int32(want.Result.Winner), turn.Winner)
		require.Len(t, turn.Board, 9)
		require.InDeltaSlice(t, row.PolicyProbs, turn.PolicyProbs, 1e-6)
		require.NotEmpty(t, turn.Root)
	}

	require.Equal(t, http.StatusNotFound, getJSON(t, ts, "/api/games/missing", nil))

	var summary SummaryResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/summary", &summary))
	require.Equal(t, int64(3), summary.Games)
	var counted int64
	for _, c := range summary.Counts {
		require.Equal(t, rules.TicTacToeName, c.Game)
		counted += c.Games
	}
	require.Equal(t, int64(3), counted)
}

func TestGamesEndpoints_RootNamedTmp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tmp")
	writeSelfPlay(t, dir, 2)
	ts := newTestServer(t, []string{dir}, t.TempDir())

	var games GamesResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/games", &games))
	require.Equal(t, int64(2), games.Total)
}

func TestGamesEndpoints_Empty(t *testing.T) {
	ts := newTestServer(t, []string{t.TempDir()}, t.TempDir())

	var games GamesResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/games", &games))
	require.Zero(t, games.Total)

	var summary SummaryResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/summary", &summary))
	require.Zero(t, summary.Games)
}

func TestDebugGamesEndpoints(t *testing.T) {
	debugDir := t.TempDir()
	g := rules.TicTacToe{}
	engine := &mcts.MCTS{Config: mcts.Config{Cpuct: 1, Simulations: 25}, Game: g, Client: inference.Uniform{Actions: 9}}
	res, err := selfplay.PlayDebugGame(context.Background(), engine, selfplay.DebugOptions{TreeDepth: 1, MinVisits: 1}, nil)
	require.NoError(t, err)
	_, err = selfplay.WriteDebugGameParquet(debugDir, res)
	require.NoError(t, err)

	ts := newTestServer(t, nil, debugDir)

	var list []DebugGameSummary
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/debug_games", &list))
	require.Len(t, list, 1)
	require.Equal(t, res.GameID, list[0].GameID)
	require.Equal(t, len(res.Turns), list[0].TurnCount)
	require.Equal(t, 25, list[0].Sims)

	var game DebugGameResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/debug_games/"+res.GameID, &game))
	require.Len(t, game.Turns, len(res.Turns))
	require.NotEmpty(t, game.Turns[0].Tree)

	require.Equal(t, http.StatusNotFound, getJSON(t, ts, "/api/debug_games/nothing", nil))
}

func TestPaginateGames(t *testing.T) {
	games := []GameSummary{
		{GameID: "b", Moves: 5},
		{GameID: "a", Moves: 9},
		{GameID: "c", Moves: 5},
	}
	page, total := paginateGames(games, 2, 0, "moves", "desc")
	require.Equal(t, int64(3), total)
	require.Equal(t, []string{"a", "c"}, []string{page[0].GameID, page[1].GameID})

	page, _ = paginateGames(games, 0, 5, "", "")
	require.Empty(t, page)
	require.Equal(t, "b", games[0].GameID, "the index is not reordered")
}
