package selfplay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brensch/zerosum/executor/convert"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/game"
	"github.com/brensch/zerosum/store"
)

// DebugTurn holds the search of a single traced turn.
type DebugTurn struct {
	Turn   int             `json:"turn"`
	Player int8            `json:"player"`
	State  game.State      `json:"-"`
	Result *mcts.Result    `json:"result"`
	Action int             `json:"action"`
	Tree   *mcts.DebugNode `json:"tree"`
}

// DebugGameResult holds the result of a debug game generation.
type DebugGameResult struct {
	GameID string
	Game   string
	Sims   int
	Cpuct  float32
	Turns  []DebugTurn
	Result Result
}

// DebugOptions controls how much of each search tree is captured.
type DebugOptions struct {
	TreeDepth int
	MinVisits int
}

// PlayDebugGame plays one greedy game with engine, keeping a snapshot of
// every search tree. The optional onProgress callback is called after each
// turn completes.
func PlayDebugGame(ctx context.Context, engine *mcts.MCTS, opts DebugOptions, onProgress func(DebugTurn)) (*DebugGameResult, error) {
	g := engine.Game
	result := &DebugGameResult{
		GameID: fmt.Sprintf("debug_%d", time.Now().UnixNano()),
		Game:   g.Name(),
		Sims:   engine.Config.Simulations,
		Cpuct:  engine.Config.Cpuct,
	}

	state := g.Start()
	player := int8(1)
	var lastMover int8
	var lastReward float32

	for turn := 0; !state.Terminal; turn++ {
		tree, _, err := engine.Run(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}
		res, err := mcts.Extract(tree)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}

		dt := DebugTurn{
			Turn:   turn,
			Player: player,
			State:  state,
			Result: res,
			Action: res.BestAction(),
			Tree:   tree.Snapshot(tree.Root(), opts.TreeDepth, opts.MinVisits),
		}
		result.Turns = append(result.Turns, dt)
		if onProgress != nil {
			onProgress(dt)
		}

		next, reward, err := game.Step(g, state, dt.Action)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}
		lastMover, lastReward = player, reward
		state = next
		player = -player
	}

	result.Result.Moves = len(result.Turns)
	if lastReward > 0 {
		result.Result.Winner = lastMover
	} else if lastReward < 0 {
		result.Result.Winner = -lastMover
	}
	return result, nil
}

// WriteDebugGameParquet writes a debug game result to parquet format.
func WriteDebugGameParquet(outDir string, result *DebugGameResult) (string, error) {
	rows := make([]store.DebugTurnRow, 0, len(result.Turns))
	for _, turn := range result.Turns {
		treeJSON, err := json.Marshal(turn.Tree)
		if err != nil {
			return "", fmt.Errorf("marshal tree: %w", err)
		}
		rows = append(rows, store.DebugTurnRow{
			GameID:   result.GameID,
			Game:     result.Game,
			Turn:     int32(turn.Turn),
			Player:   int32(turn.Player),
			Rows:     int32(turn.State.Rows),
			Cols:     int32(turn.State.Cols),
			Board:    convert.BoardToBytes(turn.State.Board),
			Action:   int32(turn.Action),
			TreeJSON: treeJSON,
			Sims:     int32(result.Sims),
			Cpuct:    result.Cpuct,
		})
	}
	return store.WriteDebugGameParquet(outDir, result.GameID, rows)
}
