package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/zerosum/config"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/executor/selfplay"
	"github.com/brensch/zerosum/logging"
)

func main() {
	gameName := flag.String("game", config.EnvOr("GAME", "tictactoe"), "Game to play: tictactoe | connectfour")
	evaluator := flag.String("evaluator", config.EnvOr("EVALUATOR", config.EvaluatorUniform), "Evaluator: uniform | lookup | mlp | onnx")
	modelPath := flag.String("model", config.EnvOr("MODEL", ""), "Weights JSON (mlp) or model file (onnx)")
	outDir := flag.String("out-dir", "", "If set, write the traced game as parquet into this directory")
	sims := flag.Int("sims", 200, "Number of MCTS simulations per move")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	treeDepth := flag.Int("tree-depth", 2, "Depth of the stored search tree per turn")
	minVisits := flag.Int("min-visits", 1, "Skip stored tree nodes with fewer visits")
	viewer := flag.String("viewer", "http://localhost:8080", "Viewer base URL printed for written games")
	flag.Parse()

	if err := logging.Setup("info", true); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Game = *gameName
	cfg.Evaluator.Kind = *evaluator
	cfg.Evaluator.Path = *modelPath
	cfg.Search.Simulations = *sims
	cfg.Search.Cpuct = float32(*cpuct)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	engine, closeEval, err := cfg.Engine()
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}
	defer closeEval()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Info().Str("game", cfg.Game).Int("sims", *sims).Float64("cpuct", *cpuct).Str("evaluator", *evaluator).Msg("generating debug game")

	g := engine.Game
	onProgress := func(t selfplay.DebugTurn) {
		first := t.Player == 1
		mark := "X"
		if !first {
			mark = "O"
		}
		fmt.Printf("Turn %d: %s to move, value %+.3f\n", t.Turn, mark, t.Result.RootValue)
		fmt.Print(selfplay.RenderBoard(g, t.State, first))

		children := append([]mcts.ChildSummary(nil), t.Result.Children...)
		sort.Slice(children, func(i, j int) bool { return children[i].VisitCount > children[j].VisitCount })
		for _, c := range children {
			fmt.Printf("  action %2d  n=%-5d q=%+.3f p=%.3f\n", selfplay.AbsoluteAction(g, c.Action, first), c.VisitCount, c.Q, c.PriorProb)
		}
		fmt.Printf("  plays %d\n\n", selfplay.AbsoluteAction(g, t.Action, first))
	}

	result, err := selfplay.PlayDebugGame(ctx, engine, selfplay.DebugOptions{TreeDepth: *treeDepth, MinVisits: *minVisits}, onProgress)
	if err != nil {
		log.Fatal().Err(err).Msg("generate debug game")
	}

	winner := "draw"
	switch result.Result.Winner {
	case 1:
		winner = "X"
	case -1:
		winner = "O"
	}
	log.Info().Int("moves", result.Result.Moves).Str("winner", winner).Msg("game complete")

	if *outDir == "" {
		return
	}
	path, err := selfplay.WriteDebugGameParquet(*outDir, result)
	if err != nil {
		log.Fatal().Err(err).Msg("write debug game")
	}
	log.Info().Str("path", path).Msg("debug game written")
	fmt.Printf("\nOpen %s/api/debug_games/%s\n", *viewer, result.GameID)
}
