package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/brensch/zerosum/config"
	"github.com/brensch/zerosum/executor/arena"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/logging"
)

type side struct {
	sims      *int
	cpuct     *float64
	evaluator *string
	model     *string
	seed      *int64
}

func sideFlags(name string, sims int) side {
	return side{
		sims:      flag.Int(name+"-sims", sims, "Simulations per move for engine "+name),
		cpuct:     flag.Float64(name+"-cpuct", 1.0, "PUCT exploration constant for engine "+name),
		evaluator: flag.String(name+"-evaluator", config.EvaluatorUniform, "Evaluator for engine "+name+": uniform | lookup | mlp | onnx"),
		model:     flag.String(name+"-model", "", "Weights JSON (mlp) or model file (onnx) for engine "+name),
		seed:      flag.Int64(name+"-seed", 1, "Seed for lookup and random mlp evaluators of engine "+name),
	}
}

func (s side) engine(game string) (*mcts.MCTS, func() error, error) {
	cfg := config.Default()
	cfg.Game = game
	cfg.Search.Simulations = *s.sims
	cfg.Search.Cpuct = float32(*s.cpuct)
	cfg.Evaluator.Kind = *s.evaluator
	cfg.Evaluator.Path = *s.model
	cfg.Evaluator.Seed = *s.seed
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg.Engine()
}

func main() {
	gameName := flag.String("game", config.EnvOr("GAME", "tictactoe"), "Game to play: tictactoe | connectfour")
	games := flag.Int("games", 20, "Number of games; engines alternate starting")
	openingMoves := flag.Int("opening-moves", 2, "Opening moves sampled from the visit distribution")
	seed := flag.Int64("seed", 0, "Seed for opening sampling; 0 uses the clock")
	verbose := flag.Bool("v", false, "Log every game")
	a := sideFlags("a", 400)
	b := sideFlags("b", 100)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	if err := logging.Setup(level, true); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	engineA, closeA, err := a.engine(*gameName)
	if err != nil {
		log.Fatal().Err(err).Msg("engine a")
	}
	defer closeA()
	engineB, closeB, err := b.engine(*gameName)
	if err != nil {
		log.Fatal().Err(err).Msg("engine b")
	}
	defer closeB()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("game", *gameName).
		Int("games", *games).
		Str("a", fmt.Sprintf("%s/%d/%.2f", *a.evaluator, *a.sims, *a.cpuct)).
		Str("b", fmt.Sprintf("%s/%d/%.2f", *b.evaluator, *b.sims, *b.cpuct)).
		Msg("starting arena")

	tally, err := arena.Play(ctx, engineA.Game, engineA, engineB, arena.Options{
		Games:        *games,
		OpeningMoves: *openingMoves,
		Seed:         *seed,
		OnGame: func(r arena.GameRecord) {
			result := "draw"
			switch r.Winner {
			case 1:
				result = "a"
			case -1:
				result = "b"
			}
			fmt.Printf("game %3d  a_started=%-5v winner=%-4s moves=%d\n", r.Index, r.AStarted, result, r.Moves)
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("arena stopped early")
	}
	fmt.Println(tally)
}
