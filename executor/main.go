package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/brensch/zerosum/config"
	"github.com/brensch/zerosum/executor/inference"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/executor/selfplay"
	"github.com/brensch/zerosum/logging"
	"github.com/brensch/zerosum/store"
)

// counters are shared by the workers, the stats log and the TUI.
type counters struct {
	moves      atomic.Int64
	inferences atomic.Int64
	games      atomic.Int64
}

type instrumentedClient struct {
	mcts.Predictor
	c *counters
}

func (ic *instrumentedClient) Predict(encoded []float32) ([]float32, float32, error) {
	ic.c.inferences.Add(1)
	return ic.Predictor.Predict(encoded)
}

type GameUpdate struct {
	WorkerID int
	GameID   string
	Result   selfplay.Result
	Examples int
}

type gameWriteRequest struct {
	rows []store.TrainingRow
}

type runOptions struct {
	Stream bool
	// Updates receives one message per finished game when non-nil.
	Updates chan<- GameUpdate
}

func main() {
	configPath := flag.String("config", config.EnvOr("ZEROSUM_CONFIG", ""), "Optional YAML config file; explicit flags override it")
	gameName := flag.String("game", config.EnvOr("GAME", "tictactoe"), "Game to generate: tictactoe | connectfour")
	sims := flag.Int("sims", config.EnvIntOr("SIMS", 200), "MCTS simulations per move")
	cpuct := flag.Float64("cpuct", config.EnvFloatOr("CPUCT", 1.0), "PUCT exploration constant")
	evaluator := flag.String("evaluator", config.EnvOr("EVALUATOR", config.EvaluatorUniform), "Evaluator: uniform | lookup | mlp | onnx")
	modelPath := flag.String("model", config.EnvOr("MODEL", ""), "Weights JSON (mlp) or model file (onnx)")
	outDir := flag.String("out-dir", config.EnvOr("OUT_DIR", "data/generated"), "Output directory for generated training parquet batches")
	workers := flag.Int("workers", config.EnvIntOr("WORKERS", 8), "Number of self-play workers")
	gamesPerFlush := flag.Int("games-per-flush", config.EnvIntOr("GAMES_PER_FLUSH", 50), "Number of games to buffer per parquet flush")
	tempMoves := flag.Int("temperature-moves", config.EnvIntOr("TEMPERATURE_MOVES", 4), "Opening moves sampled from the visit distribution")
	maxGames := flag.Int("max-games", config.EnvIntOr("MAX_GAMES", 0), "If > 0, stop after generating this many games (across all workers)")
	onnxSessions := flag.Int("onnx-sessions", config.EnvIntOr("ONNX_SESSIONS", 1), "Number of ONNX Runtime sessions to run in parallel")
	onnxBatchSize := flag.Int("onnx-batch-size", config.EnvIntOr("ONNX_BATCH_SIZE", inference.DefaultBatchSize), "ONNX inference batch size")
	onnxBatchTimeout := flag.Duration("onnx-batch-timeout", config.EnvDurationOr("ONNX_BATCH_TIMEOUT", inference.DefaultBatchTimeout), "Max time to wait for filling an ONNX batch")
	stream := flag.Bool("stream", config.EnvBoolOr("STREAM", false), "Stream games into the open parquet file instead of buffering rows in memory")
	useTUI := flag.Bool("tui", false, "Show a live progress view instead of periodic stats logs")
	logLevel := flag.String("log-level", config.EnvOr("LOG_LEVEL", "info"), "Log level")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	apply := func(name string, fn func()) {
		if *configPath == "" || set[name] {
			fn()
		}
	}
	apply("game", func() { cfg.Game = *gameName })
	apply("sims", func() { cfg.Search.Simulations = *sims })
	apply("cpuct", func() { cfg.Search.Cpuct = float32(*cpuct) })
	apply("evaluator", func() { cfg.Evaluator.Kind = *evaluator })
	apply("model", func() { cfg.Evaluator.Path = *modelPath })
	apply("out-dir", func() { cfg.SelfPlay.OutDir = *outDir })
	apply("workers", func() { cfg.SelfPlay.Workers = *workers })
	apply("games-per-flush", func() { cfg.SelfPlay.GamesPerFlush = *gamesPerFlush })
	apply("temperature-moves", func() { cfg.SelfPlay.TemperatureMoves = *tempMoves })
	apply("max-games", func() { cfg.SelfPlay.MaxGames = *maxGames })
	apply("onnx-sessions", func() { cfg.Evaluator.Sessions = *onnxSessions })
	apply("onnx-batch-size", func() { cfg.Evaluator.BatchSize = *onnxBatchSize })
	apply("onnx-batch-timeout", func() { cfg.Evaluator.BatchTimeout = *onnxBatchTimeout })
	apply("log-level", func() { cfg.Log.Level = *logLevel })

	if *useTUI {
		// Keep the alt screen clean.
		f, err := os.OpenFile("selfplay.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		if err := logging.SetupWriter(f, cfg.Log.Level, false); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	} else if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	c := &counters{}
	opts := runOptions{Stream: *stream}

	if *useTUI {
		updates := make(chan GameUpdate, cfg.SelfPlay.Workers)
		opts.Updates = updates
		p := tea.NewProgram(initialModel(updates, c, cfg), tea.WithAltScreen())
		go func() {
			if _, err := p.Run(); err != nil {
				log.Error().Err(err).Msg("tui stopped")
			}
			cancel()
		}()
		defer p.Quit()
	}

	if err := runSelfPlay(ctx, cfg, c, opts); err != nil {
		log.Fatal().Err(err).Msg("self-play failed")
	}
}

// runSelfPlay runs workers until ctx is cancelled or MaxGames games have
// finished, then flushes everything still buffered.
func runSelfPlay(ctx context.Context, cfg config.Config, c *counters, opts runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine, closeEval, err := cfg.Engine()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() { _ = closeEval() }()
	statsProvider := engine.Client
	engine.Client = &instrumentedClient{Predictor: engine.Client, c: c}

	log.Info().
		Str("game", cfg.Game).
		Str("evaluator", cfg.Evaluator.Kind).
		Int("workers", cfg.SelfPlay.Workers).
		Int("sims", cfg.Search.Simulations).
		Str("out_dir", cfg.SelfPlay.OutDir).
		Msg("starting self-play")

	workers := cfg.SelfPlay.Workers
	// Each worker searches sequentially, so at most one request per worker
	// is in flight.
	if cfg.Evaluator.Kind == config.EvaluatorOnnx && cfg.Evaluator.BatchSize > workers {
		log.Warn().Int("batch_size", cfg.Evaluator.BatchSize).Int("workers", workers).Msg("onnx batch size exceeds in-flight requests; batches will cap near the worker count")
	}

	writeReqs := make(chan gameWriteRequest, workers*4)
	writerDone := make(chan error, 1)
	go func() {
		if opts.Stream {
			writerDone <- streamWriterLoop(cfg.SelfPlay.OutDir, cfg.SelfPlay.GamesPerFlush, writeReqs)
		} else {
			writerDone <- parquetWriterLoop(cfg.SelfPlay.OutDir, cfg.SelfPlay.GamesPerFlush, writeReqs)
		}
	}()

	var workerWG sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWG.Add(1)
		go func(workerID int) {
			defer workerWG.Done()
			// Each worker searches on its own copy; trees are never shared.
			local := *engine
			for ctx.Err() == nil {
				out, err := selfplay.PlayGame(ctx, local.Game, &local, selfplay.Options{
					GameID:           fmt.Sprintf("%s_w%d_%d", cfg.Game, workerID, time.Now().UnixNano()),
					TemperatureMoves: cfg.SelfPlay.TemperatureMoves,
					Seed:             time.Now().UnixNano() + int64(workerID)*1000003,
					OnMove:           func(selfplay.Step) { c.moves.Add(1) },
				})
				if err != nil {
					if ctx.Err() == nil {
						log.Error().Err(err).Int("worker", workerID).Msg("game aborted")
					}
					continue
				}

				total := c.games.Add(1)
				if cfg.SelfPlay.MaxGames > 0 && total >= int64(cfg.SelfPlay.MaxGames) {
					cancel()
				}

				writeReqs <- gameWriteRequest{rows: out.Rows}
				if opts.Updates != nil {
					select {
					case opts.Updates <- GameUpdate{WorkerID: workerID, GameID: out.GameID, Result: out.Result, Examples: len(out.Rows)}:
					default:
					}
				}
				log.Debug().Int("worker", workerID).Int8("winner", out.Result.Winner).Int("moves", out.Result.Moves).Msg("game finished")
			}
		}(i)
	}

	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown requested; waiting for workers to finish current games")
			workerWG.Wait()
			close(writeReqs)
			err := <-writerDone
			log.Info().Int64("games", c.games.Load()).Msg("shutdown complete: final parquet flush done")
			return err
		case <-ticker.C:
			if opts.Updates != nil {
				continue
			}
			secs := time.Since(startTime).Seconds()
			ev := log.Info().
				Int64("games", c.games.Load()).
				Float64("moves_per_sec", float64(c.moves.Load())/secs).
				Float64("inf_per_sec", float64(c.inferences.Load())/secs)
			if sp, ok := statsProvider.(interface{ Stats() inference.RuntimeStats }); ok {
				st := sp.Stats()
				ev = ev.Float64("batch_avg", st.AvgBatchSize).Int64("batch_last", st.LastBatchSize).Int("queue", st.QueueLen).Float64("run_ms", st.AvgRunMs)
			}
			ev.Msg("stats")
		}
	}
}
