// Command viewer serves position searches over HTTP and websocket and
// browses self-play parquet batches through DuckDB.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/zerosum/config"
	"github.com/brensch/zerosum/executor/inference"
	"github.com/brensch/zerosum/logging"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen", config.EnvOr("LISTEN", "127.0.0.1:8080"), "HTTP listen address")
	dataDirs := fs.String("data-dirs", config.EnvOr("DATA_DIRS", filepath.Join("data", "generated")), "Comma-separated list of directories containing self-play parquet batches")
	debugDir := fs.String("debug-dir", config.EnvOr("DEBUG_DIR", "debug_games"), "Directory containing debug game parquet files")
	staticDir := fs.String("static-dir", "", "Optional directory to serve as SPA static")
	evaluator := fs.String("evaluator", config.EnvOr("EVALUATOR", config.EvaluatorUniform), "Evaluator for searches: uniform | lookup | mlp | onnx")
	modelPath := fs.String("model", config.EnvOr("MODEL", ""), "Weights JSON (mlp) or model file (onnx)")
	sessions := fs.Int("onnx-sessions", config.EnvIntOr("ONNX_SESSIONS", 1), "Number of ONNX sessions")
	useCUDA := fs.Bool("cuda", config.EnvBoolOr("CUDA", false), "Enable the CUDA execution provider for onnx")
	sims := fs.Int("sims", config.EnvIntOr("SIMS", 800), "Default simulations per search request")
	maxSims := fs.Int("max-sims", config.EnvIntOr("MAX_SIMS", 50000), "Largest simulations value a request may ask for")
	cpuct := fs.Float64("cpuct", config.EnvFloatOr("CPUCT", 1.0), "Default PUCT exploration constant")
	logLevel := fs.String("log-level", config.EnvOr("LOG_LEVEL", "info"), "Log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if err := logging.Setup(*logLevel, true); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	evalCfg := config.Default().Evaluator
	evalCfg.Kind = *evaluator
	evalCfg.Path = *modelPath
	evalCfg.Sessions = *sessions
	evalCfg.CUDA = *useCUDA
	evalCfg.BatchTimeout = inference.DefaultBatchTimeout
	if err := evalCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid evaluator")
	}

	roots := parseDataRoots(*dataDirs)
	log.Info().Strs("roots", roots).Str("debug_dir", *debugDir).Msg("viewer data roots")

	server := NewServer(roots, *debugDir, NewSearcher(SearchOptions{
		Evaluator:      evalCfg,
		Simulations:    *sims,
		Cpuct:          float32(*cpuct),
		MaxSimulations: *maxSims,
	}))
	defer server.Close()

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	if strings.TrimSpace(*staticDir) != "" {
		mux.Handle("/", spaHandler{staticPath: *staticDir, indexPath: filepath.Join(*staticDir, "index.html")})
		log.Info().Str("dir", *staticDir).Msg("serving SPA")
	}

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", "http://"+*listen).Msg("viewer listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Serve the asset if it exists; anything else falls back to index.html.
	path := filepath.Clean(r.URL.Path)
	if path == "/" {
		http.ServeFile(w, r, h.indexPath)
		return
	}
	candidate := filepath.Join(h.staticPath, strings.TrimPrefix(path, "/"))
	if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
		http.ServeFile(w, r, candidate)
		return
	}
	http.ServeFile(w, r, h.indexPath)
}
