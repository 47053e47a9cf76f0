// Package config holds the run configuration shared by the commands: a YAML
// file overlaid on defaults, plus environment helpers for flag defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brensch/zerosum/executor/inference"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/game"
	"github.com/brensch/zerosum/rules"
)

const (
	EvaluatorUniform = "uniform"
	EvaluatorLookup  = "lookup"
	EvaluatorMLP     = "mlp"
	EvaluatorOnnx    = "onnx"
)

type Config struct {
	Game      string          `yaml:"game"`
	Search    SearchConfig    `yaml:"search"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	SelfPlay  SelfPlayConfig  `yaml:"selfplay"`
	Log       LogConfig       `yaml:"log"`
}

type SearchConfig struct {
	Simulations int     `yaml:"simulations"`
	Cpuct       float32 `yaml:"cpuct"`
}

// EvaluatorConfig selects and sizes the position evaluator.
// Path is the weights JSON for mlp and the model file for onnx. An mlp
// without a path gets random weights from Seed and Hidden.
type EvaluatorConfig struct {
	Kind         string        `yaml:"kind"`
	Path         string        `yaml:"path"`
	Seed         int64         `yaml:"seed"`
	Hidden       []int         `yaml:"hidden"`
	Sessions     int           `yaml:"sessions"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	CUDA         bool          `yaml:"cuda"`
}

type SelfPlayConfig struct {
	Workers          int    `yaml:"workers"`
	GamesPerFlush    int    `yaml:"games_per_flush"`
	OutDir           string `yaml:"out_dir"`
	TemperatureMoves int    `yaml:"temperature_moves"`
	MaxGames         int    `yaml:"max_games"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Default() Config {
	return Config{
		Game: rules.TicTacToeName,
		Search: SearchConfig{
			Simulations: 200,
			Cpuct:       1.0,
		},
		Evaluator: EvaluatorConfig{
			Kind:         EvaluatorUniform,
			Hidden:       []int{64, 64},
			Sessions:     1,
			BatchSize:    inference.DefaultBatchSize,
			BatchTimeout: inference.DefaultBatchTimeout,
		},
		SelfPlay: SelfPlayConfig{
			Workers:          4,
			GamesPerFlush:    100,
			OutDir:           "data/generated",
			TemperatureMoves: 4,
		},
		Log: LogConfig{Level: "info", Pretty: true},
	}
}

// Load reads a YAML file over Default. Fields missing from the file keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := rules.ByName(c.Game); err != nil {
		return err
	}
	if c.Search.Simulations <= 0 {
		return fmt.Errorf("search.simulations must be positive, got %d", c.Search.Simulations)
	}
	if c.Search.Cpuct < 0 {
		return fmt.Errorf("search.cpuct must not be negative, got %g", c.Search.Cpuct)
	}
	if err := c.Evaluator.Validate(); err != nil {
		return err
	}
	if c.SelfPlay.Workers <= 0 {
		return fmt.Errorf("selfplay.workers must be positive, got %d", c.SelfPlay.Workers)
	}
	if c.SelfPlay.GamesPerFlush <= 0 {
		return fmt.Errorf("selfplay.games_per_flush must be positive, got %d", c.SelfPlay.GamesPerFlush)
	}
	if c.SelfPlay.TemperatureMoves < 0 {
		return fmt.Errorf("selfplay.temperature_moves must not be negative")
	}
	return nil
}

func (e EvaluatorConfig) Validate() error {
	switch e.Kind {
	case EvaluatorUniform, EvaluatorLookup, EvaluatorMLP:
	case EvaluatorOnnx:
		if e.Path == "" {
			return fmt.Errorf("evaluator.path is required for onnx")
		}
	default:
		return fmt.Errorf("unknown evaluator kind %q", e.Kind)
	}
	return nil
}

// Engine builds the search engine described by c.
func (c Config) Engine() (*mcts.MCTS, func() error, error) {
	g, err := rules.ByName(c.Game)
	if err != nil {
		return nil, nil, err
	}
	p, closeFn, err := NewPredictor(c.Evaluator, g)
	if err != nil {
		return nil, nil, err
	}
	return &mcts.MCTS{
		Config: mcts.Config{Cpuct: c.Search.Cpuct, Simulations: c.Search.Simulations},
		Game:   g,
		Client: p,
	}, closeFn, nil
}

// NewPredictor builds the evaluator for g. The returned close function
// releases runtime sessions and is never nil.
func NewPredictor(e EvaluatorConfig, g game.Game) (mcts.Predictor, func() error, error) {
	noop := func() error { return nil }

	switch e.Kind {
	case EvaluatorUniform, "":
		return inference.Uniform{Actions: g.ActionSpaceSize()}, noop, nil

	case EvaluatorLookup:
		return inference.Lookup{Actions: g.ActionSpaceSize(), Seed: uint64(e.Seed)}, noop, nil

	case EvaluatorMLP:
		var (
			m   *inference.MLP
			err error
		)
		if e.Path != "" {
			m, err = inference.LoadMLP(e.Path)
		} else {
			sizes := append([]int{g.StateSize()}, e.Hidden...)
			sizes = append(sizes, g.ActionSpaceSize())
			m, err = inference.NewRandomMLP(sizes, e.Seed)
		}
		if err != nil {
			return nil, nil, err
		}
		if m.InputSize() != g.StateSize() || m.Actions() != g.ActionSpaceSize() {
			return nil, nil, fmt.Errorf("mlp is %dx%d, %s needs %dx%d",
				m.InputSize(), m.Actions(), g.Name(), g.StateSize(), g.ActionSpaceSize())
		}
		return m, noop, nil

	case EvaluatorOnnx:
		pool, err := inference.NewOnnxClientPoolWithConfig(e.Path, e.Sessions, inference.OnnxClientConfig{
			InputSize:    g.StateSize(),
			Actions:      g.ActionSpaceSize(),
			BatchSize:    e.BatchSize,
			BatchTimeout: e.BatchTimeout,
			UseCUDA:      e.CUDA,
		})
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown evaluator kind %q", e.Kind)
}

// EnvOr returns the environment value for key, or def when unset.
func EnvOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func EnvIntOr(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return def
}

func EnvFloatOr(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return def
}

func EnvDurationOr(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}

func EnvBoolOr(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return def
}
