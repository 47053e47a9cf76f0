package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brensch/zerosum/config"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/game"
	"github.com/brensch/zerosum/rules"
)

// errBadRequest marks search failures caused by the request itself.
var errBadRequest = errors.New("bad request")

type SearchOptions struct {
	Evaluator      config.EvaluatorConfig
	Simulations    int
	Cpuct          float32
	MaxSimulations int
}

// Searcher answers search requests for every registered game. Evaluators are
// built on first use per game and shared by all requests.
type Searcher struct {
	opts SearchOptions

	mu         sync.Mutex
	predictors map[string]mcts.Predictor
	closers    []func() error
}

func NewSearcher(opts SearchOptions) *Searcher {
	return &Searcher{opts: opts, predictors: map[string]mcts.Predictor{}}
}

func (s *Searcher) predictor(g game.Game) (mcts.Predictor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.predictors[g.Name()]; ok {
		return p, nil
	}
	p, closeFn, err := config.NewPredictor(s.opts.Evaluator, g)
	if err != nil {
		return nil, err
	}
	s.predictors[g.Name()] = p
	s.closers = append(s.closers, closeFn)
	return p, nil
}

func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	s.predictors = map[string]mcts.Predictor{}
	return errors.Join(errs...)
}

const minSimulations = 2

// Search validates req and runs one search. Errors wrapping errBadRequest
// describe an unusable request.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	g, err := rules.ByName(req.Game)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	state, err := rules.FromBoard(g, req.Board)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if state.Terminal {
		return SearchResponse{}, fmt.Errorf("%w: %v", errBadRequest, mcts.ErrTerminalRoot)
	}

	sims := req.Simulations
	if sims == 0 {
		sims = s.opts.Simulations
	}
	// The first simulation only expands the root, so one visit leaves no
	// child counts to report.
	if sims < minSimulations || (s.opts.MaxSimulations > 0 && sims > s.opts.MaxSimulations) {
		return SearchResponse{}, fmt.Errorf("%w: simulations must be in [%d, %d], got %d", errBadRequest, minSimulations, s.opts.MaxSimulations, sims)
	}
	cpuct := req.Cpuct
	if cpuct == 0 {
		cpuct = s.opts.Cpuct
	}
	if cpuct < 0 {
		return SearchResponse{}, fmt.Errorf("%w: cpuct must be >= 0, got %g", errBadRequest, cpuct)
	}

	p, err := s.predictor(g)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("evaluator for %s: %w", g.Name(), err)
	}

	engine := &mcts.MCTS{Config: mcts.Config{Cpuct: cpuct, Simulations: sims}, Game: g, Client: p}
	start := time.Now()
	tree, stats, err := engine.Run(ctx, state)
	if err != nil {
		return SearchResponse{}, err
	}
	res, err := mcts.Extract(tree)
	if err != nil {
		return SearchResponse{}, err
	}

	resp := SearchResponse{
		Game:        g.Name(),
		Policy:      res.Policy,
		Visits:      res.Visits,
		Value:       res.RootValue,
		BestAction:  res.BestAction(),
		Simulations: stats.Simulations,
		MaxDepth:    stats.MaxDepth,
		Children:    res.Children,
		ElapsedMs:   float64(time.Since(start).Microseconds()) / 1000,
	}
	if req.TreeDepth > 0 {
		resp.Tree = tree.Snapshot(tree.Root(), req.TreeDepth, 1)
	}
	return resp, nil
}
