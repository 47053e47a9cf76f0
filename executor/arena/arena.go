// Package arena plays two engines against each other over a series of games.
package arena

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/game"
)

// Engine picks moves by searching a position.
type Engine interface {
	Search(ctx context.Context, state game.State) (*mcts.Result, error)
}

type Options struct {
	Games int
	// OpeningMoves are sampled from the visit distribution instead of taken
	// greedily, so deterministic engines do not replay one game.
	OpeningMoves int
	Seed         int64
	OnGame       func(GameRecord)
}

// GameRecord is one finished game. Winner is +1 for engine A, -1 for
// engine B and 0 for a draw.
type GameRecord struct {
	Index    int
	AStarted bool
	Winner   int
	Moves    int
	Actions  []int
}

type Tally struct {
	Games     int
	AWins     int
	BWins     int
	Draws     int
	AThinking time.Duration
	BThinking time.Duration
	Records   []GameRecord
}

// Score is A's match score: wins plus half the draws, divided by games.
func (t Tally) Score() float64 {
	if t.Games == 0 {
		return 0
	}
	return (float64(t.AWins) + 0.5*float64(t.Draws)) / float64(t.Games)
}

func (t Tally) String() string {
	return fmt.Sprintf("games=%d a=%d b=%d draws=%d score=%.3f a_time=%s b_time=%s",
		t.Games, t.AWins, t.BWins, t.Draws, t.Score(), t.AThinking.Round(time.Millisecond), t.BThinking.Round(time.Millisecond))
}

// Play runs opts.Games games of g. Engine A starts the even numbered games,
// engine B the odd ones.
func Play(ctx context.Context, g game.Game, a, b Engine, opts Options) (Tally, error) {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	var tally Tally
	for i := 0; i < opts.Games; i++ {
		rec, aTime, bTime, err := playOne(ctx, g, a, b, i%2 == 0, opts.OpeningMoves, rng)
		if err != nil {
			return tally, fmt.Errorf("game %d: %w", i, err)
		}
		rec.Index = i

		tally.Games++
		tally.AThinking += aTime
		tally.BThinking += bTime
		switch rec.Winner {
		case 1:
			tally.AWins++
		case -1:
			tally.BWins++
		default:
			tally.Draws++
		}
		tally.Records = append(tally.Records, rec)

		log.Debug().Int("game", i).Bool("a_started", rec.AStarted).Int("winner", rec.Winner).Int("moves", rec.Moves).Msg("arena game finished")
		if opts.OnGame != nil {
			opts.OnGame(rec)
		}
	}
	return tally, nil
}

func playOne(ctx context.Context, g game.Game, a, b Engine, aStarts bool, openingMoves int, rng *rand.Rand) (GameRecord, time.Duration, time.Duration, error) {
	rec := GameRecord{AStarted: aStarts}
	var aTime, bTime time.Duration

	state := g.Start()
	aTurn := aStarts
	var reward float32

	for !state.Terminal {
		if err := ctx.Err(); err != nil {
			return rec, aTime, bTime, err
		}

		engine := b
		if aTurn {
			engine = a
		}

		start := time.Now()
		res, err := engine.Search(ctx, state)
		elapsed := time.Since(start)
		if aTurn {
			aTime += elapsed
		} else {
			bTime += elapsed
		}
		if err != nil {
			return rec, aTime, bTime, err
		}

		action := res.BestAction()
		if rec.Moves < openingMoves {
			action = sample(rng, res.Policy)
		}

		state, reward, err = game.Step(g, state, action)
		if err != nil {
			return rec, aTime, bTime, err
		}
		rec.Actions = append(rec.Actions, action)
		rec.Moves++
		aTurn = !aTurn
	}

	// aTurn has already been toggled, so !aTurn means A made the last move.
	lastWasA := !aTurn
	switch {
	case reward > 0 && lastWasA, reward < 0 && !lastWasA:
		rec.Winner = 1
	case reward > 0, reward < 0:
		rec.Winner = -1
	}
	return rec, aTime, bTime, nil
}

func sample(rng *rand.Rand, policy []float32) int {
	r := rng.Float32()
	sum := float32(0)
	last := -1
	for i, p := range policy {
		if p <= 0 {
			continue
		}
		last = i
		sum += p
		if r < sum {
			return i
		}
	}
	return last
}
