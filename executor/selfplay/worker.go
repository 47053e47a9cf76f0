// Package selfplay plays complete games of an engine against itself and
// turns every searched position into a training row.
package selfplay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/brensch/zerosum/executor/convert"
	"github.com/brensch/zerosum/executor/mcts"
	"github.com/brensch/zerosum/game"
	"github.com/brensch/zerosum/store"
)

const DefaultSource = "selfplay"

// Searcher is the part of the engine self-play needs.
type Searcher interface {
	Search(ctx context.Context, state game.State) (*mcts.Result, error)
}

// Result describes how a game ended. Winner is +1 when the first player won,
// -1 for the second player and 0 for a draw.
type Result struct {
	Winner int8
	Moves  int
}

// Step is reported to Options.OnMove after each move.
type Step struct {
	Turn   int
	Player int8
	State  game.State
	Search *mcts.Result
	Action int
}

type Options struct {
	// GameID defaults to a time based id.
	GameID string
	// TemperatureMoves is the number of opening moves sampled from the visit
	// distribution; later moves take the most visited action.
	TemperatureMoves int
	// Seed for move sampling. Zero picks a time based seed.
	Seed   int64
	Source string
	OnMove func(Step)
}

type Outcome struct {
	GameID string
	Rows   []store.TrainingRow
	Result Result
}

// PlayGame plays g from its start position until it ends. Every row's Value
// is the final result from the perspective of the player who moved in that
// row. A cancelled context aborts the game and returns ctx.Err().
func PlayGame(ctx context.Context, g game.Game, engine Searcher, opts Options) (Outcome, error) {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	gameID := opts.GameID
	if gameID == "" {
		gameID = fmt.Sprintf("selfplay_%d_%d", time.Now().UnixNano(), rng.Intn(1_000_000))
	}
	source := opts.Source
	if source == "" {
		source = DefaultSource
	}

	state := g.Start()
	player := int8(1)
	rows := make([]store.TrainingRow, 0, g.ActionSpaceSize())

	var (
		lastMover  int8
		lastReward float32
	)

	for turn := 0; !state.Terminal; turn++ {
		select {
		case <-ctx.Done():
			return Outcome{GameID: gameID, Result: Result{Moves: turn}}, ctx.Err()
		default:
		}

		res, err := engine.Search(ctx, state)
		if err != nil {
			return Outcome{GameID: gameID, Result: Result{Moves: turn}}, fmt.Errorf("turn %d: %w", turn, err)
		}

		action := res.BestAction()
		if turn < opts.TemperatureMoves {
			action = sampleMove(rng, res.Policy)
		}

		rows = append(rows, newRow(g, gameID, source, turn, player, state, res, action))

		next, reward, err := game.Step(g, state, action)
		if err != nil {
			return Outcome{GameID: gameID, Result: Result{Moves: turn}}, fmt.Errorf("turn %d: %w", turn, err)
		}

		if opts.OnMove != nil {
			opts.OnMove(Step{Turn: turn, Player: player, State: state, Search: res, Action: action})
		}

		lastMover = player
		lastReward = reward
		state = next
		player = -player
	}

	winner := int8(0)
	switch {
	case lastReward > 0:
		winner = lastMover
	case lastReward < 0:
		winner = -lastMover
	}

	for i := range rows {
		if int8(rows[i].Player) == lastMover {
			rows[i].Value = lastReward
		} else {
			rows[i].Value = g.OpponentReward(lastReward)
		}
		rows[i].Winner = int32(winner)
	}

	return Outcome{
		GameID: gameID,
		Rows:   rows,
		Result: Result{Winner: winner, Moves: len(rows)},
	}, nil
}

func newRow(g game.Game, gameID, source string, turn int, player int8, state game.State, res *mcts.Result, action int) store.TrainingRow {
	encoded := convert.FloatsToBytes(g.EncodeState(state))
	stateBytes := append([]byte(nil), *encoded...)
	convert.PutBuffer(encoded)

	rootJSON, _ := json.Marshal(res.Children)

	return store.TrainingRow{
		GameID:      gameID,
		Game:        g.Name(),
		Turn:        int32(turn),
		Player:      int32(player),
		Rows:        int32(state.Rows),
		Cols:        int32(state.Cols),
		Board:       convert.BoardToBytes(state.Board),
		State:       stateBytes,
		PolicyProbs: append([]float32(nil), res.Policy...),
		Action:      int32(action),
		Source:      source,
		RootJSON:    rootJSON,
	}
}

// sampleMove draws an index from policy. Zero-probability entries are never
// returned.
func sampleMove(rng *rand.Rand, policy []float32) int {
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
