package game

import (
	"errors"
	"fmt"
)

// ErrInvalidAction is returned by Move when IsValidAction is false.
var ErrInvalidAction = errors.New("invalid action")

// Game is the rules surface the search engine depends on.
type Game interface {
	Name() string

	// Start returns the initial canonical position.
	Start() State

	// IsValidAction is false for out-of-range actions and for terminal states.
	IsValidAction(s State, action int) bool

	// ValidActions lists every action for which IsValidAction holds, ascending.
	ValidActions(s State) []int

	// Move applies action for the side to move. The returned state is still
	// from the mover's perspective; reward is 1 for a win created by this
	// move and 0 otherwise.
	Move(s State, action int) (State, float32, error)

	// FlipBoard returns the view for the other player. Terminal is preserved.
	FlipBoard(s State) State

	// OpponentReward converts a reward to the other player's perspective.
	OpponentReward(r float32) float32

	// EncodeState flattens the board into evaluator input of length StateSize.
	EncodeState(s State) []float32

	ActionSpaceSize() int
	StateSize() int
}

// Step performs a full canonical transition: Move, then FlipBoard. The
// returned reward is from the perspective of the player who moved.
func Step(g Game, s State, action int) (State, float32, error) {
	next, reward, err := g.Move(s, action)
	if err != nil {
		return State{}, 0, err
	}
	return g.FlipBoard(next), reward, nil
}

// InvalidActionError wraps ErrInvalidAction with the offending action.
func InvalidActionError(game string, action int) error {
	return fmt.Errorf("%s: action %d: %w", game, action, ErrInvalidAction)
}
