package main

import (
	"encoding/json"

	"github.com/brensch/zerosum/executor/mcts"
)

// SearchRequest asks for a search of one canonical position: 1 marks the
// side to move, -1 the opponent, row-major.
type SearchRequest struct {
	Game        string  `json:"game"`
	Board       []int8  `json:"board"`
	Simulations int     `json:"simulations,omitempty"`
	Cpuct       float32 `json:"cpuct,omitempty"`
	// TreeDepth > 0 adds a snapshot of the tree down to that depth.
	TreeDepth int `json:"tree_depth,omitempty"`
}

type SearchResponse struct {
	Game        string              `json:"game"`
	Policy      []float32           `json:"policy"`
	Visits      []int               `json:"visits"`
	Value       float32             `json:"value"`
	BestAction  int                 `json:"best_action"`
	Simulations int                 `json:"simulations"`
	MaxDepth    int                 `json:"max_depth"`
	Children    []mcts.ChildSummary `json:"children"`
	Tree        *mcts.DebugNode     `json:"tree,omitempty"`
	ElapsedMs   float64             `json:"elapsed_ms"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type GameSummary struct {
	GameID   string `json:"game_id"`
	Game     string `json:"game"`
	Source   string `json:"source"`
	Moves    int64  `json:"moves"`
	Winner   int32  `json:"winner"`
	Filename string `json:"file"`
}

type GamesResponse struct {
	Total int64         `json:"total"`
	Games []GameSummary `json:"games"`
}

// Turn is one stored training row as the browser shows it.
type Turn struct {
	GameID      string          `json:"game_id"`
	Game        string          `json:"game"`
	Turn        int32           `json:"turn"`
	Player      int32           `json:"player"`
	Rows        int32           `json:"rows"`
	Cols        int32           `json:"cols"`
	Board       []int8          `json:"board"`
	Action      int32           `json:"action"`
	Value       float32         `json:"value"`
	Winner      int32           `json:"winner"`
	PolicyProbs []float32       `json:"policy_probs"`
	Root        json.RawMessage `json:"root,omitempty"`
}

type SummaryRow struct {
	Game     string  `json:"game"`
	Winner   int32   `json:"winner"`
	Games    int64   `json:"games"`
	AvgMoves float64 `json:"avg_moves"`
}

type SummaryResponse struct {
	Games  int64        `json:"games"`
	Rows   int64        `json:"rows"`
	Counts []SummaryRow `json:"counts"`
}

type DebugGameSummary struct {
	GameID    string  `json:"game_id"`
	Game      string  `json:"game"`
	FileName  string  `json:"file_name"`
	TurnCount int     `json:"turn_count"`
	Sims      int     `json:"sims"`
	Cpuct     float32 `json:"cpuct"`
}

type DebugTurn struct {
	Turn   int32           `json:"turn"`
	Player int32           `json:"player"`
	Rows   int32           `json:"rows"`
	Cols   int32           `json:"cols"`
	Board  []int8          `json:"board"`
	Action int32           `json:"action"`
	Tree   json.RawMessage `json:"tree,omitempty"`
}

type DebugGameResponse struct {
	DebugGameSummary
	Turns []DebugTurn `json:"turns"`
}
