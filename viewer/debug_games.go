package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/brensch/zerosum/executor/convert"
	"github.com/brensch/zerosum/store"
)

// listDebugGames returns every readable debug game file in dir. A missing
// dir is an empty list.
func listDebugGames(dir string) ([]DebugGameSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DebugGameSummary{}, nil
		}
		return nil, err
	}

	games := make([]DebugGameSummary, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}
		summary, err := readDebugGameSummary(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		summary.FileName = entry.Name()
		games = append(games, summary)
	}
	return games, nil
}

// readDebugGameSummary reads only the first row of a debug game file.
func readDebugGameSummary(filePath string) (DebugGameSummary, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return DebugGameSummary{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return DebugGameSummary{}, err
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return DebugGameSummary{}, err
	}

	reader := parquet.NewGenericReader[store.DebugTurnRow](pf)
	defer reader.Close()

	rows := make([]store.DebugTurnRow, 1)
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return DebugGameSummary{}, err
	}
	if n == 0 {
		return DebugGameSummary{}, io.EOF
	}

	return DebugGameSummary{
		GameID:    rows[0].GameID,
		Game:      rows[0].Game,
		TurnCount: int(reader.NumRows()),
		Sims:      int(rows[0].Sims),
		Cpuct:     rows[0].Cpuct,
	}, nil
}

// loadDebugGame loads the debug game whose file name carries gameID.
func loadDebugGame(dir, gameID string) (*DebugGameResponse, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var fileName string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}
		if strings.HasPrefix(entry.Name(), debugFilePrefix+gameID+"_") {
			fileName = entry.Name()
			break
		}
	}
	if fileName == "" {
		return nil, os.ErrNotExist
	}

	rows, err := store.ReadDebugGame(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, os.ErrNotExist
	}

	resp := &DebugGameResponse{
		DebugGameSummary: DebugGameSummary{
			GameID:    rows[0].GameID,
			Game:      rows[0].Game,
			FileName:  fileName,
			TurnCount: len(rows),
			Sims:      int(rows[0].Sims),
			Cpuct:     rows[0].Cpuct,
		},
		Turns: make([]DebugTurn, 0, len(rows)),
	}
	for _, r := range rows {
		t := DebugTurn{
			Turn:   r.Turn,
			Player: r.Player,
			Rows:   r.Rows,
			Cols:   r.Cols,
			Board:  convert.BytesToBoard(r.Board),
			Action: r.Action,
		}
		if len(r.TreeJSON) > 0 && json.Valid(r.TreeJSON) {
			t.Tree = json.RawMessage(r.TreeJSON)
		}
		resp.Turns = append(resp.Turns, t)
	}
	return resp, nil
}
