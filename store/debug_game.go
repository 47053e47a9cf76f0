package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// DebugTurnRow stores one traced turn of a debug game: the position, the
// move taken and the search tree as JSON.
type DebugTurnRow struct {
	GameID string `parquet:"game_id,dict" json:"game_id"`
	Game   string `parquet:"game,dict" json:"game"`
	Turn   int32  `parquet:"turn" json:"turn"`
	Player int32  `parquet:"player" json:"player"`
	Rows   int32  `parquet:"rows" json:"rows"`
	Cols   int32  `parquet:"cols" json:"cols"`
	Board  []byte `parquet:"board" json:"board"`
	Action int32  `parquet:"action" json:"action"`

	// TreeJSON is the root snapshot down to the traced depth.
	TreeJSON []byte `parquet:"tree_json,zstd" json:"-"`

	Sims  int32   `parquet:"sims" json:"sims"`
	Cpuct float32 `parquet:"cpuct" json:"cpuct"`
}

// WriteDebugGameParquet writes a debug game to outDir/debug_<id>_<ns>.parquet.
func WriteDebugGameParquet(outDir string, gameID string, rows []DebugTurnRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	name := fmt.Sprintf("debug_%s_%d.parquet", gameID, time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := finalPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "zerosum_debug_game_v1"),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadDebugGame loads every turn of one debug game file.
func ReadDebugGame(path string) ([]DebugTurnRow, error) {
	rows, err := parquet.ReadFile[DebugTurnRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
