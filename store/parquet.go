// Package store persists self-play training rows as zstd-compressed parquet.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SchemaVersion is written into every file's key/value metadata.
const SchemaVersion = "zerosum_training_row_v1"

// TrainingRow is a single supervised training sample: one searched position
// of one self-play game.
//
// Board is the canonical position (side to move = +1) with one signed byte
// per cell, row-major. State is the evaluator input for the same position as
// little-endian float32.
//
// PolicyProbs is the normalized MCTS visit distribution over the full action
// space. Value is the final outcome in [-1..1] from Player's perspective.
// Winner is +1 when the first player won, -1 for the second, 0 for a draw.
type TrainingRow struct {
	GameID      string    `parquet:"game_id,dict"`
	Game        string    `parquet:"game,dict"`
	Turn        int32     `parquet:"turn"`
	Player      int32     `parquet:"player"`
	Rows        int32     `parquet:"rows"`
	Cols        int32     `parquet:"cols"`
	Board       []byte    `parquet:"board"`
	State       []byte    `parquet:"state"`
	PolicyProbs []float32 `parquet:"policy_probs"`
	Action      int32     `parquet:"action"`
	Value       float32   `parquet:"value"`
	Winner      int32     `parquet:"winner"`
	Source      string    `parquet:"source,dict"`

	// RootJSON is the JSON encoded list of root children (action, visits, q, prior).
	RootJSON []byte `parquet:"root_json,optional,zstd"`
}

func writerOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("state"),
		parquet.KeyValueMetadata("schema", SchemaVersion),
	}
}

// WriteGameParquet writes rows to outPath through a temp file and rename.
func WriteGameParquet(outPath string, rows []TrainingRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// WriteBatchParquetAtomic writes a Parquet file into outDir/tmp and then
// atomically moves it into outDir, so readers never observe a partially
// written file. The returned path is the final parquet file path.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadRows loads every row of one parquet file.
func ReadRows(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// ListBatches returns the finished parquet files directly under dir, oldest
// name first. Files still in dir/tmp are not included.
func ListBatches(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
