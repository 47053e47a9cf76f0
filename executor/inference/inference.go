// Package inference provides position evaluators for the search engine:
// fixed baselines (Uniform, Lookup), a dense policy/value network (MLP) and
// batched ONNX Runtime sessions (OnnxClient, OnnxPool).
package inference

import (
	"errors"
	"time"
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

// ErrInputSize is returned when an encoded state does not match the
// evaluator's input width.
var ErrInputSize = errors.New("input size mismatch")

// RuntimeStats summarizes batched inference since start.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int

	AvgBatchSize float64
	AvgRunMs     float64
}
