// Package convert moves float32 tensors to and from the little-endian byte
// layout used in parquet payload columns.
package convert

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

const BytesPerFloat = 4

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 256)
		return &b
	},
}

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, 0, 64)
		return &b
	},
}

// GetBuffer returns a pooled byte slice of length n.
func GetBuffer(n int) *[]byte {
	b := bufferPool.Get().(*[]byte)
	if cap(*b) < n {
		*b = make([]byte, n)
	}
	*b = (*b)[:n]
	return b
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}

// GetFloatBuffer returns a pooled, zeroed float32 slice of length n.
func GetFloatBuffer(n int) *[]float32 {
	b := floatPool.Get().(*[]float32)
	if cap(*b) < n {
		*b = make([]float32, n)
	}
	*b = (*b)[:n]
	clear(*b)
	return b
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// FloatsToBytes encodes src into a pooled buffer.
// Caller must return it to the pool using PutBuffer.
func FloatsToBytes(src []float32) *[]byte {
	dataPtr := GetBuffer(len(src) * BytesPerFloat)
	data := *dataPtr
	for i, v := range src {
		binary.LittleEndian.PutUint32(data[i*BytesPerFloat:], math.Float32bits(v))
	}
	return dataPtr
}

// AppendFloats appends the encoding of src to dst.
func AppendFloats(dst []byte, src []float32) []byte {
	for _, v := range src {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// BytesToFloats decodes a little-endian float32 payload.
func BytesToFloats(data []byte) ([]float32, error) {
	if len(data)%BytesPerFloat != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of %d", len(data), BytesPerFloat)
	}
	out := make([]float32, len(data)/BytesPerFloat)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerFloat:]))
	}
	return out, nil
}

// BoardToBytes stores a board as one byte per cell.
func BoardToBytes(board []int8) []byte {
	out := make([]byte, len(board))
	for i, v := range board {
		out[i] = byte(v)
	}
	return out
}

// BytesToBoard is the inverse of BoardToBytes.
func BytesToBoard(data []byte) []int8 {
	out := make([]int8, len(data))
	for i, v := range data {
		out[i] = int8(v)
	}
	return out
}
