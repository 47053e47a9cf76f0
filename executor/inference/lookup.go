package inference

import (
	"hash/fnv"

	"github.com/brensch/zerosum/executor/convert"
)

// Lookup is a deterministic evaluator: the policy and value are derived from
// an FNV-1a hash of the encoded state, so equal states always evaluate the
// same. Seed changes the mapping.
type Lookup struct {
	Actions int
	Seed    uint64
}

func (l Lookup) Predict(encoded []float32) ([]float32, float32, error) {
	buf := convert.FloatsToBytes(encoded)
	h := fnv.New64a()
	_, _ = h.Write(*buf)
	convert.PutBuffer(buf)

	x := h.Sum64() ^ l.Seed
	next := func() float32 {
		// splitmix64
		x += 0x9e3779b97f4a7c15
		z := x
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		return float32(z>>40) / float32(1<<24)
	}

	policy := make([]float32, l.Actions)
	sum := float32(0)
	for i := range policy {
		policy[i] = next() + 1e-3
		sum += policy[i]
	}
	for i := range policy {
		policy[i] /= sum
	}
	value := 2*next() - 1
	return policy, value, nil
}
