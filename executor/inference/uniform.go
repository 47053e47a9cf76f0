package inference

// Uniform spreads probability evenly over the action space and values every
// position at 0.
type Uniform struct {
	Actions int
}

func (u Uniform) Predict(encoded []float32) ([]float32, float32, error) {
	policy := make([]float32, u.Actions)
	if u.Actions == 0 {
		return policy, 0, nil
	}
	p := 1 / float32(u.Actions)
	for i := range policy {
		policy[i] = p
	}
	return policy, 0, nil
}
