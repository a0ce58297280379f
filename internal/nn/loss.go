package nn

import "math"

// SoftmaxCrossEntropy computes the categorical cross-entropy of logits
// against a target class, returning the loss and the gradient with respect
// to the logits (softmax minus one-hot). Logits are shifted by their max
// before exponentiation.
func SoftmaxCrossEntropy(logits []float64, target int) (float64, []float64) {
	maxv := math.Inf(-1)
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = math.Exp(v - maxv)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	loss := -math.Log(probs[target] + 1e-12)

	grad := probs
	grad[target] -= 1
	return loss, grad
}

// Argmax returns the index of the largest value.
func Argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
