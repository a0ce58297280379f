// Package nn implements the small feed-forward layer library backing the
// incidence models: linear, convolutional, normalisation, pooling and
// activation layers with explicit forward and backward passes, plus a
// minimal SGD optimizer.
//
// Layers are not safe for concurrent use: a forward pass caches the
// activations its backward pass consumes. Each training goroutine should
// own its model instance.
package nn
