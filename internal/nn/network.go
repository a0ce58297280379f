package nn

// Param is one learnable parameter block with its gradient accumulator.
type Param struct {
	W    []float64
	Grad []float64
}

// Layer is one differentiable stage of a network. Forward caches whatever
// the matching Backward needs; Backward consumes the upstream gradient and
// returns the gradient with respect to the layer's input, accumulating
// parameter gradients along the way.
type Layer interface {
	Forward(in *Volume, train bool) *Volume
	Backward(grad *Volume) *Volume
	Params() []*Param
}

// Network is an ordered stack of layers.
type Network struct {
	Layers []Layer
}

// Forward runs all layers in order. train enables training-only behaviour
// (dropout masking, norm statistics updates).
func (n *Network) Forward(in *Volume, train bool) *Volume {
	out := in
	for _, l := range n.Layers {
		out = l.Forward(out, train)
	}
	return out
}

// Backward propagates the output gradient back through the stack.
func (n *Network) Backward(grad *Volume) *Volume {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		grad = n.Layers[i].Backward(grad)
	}
	return grad
}

// Params collects every learnable parameter block.
func (n *Network) Params() []*Param {
	var ps []*Param
	for _, l := range n.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	LR float64
}

// Step applies accumulated gradients and clears them.
func (o *SGD) Step(params []*Param) {
	for _, p := range params {
		for i := range p.W {
			p.W[i] -= o.LR * p.Grad[i]
			p.Grad[i] = 0
		}
	}
}

// ZeroGrad clears gradients without applying them.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}
