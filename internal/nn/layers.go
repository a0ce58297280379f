package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully-connected layer y = Wx + b over (n,1,1) volumes.
type Linear struct {
	In, Out int

	w *mat.Dense // Out×In
	b []float64

	wParam *Param
	bParam *Param

	lastIn *Volume
}

// NewLinear builds a linear layer with uniform fan-in initialisation.
func NewLinear(in, out int, src rand.Source) *Linear {
	rng := rand.New(src)
	k := 1 / math.Sqrt(float64(in))
	w := make([]float64, out*in)
	b := make([]float64, out)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * k
	}
	for i := range b {
		b[i] = (rng.Float64()*2 - 1) * k
	}
	l := &Linear{In: in, Out: out, w: mat.NewDense(out, in, w), b: b}
	l.wParam = &Param{W: w, Grad: make([]float64, len(w))}
	l.bParam = &Param{W: b, Grad: make([]float64, len(b))}
	return l
}

// Forward computes Wx + b.
func (l *Linear) Forward(in *Volume, _ bool) *Volume {
	if in.Len() != l.In {
		panic(fmt.Sprintf("nn: linear expects %d inputs, got %s", l.In, in.shape()))
	}
	l.lastIn = in
	out := NewVector(l.Out)
	y := mat.NewVecDense(l.Out, out.Data)
	y.MulVec(l.w, mat.NewVecDense(l.In, in.Data))
	for i := range out.Data {
		out.Data[i] += l.b[i]
	}
	return out
}

// Backward accumulates dW = dy·xᵀ and db = dy, returning dx = Wᵀ·dy.
func (l *Linear) Backward(grad *Volume) *Volume {
	dy := mat.NewVecDense(l.Out, grad.Data)
	x := mat.NewVecDense(l.In, l.lastIn.Data)

	gw := mat.NewDense(l.Out, l.In, l.wParam.Grad)
	gw.RankOne(gw, 1, dy, x)
	for i := range l.bParam.Grad {
		l.bParam.Grad[i] += grad.Data[i]
	}

	dx := NewVector(l.In)
	mat.NewVecDense(l.In, dx.Data).MulVec(l.w.T(), dy)
	dx.C, dx.H, dx.W = l.lastIn.C, l.lastIn.H, l.lastIn.W
	return dx
}

// Params returns the weight and bias parameter blocks.
func (l *Linear) Params() []*Param { return []*Param{l.wParam, l.bParam} }

// ReLU is the rectified linear activation.
type ReLU struct {
	lastIn *Volume
}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Forward(in *Volume, _ bool) *Volume {
	r.lastIn = in
	out := in.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out
}

func (r *ReLU) Backward(grad *Volume) *Volume {
	dx := grad.Clone()
	for i, v := range r.lastIn.Data {
		if v < 0 {
			dx.Data[i] = 0
		}
	}
	return dx
}

func (r *ReLU) Params() []*Param { return nil }

// Sigmoid is the logistic activation.
type Sigmoid struct {
	lastOut *Volume
}

func NewSigmoid() *Sigmoid { return &Sigmoid{} }

func (s *Sigmoid) Forward(in *Volume, _ bool) *Volume {
	out := in.Clone()
	for i, v := range out.Data {
		out.Data[i] = 1 / (1 + math.Exp(-v))
	}
	s.lastOut = out
	return out
}

func (s *Sigmoid) Backward(grad *Volume) *Volume {
	dx := grad.Clone()
	for i, y := range s.lastOut.Data {
		dx.Data[i] *= y * (1 - y)
	}
	return dx
}

func (s *Sigmoid) Params() []*Param { return nil }

// Dropout zeroes activations with probability P during training, scaling
// survivors by 1/(1-P) so evaluation needs no rescaling.
type Dropout struct {
	P   float64
	rng *rand.Rand

	mask []float64
}

func NewDropout(p float64, src rand.Source) *Dropout {
	return &Dropout{P: p, rng: rand.New(src)}
}

func (d *Dropout) Forward(in *Volume, train bool) *Volume {
	if !train || d.P == 0 {
		d.mask = nil
		return in
	}
	out := in.Clone()
	d.mask = make([]float64, len(out.Data))
	keep := 1 / (1 - d.P)
	for i := range out.Data {
		if d.rng.Float64() < d.P {
			out.Data[i] = 0
		} else {
			d.mask[i] = keep
			out.Data[i] *= keep
		}
	}
	return out
}

func (d *Dropout) Backward(grad *Volume) *Volume {
	if d.mask == nil {
		return grad
	}
	dx := grad.Clone()
	for i := range dx.Data {
		dx.Data[i] *= d.mask[i]
	}
	return dx
}

func (d *Dropout) Params() []*Param { return nil }

// Flatten reshapes any volume to (C*H*W, 1, 1).
type Flatten struct {
	c, h, w int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(in *Volume, _ bool) *Volume {
	f.c, f.h, f.w = in.C, in.H, in.W
	return &Volume{C: in.Len(), H: 1, W: 1, Data: in.Data}
}

func (f *Flatten) Backward(grad *Volume) *Volume {
	return &Volume{C: f.c, H: f.h, W: f.w, Data: grad.Data}
}

func (f *Flatten) Params() []*Param { return nil }
