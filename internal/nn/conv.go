package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Conv2d is a dense 2D convolution with square kernels and zero padding.
type Conv2d struct {
	InC, OutC int
	Kernel    int
	Stride    int
	Padding   int

	wParam *Param // OutC×InC×K×K
	bParam *Param // OutC

	lastIn *Volume
}

// NewConv2d builds a convolution with Kaiming-normal (fan-out) weights and
// zero biases.
func NewConv2d(inC, outC, kernel, stride, padding int, src rand.Source) *Conv2d {
	rng := rand.New(src)
	w := make([]float64, outC*inC*kernel*kernel)
	std := math.Sqrt(2 / float64(kernel*kernel*outC))
	for i := range w {
		w[i] = rng.NormFloat64() * std
	}
	return &Conv2d{
		InC: inC, OutC: outC, Kernel: kernel, Stride: stride, Padding: padding,
		wParam: &Param{W: w, Grad: make([]float64, len(w))},
		bParam: &Param{W: make([]float64, outC), Grad: make([]float64, outC)},
	}
}

func (c *Conv2d) outSize(in int) int {
	return (in+2*c.Padding-c.Kernel)/c.Stride + 1
}

func (c *Conv2d) wIdx(oc, ic, ky, kx int) int {
	return ((oc*c.InC+ic)*c.Kernel+ky)*c.Kernel + kx
}

func (c *Conv2d) Forward(in *Volume, _ bool) *Volume {
	if in.C != c.InC {
		panic(fmt.Sprintf("nn: conv expects %d channels, got %s", c.InC, in.shape()))
	}
	c.lastIn = in
	out := NewVolume(c.OutC, c.outSize(in.H), c.outSize(in.W))
	for oc := 0; oc < out.C; oc++ {
		for oy := 0; oy < out.H; oy++ {
			for ox := 0; ox < out.W; ox++ {
				sum := c.bParam.W[oc]
				for ic := 0; ic < c.InC; ic++ {
					for ky := 0; ky < c.Kernel; ky++ {
						iy := oy*c.Stride - c.Padding + ky
						if iy < 0 || iy >= in.H {
							continue
						}
						for kx := 0; kx < c.Kernel; kx++ {
							ix := ox*c.Stride - c.Padding + kx
							if ix < 0 || ix >= in.W {
								continue
							}
							sum += in.At(ic, iy, ix) * c.wParam.W[c.wIdx(oc, ic, ky, kx)]
						}
					}
				}
				out.Set(oc, oy, ox, sum)
			}
		}
	}
	return out
}

func (c *Conv2d) Backward(grad *Volume) *Volume {
	in := c.lastIn
	dx := NewVolume(in.C, in.H, in.W)
	for oc := 0; oc < grad.C; oc++ {
		for oy := 0; oy < grad.H; oy++ {
			for ox := 0; ox < grad.W; ox++ {
				g := grad.At(oc, oy, ox)
				c.bParam.Grad[oc] += g
				for ic := 0; ic < c.InC; ic++ {
					for ky := 0; ky < c.Kernel; ky++ {
						iy := oy*c.Stride - c.Padding + ky
						if iy < 0 || iy >= in.H {
							continue
						}
						for kx := 0; kx < c.Kernel; kx++ {
							ix := ox*c.Stride - c.Padding + kx
							if ix < 0 || ix >= in.W {
								continue
							}
							wi := c.wIdx(oc, ic, ky, kx)
							c.wParam.Grad[wi] += g * in.At(ic, iy, ix)
							dx.Data[(ic*in.H+iy)*in.W+ix] += g * c.wParam.W[wi]
						}
					}
				}
			}
		}
	}
	return dx
}

func (c *Conv2d) Params() []*Param { return []*Param{c.wParam, c.bParam} }

// MaxPool2d pools each channel with a square window. Partial windows at the
// bottom/right edges are dropped, matching floor output sizing.
type MaxPool2d struct {
	Kernel int
	Stride int

	lastIn  *Volume
	argmax  []int
	outDims [3]int
}

func NewMaxPool2d(kernel, stride int) *MaxPool2d {
	return &MaxPool2d{Kernel: kernel, Stride: stride}
}

func (m *MaxPool2d) Forward(in *Volume, _ bool) *Volume {
	outH := (in.H-m.Kernel)/m.Stride + 1
	outW := (in.W-m.Kernel)/m.Stride + 1
	out := NewVolume(in.C, outH, outW)
	m.lastIn = in
	m.argmax = make([]int, out.Len())
	m.outDims = [3]int{in.C, outH, outW}
	oi := 0
	for ch := 0; ch < in.C; ch++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				bestIdx := -1
				best := math.Inf(-1)
				for ky := 0; ky < m.Kernel; ky++ {
					for kx := 0; kx < m.Kernel; kx++ {
						iy := oy*m.Stride + ky
						ix := ox*m.Stride + kx
						idx := (ch*in.H+iy)*in.W + ix
						if v := in.Data[idx]; v > best {
							best = v
							bestIdx = idx
						}
					}
				}
				out.Data[oi] = best
				m.argmax[oi] = bestIdx
				oi++
			}
		}
	}
	return out
}

func (m *MaxPool2d) Backward(grad *Volume) *Volume {
	dx := NewVolume(m.lastIn.C, m.lastIn.H, m.lastIn.W)
	for oi, idx := range m.argmax {
		dx.Data[idx] += grad.Data[oi]
	}
	return dx
}

func (m *MaxPool2d) Params() []*Param { return nil }

// BatchNorm2d normalises each channel over its spatial extent, with learned
// scale and shift. Training uses the current sample's statistics and keeps
// exponential running aggregates; evaluation uses the running aggregates.
type BatchNorm2d struct {
	C        int
	Eps      float64
	Momentum float64

	gamma *Param
	beta  *Param

	runningMean []float64
	runningVar  []float64

	lastIn  *Volume
	lastMu  []float64
	lastVar []float64
}

func NewBatchNorm2d(c int) *BatchNorm2d {
	gamma := make([]float64, c)
	for i := range gamma {
		gamma[i] = 1
	}
	runningVar := make([]float64, c)
	for i := range runningVar {
		runningVar[i] = 1
	}
	return &BatchNorm2d{
		C: c, Eps: 1e-5, Momentum: 0.1,
		gamma:       &Param{W: gamma, Grad: make([]float64, c)},
		beta:        &Param{W: make([]float64, c), Grad: make([]float64, c)},
		runningMean: make([]float64, c),
		runningVar:  runningVar,
	}
}

func (b *BatchNorm2d) Forward(in *Volume, train bool) *Volume {
	if in.C != b.C {
		panic(fmt.Sprintf("nn: batchnorm expects %d channels, got %s", b.C, in.shape()))
	}
	n := in.H * in.W
	out := NewVolume(in.C, in.H, in.W)
	if train {
		b.lastIn = in
		b.lastMu = make([]float64, b.C)
		b.lastVar = make([]float64, b.C)
	}
	for ch := 0; ch < in.C; ch++ {
		var mu, vr float64
		if train {
			for i := 0; i < n; i++ {
				mu += in.Data[ch*n+i]
			}
			mu /= float64(n)
			for i := 0; i < n; i++ {
				d := in.Data[ch*n+i] - mu
				vr += d * d
			}
			vr /= float64(n)
			b.lastMu[ch] = mu
			b.lastVar[ch] = vr
			b.runningMean[ch] = (1-b.Momentum)*b.runningMean[ch] + b.Momentum*mu
			b.runningVar[ch] = (1-b.Momentum)*b.runningVar[ch] + b.Momentum*vr
		} else {
			mu = b.runningMean[ch]
			vr = b.runningVar[ch]
		}
		inv := 1 / math.Sqrt(vr+b.Eps)
		for i := 0; i < n; i++ {
			xhat := (in.Data[ch*n+i] - mu) * inv
			out.Data[ch*n+i] = b.gamma.W[ch]*xhat + b.beta.W[ch]
		}
	}
	return out
}

func (b *BatchNorm2d) Backward(grad *Volume) *Volume {
	in := b.lastIn
	n := in.H * in.W
	fn := float64(n)
	dx := NewVolume(in.C, in.H, in.W)
	for ch := 0; ch < in.C; ch++ {
		mu := b.lastMu[ch]
		inv := 1 / math.Sqrt(b.lastVar[ch]+b.Eps)

		var sumDy, sumDyXhat float64
		for i := 0; i < n; i++ {
			xhat := (in.Data[ch*n+i] - mu) * inv
			dy := grad.Data[ch*n+i]
			sumDy += dy
			sumDyXhat += dy * xhat
		}
		b.beta.Grad[ch] += sumDy
		b.gamma.Grad[ch] += sumDyXhat

		g := b.gamma.W[ch]
		for i := 0; i < n; i++ {
			xhat := (in.Data[ch*n+i] - mu) * inv
			dy := grad.Data[ch*n+i]
			dx.Data[ch*n+i] = g * inv / fn * (fn*dy - sumDy - xhat*sumDyXhat)
		}
	}
	return dx
}

func (b *BatchNorm2d) Params() []*Param { return []*Param{b.gamma, b.beta} }
