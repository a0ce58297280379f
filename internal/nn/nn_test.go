package nn

import (
	"math"
	"math/rand/v2"
	"testing"
)

// numericalGrad perturbs each weight and compares the loss delta against the
// analytic gradient from a backward pass.
func checkParamGradients(t *testing.T, net *Network, in *Volume, target int) {
	t.Helper()
	const h = 1e-5
	const tol = 1e-4

	// Analytic pass.
	out := net.Forward(in.Clone(), false)
	_, dlogits := SoftmaxCrossEntropy(out.Data, target)
	net.Backward(FromVector(dlogits))
	analytic := make([][]float64, 0)
	for _, p := range net.Params() {
		analytic = append(analytic, append([]float64(nil), p.Grad...))
	}
	ZeroGrad(net.Params())

	for pi, p := range net.Params() {
		for wi := range p.W {
			orig := p.W[wi]
			p.W[wi] = orig + h
			lossPlus, _ := SoftmaxCrossEntropy(net.Forward(in.Clone(), false).Data, target)
			p.W[wi] = orig - h
			lossMinus, _ := SoftmaxCrossEntropy(net.Forward(in.Clone(), false).Data, target)
			p.W[wi] = orig

			numeric := (lossPlus - lossMinus) / (2 * h)
			if math.Abs(numeric-analytic[pi][wi]) > tol {
				t.Errorf("param %d weight %d: numeric grad %g, analytic %g", pi, wi, numeric, analytic[pi][wi])
			}
		}
	}
}

func TestLinearSigmoidGradients(t *testing.T) {
	net := &Network{Layers: []Layer{
		NewLinear(4, 5, rand.NewPCG(1, 1)),
		NewSigmoid(),
		NewLinear(5, 3, rand.NewPCG(2, 2)),
	}}
	in := FromVector([]float64{0.5, -1.2, 0.3, 2.0})
	checkParamGradients(t, net, in, 1)
}

func TestConvReluGradients(t *testing.T) {
	net := &Network{Layers: []Layer{
		NewConv2d(1, 2, 3, 1, 1, rand.NewPCG(3, 3)),
		NewReLU(),
		NewFlatten(),
		NewLinear(2*4*4, 3, rand.NewPCG(4, 4)),
	}}
	in := NewVolume(1, 4, 4)
	for i := range in.Data {
		in.Data[i] = math.Sin(float64(i) * 0.7)
	}
	checkParamGradients(t, net, in, 2)
}

func TestBatchNormGradients(t *testing.T) {
	bn := NewBatchNorm2d(2)
	lin := NewLinear(2*3*3, 3, rand.NewPCG(5, 5))
	net := &Network{Layers: []Layer{bn, NewFlatten(), lin}}

	in := NewVolume(2, 3, 3)
	for i := range in.Data {
		in.Data[i] = math.Cos(float64(i) * 1.3)
	}

	// BatchNorm gradients are defined against training-mode statistics, so
	// the check must run forward in train mode throughout.
	const h = 1e-5
	const tol = 1e-4
	out := net.Forward(in.Clone(), true)
	_, dlogits := SoftmaxCrossEntropy(out.Data, 0)
	net.Backward(FromVector(dlogits))
	analytic := append([]float64(nil), bn.gamma.Grad...)
	analyticBeta := append([]float64(nil), bn.beta.Grad...)
	ZeroGrad(net.Params())

	for ch := 0; ch < 2; ch++ {
		orig := bn.gamma.W[ch]
		bn.gamma.W[ch] = orig + h
		lp, _ := SoftmaxCrossEntropy(net.Forward(in.Clone(), true).Data, 0)
		bn.gamma.W[ch] = orig - h
		lm, _ := SoftmaxCrossEntropy(net.Forward(in.Clone(), true).Data, 0)
		bn.gamma.W[ch] = orig
		if num := (lp - lm) / (2 * h); math.Abs(num-analytic[ch]) > tol {
			t.Errorf("gamma[%d]: numeric %g, analytic %g", ch, num, analytic[ch])
		}

		orig = bn.beta.W[ch]
		bn.beta.W[ch] = orig + h
		lp, _ = SoftmaxCrossEntropy(net.Forward(in.Clone(), true).Data, 0)
		bn.beta.W[ch] = orig - h
		lm, _ = SoftmaxCrossEntropy(net.Forward(in.Clone(), true).Data, 0)
		bn.beta.W[ch] = orig
		if num := (lp - lm) / (2 * h); math.Abs(num-analyticBeta[ch]) > tol {
			t.Errorf("beta[%d]: numeric %g, analytic %g", ch, num, analyticBeta[ch])
		}
	}
}

func TestConvOutputShape(t *testing.T) {
	// The basic CNN stage sizes for a 21×21 patch.
	conv1 := NewConv2d(1, 16, 4, 1, 1, rand.NewPCG(6, 6))
	pool4 := NewMaxPool2d(4, 4)
	conv2 := NewConv2d(16, 32, 2, 1, 1, rand.NewPCG(7, 7))
	pool2 := NewMaxPool2d(2, 2)

	x := NewVolume(1, 21, 21)
	x = conv1.Forward(x, false)
	if x.C != 16 || x.H != 20 || x.W != 20 {
		t.Fatalf("after conv1: %s, want (16,20,20)", x.shape())
	}
	x = pool4.Forward(x, false)
	if x.H != 5 || x.W != 5 {
		t.Fatalf("after pool4: %s, want (16,5,5)", x.shape())
	}
	x = conv2.Forward(x, false)
	if x.C != 32 || x.H != 6 || x.W != 6 {
		t.Fatalf("after conv2: %s, want (32,6,6)", x.shape())
	}
	x = pool2.Forward(x, false)
	if x.H != 3 || x.W != 3 {
		t.Fatalf("after pool2: %s, want (32,3,3)", x.shape())
	}
}

func TestMaxPoolRoutesGradientToArgmax(t *testing.T) {
	pool := NewMaxPool2d(2, 2)
	in := NewVolume(1, 2, 2)
	in.Data = []float64{1, 5, 2, 3}
	out := pool.Forward(in, false)
	if out.Len() != 1 || out.Data[0] != 5 {
		t.Fatalf("pool output = %v, want [5]", out.Data)
	}
	grad := FromVector([]float64{2})
	dx := pool.Backward(grad)
	want := []float64{0, 2, 0, 0}
	for i := range want {
		if dx.Data[i] != want[i] {
			t.Fatalf("pool backward = %v, want %v", dx.Data, want)
		}
	}
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	d := NewDropout(0.5, rand.NewPCG(8, 8))
	in := FromVector([]float64{1, 2, 3, 4})
	out := d.Forward(in, false)
	for i := range in.Data {
		if out.Data[i] != in.Data[i] {
			t.Fatal("dropout must be identity in eval mode")
		}
	}
}

func TestDropoutTrainScalesSurvivors(t *testing.T) {
	d := NewDropout(0.5, rand.NewPCG(9, 9))
	in := FromVector(make([]float64, 1000))
	for i := range in.Data {
		in.Data[i] = 1
	}
	out := d.Forward(in, true)
	zeros, scaled := 0, 0
	for _, v := range out.Data {
		switch v {
		case 0:
			zeros++
		case 2:
			scaled++
		default:
			t.Fatalf("unexpected dropout output %g", v)
		}
	}
	if zeros == 0 || scaled == 0 {
		t.Fatalf("dropout left %d zeros and %d survivors, expected a mix", zeros, scaled)
	}
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	loss, grad := SoftmaxCrossEntropy([]float64{0, 0, 0}, 1)
	if math.Abs(loss-math.Log(3)) > 1e-9 {
		t.Errorf("uniform loss = %g, want ln(3)", loss)
	}
	var sum float64
	for _, g := range grad {
		sum += g
	}
	// Gradient components sum to zero: probs sum to 1 minus the one-hot.
	if math.Abs(sum) > 1e-9 {
		t.Errorf("gradient sums to %g, want 0", sum)
	}
}

func TestSGDStepAppliesAndClears(t *testing.T) {
	p := &Param{W: []float64{1, 2}, Grad: []float64{0.5, -0.5}}
	opt := &SGD{LR: 0.1}
	opt.Step([]*Param{p})
	if p.W[0] != 0.95 || p.W[1] != 2.05 {
		t.Errorf("weights after step = %v", p.W)
	}
	if p.Grad[0] != 0 || p.Grad[1] != 0 {
		t.Errorf("gradients not cleared: %v", p.Grad)
	}
}
