package classifier

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// network is a single-layer tanh recurrent cell with a sigmoid readout on
// the final hidden state, trained by backpropagation through time. The
// layout follows the reference recurrent stack but trades the second layer
// for a tractable hand-derived gradient.
type network struct {
	nFeatures int
	hidden    int

	wx *mat.Dense    // hidden x nFeatures, input weights
	wh *mat.Dense    // hidden x hidden, recurrent weights
	bh *mat.VecDense // hidden bias
	wo *mat.VecDense // readout weights
	bo float64       // readout bias
}

func newNetwork(nFeatures, hidden int, rng *rand.Rand) *network {
	n := &network{
		nFeatures: nFeatures,
		hidden:    hidden,
		wx:        mat.NewDense(hidden, nFeatures, nil),
		wh:        mat.NewDense(hidden, hidden, nil),
		bh:        mat.NewVecDense(hidden, nil),
		wo:        mat.NewVecDense(hidden, nil),
	}
	// Xavier-style init keeps early activations in tanh's linear region.
	inScale := 1.0 / math.Sqrt(float64(nFeatures))
	recScale := 1.0 / math.Sqrt(float64(hidden))
	fill := func(m *mat.Dense, scale float64) {
		raw := m.RawMatrix().Data
		for i := range raw {
			raw[i] = rng.NormFloat64() * scale
		}
	}
	fill(n.wx, inScale)
	fill(n.wh, recScale)
	for i := 0; i < hidden; i++ {
		n.wo.SetVec(i, rng.NormFloat64()*recScale)
	}
	return n
}

// forwardCache keeps per-timestep activations for the backward pass.
type forwardCache struct {
	inputs [][]float64
	states []*mat.VecDense // states[t] is h_t; states[0] is the zero state
	prob   float64
}

// forward runs one window through the network and returns the failure
// probability together with the activations needed for BPTT.
func (n *network) forward(window [][]float64) forwardCache {
	steps := len(window)
	states := make([]*mat.VecDense, steps+1)
	states[0] = mat.NewVecDense(n.hidden, nil)

	var pre mat.VecDense
	for t := 0; t < steps; t++ {
		x := mat.NewVecDense(n.nFeatures, window[t])
		pre.MulVec(n.wx, x)

		var rec mat.VecDense
		rec.MulVec(n.wh, states[t])
		pre.AddVec(&pre, &rec)
		pre.AddVec(&pre, n.bh)

		h := mat.NewVecDense(n.hidden, nil)
		for i := 0; i < n.hidden; i++ {
			h.SetVec(i, math.Tanh(pre.AtVec(i)))
		}
		states[t+1] = h
	}

	z := mat.Dot(n.wo, states[steps]) + n.bo
	return forwardCache{inputs: window, states: states, prob: sigmoid(z)}
}

// gradients mirrors the network's parameter shapes.
type gradients struct {
	wx *mat.Dense
	wh *mat.Dense
	bh *mat.VecDense
	wo *mat.VecDense
	bo float64
}

func newGradients(nFeatures, hidden int) *gradients {
	return &gradients{
		wx: mat.NewDense(hidden, nFeatures, nil),
		wh: mat.NewDense(hidden, hidden, nil),
		bh: mat.NewVecDense(hidden, nil),
		wo: mat.NewVecDense(hidden, nil),
	}
}

func (g *gradients) zero() {
	zeroSlice(g.wx.RawMatrix().Data)
	zeroSlice(g.wh.RawMatrix().Data)
	zeroSlice(g.bh.RawVector().Data)
	zeroSlice(g.wo.RawVector().Data)
	g.bo = 0
}

func zeroSlice(s []float64) {
	for i := range s {
		s[i] = 0
	}
}

// backward accumulates BPTT gradients of the binary cross-entropy loss for
// one window into g. label is 0 or 1.
func (n *network) backward(cache forwardCache, label float64, g *gradients) {
	steps := len(cache.inputs)
	final := cache.states[steps]

	// d(loss)/dz for sigmoid + BCE collapses to (p - y).
	dz := cache.prob - label
	g.bo += dz

	dh := mat.NewVecDense(n.hidden, nil)
	for i := 0; i < n.hidden; i++ {
		g.wo.SetVec(i, g.wo.AtVec(i)+dz*final.AtVec(i))
		dh.SetVec(i, dz*n.wo.AtVec(i))
	}

	da := mat.NewVecDense(n.hidden, nil)
	for t := steps; t >= 1; t-- {
		h := cache.states[t]
		prev := cache.states[t-1]
		for i := 0; i < n.hidden; i++ {
			hv := h.AtVec(i)
			da.SetVec(i, dh.AtVec(i)*(1-hv*hv))
		}

		x := cache.inputs[t-1]
		for i := 0; i < n.hidden; i++ {
			dai := da.AtVec(i)
			g.bh.SetVec(i, g.bh.AtVec(i)+dai)
			for j := 0; j < n.nFeatures; j++ {
				g.wx.Set(i, j, g.wx.At(i, j)+dai*x[j])
			}
			for j := 0; j < n.hidden; j++ {
				g.wh.Set(i, j, g.wh.At(i, j)+dai*prev.AtVec(j))
			}
		}

		var next mat.VecDense
		next.MulVec(n.wh.T(), da)
		dh.CopyVec(&next)
	}
}

// clip rescales gradients so their global L2 norm does not exceed maxNorm.
func (g *gradients) clip(maxNorm float64) {
	total := sumSquares(g.wx.RawMatrix().Data) +
		sumSquares(g.wh.RawMatrix().Data) +
		sumSquares(g.bh.RawVector().Data) +
		sumSquares(g.wo.RawVector().Data) +
		g.bo*g.bo
	norm := math.Sqrt(total)
	if norm <= maxNorm || norm == 0 {
		return
	}
	scale := maxNorm / norm
	scaleSlice(g.wx.RawMatrix().Data, scale)
	scaleSlice(g.wh.RawMatrix().Data, scale)
	scaleSlice(g.bh.RawVector().Data, scale)
	scaleSlice(g.wo.RawVector().Data, scale)
	g.bo *= scale
}

func sumSquares(s []float64) float64 {
	total := 0.0
	for _, v := range s {
		total += v * v
	}
	return total
}

func scaleSlice(s []float64, factor float64) {
	for i := range s {
		s[i] *= factor
	}
}

// adam carries first/second moment estimates for every parameter.
type adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64
	step    int

	mWx, vWx *mat.Dense
	mWh, vWh *mat.Dense
	mBh, vBh *mat.VecDense
	mWo, vWo *mat.VecDense
	mBo, vBo float64
}

func newAdam(nFeatures, hidden int, lr float64) *adam {
	return &adam{
		lr:      lr,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
		mWx:     mat.NewDense(hidden, nFeatures, nil),
		vWx:     mat.NewDense(hidden, nFeatures, nil),
		mWh:     mat.NewDense(hidden, hidden, nil),
		vWh:     mat.NewDense(hidden, hidden, nil),
		mBh:     mat.NewVecDense(hidden, nil),
		vBh:     mat.NewVecDense(hidden, nil),
		mWo:     mat.NewVecDense(hidden, nil),
		vWo:     mat.NewVecDense(hidden, nil),
	}
}

func (a *adam) apply(n *network, g *gradients) {
	a.step++
	a.updateSlice(n.wx.RawMatrix().Data, g.wx.RawMatrix().Data, a.mWx.RawMatrix().Data, a.vWx.RawMatrix().Data)
	a.updateSlice(n.wh.RawMatrix().Data, g.wh.RawMatrix().Data, a.mWh.RawMatrix().Data, a.vWh.RawMatrix().Data)
	a.updateSlice(n.bh.RawVector().Data, g.bh.RawVector().Data, a.mBh.RawVector().Data, a.vBh.RawVector().Data)
	a.updateSlice(n.wo.RawVector().Data, g.wo.RawVector().Data, a.mWo.RawVector().Data, a.vWo.RawVector().Data)

	a.mBo = a.beta1*a.mBo + (1-a.beta1)*g.bo
	a.vBo = a.beta2*a.vBo + (1-a.beta2)*g.bo*g.bo
	n.bo -= a.stepSize(a.mBo, a.vBo)
}

func (a *adam) updateSlice(param, grad, m, v []float64) {
	for i := range param {
		m[i] = a.beta1*m[i] + (1-a.beta1)*grad[i]
		v[i] = a.beta2*v[i] + (1-a.beta2)*grad[i]*grad[i]
		param[i] -= a.stepSize(m[i], v[i])
	}
}

func (a *adam) stepSize(m, v float64) float64 {
	mHat := m / (1 - math.Pow(a.beta1, float64(a.step)))
	vHat := v / (1 - math.Pow(a.beta2, float64(a.step)))
	return a.lr * mHat / (math.Sqrt(vHat) + a.epsilon)
}

// clone deep-copies the network (used to restore best weights).
func (n *network) clone() *network {
	c := &network{
		nFeatures: n.nFeatures,
		hidden:    n.hidden,
		wx:        mat.DenseCopyOf(n.wx),
		wh:        mat.DenseCopyOf(n.wh),
		bh:        mat.VecDenseCopyOf(n.bh),
		wo:        mat.VecDenseCopyOf(n.wo),
		bo:        n.bo,
	}
	return c
}

func sigmoid(z float64) float64 {
	// Split branches to stay numerically stable for large |z|.
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// bceLoss is binary cross-entropy with probability clamping.
func bceLoss(prob, label float64) float64 {
	const eps = 1e-12
	p := math.Min(math.Max(prob, eps), 1-eps)
	return -(label*math.Log(p) + (1-label)*math.Log(1-p))
}
