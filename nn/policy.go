package nn

import (
	"math"

	"github.com/yannbouteiller/rlrd/internal/f32"
	"github.com/yannbouteiller/rlrd/internal/rng"
)

const (
	logStdMin = -20
	logStdMax = 2
	// tanhEps keeps the squash correction finite when an action saturates.
	tanhEps = 1e-6
)

// TanhNormalPolicy is a squashed-Gaussian policy head: a shared body feeding
// separate mean and log-std layers, with actions drawn by the
// reparameterization trick and squashed through tanh.
type TanhNormalPolicy struct {
	Body   *MLP
	Mean   *Linear
	LogStd *Linear

	// caches from the last Sample, consumed by Backward
	mu, lsRaw, sigma, eps, act []float32
}

// NewTanhNormalPolicy builds a policy for obsDim-dimensional encoded inputs.
func NewTanhNormalPolicy(r *rng.Rand, obsDim, hidden, actDim int) *TanhNormalPolicy {
	return &TanhNormalPolicy{
		Body:   NewMLP(r, true, obsDim, hidden, hidden),
		Mean:   NewLinear(hidden, actDim, r),
		LogStd: NewLinear(hidden, actDim, r),
	}
}

// Sample draws a reparameterized action for the given input and returns it
// with its log-probability. The noise is recorded so Backward can replay the
// exact pathwise gradient.
func (p *TanhNormalPolicy) Sample(x []float32, r *rng.Rand) (action []float32, logp float32) {
	h := p.Body.Forward(x)
	p.mu = p.Mean.Forward(h)
	p.lsRaw = p.LogStd.Forward(h)

	n := len(p.mu)
	p.sigma = make([]float32, n)
	p.eps = make([]float32, n)
	p.act = make([]float32, n)
	for i := 0; i < n; i++ {
		ls := clamp(p.lsRaw[i], logStdMin, logStdMax)
		p.sigma[i] = expf(ls)
		p.eps[i] = r.NormFloat32()
		u := p.mu[i] + p.sigma[i]*p.eps[i]
		a := tanhf(u)
		p.act[i] = a
		logp += -ls - 0.5*p.eps[i]*p.eps[i] - 0.5*float32(math.Log(2*math.Pi)) -
			logf(1-a*a+tanhEps)
	}
	return append([]float32(nil), p.act...), logp
}

// Replay recomputes the forward pass of Sample with previously recorded
// noise, restoring the caches Backward needs. Used when several samples are
// processed between a forward and its backward.
func (p *TanhNormalPolicy) Replay(x, eps []float32) (action []float32, logp float32) {
	h := p.Body.Forward(x)
	p.mu = p.Mean.Forward(h)
	p.lsRaw = p.LogStd.Forward(h)

	n := len(p.mu)
	p.sigma = make([]float32, n)
	p.eps = append([]float32(nil), eps...)
	p.act = make([]float32, n)
	for i := 0; i < n; i++ {
		ls := clamp(p.lsRaw[i], logStdMin, logStdMax)
		p.sigma[i] = expf(ls)
		u := p.mu[i] + p.sigma[i]*eps[i]
		a := tanhf(u)
		p.act[i] = a
		logp += -ls - 0.5*eps[i]*eps[i] - 0.5*float32(math.Log(2*math.Pi)) -
			logf(1-a*a+tanhEps)
	}
	return append([]float32(nil), p.act...), logp
}

// Noise returns the noise drawn by the last Sample, for later Replay.
func (p *TanhNormalPolicy) Noise() []float32 {
	return append([]float32(nil), p.eps...)
}

// Mode returns the deterministic action tanh(mu), used for evaluation. It
// leaves the Sample/Backward caches alone, so evaluation workers may share
// one policy while no training runs concurrently.
func (p *TanhNormalPolicy) Mode(x []float32) []float32 {
	h := p.Body.Infer(x)
	mu := p.Mean.apply(h)
	out := make([]float32, len(mu))
	for i, m := range mu {
		out[i] = tanhf(m)
	}
	return out
}

// Backward accumulates gradients for a loss with gradient dA with respect to
// the sampled action and coefficient dLogp on the log-probability, and
// returns the gradient with respect to the input.
func (p *TanhNormalPolicy) Backward(dA []float32, dLogp float32, accumulate bool) []float32 {
	n := len(p.act)
	dmu := make([]float32, n)
	dls := make([]float32, n)
	for i := 0; i < n; i++ {
		a := p.act[i]
		dadu := 1 - a*a
		// d logp / du through the squash correction term.
		dlpdu := 2 * a * dadu / (1 - a*a + tanhEps)
		du := dA[i]*dadu + dLogp*dlpdu
		dmu[i] = du
		// u = mu + sigma*eps, sigma = exp(ls): du/dls = sigma*eps.
		dls[i] = du*p.sigma[i]*p.eps[i] - dLogp
		if p.lsRaw[i] < logStdMin || p.lsRaw[i] > logStdMax {
			dls[i] = 0
		}
	}
	dh := p.Mean.Backward(dmu, accumulate)
	f32.Add(dh, p.LogStd.Backward(dls, accumulate))
	return p.Body.Backward(dh, accumulate)
}

// Params returns all parameter/gradient pairs of the policy.
func (p *TanhNormalPolicy) Params() []Param {
	ps := p.Body.Params()
	ps = append(ps, p.Mean.Params()...)
	ps = append(ps, p.LogStd.Params()...)
	return ps
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func expf(v float32) float32  { return float32(math.Exp(float64(v))) }
func logf(v float32) float32  { return float32(math.Log(float64(v))) }
func tanhf(v float32) float32 { return float32(math.Tanh(float64(v))) }
