package nn

import "math"

// Adam applies the Adam update rule to a set of attached parameters and
// zeroes their gradient accumulators afterwards. Its moment estimates are
// exported so they serialize with the agent; since gob does not preserve
// aliasing into the network weights, the parameter list itself must be
// re-Attached after decoding, in the same order it was built with.
type Adam struct {
	LR    float32
	Beta1 float32
	Beta2 float32
	Eps   float32
	T     int
	M, V  [][]float32

	params []Param
}

// NewAdam returns an optimizer over the given parameters with standard
// moment decay rates.
func NewAdam(lr float32, params ...Param) *Adam {
	a := &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
	a.Attach(params...)
	return a
}

// Attach (re)binds the optimizer to its parameters. Moment buffers are
// allocated on first attach and retained across re-attaches, which is how a
// decoded checkpoint reconnects optimizer state to the decoded weights.
func (a *Adam) Attach(params ...Param) {
	a.params = params
	if len(a.M) == 0 {
		for _, p := range params {
			a.M = append(a.M, make([]float32, len(p.W)))
			a.V = append(a.V, make([]float32, len(p.W)))
		}
	}
}

// Step applies one update from the accumulated gradients and zeroes them.
func (a *Adam) Step() {
	a.T++
	bc1 := 1 - float32(math.Pow(float64(a.Beta1), float64(a.T)))
	bc2 := 1 - float32(math.Pow(float64(a.Beta2), float64(a.T)))
	for i, p := range a.params {
		m, v := a.M[i], a.V[i]
		for j, g := range p.G {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g*g
			mh := m[j] / bc1
			vh := v[j] / bc2
			p.W[j] -= a.LR * mh / (float32(math.Sqrt(float64(vh))) + a.Eps)
			p.G[j] = 0
		}
	}
}

// ZeroGrad clears the gradient accumulators without updating parameters.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		for j := range p.G {
			p.G[j] = 0
		}
	}
}
