package nn

import "github.com/yannbouteiller/rlrd/internal/rng"

// Cell is a minimal recurrent cell, h' = tanh(Wx·x + Wh·h + b). It holds no
// forward caches: callers unrolling a trajectory keep the per-step inputs
// and outputs themselves and hand them back to BackwardAt in reverse order.
type Cell struct {
	Wx        *Linear
	Wh        *Linear
	HiddenDim int
}

// NewCell returns a cell mapping inDim inputs and hiddenDim state to
// hiddenDim state.
func NewCell(r *rng.Rand, inDim, hiddenDim int) *Cell {
	return &Cell{
		Wx:        NewLinear(inDim, hiddenDim, r),
		Wh:        NewLinear(hiddenDim, hiddenDim, r),
		HiddenDim: hiddenDim,
	}
}

// ZeroState returns the initial hidden state.
func (c *Cell) ZeroState() []float32 {
	return make([]float32, c.HiddenDim)
}

// Step advances the state by one step. h may be nil at an episode start.
// Step writes nothing into the cell, so concurrent inference may share it.
func (c *Cell) Step(h, x []float32) []float32 {
	if h == nil {
		h = c.ZeroState()
	}
	u := c.Wx.apply(x)
	uh := c.Wh.apply(h)
	out := make([]float32, c.HiddenDim)
	for i := range out {
		out[i] = tanhf(u[i] + uh[i])
	}
	return out
}

// BackwardAt propagates dOut through one recorded step (input x, previous
// state hPrev, produced state out), returning the gradients with respect to
// the previous state and the input. Parameter gradients accumulate only
// when accumulate is set.
func (c *Cell) BackwardAt(dOut, x, hPrev, out []float32, accumulate bool) (dhPrev, dx []float32) {
	if hPrev == nil {
		hPrev = c.ZeroState()
	}
	du := make([]float32, c.HiddenDim)
	for i, g := range dOut {
		du[i] = g * (1 - out[i]*out[i])
	}
	dx = c.Wx.BackwardAt(du, x, accumulate)
	dhPrev = c.Wh.BackwardAt(du, hPrev, accumulate)
	return dhPrev, dx
}

// Params returns all parameter/gradient pairs of the cell.
func (c *Cell) Params() []Param {
	return append(c.Wx.Params(), c.Wh.Params()...)
}
