// Package nn implements the small float32 neural networks the agents train:
// fully connected layers, a tanh-normal policy head, a recurrent cell, the
// Adam optimizer, exponential-moving-average target updates and PopArt
// output normalization. Layers process one sample at a time; gradients
// accumulate into the layer until the optimizer step zeroes them.
package nn

import (
	"math"

	"github.com/yannbouteiller/rlrd/internal/f32"
	"github.com/yannbouteiller/rlrd/internal/rng"
)

// Param pairs a parameter vector with its gradient accumulator.
type Param struct {
	W []float32
	G []float32
}

// Linear is a fully connected layer, y = Wx + b. W is row-major [Out][In].
type Linear struct {
	In, Out int
	W, B    []float32
	GW, GB  []float32

	x []float32 // input cache from the last Forward
}

// NewLinear returns a layer with Xavier-uniform weights.
func NewLinear(in, out int, r *rng.Rand) *Linear {
	l := &Linear{
		In: in, Out: out,
		W:  make([]float32, in*out),
		B:  make([]float32, out),
		GW: make([]float32, in*out),
		GB: make([]float32, out),
	}
	limit := float32(math.Sqrt(6 / float64(in+out)))
	for i := range l.W {
		l.W[i] = (2*r.Float32() - 1) * limit
	}
	return l
}

// Forward computes y = Wx + b, caching x for Backward.
func (l *Linear) Forward(x []float32) []float32 {
	l.x = x
	return l.apply(x)
}

// apply computes y = Wx + b without touching the backward cache, so it only
// reads the layer and is safe to call from concurrent inference.
func (l *Linear) apply(x []float32) []float32 {
	y := make([]float32, l.Out)
	for o := 0; o < l.Out; o++ {
		y[o] = f32.Dot(l.W[o*l.In:(o+1)*l.In], x) + l.B[o]
	}
	return y
}

// Backward propagates dy through the last Forward input. When accumulate is
// true the parameter gradients are added to GW/GB; either way the gradient
// with respect to the input is returned.
func (l *Linear) Backward(dy []float32, accumulate bool) []float32 {
	return l.BackwardAt(dy, l.x, accumulate)
}

// BackwardAt is Backward against an explicitly supplied input, for callers
// that run several forwards before backpropagating (e.g. recurrent unrolls).
func (l *Linear) BackwardAt(dy, x []float32, accumulate bool) []float32 {
	dx := make([]float32, l.In)
	for o, g := range dy {
		if g == 0 {
			continue
		}
		row := l.W[o*l.In : (o+1)*l.In]
		f32.Axpy(g, row, dx)
		if accumulate {
			f32.Axpy(g, x, l.GW[o*l.In:(o+1)*l.In])
			l.GB[o] += g
		}
	}
	return dx
}

// Params returns the layer's parameter/gradient pairs.
func (l *Linear) Params() []Param {
	return []Param{{l.W, l.GW}, {l.B, l.GB}}
}

// MLP is a stack of Linear layers with ReLU between them, and optionally
// after the last layer when OutActivation is set (used for network bodies
// whose output feeds further heads).
type MLP struct {
	Layers        []*Linear
	OutActivation bool

	acts [][]float32 // post-ReLU caches, one per activation applied
}

// NewMLP builds a stack with the given layer sizes, e.g. NewMLP(r, false,
// in, hidden, out).
func NewMLP(r *rng.Rand, outActivation bool, sizes ...int) *MLP {
	m := &MLP{OutActivation: outActivation}
	for i := 0; i+1 < len(sizes); i++ {
		m.Layers = append(m.Layers, NewLinear(sizes[i], sizes[i+1], r))
	}
	return m
}

// Forward runs the stack on one sample.
func (m *MLP) Forward(x []float32) []float32 {
	m.acts = m.acts[:0]
	last := len(m.Layers) - 1
	for i, l := range m.Layers {
		x = l.Forward(x)
		if i < last || m.OutActivation {
			relu(x)
			m.acts = append(m.acts, x)
		}
	}
	return x
}

// Infer runs the stack without recording backward caches. It only reads the
// network, so concurrent callers may share one MLP as long as nothing trains
// it at the same time.
func (m *MLP) Infer(x []float32) []float32 {
	last := len(m.Layers) - 1
	for i, l := range m.Layers {
		x = l.apply(x)
		if i < last || m.OutActivation {
			relu(x)
		}
	}
	return x
}

// Backward propagates dy through the stack and returns the input gradient.
func (m *MLP) Backward(dy []float32, accumulate bool) []float32 {
	last := len(m.Layers) - 1
	d := dy
	if m.OutActivation {
		d = maskReLU(d, m.acts[len(m.acts)-1])
	}
	for i := last; i >= 0; i-- {
		d = m.Layers[i].Backward(d, accumulate)
		if i > 0 {
			d = maskReLU(d, m.acts[i-1])
		}
	}
	return d
}

// Params returns all parameter/gradient pairs of the stack.
func (m *MLP) Params() []Param {
	var ps []Param
	for _, l := range m.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func relu(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// maskReLU zeroes gradient entries where the cached post-activation was
// clipped. d is modified in place and returned.
func maskReLU(d, act []float32) []float32 {
	for i := range d {
		if act[i] <= 0 {
			d[i] = 0
		}
	}
	return d
}
