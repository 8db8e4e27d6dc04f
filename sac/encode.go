// Package sac implements the soft actor-critic agent and its real-time
// variants RTAC and RRTAC as sibling types behind the rlrd.Agent interface.
package sac

import (
	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/internal/f32"
)

// ObsEncoder flattens structured observations into network input vectors.
// For delay-aware observations the layout is
//
//	[ raw obs | action buffer, newest last | obs-delay one-hot | act-delay one-hot ]
//
// with both one-hots sized to the buffer length. Plain observations encode
// to their raw vector.
type ObsEncoder struct {
	Space rlrd.ObsSpace
}

// Dim is the encoded input dimension.
func (e ObsEncoder) Dim() int {
	d := e.Space.Box.Dim()
	if e.Space.Delayed() {
		d += e.Space.BufLen*e.Space.ActDim + 2*e.Space.BufLen
	}
	return d
}

// Encode flattens one observation.
func (e ObsEncoder) Encode(obs rlrd.Observation) []float32 {
	out := make([]float32, e.Dim())
	copy(out, obs.Vec)
	if !e.Space.Delayed() {
		return out
	}
	off := e.Space.Box.Dim()
	for _, a := range obs.ActionBuffer {
		copy(out[off:], a)
		off += e.Space.ActDim
	}
	if obs.ObsDelay < e.Space.BufLen {
		out[off+obs.ObsDelay] = 1
	}
	off += e.Space.BufLen
	if obs.ActDelay < e.Space.BufLen {
		out[off+obs.ActDelay] = 1
	}
	return out
}

// NewestActionOffset is the index of the most recent action slot within an
// encoded vector, the slot the real-time variants substitute a fresh policy
// action into.
func (e ObsEncoder) NewestActionOffset() int {
	return e.Space.Box.Dim() + (e.Space.BufLen-1)*e.Space.ActDim
}

// EncodeWithAction encodes obs with the newest action buffer slot replaced
// by the given action.
func (e ObsEncoder) EncodeWithAction(obs rlrd.Observation, action []float32) []float32 {
	out := e.Encode(obs)
	copy(out[e.NewestActionOffset():], action)
	return out
}

func concat(xs ...[]float32) []float32 {
	var n int
	for _, x := range xs {
		n += len(x)
	}
	out := make([]float32, 0, n)
	for _, x := range xs {
		out = append(out, x...)
	}
	return out
}

// scaleAction maps a unit policy output into the action space bounds.
func scaleAction(unit, high []float32) []float32 {
	out := f32.Clone(unit)
	for i, h := range high {
		out[i] *= h
	}
	return out
}
