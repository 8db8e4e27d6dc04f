package nn

import (
	"math"

	"github.com/yannbouteiller/rlrd/internal/f32"
)

// stdFloor keeps normalization meaningful when targets collapse to a point.
const stdFloor = 1e-4

// PopArt tracks running statistics of value targets and rescales critic
// output layers whenever the statistics move, preserving the layers'
// unnormalized outputs. Critics then regress in an approximately fixed
// range regardless of the reward scale.
type PopArt struct {
	Beta float32 // statistics update rate
	Mean float32
	Nu   float32 // running second moment
	Std  float32
}

// NewPopArt returns normalization with identity statistics.
func NewPopArt(beta float32) *PopArt {
	return &PopArt{Beta: beta, Nu: 1, Std: 1}
}

// Update folds a batch of raw targets into the running statistics, rescales
// the given output layers to compensate, and returns the targets normalized
// with the new statistics.
func (p *PopArt) Update(targets []float32, layers ...*Linear) []float32 {
	oldMean, oldStd := p.Mean, p.Std

	var bm, bsq float32
	for _, t := range targets {
		bm += t
		bsq += t * t
	}
	n := float32(len(targets))
	bm /= n
	bsq /= n

	p.Mean += p.Beta * (bm - p.Mean)
	p.Nu += p.Beta * (bsq - p.Nu)
	p.Std = float32(math.Sqrt(math.Max(float64(p.Nu-p.Mean*p.Mean), stdFloor*stdFloor)))

	// Rescale outputs: w' = w*so/sn, b' = (so*b + mo - mn)/sn, so that
	// sn*y' + mn == so*y + mo for every input.
	scale := oldStd / p.Std
	for _, l := range layers {
		f32.Scal(scale, l.W)
		for i := range l.B {
			l.B[i] = (oldStd*l.B[i] + oldMean - p.Mean) / p.Std
		}
	}

	out := make([]float32, len(targets))
	for i, t := range targets {
		out[i] = (t - p.Mean) / p.Std
	}
	return out
}

// Normalize maps a raw value into the normalized range.
func (p *PopArt) Normalize(v float32) float32 { return (v - p.Mean) / p.Std }

// Unnormalize maps a normalized critic output back to the raw value scale.
func (p *PopArt) Unnormalize(v float32) float32 { return v*p.Std + p.Mean }

// EMATo moves target's statistics toward p by rate tau, mirroring the
// treatment of target network parameters.
func (p *PopArt) EMATo(target *PopArt, tau float32) {
	target.Mean += tau * (p.Mean - target.Mean)
	target.Nu += tau * (p.Nu - target.Nu)
	target.Std = float32(math.Sqrt(math.Max(float64(target.Nu-target.Mean*target.Mean), stdFloor*stdFloor)))
}
