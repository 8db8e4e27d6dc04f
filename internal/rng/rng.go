// Package rng implements a small splitmix64 random number generator whose
// state serializes with gob, so that a reloaded checkpoint continues the
// exact random stream of the run that wrote it.
package rng

import (
	"bytes"
	"encoding/gob"
	"math"
)

// Rand is a deterministic random number generator seeded once and advanced
// one 64-bit word at a time. It is not safe for concurrent use.
type Rand struct {
	state uint64
}

// New returns a generator seeded with the given value.
func New(seed uint64) *Rand {
	return &Rand{state: seed}
}

// Uint64 returns the next word of the stream.
func (r *Rand) Uint64() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Float64 returns a uniform value in [0, 1).
func (r *Rand) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// Float32 returns a uniform value in [0, 1).
func (r *Rand) Float32() float32 {
	return float32(r.Uint64()>>40) / (1 << 24)
}

// Intn returns a uniform value in [0, n). It panics if n <= 0.
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		panic("rng: Intn with non-positive n")
	}
	return int(r.Uint64() % uint64(n))
}

// Sample returns k distinct values drawn uniformly from [0, n), in random
// order, via a partial Fisher-Yates shuffle over a sparse view of the range.
// It panics if k > n or n <= 0.
func (r *Rand) Sample(n, k int) []int {
	if k > n {
		panic("rng: Sample with k > n")
	}
	// swapped records only the positions the shuffle has touched, so the
	// cost is O(k) regardless of n.
	swapped := make(map[int]int, 2*k)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		j := i + r.Intn(n-i)
		out[i] = at(j)
		swapped[j] = at(i)
	}
	return out
}

// Norm returns a standard normal value via the Box-Muller transform.
// Both uniforms are always consumed so the stream position is a pure
// function of the number of calls.
func (r *Rand) Norm() float64 {
	u := 1.0 - r.Float64() // avoid log(0)
	v := r.Float64()
	return math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*v)
}

// NormFloat32 is Norm truncated to float32.
func (r *Rand) NormFloat32() float32 {
	return float32(r.Norm())
}

func (r *Rand) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(r.state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Rand) GobDecode(buf []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(buf))
	return dec.Decode(&r.state)
}
