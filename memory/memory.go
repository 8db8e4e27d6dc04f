// Package memory implements the replay memories agents sample training
// batches from: a fixed-capacity ring of transitions, and a trajectory
// variant that samples contiguous windows for recurrent agents.
package memory

import (
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/internal/rng"
)

// ErrNotEnough is returned by sampling when the memory does not yet hold
// enough transitions for the requested window shape.
var ErrNotEnough = errors.New("memory: not enough transitions to sample")

// Transition is one recorded environment step: the observation the agent saw,
// the action it chose there, and the reward/terminal flag received upon
// arriving at that observation.
type Transition struct {
	Obs    rlrd.Observation
	Action []float32
	Reward float32
	Done   bool
	Hidden []float32
}

// Memory is a fixed-capacity ring of transitions. Entries are addressed in
// chronological order: index 0 is the oldest retained transition and
// Len()-1 the newest. Because sampling happens in this chronological index
// space, a window of consecutive indices can never straddle the write cursor
// and mix stale with fresh data.
type Memory struct {
	Capacity  int
	BatchSize int
	Data      []Transition
	Head      int // physical position of chronological index 0
	Rng       *rng.Rand
}

// New returns an empty memory with the given capacity and sampling batch size.
func New(capacity, batchSize int, seed uint64) *Memory {
	return &Memory{
		Capacity:  capacity,
		BatchSize: batchSize,
		Rng:       rng.New(seed),
	}
}

// Len reports the number of retained transitions, at most Capacity.
func (m *Memory) Len() int { return len(m.Data) }

// Append records one transition, overwriting the oldest entry once the
// memory is full. Amortized O(1).
func (m *Memory) Append(reward float32, done bool, info rlrd.StepInfo, obs rlrd.Observation, hidden, action []float32) {
	_ = info // recorded transitions do not retain step metadata
	tr := Transition{Obs: obs, Action: action, Reward: reward, Done: done, Hidden: hidden}
	if len(m.Data) < m.Capacity {
		m.Data = append(m.Data, tr)
		return
	}
	m.Data[m.Head] = tr
	m.Head++
	if m.Head == m.Capacity {
		m.Head = 0
	}
}

// At returns the transition at the given chronological index.
func (m *Memory) At(i int) Transition {
	return m.Data[(m.Head+i)%len(m.Data)]
}

// Batch is a set of independently sampled transition pairs, expanded into
// the fields a non-recurrent agent trains on. Terminals and Rewards belong
// to the arrival at NextObs.
type Batch struct {
	Obs       []rlrd.Observation
	Actions   [][]float32
	Rewards   []float32
	NextObs   []rlrd.Observation
	Terminals []bool
}

// Sample draws BatchSize distinct pair windows uniformly over the
// chronological index range: no start index repeats within one batch, and
// the batch shrinks to the number of valid starts when fewer than BatchSize
// exist. It returns ErrNotEnough while fewer than two transitions are
// retained; the training cadence is expected to prevent that from occurring.
func (m *Memory) Sample() (*Batch, error) {
	n := m.Len() - 1 // number of valid pair starts
	if n < 1 {
		return nil, ErrNotEnough
	}
	size := m.BatchSize
	if size > n {
		size = n
	}
	b := &Batch{
		Obs:       make([]rlrd.Observation, size),
		Actions:   make([][]float32, size),
		Rewards:   make([]float32, size),
		NextObs:   make([]rlrd.Observation, size),
		Terminals: make([]bool, size),
	}
	for k, i := range m.Rng.Sample(n, size) {
		first := m.At(i)
		second := m.At(i + 1)
		b.Obs[k] = first.Obs
		b.Actions[k] = first.Action
		b.Rewards[k] = second.Reward
		b.NextObs[k] = second.Obs
		b.Terminals[k] = second.Done
	}
	return b, nil
}

func init() {
	gob.Register(&Memory{})
	gob.Register(&TrajMemory{})
}
