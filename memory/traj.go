package memory

import "github.com/yannbouteiller/rlrd"

// TrajMemory is the trajectory variant of Memory: sampling draws contiguous
// windows of HistoryLength+1 consecutive transitions instead of pairs, for
// agents that recompute recurrent state forward through the window.
type TrajMemory struct {
	Memory
	HistoryLength int
}

// NewTraj returns an empty trajectory memory.
func NewTraj(capacity, batchSize, historyLength int, seed uint64) *TrajMemory {
	return &TrajMemory{
		Memory:        *New(capacity, batchSize, seed),
		HistoryLength: historyLength,
	}
}

// TrajBatch is a batch of trajectory windows, stacked step-major: Obs[i][k]
// is step i of window k. Hidden is the recurrent state recorded at the first
// step of each window; Terminals is the terminal flag of the last step,
// used to mask bootstrapping.
type TrajBatch struct {
	Obs       [][]rlrd.Observation // [HistoryLength+1][BatchSize]
	Hidden    [][]float32          // [BatchSize]
	Actions   [][][]float32        // [HistoryLength][BatchSize]
	Rewards   [][]float32          // [HistoryLength][BatchSize]
	Terminals []bool               // [BatchSize]
}

// SampleTraj draws BatchSize distinct windows of HistoryLength+1 consecutive
// transitions. Window starts are uniform over [0, Len()-HistoryLength-1] in
// chronological index space, so every window consists of contiguous,
// chronologically written transitions; the HistoryLength+1 most recent start
// positions are excluded because their windows would be incomplete. No start
// repeats within one batch, and the batch shrinks to the number of valid
// starts when fewer than BatchSize exist.
func (m *TrajMemory) SampleTraj() (*TrajBatch, error) {
	h := m.HistoryLength
	starts := m.Len() - h // number of valid window starts, window size h+1
	if starts < 1 {
		return nil, ErrNotEnough
	}
	size := m.BatchSize
	if size > starts {
		size = starts
	}

	b := &TrajBatch{
		Obs:       make([][]rlrd.Observation, h+1),
		Hidden:    make([][]float32, size),
		Actions:   make([][][]float32, h),
		Rewards:   make([][]float32, h),
		Terminals: make([]bool, size),
	}
	for i := 0; i <= h; i++ {
		b.Obs[i] = make([]rlrd.Observation, size)
	}
	for i := 0; i < h; i++ {
		b.Actions[i] = make([][]float32, size)
		b.Rewards[i] = make([]float32, size)
	}

	for k, s := range m.Rng.Sample(starts, size) {
		for i := 0; i <= h; i++ {
			tr := m.At(s + i)
			b.Obs[i][k] = tr.Obs
			if i == 0 {
				b.Hidden[k] = tr.Hidden
			}
			if i > 0 {
				b.Actions[i-1][k] = m.At(s + i - 1).Action
				b.Rewards[i-1][k] = tr.Reward
			}
			if i == h {
				b.Terminals[k] = tr.Done
			}
		}
	}
	return b, nil
}
