package sac

import (
	"github.com/pkg/errors"

	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/memory"
	"github.com/yannbouteiller/rlrd/rdbstore"
)

// ReplayMemory is what the non-recurrent agents require of their memory.
type ReplayMemory interface {
	Append(reward float32, done bool, info rlrd.StepInfo, obs rlrd.Observation, hidden, action []float32)
	Len() int
	Sample() (*memory.Batch, error)
}

// TrajReplayMemory is the trajectory-window counterpart used by RRTAC.
type TrajReplayMemory interface {
	Append(reward float32, done bool, info rlrd.StepInfo, obs rlrd.Observation, hidden, action []float32)
	Len() int
	SampleTraj() (*memory.TrajBatch, error)
}

func newReplay(spec rlrd.AgentSpec, seed uint64) (ReplayMemory, error) {
	switch spec.MemoryLocation {
	case "", "ram":
		return memory.New(spec.MemorySize, spec.BatchSize, seed), nil
	case "rocksdb":
		return rdbstore.Open(rdbstore.DefaultParams(spec.MemoryPath), spec.MemorySize, spec.BatchSize, spec.HistoryLength, seed)
	default:
		return nil, errors.Errorf("sac: unknown memory location %q", spec.MemoryLocation)
	}
}

func newTrajReplay(spec rlrd.AgentSpec, seed uint64) (TrajReplayMemory, error) {
	switch spec.MemoryLocation {
	case "", "ram":
		return memory.NewTraj(spec.MemorySize, spec.BatchSize, spec.HistoryLength, seed), nil
	case "rocksdb":
		return rdbstore.Open(rdbstore.DefaultParams(spec.MemoryPath), spec.MemorySize, spec.BatchSize, spec.HistoryLength, seed)
	default:
		return nil, errors.Errorf("sac: unknown memory location %q", spec.MemoryLocation)
	}
}
