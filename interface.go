// Package rlrd implements checkpointed training of soft actor-critic agents
// and their real-time, delay-aware variants (RTAC, RRTAC).
//
// A Training value holds the entire mutable state of one run: the agent, its
// replay memory, the environment and the epoch/round/step counters. The
// EpisodeIterator drives it one epoch at a time, persisting the full state to
// a checkpoint file after every epoch and reloading from that file before the
// next, so that an interrupted run resumes on the exact trajectory an
// uninterrupted run would have taken.
package rlrd

// StepInfo carries out-of-band scalar metadata for one environment step.
type StepInfo map[string]float64

// Observation is what an environment reports at one step.
//
// Plain environments populate only Vec. Delay-aware environments additionally
// report the buffer of recently submitted actions (newest last) together with
// the age of Vec (ObsDelay) and of the most recently applied action
// (ActDelay), both in steps.
type Observation struct {
	Vec          []float32
	ActionBuffer [][]float32
	ObsDelay     int
	ActDelay     int
}

// BoxSpace describes a bounded continuous vector space.
type BoxSpace struct {
	Low  []float32
	High []float32
}

// Dim returns the number of dimensions of the space.
func (s BoxSpace) Dim() int { return len(s.Low) }

// ObsSpace describes the structure of an environment's observations.
// BufLen is zero for plain environments; delay-aware environments report the
// action buffer length, from which the one-hot delay encodings are sized.
type ObsSpace struct {
	Box    BoxSpace
	BufLen int
	ActDim int
}

// Delayed reports whether observations carry delay structure.
func (s ObsSpace) Delayed() bool { return s.BufLen > 0 }

// RecurrentState is an agent's hidden state threaded through Act calls.
// It is nil for non-recurrent agents and at episode starts.
type RecurrentState []float32

// Environment is the collaborator an agent interacts with.
//
// Step returns the observation that results from the action, the reward
// received for reaching it, whether the episode ended, and optional metadata.
// Implementations are expected to be deterministic given their serialized
// state, so that a reloaded checkpoint replays the same trajectory.
type Environment interface {
	Reset() Observation
	Step(action []float32) (obs Observation, reward float32, done bool, info StepInfo)
	ObservationSpace() ObsSpace
	ActionSpace() BoxSpace
}

// Agent consumes observations and produces actions.
//
// With train=true the agent appends the observed transition to its replay
// memory and performs however many gradient steps its training cadence has
// accrued, returning one Stats record per step performed. With train=false
// the call is pure inference with no side effects beyond the agent's own
// random stream.
type Agent interface {
	Act(h RecurrentState, obs Observation, reward float32, done bool, info StepInfo, train bool) (action []float32, next RecurrentState, stats []Stats)
}
