package envs

import (
	"time"

	"github.com/yannbouteiller/rlrd"
)

// RealTimeEnv paces an environment against the wall clock: each Step blocks
// until TimeStep has elapsed since the previous one, so the agent's compute
// time eats into the interval exactly as it would on a physical system. The
// pacing deadline is not part of the serialized state; a resumed run starts
// a fresh clock.
type RealTimeEnv struct {
	Inner    rlrd.Environment
	TimeStep time.Duration

	deadline time.Time
}

// NewRealTime wraps inner with the given wall-clock step duration.
func NewRealTime(inner rlrd.Environment, timeStep time.Duration) *RealTimeEnv {
	return &RealTimeEnv{Inner: inner, TimeStep: timeStep}
}

// Reset implements rlrd.Environment.
func (e *RealTimeEnv) Reset() rlrd.Observation {
	e.deadline = time.Now().Add(e.TimeStep)
	return e.Inner.Reset()
}

// Step implements rlrd.Environment.
func (e *RealTimeEnv) Step(action []float32) (rlrd.Observation, float32, bool, rlrd.StepInfo) {
	if e.TimeStep > 0 {
		if wait := time.Until(e.deadline); wait > 0 {
			time.Sleep(wait)
		}
		e.deadline = time.Now().Add(e.TimeStep)
	}
	return e.Inner.Step(action)
}

// ObservationSpace implements rlrd.Environment.
func (e *RealTimeEnv) ObservationSpace() rlrd.ObsSpace { return e.Inner.ObservationSpace() }

// ActionSpace implements rlrd.Environment.
func (e *RealTimeEnv) ActionSpace() rlrd.BoxSpace { return e.Inner.ActionSpace() }
