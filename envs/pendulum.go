// Package envs provides the environments the agents train against: a
// classic pendulum swing-up task used throughout the tests, a wrapper that
// introduces random observation and action delays, and a wrapper that paces
// steps against the wall clock.
package envs

import (
	"encoding/gob"
	"math"
	"time"

	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/internal/rng"
)

const (
	pendulumMaxSpeed  = 8
	pendulumMaxTorque = 2
	pendulumDt        = 0.05
	pendulumG         = 10
	pendulumMass      = 1
	pendulumLength    = 1
	pendulumHorizon   = 200
)

// Pendulum is the classic underactuated swing-up task: observations are
// [cos th, sin th, th_dot], actions a single torque, reward penalizes angle,
// speed and effort. Episodes end after a fixed horizon.
type Pendulum struct {
	Rng      *rng.Rand
	Theta    float64
	ThetaDot float64
	Count    int
}

// NewPendulum returns a pendulum with its own random stream.
func NewPendulum(seed uint64) *Pendulum {
	return &Pendulum{Rng: rng.New(seed)}
}

// Reset implements rlrd.Environment.
func (p *Pendulum) Reset() rlrd.Observation {
	p.Theta = (2*p.Rng.Float64() - 1) * math.Pi
	p.ThetaDot = 2*p.Rng.Float64() - 1
	p.Count = 0
	return p.observe()
}

// Step implements rlrd.Environment.
func (p *Pendulum) Step(action []float32) (rlrd.Observation, float32, bool, rlrd.StepInfo) {
	u := float64(action[0])
	if u > pendulumMaxTorque {
		u = pendulumMaxTorque
	} else if u < -pendulumMaxTorque {
		u = -pendulumMaxTorque
	}

	th := angleNormalize(p.Theta)
	cost := th*th + 0.1*p.ThetaDot*p.ThetaDot + 0.001*u*u

	p.ThetaDot += (3*pendulumG/(2*pendulumLength)*math.Sin(p.Theta) +
		3/(pendulumMass*pendulumLength*pendulumLength)*u) * pendulumDt
	if p.ThetaDot > pendulumMaxSpeed {
		p.ThetaDot = pendulumMaxSpeed
	} else if p.ThetaDot < -pendulumMaxSpeed {
		p.ThetaDot = -pendulumMaxSpeed
	}
	p.Theta += p.ThetaDot * pendulumDt

	p.Count++
	done := p.Count >= pendulumHorizon
	return p.observe(), float32(-cost), done, nil
}

func (p *Pendulum) observe() rlrd.Observation {
	return rlrd.Observation{Vec: []float32{
		float32(math.Cos(p.Theta)),
		float32(math.Sin(p.Theta)),
		float32(p.ThetaDot),
	}}
}

// ObservationSpace implements rlrd.Environment.
func (p *Pendulum) ObservationSpace() rlrd.ObsSpace {
	return rlrd.ObsSpace{Box: rlrd.BoxSpace{
		Low:  []float32{-1, -1, -pendulumMaxSpeed},
		High: []float32{1, 1, pendulumMaxSpeed},
	}}
}

// ActionSpace implements rlrd.Environment.
func (p *Pendulum) ActionSpace() rlrd.BoxSpace {
	return rlrd.BoxSpace{Low: []float32{-pendulumMaxTorque}, High: []float32{pendulumMaxTorque}}
}

func angleNormalize(th float64) float64 {
	m := math.Mod(th+math.Pi, 2*math.Pi)
	if m < 0 {
		m += 2 * math.Pi
	}
	return m - math.Pi
}

func init() {
	gob.Register(&Pendulum{})
	gob.Register(&DelayedEnv{})
	gob.Register(&RealTimeEnv{})

	rlrd.RegisterEnv("Pendulum", func(spec rlrd.EnvSpec, seed uint64) (rlrd.Environment, error) {
		seeds := rng.New(seed)
		var env rlrd.Environment = NewPendulum(seeds.Uint64())
		if spec.ObsDelayMax > 0 || spec.ActDelayMax > 0 {
			env = NewDelayed(env, spec.ObsDelayMax, spec.ActDelayMax, seeds.Uint64())
		}
		if spec.RealTime {
			env = NewRealTime(env, time.Duration(spec.TimeStepMs)*time.Millisecond)
		}
		return env, nil
	})
}
