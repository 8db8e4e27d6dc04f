package envs

import (
	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/internal/f32"
	"github.com/yannbouteiller/rlrd/internal/rng"
)

// DelayedEnv wraps an environment with random observation and action
// delays. Each step the submitted action joins a buffer of in-flight
// actions; the action actually applied is one submitted ActDelay steps ago,
// and the observation reported is ObsDelay steps old. The full buffer and
// both delay indices are exposed in the observation so delay-aware agents
// can undo the staleness.
type DelayedEnv struct {
	Inner       rlrd.Environment
	ObsDelayMax int
	ActDelayMax int
	Rng         *rng.Rand

	// ActBuf holds the last BufLen submitted actions, newest last.
	ActBuf [][]float32
	// ObsHist holds the last ObsDelayMax+1 raw observation vectors,
	// newest last.
	ObsHist [][]float32
}

// NewDelayed wraps inner with delays drawn uniformly from
// [0, ObsDelayMax] and [0, ActDelayMax] each step.
func NewDelayed(inner rlrd.Environment, obsDelayMax, actDelayMax int, seed uint64) *DelayedEnv {
	return &DelayedEnv{
		Inner:       inner,
		ObsDelayMax: obsDelayMax,
		ActDelayMax: actDelayMax,
		Rng:         rng.New(seed),
	}
}

// BufLen is the action buffer length: one slot per step a delay can span.
func (e *DelayedEnv) BufLen() int {
	return e.ObsDelayMax + e.ActDelayMax + 1
}

// Reset implements rlrd.Environment.
func (e *DelayedEnv) Reset() rlrd.Observation {
	inner := e.Inner.Reset()
	actDim := e.Inner.ActionSpace().Dim()
	e.ActBuf = e.ActBuf[:0]
	for i := 0; i < e.BufLen(); i++ {
		e.ActBuf = append(e.ActBuf, make([]float32, actDim))
	}
	e.ObsHist = e.ObsHist[:0]
	for i := 0; i <= e.ObsDelayMax; i++ {
		e.ObsHist = append(e.ObsHist, f32.Clone(inner.Vec))
	}
	return e.observe(0, 0)
}

// Step implements rlrd.Environment.
func (e *DelayedEnv) Step(action []float32) (rlrd.Observation, float32, bool, rlrd.StepInfo) {
	e.ActBuf = append(e.ActBuf[1:], f32.Clone(action))

	actDelay := 0
	if e.ActDelayMax > 0 {
		actDelay = e.Rng.Intn(e.ActDelayMax + 1)
	}
	applied := e.ActBuf[len(e.ActBuf)-1-actDelay]

	inner, reward, done, info := e.Inner.Step(applied)
	e.ObsHist = append(e.ObsHist[1:], f32.Clone(inner.Vec))

	obsDelay := 0
	if e.ObsDelayMax > 0 {
		obsDelay = e.Rng.Intn(e.ObsDelayMax + 1)
	}
	return e.observe(obsDelay, actDelay), reward, done, info
}

func (e *DelayedEnv) observe(obsDelay, actDelay int) rlrd.Observation {
	buf := make([][]float32, len(e.ActBuf))
	for i, a := range e.ActBuf {
		buf[i] = f32.Clone(a)
	}
	return rlrd.Observation{
		Vec:          f32.Clone(e.ObsHist[len(e.ObsHist)-1-obsDelay]),
		ActionBuffer: buf,
		ObsDelay:     obsDelay,
		ActDelay:     actDelay,
	}
}

// ObservationSpace implements rlrd.Environment.
func (e *DelayedEnv) ObservationSpace() rlrd.ObsSpace {
	inner := e.Inner.ObservationSpace()
	return rlrd.ObsSpace{
		Box:    inner.Box,
		BufLen: e.BufLen(),
		ActDim: e.Inner.ActionSpace().Dim(),
	}
}

// ActionSpace implements rlrd.Environment.
func (e *DelayedEnv) ActionSpace() rlrd.BoxSpace {
	return e.Inner.ActionSpace()
}
