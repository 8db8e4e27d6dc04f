package sac

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/internal/f32"
	"github.com/yannbouteiller/rlrd/internal/rng"
	"github.com/yannbouteiller/rlrd/nn"
)

// RRTAC is the recurrent real-time variant: a recurrent cell summarizes the
// delay-encoded observation stream, and training samples trajectory windows
// from which the hidden states are recomputed forward. Only the first stored
// state of a window is trusted; everything after it is rebuilt with the
// current weights, then backpropagated through time.
type RRTAC struct {
	Conf rlrd.AgentSpec
	Enc  ObsEncoder
	High []float32

	Cell    *nn.Cell
	Actor   *nn.TanhNormalPolicy
	Critic1 *nn.MLP
	Critic2 *nn.MLP

	TCell   *nn.Cell
	Target1 *nn.MLP
	Target2 *nn.MLP

	Norm       *nn.PopArt
	NormTarget *nn.PopArt

	Opt *nn.Adam

	Memory       TrajReplayMemory
	Rng          *rng.Rand
	TotalUpdates int
}

// NewRRTAC builds an RRTAC agent. Requires a delay-aware observation space
// and a positive history length.
func NewRRTAC(spec rlrd.AgentSpec, obsSpace rlrd.ObsSpace, actSpace rlrd.BoxSpace, seed uint64) (*RRTAC, error) {
	if err := validate(spec, actSpace); err != nil {
		return nil, err
	}
	if !obsSpace.Delayed() {
		return nil, errors.New("rrtac: requires a delay-aware observation space (wrap the environment)")
	}
	if spec.HistoryLength <= 0 {
		return nil, errors.Errorf("rrtac: history length must be positive (got %d)", spec.HistoryLength)
	}
	r := rng.New(seed)
	enc := ObsEncoder{Space: obsSpace}
	in := enc.Dim()
	h := spec.HiddenUnits

	a := &RRTAC{
		Conf:       spec,
		Enc:        enc,
		High:       append([]float32(nil), actSpace.High...),
		Cell:       nn.NewCell(r, in, h),
		Actor:      nn.NewTanhNormalPolicy(r, h, h, actSpace.Dim()),
		Critic1:    nn.NewMLP(r, false, h, h, 1),
		Critic2:    nn.NewMLP(r, false, h, h, 1),
		TCell:      nn.NewCell(r, in, h),
		Target1:    nn.NewMLP(r, false, h, h, 1),
		Target2:    nn.NewMLP(r, false, h, h, 1),
		Norm:       nn.NewPopArt(spec.TargetUpdate),
		NormTarget: nn.NewPopArt(spec.TargetUpdate),
		Rng:        rng.New(r.Uint64()),
	}
	nn.CopyParams(a.TCell.Params(), a.Cell.Params())
	nn.CopyParams(a.Target1.Params(), a.Critic1.Params())
	nn.CopyParams(a.Target2.Params(), a.Critic2.Params())
	a.Opt = nn.NewAdam(spec.LR, a.allParams()...)

	mem, err := newTrajReplay(spec, r.Uint64())
	if err != nil {
		return nil, err
	}
	a.Memory = mem
	return a, nil
}

func (a *RRTAC) allParams() []nn.Param {
	ps := a.Actor.Params()
	ps = append(ps, a.Critic1.Params()...)
	ps = append(ps, a.Critic2.Params()...)
	ps = append(ps, a.Cell.Params()...)
	return ps
}

func (a *RRTAC) outputLayers() []*nn.Linear {
	return []*nn.Linear{
		a.Critic1.Layers[len(a.Critic1.Layers)-1],
		a.Critic2.Layers[len(a.Critic2.Layers)-1],
	}
}

// Act implements rlrd.Agent. The transition is recorded together with the
// incoming recurrent state, i.e. the state before this observation was
// consumed, which is what training windows resume from.
func (a *RRTAC) Act(h rlrd.RecurrentState, obs rlrd.Observation, reward float32, done bool, info rlrd.StepInfo, train bool) ([]float32, rlrd.RecurrentState, []rlrd.Stats) {
	x := a.Enc.Encode(obs)
	hOut := a.Cell.Step(h, x)

	var action []float32
	if train {
		unit, _ := a.Actor.Sample(hOut, a.Rng)
		action = scaleAction(unit, a.High)
	} else {
		action = scaleAction(a.Actor.Mode(hOut), a.High)
	}

	var stats []rlrd.Stats
	if train {
		a.Memory.Append(reward, done, info, obs, h, action)
		for owed := updatesOwed(a.Memory.Len(), a.Conf.StartTraining, a.TotalUpdates, a.Conf.TrainingSteps); owed > 0; owed-- {
			stats = append(stats, a.Train())
			a.TotalUpdates++
		}
	}
	return action, hOut, stats
}

// Train performs one gradient step over a batch of trajectory windows.
func (a *RRTAC) Train() rlrd.Stats {
	batch, err := a.Memory.SampleTraj()
	if err != nil {
		panic(errors.Wrap(err, "rrtac: training invoked before memory was ready"))
	}
	conf := a.Conf
	hist := len(batch.Actions)
	n := len(batch.Hidden)
	bf := float32(n)
	alpha := conf.LossAlpha

	// Encode every step of every window once.
	xs := make([][][]float32, hist+1)
	for i := range xs {
		xs[i] = make([][]float32, n)
		for k := 0; k < n; k++ {
			xs[i][k] = a.Enc.Encode(batch.Obs[i][k])
		}
	}

	h0 := make([][]float32, n)
	for k := 0; k < n; k++ {
		if batch.Hidden[k] != nil {
			h0[k] = batch.Hidden[k]
		} else {
			h0[k] = a.Cell.ZeroState()
		}
	}

	// Forward pass: recompute hidden states through each window with the
	// current weights, sample fresh actions, and build normalized value
	// targets step by step.
	hs := make([][][]float32, hist) // hidden after consuming step i
	noise := make([][][]float32, hist)
	x2s := make([][][]float32, hist) // next input with the fresh action substituted
	yn := make([][]float32, hist)

	prev := make([][]float32, n)
	ht := make([][]float32, n)
	for k := 0; k < n; k++ {
		prev[k] = h0[k]
		ht[k] = a.TCell.Step(h0[k], xs[0][k])
	}
	for i := 0; i < hist; i++ {
		hs[i] = make([][]float32, n)
		noise[i] = make([][]float32, n)
		x2s[i] = make([][]float32, n)
		ys := make([]float32, n)
		for k := 0; k < n; k++ {
			cur := a.Cell.Step(prev[k], xs[i][k])
			hs[i][k] = cur
			prev[k] = cur

			unit, logp := a.Actor.Sample(cur, a.Rng)
			noise[i][k] = a.Actor.Noise()
			x2s[i][k] = a.Enc.EncodeWithAction(batch.Obs[i+1][k], scaleAction(unit, a.High))

			ht[k] = a.TCell.Step(ht[k], xs[i+1][k])
			vt := minf(a.Target1.Forward(ht[k])[0], a.Target2.Forward(ht[k])[0])
			y := conf.RewardScale*batch.Rewards[i][k] - conf.EntropyScale*logp
			if !batch.Terminals[k] {
				y += conf.Discount * a.NormTarget.Unnormalize(vt)
			}
			ys[k] = y
		}
		yn[i] = a.Norm.Update(ys, a.outputLayers()...)
	}

	// Reverse pass: recompute per-step forwards (the rescale above changed
	// the critic weights) and backpropagate through time.
	var lossC, lossA float64
	dh := make([][]float32, n)
	for k := range dh {
		dh[k] = make([]float32, a.Cell.HiddenDim)
	}
	off := a.Enc.NewestActionOffset()
	for i := hist - 1; i >= 0; i-- {
		for k := 0; k < n; k++ {
			hcur := hs[i][k]

			v1 := a.Critic1.Forward(hcur)[0]
			dc1 := a.Critic1.Backward([]float32{(1 - alpha) * 2 * (v1 - yn[i][k]) / bf}, true)
			v2 := a.Critic2.Forward(hcur)[0]
			dc2 := a.Critic2.Backward([]float32{(1 - alpha) * 2 * (v2 - yn[i][k]) / bf}, true)
			lossC += float64((v1-yn[i][k])*(v1-yn[i][k])+(v2-yn[i][k])*(v2-yn[i][k])) / float64(bf)

			_, logp := a.Actor.Replay(hcur, noise[i][k])
			hn := a.Cell.Step(hcur, x2s[i][k])
			va1 := a.Critic1.Forward(hn)[0]
			va2 := a.Critic2.Forward(hn)[0]
			chosen := a.Critic1
			va := va1
			if va2 < va1 {
				chosen, va = a.Critic2, va2
			}
			var dV float32
			if !batch.Terminals[k] {
				dV = -alpha * conf.Discount / bf
			}
			dhn := chosen.Backward([]float32{dV}, false)
			// Gradient reaches the fresh action only through the cell
			// input; the cell and critic weights stay frozen on this path.
			_, dx2 := a.Cell.BackwardAt(dhn, x2s[i][k], hcur, hn, false)
			dUnit := make([]float32, len(a.High))
			for j := range dUnit {
				dUnit[j] = dx2[off+j] * a.High[j]
			}
			dhA := a.Actor.Backward(dUnit, alpha*conf.EntropyScale/(bf*a.Norm.Std), true)

			la := conf.EntropyScale * logp
			if !batch.Terminals[k] {
				la -= conf.Discount * a.Norm.Unnormalize(va)
			}
			lossA += float64(a.Norm.Normalize(la)) / float64(bf)

			dTot := dh[k]
			f32.Add(dTot, dc1)
			f32.Add(dTot, dc2)
			f32.Add(dTot, dhA)

			hPrev := h0[k]
			if i > 0 {
				hPrev = hs[i-1][k]
			}
			dhPrev, _ := a.Cell.BackwardAt(dTot, xs[i][k], hPrev, hcur, true)
			dh[k] = dhPrev
		}
	}

	a.Opt.Step()
	nn.EMA(conf.TargetUpdate, a.TCell.Params(), a.Cell.Params())
	nn.EMA(conf.TargetUpdate, a.Target1.Params(), a.Critic1.Params())
	nn.EMA(conf.TargetUpdate, a.Target2.Params(), a.Critic2.Params())
	a.Norm.EMATo(a.NormTarget, conf.TargetUpdate)

	return rlrd.Stats{
		"loss_actor":      lossA,
		"loss_critic":     lossC,
		"loss_total":      float64(alpha)*lossA + float64(1-alpha)*lossC,
		"outputnorm_mean": float64(a.Norm.Mean),
		"outputnorm_std":  float64(a.Norm.Std),
		"memory_size":     float64(a.Memory.Len()),
	}
}

func (a *RRTAC) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	type plain RRTAC
	p := plain(*a)
	if err := gob.NewEncoder(&buf).Encode(&p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *RRTAC) GobDecode(data []byte) error {
	type plain RRTAC
	var p plain
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return err
	}
	*a = RRTAC(p)
	a.Opt.Attach(a.allParams()...)
	return nil
}

func init() {
	gob.Register(&RRTAC{})
	rlrd.RegisterAgent("rrtac", func(spec rlrd.AgentSpec, obsSpace rlrd.ObsSpace, actSpace rlrd.BoxSpace, seed uint64) (rlrd.Agent, error) {
		return NewRRTAC(spec, obsSpace, actSpace, seed)
	})
}
