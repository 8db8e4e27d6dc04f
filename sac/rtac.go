package sac

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/internal/rng"
	"github.com/yannbouteiller/rlrd/nn"
)

// RTAC is the real-time variant of SAC. It acts on delay-encoded
// observations whose action buffer carries the in-flight actions, trains
// state-value critics with PopArt-normalized targets, and combines actor and
// critic losses with the convex weight LossAlpha under a single optimizer.
type RTAC struct {
	Conf rlrd.AgentSpec
	Enc  ObsEncoder
	High []float32

	Actor   *nn.TanhNormalPolicy
	Critic1 *nn.MLP
	Critic2 *nn.MLP
	Target1 *nn.MLP
	Target2 *nn.MLP

	Norm       *nn.PopArt
	NormTarget *nn.PopArt

	Opt *nn.Adam

	Memory       ReplayMemory
	Rng          *rng.Rand
	TotalUpdates int
}

// NewRTAC builds an RTAC agent. The observation space must carry delay
// structure; a plain space is a configuration error.
func NewRTAC(spec rlrd.AgentSpec, obsSpace rlrd.ObsSpace, actSpace rlrd.BoxSpace, seed uint64) (*RTAC, error) {
	if err := validate(spec, actSpace); err != nil {
		return nil, err
	}
	if !obsSpace.Delayed() {
		return nil, errors.New("rtac: requires a delay-aware observation space (wrap the environment)")
	}
	r := rng.New(seed)
	enc := ObsEncoder{Space: obsSpace}
	in := enc.Dim()
	h := spec.HiddenUnits

	a := &RTAC{
		Conf:       spec,
		Enc:        enc,
		High:       append([]float32(nil), actSpace.High...),
		Actor:      nn.NewTanhNormalPolicy(r, in, h, actSpace.Dim()),
		Critic1:    nn.NewMLP(r, false, in, h, h, 1),
		Critic2:    nn.NewMLP(r, false, in, h, h, 1),
		Target1:    nn.NewMLP(r, false, in, h, h, 1),
		Target2:    nn.NewMLP(r, false, in, h, h, 1),
		Norm:       nn.NewPopArt(spec.TargetUpdate),
		NormTarget: nn.NewPopArt(spec.TargetUpdate),
		Rng:        rng.New(r.Uint64()),
	}
	nn.CopyParams(a.Target1.Params(), a.Critic1.Params())
	nn.CopyParams(a.Target2.Params(), a.Critic2.Params())
	a.Opt = nn.NewAdam(spec.LR, a.allParams()...)

	mem, err := newReplay(spec, r.Uint64())
	if err != nil {
		return nil, err
	}
	a.Memory = mem
	return a, nil
}

func (a *RTAC) allParams() []nn.Param {
	ps := a.Actor.Params()
	ps = append(ps, a.Critic1.Params()...)
	ps = append(ps, a.Critic2.Params()...)
	return ps
}

func (a *RTAC) outputLayers() []*nn.Linear {
	return []*nn.Linear{
		a.Critic1.Layers[len(a.Critic1.Layers)-1],
		a.Critic2.Layers[len(a.Critic2.Layers)-1],
	}
}

// Act implements rlrd.Agent.
func (a *RTAC) Act(h rlrd.RecurrentState, obs rlrd.Observation, reward float32, done bool, info rlrd.StepInfo, train bool) ([]float32, rlrd.RecurrentState, []rlrd.Stats) {
	x := a.Enc.Encode(obs)
	var action []float32
	if train {
		unit, _ := a.Actor.Sample(x, a.Rng)
		action = scaleAction(unit, a.High)
	} else {
		action = scaleAction(a.Actor.Mode(x), a.High)
	}

	var stats []rlrd.Stats
	if train {
		a.Memory.Append(reward, done, info, obs, nil, action)
		for owed := updatesOwed(a.Memory.Len(), a.Conf.StartTraining, a.TotalUpdates, a.Conf.TrainingSteps); owed > 0; owed-- {
			stats = append(stats, a.Train())
			a.TotalUpdates++
		}
	}
	return action, nil, stats
}

// Train performs one gradient step. Targets are computed first for the whole
// batch so the normalization statistics update once; the critics are then
// re-run for the loss because the PopArt rescale just changed their weights.
func (a *RTAC) Train() rlrd.Stats {
	batch, err := a.Memory.Sample()
	if err != nil {
		panic(errors.Wrap(err, "rtac: training invoked before memory was ready"))
	}
	conf := a.Conf
	n := len(batch.Obs)
	bf := float32(n)
	alpha := conf.LossAlpha

	xs := make([][]float32, n)
	x2s := make([][]float32, n)
	noise := make([][]float32, n)
	ys := make([]float32, n)

	for k := 0; k < n; k++ {
		xs[k] = a.Enc.Encode(batch.Obs[k])
		unit, logp := a.Actor.Sample(xs[k], a.Rng)
		noise[k] = a.Actor.Noise()
		// The next observation's newest buffer slot is replaced by the
		// fresh action: the value bootstrap must reflect what the policy
		// would submit now, not what was submitted then.
		x2s[k] = a.Enc.EncodeWithAction(batch.NextObs[k], scaleAction(unit, a.High))
		vt := minf(a.Target1.Forward(x2s[k])[0], a.Target2.Forward(x2s[k])[0])
		y := conf.RewardScale*batch.Rewards[k] - conf.EntropyScale*logp
		if !batch.Terminals[k] {
			y += conf.Discount * a.NormTarget.Unnormalize(vt)
		}
		ys[k] = y
	}
	yn := a.Norm.Update(ys, a.outputLayers()...)

	var lossC, lossA float64
	for k := 0; k < n; k++ {
		v1 := a.Critic1.Forward(xs[k])[0]
		a.Critic1.Backward([]float32{(1 - alpha) * 2 * (v1 - yn[k]) / bf}, true)
		v2 := a.Critic2.Forward(xs[k])[0]
		a.Critic2.Backward([]float32{(1 - alpha) * 2 * (v2 - yn[k]) / bf}, true)
		lossC += float64((v1-yn[k])*(v1-yn[k])+(v2-yn[k])*(v2-yn[k])) / float64(bf)

		_, logp := a.Actor.Replay(xs[k], noise[k])
		va1 := a.Critic1.Forward(x2s[k])[0]
		va2 := a.Critic2.Forward(x2s[k])[0]
		chosen := a.Critic1
		va := va1
		if va2 < va1 {
			chosen, va = a.Critic2, va2
		}
		var dV float32
		if !batch.Terminals[k] {
			// Unnormalize multiplies by Std and the per-sample loss is
			// re-normalized by Std, so the factors cancel.
			dV = -alpha * conf.Discount / bf
		}
		dX2 := chosen.Backward([]float32{dV}, false)
		off := a.Enc.NewestActionOffset()
		dUnit := make([]float32, len(a.High))
		for i := range dUnit {
			dUnit[i] = dX2[off+i] * a.High[i]
		}
		a.Actor.Backward(dUnit, alpha*conf.EntropyScale/(bf*a.Norm.Std), true)

		la := conf.EntropyScale * logp
		if !batch.Terminals[k] {
			la -= conf.Discount * a.Norm.Unnormalize(va)
		}
		lossA += float64(a.Norm.Normalize(la)) / float64(bf)
	}

	a.Opt.Step()
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

func (a *RTAC) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	type plain RTAC
	p := plain(*a)
	if err := gob.NewEncoder(&buf).Encode(&p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *RTAC) GobDecode(data []byte) error {
	type plain RTAC
	var p plain
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return err
	}
	*a = RTAC(p)
	a.Opt.Attach(a.allParams()...)
	return nil
}

func init() {
	gob.Register(&RTAC{})
	rlrd.RegisterAgent("rtac", func(spec rlrd.AgentSpec, obsSpace rlrd.ObsSpace, actSpace rlrd.BoxSpace, seed uint64) (rlrd.Agent, error) {
		return NewRTAC(spec, obsSpace, actSpace, seed)
	})
}
