package sac

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/internal/rng"
	"github.com/yannbouteiller/rlrd/nn"
)

// SAC is the soft actor-critic agent: a tanh-normal actor and twin Q
// critics with EMA target copies, trained on uniformly sampled transition
// pairs at the cadence accrued by updatesOwed.
type SAC struct {
	Conf rlrd.AgentSpec
	Enc  ObsEncoder
	High []float32

	Actor   *nn.TanhNormalPolicy
	Critic1 *nn.MLP
	Critic2 *nn.MLP
	Target1 *nn.MLP
	Target2 *nn.MLP

	ActorOpt  *nn.Adam
	CriticOpt *nn.Adam

	Memory       ReplayMemory
	Rng          *rng.Rand
	TotalUpdates int
}

// NewSAC builds a SAC agent for the given spaces.
func NewSAC(spec rlrd.AgentSpec, obsSpace rlrd.ObsSpace, actSpace rlrd.BoxSpace, seed uint64) (*SAC, error) {
	if err := validate(spec, actSpace); err != nil {
		return nil, err
	}
	r := rng.New(seed)
	enc := ObsEncoder{Space: obsSpace}
	in := enc.Dim()
	actDim := actSpace.Dim()
	h := spec.HiddenUnits

	a := &SAC{
		Conf:    spec,
		Enc:     enc,
		High:    append([]float32(nil), actSpace.High...),
		Actor:   nn.NewTanhNormalPolicy(r, in, h, actDim),
		Critic1: nn.NewMLP(r, false, in+actDim, h, h, 1),
		Critic2: nn.NewMLP(r, false, in+actDim, h, h, 1),
		Target1: nn.NewMLP(r, false, in+actDim, h, h, 1),
		Target2: nn.NewMLP(r, false, in+actDim, h, h, 1),
		Rng:     rng.New(r.Uint64()),
	}
	nn.CopyParams(a.Target1.Params(), a.Critic1.Params())
	nn.CopyParams(a.Target2.Params(), a.Critic2.Params())
	a.ActorOpt = nn.NewAdam(spec.LR, a.Actor.Params()...)
	a.CriticOpt = nn.NewAdam(spec.LR, a.criticParams()...)

	mem, err := newReplay(spec, r.Uint64())
	if err != nil {
		return nil, err
	}
	a.Memory = mem
	return a, nil
}

func validate(spec rlrd.AgentSpec, actSpace rlrd.BoxSpace) error {
	if actSpace.Dim() == 0 {
		return errors.New("sac: empty action space")
	}
	if spec.BatchSize <= 0 || spec.MemorySize <= 0 || spec.HiddenUnits <= 0 {
		return errors.Errorf("sac: batch size, memory size and hidden units must be positive (got %d, %d, %d)",
			spec.BatchSize, spec.MemorySize, spec.HiddenUnits)
	}
	return nil
}

func (a *SAC) criticParams() []nn.Param {
	return append(a.Critic1.Params(), a.Critic2.Params()...)
}

// Act implements rlrd.Agent.
func (a *SAC) Act(h rlrd.RecurrentState, obs rlrd.Observation, reward float32, done bool, info rlrd.StepInfo, train bool) ([]float32, rlrd.RecurrentState, []rlrd.Stats) {
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

// Train performs one gradient step against a sampled batch. The memory must
// already hold enough transitions; the cadence guarantees this, so a
// sampling failure here is a precondition violation.
func (a *SAC) Train() rlrd.Stats {
	batch, err := a.Memory.Sample()
	if err != nil {
		panic(errors.Wrap(err, "sac: training invoked before memory was ready"))
	}
	conf := a.Conf
	b := float32(len(batch.Obs))

	var lossC, lossA, entropy float64
	for k := range batch.Obs {
		x := a.Enc.Encode(batch.Obs[k])
		x2 := a.Enc.Encode(batch.NextObs[k])

		// Bootstrapped target from the target critics and a fresh action.
		unit2, logp2 := a.Actor.Sample(x2, a.Rng)
		in2 := concat(x2, scaleAction(unit2, a.High))
		q1t := a.Target1.Forward(in2)[0]
		q2t := a.Target2.Forward(in2)[0]
		y := conf.RewardScale * batch.Rewards[k]
		if !batch.Terminals[k] {
			y += conf.Discount * (minf(q1t, q2t) - conf.EntropyScale*logp2)
		}

		// Critic regression toward y.
		in := concat(x, batch.Actions[k])
		q1 := a.Critic1.Forward(in)[0]
		a.Critic1.Backward([]float32{2 * (q1 - y) / b}, true)
		q2 := a.Critic2.Forward(in)[0]
		a.Critic2.Backward([]float32{2 * (q2 - y) / b}, true)
		lossC += float64((q1-y)*(q1-y)+(q2-y)*(q2-y)) / float64(b)

		// Actor ascent on min-Q plus entropy.
		unit, logp := a.Actor.Sample(x, a.Rng)
		inA := concat(x, scaleAction(unit, a.High))
		qa1 := a.Critic1.Forward(inA)[0]
		qa2 := a.Critic2.Forward(inA)[0]
		chosen := a.Critic1
		if qa2 < qa1 {
			chosen = a.Critic2
		}
		dIn := chosen.Backward([]float32{-1 / b}, false)
		da := dIn[len(x):]
		dUnit := make([]float32, len(da))
		for i := range da {
			dUnit[i] = da[i] * a.High[i]
		}
		a.Actor.Backward(dUnit, conf.EntropyScale/b, true)
		lossA += float64(conf.EntropyScale*logp-minf(qa1, qa2)) / float64(b)
		entropy -= float64(logp) / float64(b)
	}

	a.CriticOpt.Step()
	a.ActorOpt.Step()
	nn.EMA(conf.TargetUpdate, a.Target1.Params(), a.Critic1.Params())
	nn.EMA(conf.TargetUpdate, a.Target2.Params(), a.Critic2.Params())

	return rlrd.Stats{
		"loss_actor":  lossA,
		"loss_critic": lossC,
		"entropy":     entropy,
		"memory_size": float64(a.Memory.Len()),
	}
}

// GobEncode serializes the agent; GobDecode re-attaches the optimizers to
// the decoded networks, since gob does not preserve slice aliasing.
func (a *SAC) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	type plain SAC
	p := plain(*a)
	if err := gob.NewEncoder(&buf).Encode(&p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *SAC) GobDecode(data []byte) error {
	type plain SAC
	var p plain
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return err
	}
	*a = SAC(p)
	a.ActorOpt.Attach(a.Actor.Params()...)
	a.CriticOpt.Attach(a.criticParams()...)
	return nil
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func init() {
	gob.Register(&SAC{})
	rlrd.RegisterAgent("sac", func(spec rlrd.AgentSpec, obsSpace rlrd.ObsSpace, actSpace rlrd.BoxSpace, seed uint64) (rlrd.Agent, error) {
		return NewSAC(spec, obsSpace, actSpace, seed)
	})
}
