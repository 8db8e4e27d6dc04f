package rlrd

import (
	"github.com/pkg/errors"

	"github.com/yannbouteiller/rlrd/internal/rng"
)

// TrainingSpec is the declarative description of a run: which agent, which
// environment, and all hyperparameters. It is plain serializable data; Build
// resolves it into live component instances, and Doc flattens it into a
// loggable document before any construction happens.
type TrainingSpec struct {
	Epochs int
	Rounds int
	Steps  int
	Seed   uint64
	Agent  AgentSpec
	Env    EnvSpec
	Test   TestSpec
}

// AgentSpec selects and parameterizes the agent.
type AgentSpec struct {
	// Algorithm is the registered agent name: "sac", "rtac" or "rrtac".
	Algorithm string

	MemorySize    int
	BatchSize     int
	StartTraining int
	// TrainingSteps is the number of gradient steps accrued per environment
	// step once StartTraining transitions have been collected. It may be
	// fractional, e.g. 0.25 trains once every four steps.
	TrainingSteps float64

	// MemoryLocation is "ram" (default) or "rocksdb" for the disk-backed
	// replay memory; MemoryPath is the database directory for the latter.
	MemoryLocation string
	MemoryPath     string

	Discount     float32
	RewardScale  float32
	EntropyScale float32
	LR           float32
	TargetUpdate float32
	LossAlpha    float32

	HiddenUnits   int
	HistoryLength int
}

// EnvSpec selects and parameterizes the environment.
type EnvSpec struct {
	// ID is the registered environment name, e.g. "Pendulum".
	ID string
	// RealTime paces Step calls against the wall clock.
	RealTime bool
	// TimeStepMs is the wall-clock step duration in the real-time mode.
	TimeStepMs int
	// ObsDelayMax/ActDelayMax enable the delayed wrapper when positive:
	// observations arrive up to ObsDelayMax steps late and actions take
	// effect up to ActDelayMax steps late.
	ObsDelayMax int
	ActDelayMax int
}

// TestSpec configures post-epoch evaluation: Episodes full episodes played
// with train=false, spread over Workers goroutines. Zero disables it.
type TestSpec struct {
	Episodes int
	Workers  int
}

// DefaultSpec returns the hyperparameters shared by all agents; callers
// override what they need.
func DefaultSpec() TrainingSpec {
	return TrainingSpec{
		Epochs: 10,
		Rounds: 50,
		Steps:  2000,
		Seed:   1,
		Agent: AgentSpec{
			Algorithm:     "sac",
			MemorySize:    1000000,
			BatchSize:     256,
			StartTraining: 10000,
			TrainingSteps: 1,
			Discount:      0.99,
			RewardScale:   5,
			EntropyScale:  1,
			LR:            0.0003,
			TargetUpdate:  0.005,
			LossAlpha:     0.2,
			HiddenUnits:   256,
			HistoryLength: 8,
		},
		Env: EnvSpec{ID: "Pendulum"},
	}
}

// Doc flattens the spec into a plain key-value document suitable for logging
// or JSON encoding, mirroring the struct one level deep.
func (s TrainingSpec) Doc() map[string]interface{} {
	return map[string]interface{}{
		"epochs": s.Epochs,
		"rounds": s.Rounds,
		"steps":  s.Steps,
		"seed":   s.Seed,
		"agent": map[string]interface{}{
			"algorithm":       s.Agent.Algorithm,
			"memory_size":     s.Agent.MemorySize,
			"batch_size":      s.Agent.BatchSize,
			"start_training":  s.Agent.StartTraining,
			"training_steps":  s.Agent.TrainingSteps,
			"memory_location": s.Agent.MemoryLocation,
			"discount":        s.Agent.Discount,
			"reward_scale":    s.Agent.RewardScale,
			"entropy_scale":   s.Agent.EntropyScale,
			"lr":              s.Agent.LR,
			"target_update":   s.Agent.TargetUpdate,
			"loss_alpha":      s.Agent.LossAlpha,
			"hidden_units":    s.Agent.HiddenUnits,
			"history_length":  s.Agent.HistoryLength,
		},
		"env": map[string]interface{}{
			"id":            s.Env.ID,
			"real_time":     s.Env.RealTime,
			"time_step_ms":  s.Env.TimeStepMs,
			"obs_delay_max": s.Env.ObsDelayMax,
			"act_delay_max": s.Env.ActDelayMax,
		},
		"test": map[string]interface{}{
			"episodes": s.Test.Episodes,
			"workers":  s.Test.Workers,
		},
	}
}

// AgentBuilder constructs an agent for the given spaces. Registered by agent
// packages in their init functions.
type AgentBuilder func(spec AgentSpec, obsSpace ObsSpace, actSpace BoxSpace, seed uint64) (Agent, error)

// EnvBuilder constructs an environment. Registered by environment packages.
type EnvBuilder func(spec EnvSpec, seed uint64) (Environment, error)

var (
	agentBuilders = map[string]AgentBuilder{}
	envBuilders   = map[string]EnvBuilder{}
)

// RegisterAgent makes an agent algorithm available to TrainingSpec.Build.
func RegisterAgent(name string, b AgentBuilder) {
	agentBuilders[name] = b
}

// RegisterEnv makes an environment available to TrainingSpec.Build.
func RegisterEnv(id string, b EnvBuilder) {
	envBuilders[id] = b
}

// Build validates the spec and resolves it into a fresh Training instance.
// All configuration errors surface here, before any training starts.
func (s TrainingSpec) Build() (*Training, error) {
	if s.Epochs <= 0 || s.Rounds <= 0 || s.Steps <= 0 {
		return nil, errors.Errorf("spec: epochs, rounds and steps must be positive (got %d, %d, %d)", s.Epochs, s.Rounds, s.Steps)
	}
	envBuilder, ok := envBuilders[s.Env.ID]
	if !ok {
		return nil, errors.Errorf("spec: unknown environment %q", s.Env.ID)
	}
	agentBuilder, ok := agentBuilders[s.Agent.Algorithm]
	if !ok {
		return nil, errors.Errorf("spec: unknown agent algorithm %q", s.Agent.Algorithm)
	}

	// Child seeds are derived from the run seed so that agent and
	// environment consume independent streams.
	seeds := rng.New(s.Seed)
	envSeed := seeds.Uint64()
	agentSeed := seeds.Uint64()

	env, err := envBuilder(s.Env, envSeed)
	if err != nil {
		return nil, errors.Wrap(err, "spec: building environment")
	}
	agent, err := agentBuilder(s.Agent, env.ObservationSpace(), env.ActionSpace(), agentSeed)
	if err != nil {
		return nil, errors.Wrapf(err, "spec: building %s agent", s.Agent.Algorithm)
	}

	t := &Training{
		Spec:   s,
		Epochs: s.Epochs,
		Rounds: s.Rounds,
		Steps:  s.Steps,
		Agent:  agent,
		Env:    env,
	}
	t.LastObs = env.Reset()
	return t, nil
}
