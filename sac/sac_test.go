package sac

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/envs"
)

func testAgentSpec() rlrd.AgentSpec {
	return rlrd.AgentSpec{
		Algorithm:     "sac",
		MemorySize:    256,
		BatchSize:     4,
		StartTraining: 8,
		TrainingSteps: 0.25,
		Discount:      0.99,
		RewardScale:   1,
		EntropyScale:  0.2,
		LR:            0.001,
		TargetUpdate:  0.05,
		LossAlpha:     0.2,
		HiddenUnits:   16,
		HistoryLength: 2,
	}
}

func driveAgent(t *testing.T, agent rlrd.Agent, env rlrd.Environment, steps int) (actions [][]float32, trained int) {
	t.Helper()
	obs := env.Reset()
	var h rlrd.RecurrentState
	var reward float32
	var done bool
	var info rlrd.StepInfo
	for i := 0; i < steps; i++ {
		var action []float32
		var stats []rlrd.Stats
		action, h, stats = agent.Act(h, obs, reward, done, info, true)
		actions = append(actions, action)
		trained += len(stats)
		obs, reward, done, info = env.Step(action)
		if done {
			obs = env.Reset()
			h = nil
		}
	}
	return actions, trained
}

func TestSAC_TrainingCadence(t *testing.T) {
	env := envs.NewPendulum(1)
	spec := testAgentSpec()
	agent, err := NewSAC(spec, env.ObservationSpace(), env.ActionSpace(), 2)
	if err != nil {
		t.Fatal(err)
	}

	const steps = 48
	_, trained := driveAgent(t, agent, env, steps)
	// floor((48-8)*0.25) = 10 accrued gradient steps in total.
	if trained != 10 {
		t.Errorf("expected 10 gradient steps over %d transitions, got %d", steps, trained)
	}
	if agent.TotalUpdates != trained {
		t.Errorf("TotalUpdates=%d does not match emitted records %d", agent.TotalUpdates, trained)
	}
}

func TestSAC_ActionsWithinBounds(t *testing.T) {
	env := envs.NewPendulum(3)
	agent, err := NewSAC(testAgentSpec(), env.ObservationSpace(), env.ActionSpace(), 4)
	if err != nil {
		t.Fatal(err)
	}
	high := env.ActionSpace().High
	actions, _ := driveAgent(t, agent, env, 32)
	for i, a := range actions {
		for j := range a {
			if a[j] < -high[j] || a[j] > high[j] {
				t.Fatalf("action %d component %d = %v outside [-%v, %v]", i, j, a[j], high[j], high[j])
			}
		}
	}
}

func TestSAC_EvalIsDeterministic(t *testing.T) {
	env := envs.NewPendulum(5)
	agent, err := NewSAC(testAgentSpec(), env.ObservationSpace(), env.ActionSpace(), 6)
	if err != nil {
		t.Fatal(err)
	}
	obs := env.Reset()
	a1, _, _ := agent.Act(nil, obs, 0, false, nil, false)
	a2, _, _ := agent.Act(nil, obs, 0, false, nil, false)
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("evaluation actions differ at %d: %v vs %v", i, a1[i], a2[i])
		}
	}
}

func TestSAC_GobRoundTrip(t *testing.T) {
	env := envs.NewPendulum(7)
	var agent rlrd.Agent
	a, err := NewSAC(testAgentSpec(), env.ObservationSpace(), env.ActionSpace(), 8)
	if err != nil {
		t.Fatal(err)
	}
	agent = a
	driveAgent(t, agent, env, 24) // past StartTraining, so optimizer state exists

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&agent); err != nil {
		t.Fatal(err)
	}
	var out rlrd.Agent
	if err := gob.NewDecoder(bytes.NewReader(buf.Bytes())).Decode(&out); err != nil {
		t.Fatal(err)
	}

	// Both instances must continue on the identical trajectory, training
	// included: weights, memory contents and random streams all round-trip.
	envA := envs.NewPendulum(9)
	envB := envs.NewPendulum(9)
	actsA, trainedA := driveAgent(t, agent, envA, 16)
	actsB, trainedB := driveAgent(t, out, envB, 16)
	if trainedA != trainedB {
		t.Fatalf("gradient steps diverged after round trip: %d vs %d", trainedA, trainedB)
	}
	for i := range actsA {
		for j := range actsA[i] {
			if actsA[i][j] != actsB[i][j] {
				t.Fatalf("step %d: actions diverged after round trip", i)
			}
		}
	}
}

func delayedPendulum(seed uint64) *envs.DelayedEnv {
	return envs.NewDelayed(envs.NewPendulum(seed), 1, 1, seed+1)
}

func TestRTAC_RequiresDelayedSpace(t *testing.T) {
	env := envs.NewPendulum(1)
	if _, err := NewRTAC(testAgentSpec(), env.ObservationSpace(), env.ActionSpace(), 2); err == nil {
		t.Error("expected an error for a non-delayed observation space")
	}
}

func TestRTAC_Train(t *testing.T) {
	env := delayedPendulum(11)
	agent, err := NewRTAC(testAgentSpec(), env.ObservationSpace(), env.ActionSpace(), 12)
	if err != nil {
		t.Fatal(err)
	}

	obs := env.Reset()
	var reward float32
	var done bool
	var info rlrd.StepInfo
	var records []rlrd.Stats
	for i := 0; i < 48; i++ {
		action, _, stats := agent.Act(nil, obs, reward, done, info, true)
		records = append(records, stats...)
		obs, reward, done, info = env.Step(action)
		if done {
			obs = env.Reset()
		}
	}

	if len(records) == 0 {
		t.Fatal("expected training to have started")
	}
	for _, key := range []string{"loss_actor", "loss_critic", "loss_total", "outputnorm_mean", "outputnorm_std"} {
		if _, ok := records[0][key]; !ok {
			t.Errorf("missing stat %q", key)
		}
	}
	if std := records[len(records)-1]["outputnorm_std"]; std <= 0 {
		t.Errorf("normalization std %v not positive", std)
	}
}

func TestRRTAC_Train(t *testing.T) {
	env := delayedPendulum(13)
	agent, err := NewRRTAC(testAgentSpec(), env.ObservationSpace(), env.ActionSpace(), 14)
	if err != nil {
		t.Fatal(err)
	}

	obs := env.Reset()
	var h rlrd.RecurrentState
	var reward float32
	var done bool
	var info rlrd.StepInfo
	var trained int
	for i := 0; i < 48; i++ {
		action, next, stats := agent.Act(h, obs, reward, done, info, true)
		if next == nil {
			t.Fatal("expected a recurrent state from Act")
		}
		h = next
		trained += len(stats)
		obs, reward, done, info = env.Step(action)
		if done {
			obs = env.Reset()
			h = nil
		}
	}
	if trained == 0 {
		t.Fatal("expected training to have started")
	}
}

func TestRRTAC_RequiresHistory(t *testing.T) {
	env := delayedPendulum(15)
	spec := testAgentSpec()
	spec.HistoryLength = 0
	if _, err := NewRRTAC(spec, env.ObservationSpace(), env.ActionSpace(), 16); err == nil {
		t.Error("expected an error for zero history length")
	}
}

func TestRTAC_GobRoundTrip(t *testing.T) {
	env := delayedPendulum(17)
	var agent rlrd.Agent
	a, err := NewRTAC(testAgentSpec(), env.ObservationSpace(), env.ActionSpace(), 18)
	if err != nil {
		t.Fatal(err)
	}
	agent = a

	obs := env.Reset()
	for i := 0; i < 24; i++ {
		action, _, _ := agent.Act(nil, obs, 0, false, nil, true)
		obs, _, _, _ = env.Step(action)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&agent); err != nil {
		t.Fatal(err)
	}
	var out rlrd.Agent
	if err := gob.NewDecoder(bytes.NewReader(buf.Bytes())).Decode(&out); err != nil {
		t.Fatal(err)
	}

	a1, _, _ := agent.Act(nil, obs, 0, false, nil, false)
	a2, _, _ := out.Act(nil, obs, 0, false, nil, false)
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("evaluation actions differ after round trip at %d", i)
		}
	}
}
