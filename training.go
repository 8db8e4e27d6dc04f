package rlrd

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/yannbouteiller/rlrd/internal/rng"
)

// Training is the complete mutable state of one run. It is created once by
// TrainingSpec.Build when no checkpoint exists; afterwards instances are only
// ever reconstructed by deserializing the checkpoint, never reused across
// epochs.
type Training struct {
	Spec TrainingSpec

	Epochs int
	Rounds int
	Steps  int

	Epoch      int
	TotalSteps int

	Agent Agent
	Env   Environment

	// Interaction state carried across steps, rounds and epochs.
	Hidden     RecurrentState
	LastObs    Observation
	LastReward float32
	LastDone   bool
	LastInfo   StepInfo

	// Return accumulators for the episode currently in progress. Episodes
	// span round and epoch boundaries, so these are part of the checkpoint.
	EpisodeReturn float64
	EpisodeSteps  int
	Episodes      int
}

// RunEpoch executes Rounds rounds of Steps environment steps each, training
// the agent as it goes, and returns one statistics record per round. When
// evaluation is configured, its results are merged into the last record.
func (t *Training) RunEpoch() []Stats {
	records := make([]Stats, 0, t.Rounds)
	for round := 0; round < t.Rounds; round++ {
		records = append(records, t.runRound(round))
	}
	if t.Spec.Test.Episodes > 0 {
		records[len(records)-1].Merge(t.evaluate())
	}
	t.Epoch++
	return records
}

func (t *Training) runRound(round int) Stats {
	start := time.Now()
	var trainRecords []Stats
	var returns, lengths []float64

	for step := 0; step < t.Steps; step++ {
		action, h, stats := t.Agent.Act(t.Hidden, t.LastObs, t.LastReward, t.LastDone, t.LastInfo, true)
		t.Hidden = h
		trainRecords = append(trainRecords, stats...)

		obs, reward, done, info := t.Env.Step(action)
		t.EpisodeReturn += float64(reward)
		t.EpisodeSteps++
		if done {
			returns = append(returns, t.EpisodeReturn)
			lengths = append(lengths, float64(t.EpisodeSteps))
			t.EpisodeReturn = 0
			t.EpisodeSteps = 0
			t.Episodes++
			// The agent still sees done=true with this observation on its
			// next Act call, which marks the transition terminal in memory.
			obs = t.Env.Reset()
			t.Hidden = nil
		}
		t.LastObs, t.LastReward, t.LastDone, t.LastInfo = obs, reward, done, info
		t.TotalSteps++
	}

	rec := MeanStats(trainRecords)
	elapsed := time.Since(start).Seconds()
	rec["epoch"] = float64(t.Epoch)
	rec["round"] = float64(round)
	rec["round_time_s"] = elapsed
	if elapsed > 0 {
		rec["steps_per_s"] = float64(t.Steps) / elapsed
	}
	rec["total_steps"] = float64(t.TotalSteps)
	rec["episodes"] = float64(t.Episodes)
	if len(returns) > 0 {
		rec["return"] = mean(returns)
		rec["episode_length"] = mean(lengths)
	}
	glog.V(1).Infof("epoch %d round %d: %d steps in %.2fs, %d episodes done",
		t.Epoch, round, t.Steps, elapsed, len(returns))
	return rec
}

// evaluate plays Test.Episodes full episodes with train=false, spread over
// Test.Workers goroutines. Each worker owns a fresh environment instance;
// the agent is shared but only read, since the deterministic inference path
// writes no layer caches and no training runs concurrently.
func (t *Training) evaluate() Stats {
	workers := t.Spec.Test.Workers
	if workers <= 0 {
		workers = 1
	}
	episodes := t.Spec.Test.Episodes

	builder := envBuilders[t.Spec.Env.ID]
	seeds := rng.New(t.Spec.Seed ^ uint64(t.Epoch+1)*0x9e3779b97f4a7c15)

	jobs := make(chan int)
	results := make(chan float64, episodes)
	var wg sync.WaitGroup
	started := 0
	for w := 0; w < workers; w++ {
		env, err := builder(t.Spec.Env, seeds.Uint64())
		if err != nil {
			glog.Errorf("evaluation: building environment: %v", err)
			continue
		}
		started++
		wg.Add(1)
		go func(env Environment) {
			defer wg.Done()
			for range jobs {
				results <- t.playEpisode(env)
			}
		}(env)
	}
	if started == 0 {
		// Nobody would ever consume jobs; feeding them would leak the
		// producer goroutine.
		return Stats{}
	}
	go func() {
		for i := 0; i < episodes; i++ {
			jobs <- i
		}
		close(jobs)
	}()
	wg.Wait()
	close(results)

	var returns []float64
	for r := range results {
		returns = append(returns, r)
	}
	if len(returns) == 0 {
		return Stats{}
	}
	glog.V(1).Infof("epoch %d evaluation: mean return %.2f over %d episodes",
		t.Epoch, mean(returns), len(returns))
	return Stats{"test_return": mean(returns), "test_episodes": float64(len(returns))}
}

func (t *Training) playEpisode(env Environment) float64 {
	obs := env.Reset()
	var h RecurrentState
	var reward float32
	var done bool
	var info StepInfo
	var ret float64
	for !done {
		var action []float32
		action, h, _ = t.Agent.Act(h, obs, reward, done, info, false)
		obs, reward, done, info = env.Step(action)
		ret += float64(reward)
	}
	return ret
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
