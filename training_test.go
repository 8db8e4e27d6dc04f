package rlrd_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/yannbouteiller/rlrd"
	_ "github.com/yannbouteiller/rlrd/envs"
	"github.com/yannbouteiller/rlrd/ldbstore"
	_ "github.com/yannbouteiller/rlrd/sac"
)

func testSpec() rlrd.TrainingSpec {
	spec := rlrd.DefaultSpec()
	spec.Epochs = 3
	spec.Rounds = 2
	spec.Steps = 25
	spec.Seed = 42
	spec.Agent.MemorySize = 512
	spec.Agent.BatchSize = 4
	spec.Agent.StartTraining = 30
	spec.Agent.TrainingSteps = 0.1
	spec.Agent.HiddenUnits = 8
	spec.Test = rlrd.TestSpec{}
	return spec
}

// deterministicKeys are the record entries that must reproduce exactly across
// identical runs; timing entries are excluded.
var deterministicKeys = []string{
	"epoch", "round", "total_steps", "episodes", "return", "episode_length",
	"loss_actor", "loss_critic", "entropy", "memory_size",
}

func compareRecords(t *testing.T, a, b []rlrd.Stats) {
	t.Helper()
	if len(a) != len(b) {
		t.Fatalf("record counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		for _, k := range deterministicKeys {
			va, oka := a[i][k]
			vb, okb := b[i][k]
			if oka != okb {
				t.Fatalf("record %d: key %q present in one run only", i, k)
			}
			if va != vb {
				t.Fatalf("record %d: %q = %v vs %v", i, k, va, vb)
			}
		}
	}
}

func drain(t *testing.T, it *rlrd.EpisodeIterator) [][]rlrd.Stats {
	t.Helper()
	var epochs [][]rlrd.Stats
	for {
		records, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			return epochs
		}
		epochs = append(epochs, records)
	}
}

func TestEpisodeIterator_RunsAllEpochs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	it, err := rlrd.NewEpisodeIterator(testSpec(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	epochs := drain(t, it)
	if len(epochs) != 3 {
		t.Fatalf("expected 3 epochs, got %d", len(epochs))
	}
	for i, records := range epochs {
		if len(records) != 2 {
			t.Fatalf("epoch %d: expected 2 round records, got %d", i, len(records))
		}
		if records[0]["epoch"] != float64(i) {
			t.Errorf("epoch %d: record labeled %v", i, records[0]["epoch"])
		}
	}
	last := epochs[2][1]
	if last["total_steps"] != 150 {
		t.Errorf("expected 150 total steps, got %v", last["total_steps"])
	}

	// An exhausted iterator stays exhausted.
	if _, ok, err := it.Next(); ok || err != nil {
		t.Errorf("expected exhausted iterator, got ok=%v err=%v", ok, err)
	}
	// The explicit checkpoint survives Close and records the finished run.
	it.Close()
	final, err := rlrd.LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if final.Epoch != 3 {
		t.Errorf("final checkpoint at epoch %d, want 3", final.Epoch)
	}
	if got := it.Epoch(); got != -1 {
		t.Errorf("Epoch() on a closed iterator = %d, want -1", got)
	}
}

func TestEpisodeIterator_Resume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	spec := testSpec()

	it, err := rlrd.NewEpisodeIterator(spec, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := it.Next(); !ok || err != nil {
		t.Fatalf("first epoch failed: ok=%v err=%v", ok, err)
	}
	it.Close()

	// A new process picks up where the old one stopped.
	it2, err := rlrd.NewEpisodeIterator(spec, path)
	if err != nil {
		t.Fatal(err)
	}
	defer it2.Close()
	if it2.Epoch() != 1 {
		t.Fatalf("resumed at epoch %d, want 1", it2.Epoch())
	}
	epochs := drain(t, it2)
	if len(epochs) != 2 {
		t.Fatalf("expected 2 remaining epochs, got %d", len(epochs))
	}
}

func TestEpisodeIterator_ResumeIsIdenticalToUninterrupted(t *testing.T) {
	spec := testSpec()

	pathA := filepath.Join(t.TempDir(), "state")
	itA, err := rlrd.NewEpisodeIterator(spec, pathA)
	if err != nil {
		t.Fatal(err)
	}
	defer itA.Close()
	full := drain(t, itA)

	// Same spec, but torn down and rebuilt from disk between every epoch.
	pathB := filepath.Join(t.TempDir(), "state")
	var resumed [][]rlrd.Stats
	for {
		itB, err := rlrd.NewEpisodeIterator(spec, pathB)
		if err != nil {
			t.Fatal(err)
		}
		records, ok, err := itB.Next()
		itB.Close()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		resumed = append(resumed, records)
	}

	if len(full) != len(resumed) {
		t.Fatalf("epoch counts differ: %d vs %d", len(full), len(resumed))
	}
	for i := range full {
		compareRecords(t, full[i], resumed[i])
	}
}

func TestRun_EphemeralCheckpointIsRemoved(t *testing.T) {
	glob := filepath.Join(os.TempDir(), "rlrd-*.ckpt")
	before, _ := filepath.Glob(glob)

	spec := testSpec()
	spec.Epochs = 1
	if err := rlrd.Run(spec, ""); err != nil {
		t.Fatal(err)
	}

	after, _ := filepath.Glob(glob)
	if len(after) > len(before) {
		t.Errorf("ephemeral checkpoint left behind: %d files before, %d after", len(before), len(after))
	}
}

func TestRunFS(t *testing.T) {
	dir := t.TempDir()
	spec := testSpec()
	spec.Epochs = 2
	if err := rlrd.RunFS(dir, spec); err != nil {
		t.Fatal(err)
	}

	doc, err := os.ReadFile(filepath.Join(dir, "spec.json"))
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("spec.json does not parse: %v", err)
	}
	if parsed["epochs"] != float64(2) {
		t.Errorf("spec.json epochs = %v", parsed["epochs"])
	}

	all, err := rlrd.LoadStats(filepath.Join(dir, "stats"))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 epoch entries, got %d", len(all))
	}
	for i, e := range all {
		if e.Epoch != i {
			t.Errorf("entry %d labeled epoch %d", i, e.Epoch)
		}
		if len(e.Records) != 2 {
			t.Errorf("epoch %d: expected 2 records, got %d", i, len(e.Records))
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "state")); err != nil {
		t.Errorf("missing checkpoint: %v", err)
	}

	// Running again over a finished directory is a no-op.
	if err := rlrd.RunFS(dir, spec); err != nil {
		t.Fatal(err)
	}
	all, err = rlrd.LoadStats(filepath.Join(dir, "stats"))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("finished run appended more statistics: %d entries", len(all))
	}
}

func TestRun_Evaluation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	spec := testSpec()
	spec.Epochs = 1
	spec.Test = rlrd.TestSpec{Episodes: 2, Workers: 2}

	it, err := rlrd.NewEpisodeIterator(spec, path)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	epochs := drain(t, it)
	last := epochs[0][len(epochs[0])-1]
	if last["test_episodes"] != 2 {
		t.Errorf("expected 2 evaluation episodes, got %v", last["test_episodes"])
	}
	if _, ok := last["test_return"]; !ok {
		t.Error("missing test_return in the last record")
	}
}

// stubEnv is a trivial environment for exercising the run loop without a
// real agent, ending an episode every 5 steps.
type stubEnv struct{ steps int }

func (e *stubEnv) Reset() rlrd.Observation {
	e.steps = 0
	return rlrd.Observation{Vec: []float32{0}}
}

func (e *stubEnv) Step(action []float32) (rlrd.Observation, float32, bool, rlrd.StepInfo) {
	e.steps++
	return rlrd.Observation{Vec: []float32{float32(e.steps)}}, 0, e.steps%5 == 0, nil
}

func (e *stubEnv) ObservationSpace() rlrd.ObsSpace {
	return rlrd.ObsSpace{Box: rlrd.BoxSpace{Low: []float32{-1}, High: []float32{1}}}
}

func (e *stubEnv) ActionSpace() rlrd.BoxSpace {
	return rlrd.BoxSpace{Low: []float32{-1}, High: []float32{1}}
}

type stubAgent struct{}

func (stubAgent) Act(h rlrd.RecurrentState, obs rlrd.Observation, reward float32, done bool, info rlrd.StepInfo, train bool) ([]float32, rlrd.RecurrentState, []rlrd.Stats) {
	return []float32{0}, nil, nil
}

func TestRun_EvaluationSurvivesEnvBuildFailure(t *testing.T) {
	// The builder succeeds once so Build can construct the run, then fails
	// for every evaluation worker.
	built := 0
	rlrd.RegisterEnv("flaky-env", func(spec rlrd.EnvSpec, seed uint64) (rlrd.Environment, error) {
		built++
		if built > 1 {
			return nil, errors.New("env unavailable")
		}
		return &stubEnv{}, nil
	})
	rlrd.RegisterAgent("stub-agent", func(spec rlrd.AgentSpec, obsSpace rlrd.ObsSpace, actSpace rlrd.BoxSpace, seed uint64) (rlrd.Agent, error) {
		return stubAgent{}, nil
	})

	spec := testSpec()
	spec.Epochs = 1
	spec.Env.ID = "flaky-env"
	spec.Agent.Algorithm = "stub-agent"
	spec.Test = rlrd.TestSpec{Episodes: 3, Workers: 2}

	run, err := spec.Build()
	if err != nil {
		t.Fatal(err)
	}
	before := runtime.NumGoroutine()
	records := run.RunEpoch()

	last := records[len(records)-1]
	if _, ok := last["test_return"]; ok {
		t.Error("expected no evaluation results when no worker could start")
	}
	// No producer goroutine may be left behind feeding a jobs channel
	// nobody consumes.
	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > before {
		t.Errorf("%d goroutines still running, started with %d", n, before)
	}
}

func TestBuild_UnknownComponents(t *testing.T) {
	spec := testSpec()
	spec.Env.ID = "nope"
	if _, err := spec.Build(); err == nil {
		t.Error("expected an error for an unknown environment")
	}

	spec = testSpec()
	spec.Agent.Algorithm = "nope"
	if _, err := spec.Build(); err == nil {
		t.Error("expected an error for an unknown agent")
	}
}

func TestDump_Replace(t *testing.T) {
	spec := testSpec()
	run, err := spec.Build()
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "state")
	if err := rlrd.Dump(run, path); err != nil {
		t.Fatal(err)
	}
	run.RunEpoch()
	if err := rlrd.Dump(run, path); err != nil {
		t.Fatal(err)
	}

	// No temp files remain after the atomic replace.
	leftovers, _ := filepath.Glob(filepath.Join(dir, "state.tmp*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	loaded, err := rlrd.LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Epoch != 1 {
		t.Errorf("loaded epoch %d, want 1", loaded.Epoch)
	}

	// The loaded instance continues exactly like the one that was dumped.
	compareRecords(t, run.RunEpoch(), loaded.RunEpoch())
}

func TestRunSink_LevelDB(t *testing.T) {
	dir := t.TempDir()
	spec := testSpec()
	spec.Epochs = 2

	sink, err := ldbstore.NewSink(filepath.Join(dir, "stats.ldb"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rlrd.RunSink(spec, filepath.Join(dir, "state"), sink); err != nil {
		t.Fatal(err)
	}
	all, err := sink.All()
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 epoch entries, got %d", len(all))
	}
	for i, e := range all {
		if e.Epoch != i || len(e.Records) != 2 {
			t.Errorf("entry %d: epoch %d with %d records", i, e.Epoch, len(e.Records))
		}
	}
}
