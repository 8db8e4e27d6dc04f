package rlrd

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MarshalTo serializes the full run state to the given io.Writer.
// The concrete Agent and Environment types must be registered with gob;
// the agent and environment packages do this in their init functions.
func (t *Training) MarshalTo(w io.Writer) error {
	enc := gob.NewEncoder(w)

	// Pass a pointer to the interface fields so that gob sees the interface
	// rather than the concrete type. See the example in encoding/gob.
	if err := enc.Encode(t.Spec); err != nil {
		return err
	}
	if err := enc.Encode(&t.Agent); err != nil {
		return err
	}
	if err := enc.Encode(&t.Env); err != nil {
		return err
	}
	return enc.Encode(trainingCounters{
		Epochs: t.Epochs, Rounds: t.Rounds, Steps: t.Steps,
		Epoch: t.Epoch, TotalSteps: t.TotalSteps,
		Hidden: t.Hidden, LastObs: t.LastObs,
		LastReward: t.LastReward, LastDone: t.LastDone, LastInfo: t.LastInfo,
		EpisodeReturn: t.EpisodeReturn, EpisodeSteps: t.EpisodeSteps, Episodes: t.Episodes,
	})
}

// LoadTraining reconstructs a run state serialized with MarshalTo.
func LoadTraining(r io.Reader) (*Training, error) {
	dec := gob.NewDecoder(r)

	var spec TrainingSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, err
	}
	var agent Agent
	if err := dec.Decode(&agent); err != nil {
		return nil, err
	}
	var env Environment
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	var c trainingCounters
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}

	return &Training{
		Spec:   spec,
		Epochs: c.Epochs, Rounds: c.Rounds, Steps: c.Steps,
		Epoch: c.Epoch, TotalSteps: c.TotalSteps,
		Agent: agent, Env: env,
		Hidden: c.Hidden, LastObs: c.LastObs,
		LastReward: c.LastReward, LastDone: c.LastDone, LastInfo: c.LastInfo,
		EpisodeReturn: c.EpisodeReturn, EpisodeSteps: c.EpisodeSteps, Episodes: c.Episodes,
	}, nil
}

type trainingCounters struct {
	Epochs, Rounds, Steps int
	Epoch, TotalSteps     int
	Hidden                RecurrentState
	LastObs               Observation
	LastReward            float32
	LastDone              bool
	LastInfo              StepInfo
	EpisodeReturn         float64
	EpisodeSteps          int
	Episodes              int
}

// Dump writes the run state to path with atomic-replace semantics: the state
// is written and synced to a temporary file in the same directory, then
// renamed over path. A crash can therefore never leave a file at path that
// LoadCheckpoint would accept but that does not contain a complete state.
func Dump(t *Training, path string) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "checkpoint: creating temp file")
	}
	tmp := f.Name()
	if err := t.MarshalTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "checkpoint: serializing run state")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "checkpoint: syncing")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "checkpoint: closing temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "checkpoint: replacing checkpoint")
	}
	return nil
}

// LoadCheckpoint reads the run state previously written by Dump.
func LoadCheckpoint(path string) (*Training, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: opening")
	}
	defer f.Close()
	t, err := LoadTraining(f)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: deserializing %s", path)
	}
	return t, nil
}
