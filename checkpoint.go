package rlrd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// EpisodeIterator drives a run one epoch at a time through its checkpoint.
//
// On construction it either builds a fresh run state from the spec (no file
// at the checkpoint path) and persists it immediately, or loads the state
// left by a previous process. Every Next call runs one epoch, persists the
// entire run state, then discards the in-memory instance and reloads it from
// the file just written: the next epoch is a pure function of the serialized
// state, so an interrupted run resumes on the identical trajectory.
type EpisodeIterator struct {
	path      string
	ephemeral bool
	run       *Training
}

// NewEpisodeIterator prepares a run against the given checkpoint path. An
// empty path requests an ephemeral checkpoint in the system temp directory,
// which Close removes; an explicit path is preserved for future resumption.
func NewEpisodeIterator(spec TrainingSpec, path string) (*EpisodeIterator, error) {
	ephemeral := path == ""
	if ephemeral {
		path = tempCheckpointPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		doc, jerr := json.Marshal(spec.Doc())
		if jerr == nil {
			glog.Infof("specification: %s", doc)
		}
		run, err := spec.Build()
		if err != nil {
			return nil, err
		}
		if err := Dump(run, path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "checkpoint: stat")
	} else {
		glog.Infof("continuing from checkpoint %s", path)
	}

	run, err := LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	return &EpisodeIterator{path: path, ephemeral: ephemeral, run: run}, nil
}

// Next runs one epoch and returns its statistics records. ok is false once
// all epochs have completed; the iterator is then exhausted.
func (it *EpisodeIterator) Next() (records []Stats, ok bool, err error) {
	if it.run == nil {
		return nil, false, errors.New("episode iterator: closed")
	}
	if it.run.Epoch >= it.run.Epochs {
		return nil, false, nil
	}

	records = it.run.RunEpoch()

	if err := Dump(it.run, it.path); err != nil {
		return nil, false, err
	}
	// Discard the instance that just ran and reload from the file written
	// above. This forces every epoch to start from persisted state only,
	// so state that fails to round-trip cannot hide behind long processes.
	it.run = nil
	run, err := LoadCheckpoint(it.path)
	if err != nil {
		return nil, false, err
	}
	it.run = run

	return records, true, nil
}

// Epoch reports the next epoch to be run, or -1 once the iterator is closed.
func (it *EpisodeIterator) Epoch() int {
	if it.run == nil {
		return -1
	}
	return it.run.Epoch
}

// Close releases the iterator, deleting the checkpoint file if the path was
// auto-generated. It is safe to call after an error or early exit.
func (it *EpisodeIterator) Close() error {
	it.run = nil
	if !it.ephemeral {
		return nil
	}
	if err := os.Remove(it.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "checkpoint: removing ephemeral file")
	}
	return nil
}

func tempCheckpointPath() string {
	name := "rlrd-" + strconv.FormatInt(time.Now().UnixNano(), 36) +
		"-" + strconv.Itoa(os.Getpid()) + ".ckpt"
	return filepath.Join(os.TempDir(), name)
}
