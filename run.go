package rlrd

import (
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Run executes the spec to completion in-process. With an empty checkpoint
// path the run uses an ephemeral checkpoint that is removed on exit; with an
// explicit path an interrupted run can be resumed by calling Run again.
func Run(spec TrainingSpec, checkpointPath string) error {
	it, err := NewEpisodeIterator(spec, checkpointPath)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		records, ok, err := it.Next()
		if err != nil || !ok {
			return err
		}
		for _, rec := range records {
			glog.V(2).Infof("stats: %v", rec)
		}
	}
}

// RunFS executes the spec with everything logged under dir: the spec document
// at dir/spec.json, the checkpoint at dir/state, and per-epoch statistics
// appended to dir/stats. Calling RunFS again with the same dir resumes.
func RunFS(dir string, spec TrainingSpec) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "runfs: creating directory")
	}
	doc, err := json.MarshalIndent(spec.Doc(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "runfs: encoding spec document")
	}
	if err := os.WriteFile(filepath.Join(dir, "spec.json"), doc, 0o644); err != nil {
		return errors.Wrap(err, "runfs: writing spec.json")
	}

	sink := NewFileSink(filepath.Join(dir, "stats"))
	defer sink.Close()
	return RunSink(spec, filepath.Join(dir, "state"), sink)
}

// RunSink executes the spec against the given checkpoint path, appending
// each epoch's statistics to sink. The caller owns the sink.
func RunSink(spec TrainingSpec, checkpointPath string, sink StatsSink) error {
	it, err := NewEpisodeIterator(spec, checkpointPath)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		epoch := it.Epoch()
		records, ok, err := it.Next()
		if err != nil || !ok {
			return err
		}
		if err := sink.Append(epoch, records); err != nil {
			return err
		}
	}
}

// EpochStats is one appended entry of a statistics log.
type EpochStats struct {
	Epoch   int
	Records []Stats
}

// FileSink is a StatsSink backed by a single gob file. Each Append rewrites
// the file with the accumulated records, the same way the checkpoint is
// replaced: temp file then rename.
type FileSink struct {
	path string
}

// NewFileSink returns a sink logging to the given file path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Append implements StatsSink.
func (s *FileSink) Append(epoch int, records []Stats) error {
	all, err := LoadStats(s.path)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return err
	}
	all = append(all, EpochStats{Epoch: epoch, Records: records})

	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "stats: creating temp file")
	}
	tmp := f.Name()
	if err := gob.NewEncoder(f).Encode(all); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "stats: encoding")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "stats: closing temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "stats: replacing log")
	}
	return nil
}

// Close implements StatsSink.
func (s *FileSink) Close() error { return nil }

// LoadStats reads back a statistics log written by a FileSink.
func LoadStats(path string) ([]EpochStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "stats: opening log")
	}
	defer f.Close()
	var all []EpochStats
	if err := gob.NewDecoder(f).Decode(&all); err != nil {
		return nil, errors.Wrap(err, "stats: decoding log")
	}
	return all, nil
}
