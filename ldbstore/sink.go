// Package ldbstore implements a training statistics sink in which the
// records of each epoch are stored in a LevelDB database on disk.
//
// It is functionally equivalent to rlrd.FileSink, but appending an epoch is
// a single keyed write instead of a rewrite of the whole history, which
// matters for very long runs.
package ldbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/yannbouteiller/rlrd"
)

// Sink implements rlrd.StatsSink backed by a LevelDB database. Records are
// keyed by epoch number, so re-appending an epoch after a resume overwrites
// the stale entry rather than duplicating it.
type Sink struct {
	path  string
	db    *leveldb.DB
	rOpts *opt.ReadOptions
	wOpts *opt.WriteOptions
}

// NewSink opens (creating if necessary) a statistics database at path.
func NewSink(path string, opts *opt.Options) (*Sink, error) {
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, err
	}

	return &Sink{path: path, db: db}, nil
}

// Append implements rlrd.StatsSink.
func (s *Sink) Append(epoch int, records []rlrd.Stats) error {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(epoch))

	var value bytes.Buffer
	enc := gob.NewEncoder(&value)
	if err := enc.Encode(records); err != nil {
		return err
	}

	return s.db.Put(key[:], value.Bytes(), s.wOpts)
}

// Load returns the records of the given epoch, or nil if none were stored.
func (s *Sink) Load(epoch int) ([]rlrd.Stats, error) {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(epoch))

	buf, err := s.db.Get(key[:], s.rOpts)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	var records []rlrd.Stats
	dec := gob.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// All returns every stored epoch in ascending order.
func (s *Sink) All() ([]rlrd.EpochStats, error) {
	it := s.db.NewIterator(nil, s.rOpts)
	defer it.Release()

	var all []rlrd.EpochStats
	for it.Next() {
		epoch := int(binary.BigEndian.Uint64(it.Key()))

		var records []rlrd.Stats
		dec := gob.NewDecoder(bytes.NewReader(it.Value()))
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}

		all = append(all, rlrd.EpochStats{Epoch: epoch, Records: records})
	}

	return all, it.Error()
}

// Close implements io.Closer. The database files are kept: statistics are
// the durable output of a run.
func (s *Sink) Close() error {
	return s.db.Close()
}
