package rdbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	rocksdb "github.com/tecbot/gorocksdb"

	"github.com/yannbouteiller/rlrd"
	"github.com/yannbouteiller/rlrd/internal/rng"
	"github.com/yannbouteiller/rlrd/memory"
)

// Memory is a fixed-capacity ring of transitions stored in a RocksDB
// database. Transitions are keyed by their physical slot; chronological
// index 0 maps to the oldest retained slot, as in memory.Memory.
type Memory struct {
	params Params
	db     *rocksdb.DB

	capacity      int
	batchSize     int
	historyLength int

	n   int // total transitions ever appended
	rng *rng.Rand
}

// Open opens (creating if necessary) a disk-backed memory at params.Path.
func Open(params Params, capacity, batchSize, historyLength int, seed uint64) (*Memory, error) {
	db, err := rocksdb.OpenDb(params.Options, params.Path)
	if err != nil {
		return nil, err
	}

	return &Memory{
		params:        params,
		db:            db,
		capacity:      capacity,
		batchSize:     batchSize,
		historyLength: historyLength,
		rng:           rng.New(seed),
	}, nil
}

// Close implements io.Closer.
func (m *Memory) Close() error {
	m.db.Close()
	return nil
}

// Len reports the number of retained transitions, at most the capacity.
func (m *Memory) Len() int {
	if m.n < m.capacity {
		return m.n
	}
	return m.capacity
}

// Append records one transition, overwriting the oldest entry once the
// memory is full.
func (m *Memory) Append(reward float32, done bool, info rlrd.StepInfo, obs rlrd.Observation, hidden, action []float32) {
	tr := memory.Transition{Obs: obs, Action: action, Reward: reward, Done: done, Hidden: hidden}
	m.put(m.n%m.capacity, tr)
	m.n++
}

func (m *Memory) put(slot int, tr memory.Transition) {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(slot))

	var value bytes.Buffer
	enc := gob.NewEncoder(&value)
	if err := enc.Encode(tr); err != nil {
		panic(err)
	}

	if err := m.db.Put(m.params.WriteOptions, key[:], value.Bytes()); err != nil {
		panic(err)
	}
}

// At returns the transition at the given chronological index.
func (m *Memory) At(i int) memory.Transition {
	head := 0
	if m.n > m.capacity {
		head = m.n % m.capacity
	}
	slot := (head + i) % m.Len()

	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(slot))

	value, err := m.db.Get(m.params.ReadOptions, key[:])
	if err != nil {
		panic(err)
	}
	defer value.Free()

	var tr memory.Transition
	dec := gob.NewDecoder(bytes.NewReader(value.Data()))
	if err := dec.Decode(&tr); err != nil {
		panic(err)
	}
	return tr
}

// Sample draws distinct pair windows exactly as memory.Memory.Sample does.
func (m *Memory) Sample() (*memory.Batch, error) {
	n := m.Len() - 1
	if n < 1 {
		return nil, memory.ErrNotEnough
	}
	size := m.batchSize
	if size > n {
		size = n
	}
	b := &memory.Batch{
		Obs:       make([]rlrd.Observation, size),
		Actions:   make([][]float32, size),
		Rewards:   make([]float32, size),
		NextObs:   make([]rlrd.Observation, size),
		Terminals: make([]bool, size),
	}
	for k, i := range m.rng.Sample(n, size) {
		first := m.At(i)
		second := m.At(i + 1)
		b.Obs[k] = first.Obs
		b.Actions[k] = first.Action
		b.Rewards[k] = second.Reward
		b.NextObs[k] = second.Obs
		b.Terminals[k] = second.Done
	}
	return b, nil
}

// SampleTraj draws distinct contiguous trajectory windows exactly as
// memory.TrajMemory.SampleTraj does.
func (m *Memory) SampleTraj() (*memory.TrajBatch, error) {
	h := m.historyLength
	starts := m.Len() - h
	if starts < 1 {
		return nil, memory.ErrNotEnough
	}
	size := m.batchSize
	if size > starts {
		size = starts
	}

	b := &memory.TrajBatch{
		Obs:       make([][]rlrd.Observation, h+1),
		Hidden:    make([][]float32, size),
		Actions:   make([][][]float32, h),
		Rewards:   make([][]float32, h),
		Terminals: make([]bool, size),
	}
	for i := 0; i <= h; i++ {
		b.Obs[i] = make([]rlrd.Observation, size)
	}
	for i := 0; i < h; i++ {
		b.Actions[i] = make([][]float32, size)
		b.Rewards[i] = make([]float32, size)
	}

	for k, s := range m.rng.Sample(starts, size) {
		window := make([]memory.Transition, h+1)
		for i := range window {
			window[i] = m.At(s + i)
		}
		b.Hidden[k] = window[0].Hidden
		b.Terminals[k] = window[h].Done
		for i := 0; i <= h; i++ {
			b.Obs[i][k] = window[i].Obs
		}
		for i := 0; i < h; i++ {
			b.Actions[i][k] = window[i].Action
			b.Rewards[i][k] = window[i+1].Reward
		}
	}
	return b, nil
}

// MarshalBinary implements encoding.BinaryMarshaler. Only the metadata is
// serialized; the transitions stay in the database on disk.
func (m *Memory) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(m.params.Path); err != nil {
		return nil, err
	}
	if err := enc.Encode(m.capacity); err != nil {
		return nil, err
	}
	if err := enc.Encode(m.batchSize); err != nil {
		return nil, err
	}
	if err := enc.Encode(m.historyLength); err != nil {
		return nil, err
	}
	if err := enc.Encode(m.n); err != nil {
		return nil, err
	}
	if err := enc.Encode(m.rng); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler by reopening the
// database the metadata points at.
func (m *Memory) UnmarshalBinary(buf []byte) error {
	r := bytes.NewReader(buf)
	dec := gob.NewDecoder(r)

	// TODO: serialize and reload the RocksDB options.
	var path string
	if err := dec.Decode(&path); err != nil {
		return err
	}
	m.params = DefaultParams(path)

	if err := dec.Decode(&m.capacity); err != nil {
		return err
	}
	if err := dec.Decode(&m.batchSize); err != nil {
		return err
	}
	if err := dec.Decode(&m.historyLength); err != nil {
		return err
	}
	if err := dec.Decode(&m.n); err != nil {
		return err
	}
	m.rng = &rng.Rand{}
	if err := dec.Decode(m.rng); err != nil {
		return err
	}

	m.params.Options.SetCreateIfMissing(false)
	db, err := rocksdb.OpenDb(m.params.Options, m.params.Path)
	if err != nil {
		return err
	}

	m.db = db
	return nil
}

func init() {
	gob.Register(&Memory{})
}
