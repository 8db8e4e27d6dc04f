// Package rdbstore implements a replay memory in which transitions are
// stored in a RocksDB database on disk.
//
// It is functionally equivalent to the in-RAM memories in package memory.
// In practice it will be slower, but it uses a roughly constant amount of
// process memory even for replay capacities that far exceed RAM.
package rdbstore

import (
	rocksdb "github.com/tecbot/gorocksdb"
)

// Params wraps the database configuration for a disk-backed memory.
type Params struct {
	Path         string
	Options      *rocksdb.Options
	ReadOptions  *rocksdb.ReadOptions
	WriteOptions *rocksdb.WriteOptions
}

// DefaultParams returns database options suitable for replay workloads.
func DefaultParams(path string) Params {
	opts := rocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCompression(rocksdb.SnappyCompression)
	return Params{
		Path:         path,
		Options:      opts,
		ReadOptions:  rocksdb.NewDefaultReadOptions(),
		WriteOptions: rocksdb.NewDefaultWriteOptions(),
	}
}

// Close releases the option handles.
func (p Params) Close() {
	p.Options.Destroy()
	p.ReadOptions.Destroy()
	p.WriteOptions.Destroy()
}
