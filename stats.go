package rlrd

// Stats is one record of named scalar metrics. Records are ephemeral: they
// flow from training steps up through rounds and epochs into a StatsSink, and
// are never part of the checkpoint.
type Stats map[string]float64

// Merge copies all entries of other into s, overwriting on collision.
func (s Stats) Merge(other Stats) {
	for k, v := range other {
		s[k] = v
	}
}

// MeanStats averages each key over the given records. Keys missing from some
// records are averaged over the records that have them.
func MeanStats(records []Stats) Stats {
	sums := Stats{}
	counts := map[string]int{}
	for _, rec := range records {
		for k, v := range rec {
			sums[k] += v
			counts[k]++
		}
	}
	for k := range sums {
		sums[k] /= float64(counts[k])
	}
	return sums
}

// StatsSink is an append-only log of per-epoch statistics, persisted
// independently of the checkpoint.
type StatsSink interface {
	// Append records the statistics of one epoch. Epochs arrive in order;
	// after a resume the same epoch is never appended twice.
	Append(epoch int, records []Stats) error
	Close() error
}
