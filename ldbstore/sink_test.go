package ldbstore

import (
	"path/filepath"
	"testing"

	"github.com/yannbouteiller/rlrd"
)

func TestSink_AppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	sink, err := NewSink(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	if err := sink.Append(0, []rlrd.Stats{{"loss": 1}}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Append(1, []rlrd.Stats{{"loss": 2}, {"loss": 3}}); err != nil {
		t.Fatal(err)
	}

	records, err := sink.Load(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0]["loss"] != 2 {
		t.Errorf("unexpected records for epoch 1: %v", records)
	}

	if records, err := sink.Load(7); err != nil || records != nil {
		t.Errorf("expected no records for a missing epoch, got %v, %v", records, err)
	}
}

func TestSink_ReappendOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	sink, err := NewSink(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	if err := sink.Append(0, []rlrd.Stats{{"loss": 1}}); err != nil {
		t.Fatal(err)
	}
	// A resumed run re-reaches the same epoch; the stale entry is replaced,
	// never duplicated.
	if err := sink.Append(0, []rlrd.Stats{{"loss": 9}}); err != nil {
		t.Fatal(err)
	}

	all, err := sink.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	if all[0].Records[0]["loss"] != 9 {
		t.Errorf("expected overwritten value, got %v", all[0].Records[0]["loss"])
	}
}

func TestSink_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	sink, err := NewSink(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for epoch := 0; epoch < 3; epoch++ {
		if err := sink.Append(epoch, []rlrd.Stats{{"epoch": float64(epoch)}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	sink, err = NewSink(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	all, err := sink.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries after reopen, got %d", len(all))
	}
	for i, e := range all {
		if e.Epoch != i {
			t.Errorf("entry %d labeled epoch %d", i, e.Epoch)
		}
	}
}
