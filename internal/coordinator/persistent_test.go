package coordinator

import (
	"context"
	"path/filepath"
	"testing"

	"chooser/internal/coordinator/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "coordinator.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPersistentReaderSavesSnapshotAfterBootstrap(t *testing.T) {
	ctx := context.Background()
	source := &fakeLogSource{records: []LogRecord{
		mustRecord(t, "1", NewSetConfig("t", "a", "1")),
		mustRecord(t, "2", NewSetConfig("t", "b", "7")),
	}}
	st := openTestStore(t)

	p := NewPersistentReader(source, st)
	if err := p.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	cfg, err := p.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if len(cfg) != 2 || cfg["a"] != "1" || cfg["b"] != "7" {
		t.Fatalf("unexpected config: %#v", cfg)
	}

	saved, offset, err := st.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if offset != "2" || len(saved) != 2 {
		t.Fatalf("unexpected durable snapshot: %#v @ %q", saved, offset)
	}
}

func TestPersistentReaderResumesFromDurableOffsetOnRestart(t *testing.T) {
	ctx := context.Background()
	source := &fakeLogSource{records: []LogRecord{
		mustRecord(t, "1", NewSetConfig("t", "a", "1")),
		mustRecord(t, "2", NewSetConfig("t", "b", "7")),
	}}
	st := openTestStore(t)

	first := NewPersistentReader(source, st)
	if err := first.Bootstrap(ctx); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}

	// A new process restarts against the same store and a log that has
	// grown since the last save; it should resume from the saved offset
	// rather than replay from the oldest offset again.
	source.records = append(source.records, mustRecord(t, "3", NewSetConfig("t", "c", "9")))

	second := NewPersistentReader(source, st)
	if err := second.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	cfg, err := second.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if len(cfg) != 3 || cfg["a"] != "1" || cfg["b"] != "7" || cfg["c"] != "9" {
		t.Fatalf("unexpected config after resume: %#v", cfg)
	}
}

func TestPersistentReaderBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	source := &fakeLogSource{records: []LogRecord{
		mustRecord(t, "1", NewSetConfig("t", "a", "1")),
	}}
	st := openTestStore(t)

	p := NewPersistentReader(source, st)
	if err := p.Bootstrap(ctx); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	if err := p.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	cfg, err := p.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if len(cfg) != 1 || cfg["a"] != "1" {
		t.Fatalf("unexpected config: %#v", cfg)
	}
}
