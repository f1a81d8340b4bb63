package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestSchemaInitializationCreatesExpectedTables(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "coordinator.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var cnt int
	if err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='coordinator_config'`).Scan(&cnt); err != nil {
		t.Fatal(err)
	}
	if cnt != 1 {
		t.Fatalf("coordinator_config table missing")
	}
}

func TestSaveAndLoadSnapshotRoundTrips(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "coordinator.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, offset, err := s.LoadSnapshot(ctx); err != nil || offset != "" {
		t.Fatalf("expected no prior snapshot, got offset=%q err=%v", offset, err)
	}

	cfg := map[string]string{"a": "1", "b": "2"}
	if err := s.SaveSnapshot(ctx, cfg, "5"); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, offset, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if offset != "5" {
		t.Fatalf("offset = %q, want 5", offset)
	}
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("config = %+v, want %+v", got, cfg)
	}
}

func TestSaveSnapshotOverwritesPreviousConfig(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "coordinator.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.SaveSnapshot(ctx, map[string]string{"a": "1"}, "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshot(ctx, map[string]string{"b": "2"}, "2"); err != nil {
		t.Fatal(err)
	}

	got, offset, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if offset != "2" || len(got) != 1 || got["b"] != "2" {
		t.Fatalf("expected snapshot replaced with {b:2}@2, got %+v @ %q", got, offset)
	}
}

func TestLogEntriesAreAppendOnlyViaTriggers(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "coordinator.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.AppendLogEntry(ctx, 1, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE coordinator_log_entries SET value='x' WHERE log_offset=1`)
	if err == nil || !strings.Contains(err.Error(), "append-only") {
		t.Fatalf("expected update to be rejected by trigger, got %v", err)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM coordinator_log_entries WHERE log_offset=1`)
	if err == nil || !strings.Contains(err.Error(), "append-only") {
		t.Fatalf("expected delete to be rejected by trigger, got %v", err)
	}
}

func TestAppendLogEntryIsIdempotentPerOffset(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "coordinator.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.AppendLogEntry(ctx, 1, []byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendLogEntry(ctx, 1, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("re-appending the same offset should be a no-op, not an error: %v", err)
	}

	var value []byte
	if err := s.db.QueryRow(`SELECT value FROM coordinator_log_entries WHERE log_offset=1`).Scan(&value); err != nil {
		t.Fatal(err)
	}
	if string(value) != "v1" {
		t.Fatalf("value = %q, want the first write (v1) to have stuck", value)
	}
}
