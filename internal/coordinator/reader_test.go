package coordinator

import (
	"errors"
	"strconv"
	"testing"
)

type fakeLogSource struct {
	records []LogRecord
}

func (f *fakeLogSource) OldestOffset() (string, error) {
	if len(f.records) == 0 {
		return "", nil
	}
	return f.records[0].Offset, nil
}

func (f *fakeLogSource) HeadOffset() (string, error) {
	if len(f.records) == 0 {
		return "", nil
	}
	return f.records[len(f.records)-1].Offset, nil
}

func (f *fakeLogSource) Iterate(start string) (RecordIterator, error) {
	idx := 0
	for i, r := range f.records {
		if r.Offset == start {
			idx = i
			break
		}
	}
	return &fakeIterator{records: f.records[idx:]}, nil
}

type fakeIterator struct {
	records []LogRecord
	pos     int
}

func (it *fakeIterator) Next() (LogRecord, bool, error) {
	if it.pos >= len(it.records) {
		return LogRecord{}, false, nil
	}
	r := it.records[it.pos]
	it.pos++
	return r, true, nil
}

func mustRecord(t *testing.T, offset string, msg Message) LogRecord {
	t.Helper()
	key, err := msg.KeyBytes()
	if err != nil {
		t.Fatalf("key bytes: %v", err)
	}
	value, err := msg.ValueBytes()
	if err != nil {
		t.Fatalf("value bytes: %v", err)
	}
	return LogRecord{Offset: offset, Key: key, Value: value}
}

func TestBootstrapReplaysSetConfigAndDelete(t *testing.T) {
	source := &fakeLogSource{records: []LogRecord{
		mustRecord(t, "1", NewSetConfig("t", "a", "1")),
		mustRecord(t, "2", NewSetConfig("t", "a", "2")),
		mustRecord(t, "3", NewDelete("t", "a")),
		mustRecord(t, "4", NewSetConfig("t", "b", "7")),
	}}

	r := NewReader(source)
	if err := r.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	cfg, err := r.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if len(cfg) != 1 || cfg["b"] != "7" {
		t.Fatalf("unexpected config: %#v", cfg)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	source := &fakeLogSource{records: []LogRecord{
		mustRecord(t, "1", NewSetConfig("t", "a", "1")),
		mustRecord(t, "2", NewSetConfig("t", "a", "2")),
		mustRecord(t, "3", NewDelete("t", "a")),
		mustRecord(t, "4", NewSetConfig("t", "b", "7")),
	}}

	r := NewReader(source)
	if err := r.Bootstrap(); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	first, err := r.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if err := r.Bootstrap(); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	second, err := r.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if len(first) != len(second) || first["b"] != second["b"] {
		t.Fatalf("replay not idempotent: %#v vs %#v", first, second)
	}
}

func TestGetConfigBeforeBootstrapFails(t *testing.T) {
	r := NewReader(&fakeLogSource{})
	if _, err := r.GetConfig(); !errors.Is(err, ErrNotBootstrapped) {
		t.Fatalf("expected ErrNotBootstrapped, got %v", err)
	}
}

func TestIgnoresNonSetConfigMessages(t *testing.T) {
	other := Message{Version: Version, Type: "heartbeat", Key: "a", Value: map[string]any{"value": "ignored"}}
	source := &fakeLogSource{records: []LogRecord{
		mustRecord(t, "1", other),
		mustRecord(t, "2", NewSetConfig("t", "b", "7")),
	}}

	r := NewReader(source)
	if err := r.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	cfg, err := r.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if _, ok := cfg["a"]; ok {
		t.Fatalf("heartbeat message should not have set config key a")
	}
	if cfg["b"] != "7" {
		t.Fatalf("unexpected config: %#v", cfg)
	}
}

func TestKeyBytesCanonicalOrderIndependentOfPopulationOrder(t *testing.T) {
	var m1 Message
	m1.Key = "x"
	m1.Type = MessageTypeSetConfig
	m1.Version = Version

	var m2 Message
	m2.Version = Version
	m2.Type = MessageTypeSetConfig
	m2.Key = "x"

	b1, err := m1.KeyBytes()
	if err != nil {
		t.Fatalf("key bytes m1: %v", err)
	}
	b2, err := m2.KeyBytes()
	if err != nil {
		t.Fatalf("key bytes m2: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("canonical key bytes differ: %q vs %q", b1, b2)
	}
	want := `{"key":"x","type":"set-config","version":` + strconv.Itoa(Version) + `}`
	if string(b1) != want {
		t.Fatalf("unexpected canonical key bytes: %q, want %q", b1, want)
	}
}
