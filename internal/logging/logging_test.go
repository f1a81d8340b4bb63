package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWritesJSONAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.LevelWarn, &buf)

	l.Info("should be filtered")
	if buf.Len() != 0 {
		t.Fatalf("expected info below the configured warn level to be dropped, got %q", buf.String())
	}

	l.Warn("gate closed", slog.String("ssp", "sys.boot.0"))
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "gate closed" || record["ssp"] != "sys.boot.0" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	base := New(slog.LevelInfo, &buf)
	l := Component(base, "chooser")
	l.Info("composed stack")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a JSON record: %v", err)
	}
	if record["component"] != "chooser" {
		t.Fatalf("expected component attribute, got %v", record)
	}
}

func TestOrNopNeverReturnsNil(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected a non-nil discarding logger")
	}
	real := New(slog.LevelInfo, &bytes.Buffer{})
	if OrNop(real) != real {
		t.Fatalf("expected a non-nil logger to pass through unchanged")
	}
}

func TestVerboseTagsDefaultOffAndRespondToEnable(t *testing.T) {
	if VerboseEnabled("scratch-tag") {
		t.Fatalf("expected an unregistered tag to default to disabled")
	}
	Enable("scratch-tag")
	if !VerboseEnabled("scratch-tag") {
		t.Fatalf("expected Enable to turn the tag on")
	}
}

func TestEnableManySplitsOnComma(t *testing.T) {
	EnableMany("bootstrap, batching ,priority")
	for _, tag := range []string{"bootstrap", "batching", "priority"} {
		if !VerboseEnabled(tag) {
			t.Fatalf("expected %q to be enabled", tag)
		}
	}
}
