// Package coordinator implements the coordinator-stream read model: a
// reader that replays an ordered, append-only configuration log to
// materialize a key/value configuration snapshot.
package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"time"
)

// MessageTypeSetConfig is the only message type this reader acts on;
// other types are replayed and ignored, per §4.7.
const MessageTypeSetConfig = "set-config"

// messageKey is the canonical, sort-ordered representation of a
// coordinator message's key. Field names are declared in alphabetical
// order so encoding/json's declaration-order serialization produces
// byte-identical output regardless of how the caller's logical map was
// populated — this is the concrete mechanism behind the "equal messages
// must serialize byte-identically" invariant (§3, property 7).
type messageKey struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Version int    `json:"version"`
}

// Version is the coordinator message wire version this reader/writer
// pair produces and understands.
const Version = 1

// Message is one coordinator-stream record: a SetConfig or a Delete,
// depending on whether Value is present.
type Message struct {
	Version   int
	Type      string
	Key       string
	Source    string
	Timestamp time.Time
	Username  string
	Value     map[string]any
}

// NewSetConfig builds a SetConfig message carrying a single string
// config value, mirroring the wrapped-value convention of the system
// this reader is modeled on.
func NewSetConfig(source, key, value string) Message {
	return Message{
		Version:   Version,
		Type:      MessageTypeSetConfig,
		Key:       key,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Username:  currentUsername(),
		Value:     map[string]any{"value": value},
	}
}

// NewDelete builds a tombstone for key: a SetConfig message with no
// value, which the reader interprets as "remove this key".
func NewDelete(source, key string) Message {
	return Message{
		Version:   Version,
		Type:      MessageTypeSetConfig,
		Key:       key,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Username:  currentUsername(),
		Value:     nil,
	}
}

func (m Message) IsDelete() bool { return m.Value == nil }

// KeyBytes returns the canonical serialized key for this message.
func (m Message) KeyBytes() ([]byte, error) {
	b, err := json.Marshal(messageKey{Key: m.Key, Type: m.Type, Version: m.Version})
	if err != nil {
		return nil, fmt.Errorf("coordinator: marshal message key: %w", err)
	}
	return b, nil
}

// ValueBytes returns the serialized value mapping, or nil for a delete.
func (m Message) ValueBytes() ([]byte, error) {
	if m.IsDelete() {
		return nil, nil
	}
	b, err := json.Marshal(m.Value)
	if err != nil {
		return nil, fmt.Errorf("coordinator: marshal message value: %w", err)
	}
	return b, nil
}

// LogRecord is the wire shape a LogSource yields: an offset plus the raw
// key/value bytes described in §6 (key always present, value absent for
// a delete).
type LogRecord struct {
	Offset string
	Key    []byte
	Value  []byte
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
