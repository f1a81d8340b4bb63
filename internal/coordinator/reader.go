package coordinator

import (
	"encoding/json"
	"fmt"
	"sync"

	"chooser/internal/domain"
)

// LogSource is the abstract collaborator a Reader replays: an ordered,
// partitioned-by-one append-only log that reports its oldest and head
// offsets and iterates records from a given start offset.
type LogSource interface {
	OldestOffset() (string, error)
	HeadOffset() (string, error)
	Iterate(startOffset string) (RecordIterator, error)
}

// RecordIterator yields coordinator log records in log order. Next
// returns ok=false once the log source has no more records to offer
// right now; it does not imply the log is closed.
type RecordIterator interface {
	Next() (LogRecord, bool, error)
}

// Reader materializes a key/value configuration map by replaying a
// LogSource from its earliest offset to the head offset observed at the
// start of replay. Grounded on CoordinatorStreamSystemConsumer's
// register/bootstrap/getConfig lifecycle.
type Reader struct {
	source LogSource

	mu           sync.RWMutex
	config       map[string]string
	bootstrapped bool
}

func NewReader(source LogSource) *Reader {
	return &Reader{source: source, config: map[string]string{}}
}

// Register confirms the log source resolves an oldest offset, failing
// fast if the coordinator stream is unreachable. It does not replay.
func (r *Reader) Register() error {
	if _, err := r.source.OldestOffset(); err != nil {
		return fmt.Errorf("coordinator: resolve oldest offset: %w", ErrReplay)
	}
	return nil
}

// Bootstrap reads every record from the earliest offset up to the head
// offset observed when replay starts, applying SetConfig records (a
// present value upserts, an absent value deletes) and ignoring every
// other message type. Replay is idempotent: bootstrapping twice over the
// same log produces the same snapshot.
func (r *Reader) Bootstrap() error {
	head, err := r.source.HeadOffset()
	if err != nil {
		return fmt.Errorf("coordinator: resolve head offset: %w", ErrReplay)
	}
	oldest, err := r.source.OldestOffset()
	if err != nil {
		return fmt.Errorf("coordinator: resolve oldest offset: %w", ErrReplay)
	}
	it, err := r.source.Iterate(oldest)
	if err != nil {
		return fmt.Errorf("coordinator: start replay: %w", ErrReplay)
	}

	cfg := make(map[string]string)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("coordinator: replay record: %w", ErrReplay)
		}
		if !ok {
			break
		}
		if err := applyRecord(cfg, rec); err != nil {
			return fmt.Errorf("coordinator: decode record: %w", ErrReplay)
		}
		if head != domain.OffsetNone && rec.Offset == head {
			break
		}
	}

	r.mu.Lock()
	r.config = cfg
	r.bootstrapped = true
	r.mu.Unlock()
	return nil
}

// GetConfig returns a snapshot of the bootstrapped configuration. It
// fails until Bootstrap has completed successfully at least once.
func (r *Reader) GetConfig() (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.bootstrapped {
		return nil, fmt.Errorf("coordinator: call Bootstrap before GetConfig: %w", ErrNotBootstrapped)
	}
	cp := make(map[string]string, len(r.config))
	for k, v := range r.config {
		cp[k] = v
	}
	return cp, nil
}

func applyRecord(cfg map[string]string, rec LogRecord) error {
	var key messageKey
	if err := json.Unmarshal(rec.Key, &key); err != nil {
		return err
	}
	if key.Type != MessageTypeSetConfig {
		return nil
	}
	if rec.Value == nil {
		delete(cfg, key.Key)
		return nil
	}
	var value map[string]any
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		return err
	}
	if v, ok := value["value"]; ok {
		cfg[key.Key] = fmt.Sprint(v)
	}
	return nil
}
