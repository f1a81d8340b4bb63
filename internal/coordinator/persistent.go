package coordinator

import (
	"context"
	"fmt"
	"strconv"

	"chooser/internal/coordinator/store"
	"chooser/internal/domain"
)

// PersistentReader wraps a Reader with a durable sqlite snapshot cache
// (internal/coordinator/store), so a restarted process resumes replay
// from the last durably-saved offset instead of the log's oldest offset
// every time, and keeps a mirrored append-only copy of every record it
// has folded into the snapshot. The raft log itself (internal/coordinator/raftlog)
// still keeps its entries in memory only, the same tradeoff the teacher's
// own raftengine.Persistence makes — this store durably persists the
// derived configuration, not raft's internal write-ahead state.
type PersistentReader struct {
	reader *Reader
	source LogSource
	store  *store.Store
}

func NewPersistentReader(source LogSource, st *store.Store) *PersistentReader {
	return &PersistentReader{reader: NewReader(source), source: source, store: st}
}

func (p *PersistentReader) Register() error { return p.reader.Register() }

// Bootstrap resumes from the durable snapshot's last applied offset (if
// any), replays every record from there to the log's current head,
// mirrors each replayed record into the store, and saves the resulting
// snapshot back before returning. Idempotent: bootstrapping twice in a
// row re-replays the tail (if any) and saves the same snapshot again.
func (p *PersistentReader) Bootstrap(ctx context.Context) error {
	savedConfig, appliedOffset, err := p.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: load durable snapshot: %w", ErrReplay)
	}

	head, err := p.source.HeadOffset()
	if err != nil {
		return fmt.Errorf("coordinator: resolve head offset: %w", ErrReplay)
	}

	startOffset := appliedOffset
	if startOffset == "" {
		startOffset, err = p.source.OldestOffset()
		if err != nil {
			return fmt.Errorf("coordinator: resolve oldest offset: %w", ErrReplay)
		}
	}

	it, err := p.source.Iterate(startOffset)
	if err != nil {
		return fmt.Errorf("coordinator: start replay: %w", ErrReplay)
	}

	cfg := make(map[string]string, len(savedConfig))
	for k, v := range savedConfig {
		cfg[k] = v
	}
	lastOffset := appliedOffset
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
		if offset, err := strconv.ParseUint(rec.Offset, 10, 64); err == nil {
			if err := p.store.AppendLogEntry(ctx, offset, rec.Key, rec.Value); err != nil {
				return fmt.Errorf("coordinator: mirror replayed record: %w", ErrReplay)
			}
		}
		lastOffset = rec.Offset
		if head != domain.OffsetNone && rec.Offset == head {
			break
		}
	}

	if err := p.store.SaveSnapshot(ctx, cfg, lastOffset); err != nil {
		return fmt.Errorf("coordinator: save durable snapshot: %w", ErrReplay)
	}

	p.reader.mu.Lock()
	p.reader.config = cfg
	p.reader.bootstrapped = true
	p.reader.mu.Unlock()
	return nil
}

func (p *PersistentReader) GetConfig() (map[string]string, error) { return p.reader.GetConfig() }
