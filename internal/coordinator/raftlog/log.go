package raftlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chooser/internal/coordinator"
	"chooser/internal/domain"
	"chooser/internal/logging"
	"chooser/internal/wire"

	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"

	"log/slog"
)

// ErrNotLeader is returned by Append when this node is not the current
// raft leader for the coordinator log; callers must retry against
// whichever node Leader() names.
var ErrNotLeader = errors.New("raftlog: leader required")

type Config struct {
	NodeID              uint64
	Address             string
	PeerAddresses       map[uint64]string
	TickInterval        time.Duration
	ElectionTicks       int
	HeartbeatTicks      int
	MaxInflightMsgs     int
	MaxMessageSize      uint64
	BootstrapNewCluster bool
}

func (c *Config) withDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = 20 * time.Millisecond
	}
	if c.ElectionTicks == 0 {
		c.ElectionTicks = 10
	}
	if c.HeartbeatTicks == 0 {
		c.HeartbeatTicks = 1
	}
	if c.MaxInflightMsgs == 0 {
		c.MaxInflightMsgs = 256
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 1024 * 1024
	}
}

// logEntry is what actually gets proposed to raft: a caller-supplied
// token so Append can match a committed entry back to its waiting
// caller, wrapping the protobuf-shaped coordinator record.
type logEntry struct {
	Token  string `json:"token"`
	Record []byte `json:"record"`
}

type ackResult struct {
	index uint64
	err   error
}

// Log is a single-partition raft group whose committed entries are the
// coordinator stream: the replicated append-only log that
// coordinator.Reader replays through the LogSource interface. Adapted
// from the teacher's internal/raftengine.Engine, collapsed from 25
// sharded partitions down to the one log this module needs.
type Log struct {
	cfg       Config
	node      raft.Node
	storage   *raft.MemoryStorage
	transport *tcpTransport
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	nextToken atomic.Uint64

	mu        sync.Mutex
	entries   []coordinator.LogRecord
	baseIndex uint64
	waiters   map[string]chan ackResult
}

func NewLog(cfg Config, logger *slog.Logger) (*Log, error) {
	cfg.withDefaults()

	l := &Log{
		cfg:     cfg,
		storage: raft.NewMemoryStorage(),
		logger:  logging.Component(logging.OrNop(logger), "coordinator.raftlog"),
		stopCh:  make(chan struct{}),
		waiters: make(map[string]chan ackResult),
	}

	transport, err := newTCPTransport(cfg.NodeID, cfg.Address, cfg.PeerAddresses, func(msg raftpb.Message) {
		_ = l.node.Step(context.Background(), msg)
	})
	if err != nil {
		return nil, fmt.Errorf("raftlog: start transport: %w", err)
	}
	l.transport = transport

	peers := make([]raft.Peer, 0, len(cfg.PeerAddresses))
	for id := range cfg.PeerAddresses {
		peers = append(peers, raft.Peer{ID: id})
	}

	rc := &raft.Config{
		ID:              cfg.NodeID,
		ElectionTick:    cfg.ElectionTicks,
		HeartbeatTick:   cfg.HeartbeatTicks,
		Storage:         l.storage,
		MaxSizePerMsg:   cfg.MaxMessageSize,
		MaxInflightMsgs: cfg.MaxInflightMsgs,
		CheckQuorum:     true,
		PreVote:         true,
	}
	if cfg.BootstrapNewCluster {
		l.node = raft.StartNode(rc, peers)
	} else {
		l.node = raft.RestartNode(rc)
	}
	return l, nil
}

func (l *Log) Start() {
	l.wg.Add(1)
	go l.run()
}

func (l *Log) Stop() error {
	close(l.stopCh)
	l.node.Stop()
	l.wg.Wait()
	return l.transport.close()
}

func (l *Log) IsLeader() bool { return l.node.Status().RaftState == raft.StateLeader }

func (l *Log) Leader() uint64 { return l.node.Status().Lead }

// Append proposes a SetConfig or tombstone record and blocks until it is
// committed (or ctx is canceled), returning the offset it was committed
// at. value == nil proposes a tombstone, mirroring the nil-means-delete
// convention coordinator.LogRecord uses on the read side.
func (l *Log) Append(ctx context.Context, key, value []byte) (string, error) {
	if !l.IsLeader() {
		return "", fmt.Errorf("%w: leader=%d", ErrNotLeader, l.Leader())
	}

	rec := wire.CoordinatorRecord{Key: key, Value: value, Tombstone: value == nil}
	payload, err := wire.MarshalCoordinatorRecord(rec)
	if err != nil {
		return "", fmt.Errorf("raftlog: marshal record: %w", err)
	}
	token := strconv.FormatUint(l.nextToken.Add(1), 10) + "-" + strconv.FormatUint(l.cfg.NodeID, 10)
	data, err := json.Marshal(logEntry{Token: token, Record: payload})
	if err != nil {
		return "", fmt.Errorf("raftlog: marshal entry: %w", err)
	}

	ch := make(chan ackResult, 1)
	l.mu.Lock()
	l.waiters[token] = ch
	l.mu.Unlock()

	if err := l.node.Propose(ctx, data); err != nil {
		l.mu.Lock()
		delete(l.waiters, token)
		l.mu.Unlock()
		return "", fmt.Errorf("raftlog: propose: %w", err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		return strconv.FormatUint(res.index, 10), nil
	case <-ctx.Done():
		l.mu.Lock()
		delete(l.waiters, token)
		l.mu.Unlock()
		return "", ctx.Err()
	}
}

func (l *Log) OldestOffset() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return domain.OffsetNone, nil
	}
	return l.entries[0].Offset, nil
}

func (l *Log) HeadOffset() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return domain.OffsetNone, nil
	}
	return l.entries[len(l.entries)-1].Offset, nil
}

func (l *Log) Iterate(startOffset string) (coordinator.RecordIterator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return &iterator{}, nil
	}

	pos := 0
	if startOffset != domain.OffsetNone {
		startIdx, err := strconv.ParseUint(startOffset, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("raftlog: parse start offset %q: %w", startOffset, err)
		}
		if startIdx > l.baseIndex {
			pos = int(startIdx - l.baseIndex)
		}
	}
	if pos > len(l.entries) {
		pos = len(l.entries)
	}
	snap := make([]coordinator.LogRecord, len(l.entries)-pos)
	copy(snap, l.entries[pos:])
	return &iterator{records: snap}, nil
}

type iterator struct {
	records []coordinator.LogRecord
	pos     int
}

func (it *iterator) Next() (coordinator.LogRecord, bool, error) {
	if it.pos >= len(it.records) {
		return coordinator.LogRecord{}, false, nil
	}
	r := it.records[it.pos]
	it.pos++
	return r, true, nil
}

func (l *Log) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.node.Tick()
		case rd := <-l.node.Ready():
			if !raft.IsEmptySnap(rd.Snapshot) {
				_ = l.storage.ApplySnapshot(rd.Snapshot)
			}
			if !raft.IsEmptyHardState(rd.HardState) {
				_ = l.storage.SetHardState(rd.HardState)
			}
			_ = l.storage.Append(rd.Entries)
			for _, m := range rd.Messages {
				if m.To == l.cfg.NodeID {
					continue
				}
				if err := l.transport.send(m.To, m); err != nil {
					l.logger.Warn("send raft message failed", slog.Uint64("to", m.To), slog.Any("error", err))
				}
			}
			for _, ent := range rd.CommittedEntries {
				l.apply(ent)
			}
			l.node.Advance()
		}
	}
}

func (l *Log) apply(ent raftpb.Entry) {
	if ent.Type != raftpb.EntryNormal || len(ent.Data) == 0 {
		return
	}
	var le logEntry
	if err := json.Unmarshal(ent.Data, &le); err != nil {
		l.logger.Warn("drop undecodable raft entry", slog.Uint64("index", ent.Index), slog.Any("error", err))
		return
	}
	rec, err := wire.UnmarshalCoordinatorRecord(le.Record)
	if err != nil {
		l.logger.Warn("drop undecodable coordinator record", slog.Uint64("index", ent.Index), slog.Any("error", err))
		return
	}

	value := rec.Value
	if rec.Tombstone {
		value = nil
	}
	offset := strconv.FormatUint(ent.Index, 10)

	l.mu.Lock()
	if len(l.entries) == 0 {
		l.baseIndex = ent.Index
	}
	l.entries = append(l.entries, coordinator.LogRecord{Offset: offset, Key: rec.Key, Value: value})
	var waiter chan ackResult
	if le.Token != "" {
		waiter = l.waiters[le.Token]
		delete(l.waiters, le.Token)
	}
	l.mu.Unlock()

	if waiter != nil {
		waiter <- ackResult{index: ent.Index}
	}
}
