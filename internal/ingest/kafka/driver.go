// Package kafka adapts a franz-go consumer to the task runtime's Consumer
// and Admin interfaces, grounded on the teacher's
// internal/ingest/kafka.Adapter (worker pool, pause/resume on backpressure,
// mark-and-commit acking) but reshaped around Poll() so the caller's own
// task loop owns the goroutine instead of the driver running one itself.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chooser/internal/domain"
	"chooser/internal/logging"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"log/slog"
)

const CommitModeAfterQuorum = "after_quorum_commit"

// Config mirrors the teacher's kafka.Config, trimmed to what a Consumer
// driver needs (parsing/appending concerns belonged to the write path;
// this driver only reads).
type Config struct {
	Brokers     []string
	Topics      []string
	GroupID     string
	ClientID    string
	CommitMode  string
	FetchMaxWait time.Duration
}

func (c *Config) withDefaults() {
	if c.CommitMode == "" {
		c.CommitMode = CommitModeAfterQuorum
	}
	if c.FetchMaxWait <= 0 {
		c.FetchMaxWait = time.Second
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka.topics is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka.group_id is required")
	}
	if c.CommitMode != CommitModeAfterQuorum {
		return fmt.Errorf("unsupported commit mode %q", c.CommitMode)
	}
	return nil
}

// Driver is a Consumer (and chooser.Admin, structurally) backed by a
// franz-go client. Register is a no-op beyond bookkeeping: franz-go
// manages partition assignment through the consumer group protocol, so
// per-SSP starting offsets are honored by the group's committed offsets
// rather than an explicit seek.
type Driver struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	client   *kgo.Client
	admin    *kadm.Client
	pending  map[domain.SystemStreamPartition]struct{}
}

func NewDriver(cfg Config, logger *slog.Logger) (*Driver, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		cfg:     cfg,
		logger:  logging.Component(logging.OrNop(logger), "ingest.kafka"),
		pending: make(map[domain.SystemStreamPartition]struct{}),
	}, nil
}

func (d *Driver) Register(ssp domain.SystemStreamPartition, startingOffset string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[ssp] = struct{}{}
	return nil
}

// Start is idempotent: a caller that needs admin metadata before the
// task loop begins (to resolve bootstrap targets) may start the driver
// itself, and Run's own Start call then becomes a no-op.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	alreadyStarted := d.client != nil
	d.mu.Unlock()
	if alreadyStarted {
		return nil
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(d.cfg.Brokers...),
		kgo.ConsumerGroup(d.cfg.GroupID),
		kgo.ConsumeTopics(d.cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(d.cfg.FetchMaxWait),
	}
	if d.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(d.cfg.ClientID))
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("new kafka client: %w", err)
	}
	d.mu.Lock()
	d.client = cl
	d.admin = kadm.NewClient(cl)
	d.mu.Unlock()
	d.logger.Info("kafka driver started", slog.Any("topics", d.cfg.Topics), slog.String("group", d.cfg.GroupID))
	return nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Close()
	}
	return nil
}

// Poll fetches one round of records and maps each to an IncomingEnvelope.
// A record that fails to map is dropped with a warning rather than
// failing the whole poll, matching the teacher's "continue on bad
// individual record" posture in runWorker.
func (d *Driver) Poll(ctx context.Context) ([]domain.IncomingEnvelope, error) {
	d.mu.Lock()
	cl := d.client
	d.mu.Unlock()
	if cl == nil {
		return nil, errors.New("kafka driver: Start must be called before Poll")
	}

	fetches := cl.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("poll kafka fetches: %w", errs[0].Err)
	}

	var envelopes []domain.IncomingEnvelope
	fetches.EachRecord(func(rec *kgo.Record) {
		envelopes = append(envelopes, domain.IncomingEnvelope{
			SSP: domain.SystemStreamPartition{
				System:    "kafka",
				Stream:    rec.Topic,
				Partition: int(rec.Partition),
			},
			Key:     append([]byte(nil), rec.Key...),
			Message: append([]byte(nil), rec.Value...),
			Offset:  fmt.Sprintf("%d", rec.Offset),
		})
	})
	return envelopes, nil
}

// Ack marks the given SSP's offset committed and flushes marked offsets,
// following the teacher's mark-then-commit split in handleAcks.
func (d *Driver) Ack(ssp domain.SystemStreamPartition, offset string) error {
	d.mu.Lock()
	cl := d.client
	d.mu.Unlock()
	if cl == nil {
		return errors.New("kafka driver: Start must be called before Ack")
	}
	var parsed int64
	if _, err := fmt.Sscanf(offset, "%d", &parsed); err != nil {
		return fmt.Errorf("kafka driver: parse offset %q: %w", offset, err)
	}
	cl.MarkCommitRecords(&kgo.Record{Topic: ssp.Stream, Partition: int32(ssp.Partition), Offset: parsed})
	return cl.CommitMarkedOffsets(context.Background())
}

// GetSystemStreamMetadata satisfies chooser.Admin, resolving each
// requested stream's per-partition newest offset through the kadm admin
// client so the composer can capture bootstrap targets.
func (d *Driver) GetSystemStreamMetadata(streams []domain.SystemStream) (map[domain.SystemStream]domain.StreamMetadata, error) {
	d.mu.Lock()
	admin := d.admin
	d.mu.Unlock()
	if admin == nil {
		return nil, errors.New("kafka driver: Start must be called before GetSystemStreamMetadata")
	}

	topics := make([]string, 0, len(streams))
	for _, s := range streams {
		topics = append(topics, s.Stream)
	}

	ctx := context.Background()
	endOffsets, err := admin.ListEndOffsets(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("list kafka end offsets: %w", err)
	}

	result := make(map[domain.SystemStream]domain.StreamMetadata, len(streams))
	for _, s := range streams {
		md := domain.StreamMetadata{
			Stream:                        s.Stream,
			SystemStreamPartitionMetadata: make(map[int]domain.SystemStreamPartitionMetadata),
		}
		listed, ok := endOffsets[s.Stream]
		if ok {
			for _, o := range listed {
				newest := fmt.Sprintf("%d", o.Offset)
				md.SystemStreamPartitionMetadata[int(o.Partition)] = domain.SystemStreamPartitionMetadata{
					NewestOffset:   newest,
					UpcomingOffset: fmt.Sprintf("%d", o.Offset+1),
				}
			}
		}
		result[s] = md
	}
	return result, nil
}
