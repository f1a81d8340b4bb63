// Command chooserd runs the task runtime's message-selection core
// against a live ingest driver. Structured as a cobra CLI following the
// teacher's cmd/chroniclesd shape (flag-parsed config path, load,
// summarize, run) with an extra diagnostic subcommand the teacher's
// single-command binary has no equivalent of.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"chooser/internal/chooser"
	"chooser/internal/config"
	"chooser/internal/coordinator"
	"chooser/internal/coordinator/raftlog"
	"chooser/internal/coordinator/store"
	"chooser/internal/domain"
	"chooser/internal/ingest/kafka"
	"chooser/internal/ingest/rabbitmq"
	"chooser/internal/logging"
	"chooser/internal/task"

	"github.com/spf13/cobra"
	"log/slog"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "chooserd",
		Short: "Runs the message-selection core against a configured ingest driver",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "chooser.yaml", "path to config file")

	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newReplayCoordinatorLogCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load config, wire an ingest driver, and run the task loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(*configPath)
		},
	}
}

func newReplayCoordinatorLogCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay-coordinator-log",
		Short: "Print the configuration snapshot last durably saved by the coordinator reader",
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayCoordinatorLog(*configPath)
		},
	}
}

func runTask(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(slog.LevelInfo, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var consumer task.Consumer
	var admin chooser.Admin
	var registrations []domain.SystemStreamPartition

	switch {
	case cfg.Ingest.Kafka.Enabled:
		driver, err := kafka.NewDriver(kafka.Config{
			Brokers:    cfg.Ingest.Kafka.Brokers,
			Topics:     cfg.Ingest.Kafka.Topics,
			GroupID:    cfg.Ingest.Kafka.GroupID,
			CommitMode: cfg.Ingest.Kafka.CommitMode,
		}, logger)
		if err != nil {
			return fmt.Errorf("build kafka driver: %w", err)
		}
		consumer, admin = driver, driver
	case cfg.Ingest.RabbitMQ.Enabled:
		driver, err := rabbitmq.NewDriver(rabbitmq.Config{
			URL:           cfg.Ingest.RabbitMQ.URL,
			Exchange:      cfg.Ingest.RabbitMQ.Exchange,
			Queue:         cfg.Ingest.RabbitMQ.Queue,
			RoutingKeys:   cfg.Ingest.RabbitMQ.RoutingKeys,
			PrefetchCount: cfg.Ingest.RabbitMQ.PrefetchCount,
		}, logger)
		if err != nil {
			return fmt.Errorf("build rabbitmq driver: %w", err)
		}
		consumer = driver
		registrations = append(registrations, driver.SSP())
	default:
		return fmt.Errorf("no ingest adapter enabled in config")
	}

	opts, err := composerOptions(cfg.Task.Chooser)
	if err != nil {
		return fmt.Errorf("build composer options: %w", err)
	}

	if admin != nil {
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start ingest driver: %w", err)
		}
		for _, s := range opts.InputStreams {
			metadata, err := admin.GetSystemStreamMetadata([]domain.SystemStream{s})
			if err != nil {
				return fmt.Errorf("resolve metadata for %s: %w", s, err)
			}
			for partition := range metadata[s].SystemStreamPartitionMetadata {
				registrations = append(registrations, domain.SystemStreamPartition{System: s.System, Stream: s.Stream, Partition: partition})
			}
		}
	}

	selector, err := chooser.Compose(opts, admin, chooser.NewLoggingMetrics(logger))
	if err != nil {
		return fmt.Errorf("compose selector stack: %w", err)
	}

	handler := func(ctx context.Context, e domain.IncomingEnvelope) error {
		logger.Debug("processed envelope", slog.String("ssp", e.SSP.String()), slog.String("offset", e.Offset))
		return nil
	}

	loop := task.New(consumer, selector, handler, logger)
	for _, ssp := range registrations {
		if err := loop.Register(ssp, domain.OffsetNone); err != nil {
			return fmt.Errorf("register %s: %w", ssp, err)
		}
	}

	fmt.Printf("chooserd node=%s adapters(kafka=%t rabbitmq=%t) batch_size=%d bootstrap_streams=%d\n",
		cfg.Server.NodeID,
		cfg.Ingest.Kafka.Enabled,
		cfg.Ingest.RabbitMQ.Enabled,
		cfg.Task.Chooser.BatchSize,
		len(cfg.Task.Chooser.Bootstrap),
	)

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("task loop: %w", err)
	}
	return nil
}

func composerOptions(cc config.ChooserConfig) (chooser.Options, error) {
	opts := chooser.Options{BatchSize: cc.BatchSize}

	streams := make(map[domain.SystemStream]struct{})
	for _, name := range cc.Streams {
		s, err := parseSystemStream(name)
		if err != nil {
			return chooser.Options{}, err
		}
		streams[s] = struct{}{}
	}

	priorities := make(map[domain.SystemStream]int, len(cc.Priorities))
	for name, tier := range cc.Priorities {
		s, err := parseSystemStream(name)
		if err != nil {
			return chooser.Options{}, err
		}
		priorities[s] = tier
		streams[s] = struct{}{}
	}

	bootstrap := make(map[domain.SystemStream]bool, len(cc.Bootstrap))
	for _, name := range cc.Bootstrap {
		s, err := parseSystemStream(name)
		if err != nil {
			return chooser.Options{}, err
		}
		bootstrap[s] = true
		streams[s] = struct{}{}
	}

	opts.Priorities = priorities
	opts.Bootstrap = bootstrap
	for s := range streams {
		opts.InputStreams = append(opts.InputStreams, s)
	}

	if cc.DefaultSelector != "" {
		factory, ok := chooser.LookupSelectorFactory(cc.DefaultSelector)
		if !ok {
			return chooser.Options{}, fmt.Errorf("unregistered default selector %q", cc.DefaultSelector)
		}
		opts.DefaultSelectorFactory = factory
	}
	return opts, nil
}

// parseSystemStream accepts "system.stream" names, matching the
// task.chooser.* grammar's stream identifiers.
func parseSystemStream(name string) (domain.SystemStream, error) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return domain.SystemStream{}, fmt.Errorf("invalid stream name %q, expected system.stream", name)
	}
	return domain.SystemStream{System: parts[0], Stream: parts[1]}, nil
}

func replayCoordinatorLog(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Coordinator.StorePath)
	if err != nil {
		return fmt.Errorf("open coordinator store: %w", err)
	}
	defer st.Close()

	if cfg.Coordinator.RaftListenAddr != "" {
		if err := replayFromLiveLog(cfg, st); err != nil {
			return err
		}
	}

	snapshot, offset, err := st.LoadSnapshot(context.Background())
	if err != nil {
		return fmt.Errorf("load durable snapshot: %w", err)
	}
	out, err := json.MarshalIndent(struct {
		AppliedOffset string            `json:"applied_offset"`
		Config        map[string]string `json:"config"`
	}{AppliedOffset: offset, Config: snapshot}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// replayFromLiveLog starts a local node of the configured raft group and
// immediately replays into the store whatever committed entries that node
// already holds; it does not wait for entries to arrive from peers, and it
// stops the node before returning.
func replayFromLiveLog(cfg config.Config, st *store.Store) error {
	peers := make(map[uint64]string, len(cfg.Coordinator.RaftPeers))
	for idStr, addr := range cfg.Coordinator.RaftPeers {
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return fmt.Errorf("coordinator.raft_peers: invalid node id %q: %w", idStr, err)
		}
		peers[id] = addr
	}

	log, err := raftlog.NewLog(raftlog.Config{
		NodeID:              cfg.Coordinator.NodeID,
		Address:             cfg.Coordinator.RaftListenAddr,
		PeerAddresses:       peers,
		BootstrapNewCluster: cfg.Coordinator.BootstrapNewCluster,
	}, nil)
	if err != nil {
		return fmt.Errorf("start coordinator raft log: %w", err)
	}
	log.Start()
	defer log.Stop()

	reader := coordinator.NewPersistentReader(log, st)
	if err := reader.Register(); err != nil {
		return fmt.Errorf("register coordinator log: %w", err)
	}
	return reader.Bootstrap(context.Background())
}
