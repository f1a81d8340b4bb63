package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Task        TaskConfig        `mapstructure:"task"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Feature     FeatureConfig     `mapstructure:"feature"`
}

type ServerConfig struct {
	NodeID string `mapstructure:"node_id"`
}

// TaskConfig holds the task.chooser.* grammar: how a task's selector
// stack is assembled.
type TaskConfig struct {
	Chooser ChooserConfig `mapstructure:"chooser"`
}

type ChooserConfig struct {
	// BatchSize enables the batching layer when positive; 0 disables it.
	BatchSize int `mapstructure:"batch_size"`
	// Streams lists every "system.stream" name the task reads from.
	// Entries not named in Priorities or Bootstrap default to tier 0.
	Streams []string `mapstructure:"streams"`
	// Priorities maps a "system.stream" name to its tier; absent streams
	// default to tier 0.
	Priorities map[string]int `mapstructure:"priorities"`
	// Bootstrap lists "system.stream" names that gate the stack until
	// caught up.
	Bootstrap []string `mapstructure:"bootstrap"`
	// DefaultSelector names the registered SelectorFactory used for
	// tie-breaking; "round-robin" when empty.
	DefaultSelector string `mapstructure:"default_selector"`
}

type IngestConfig struct {
	Socket   AdapterConfig         `mapstructure:"socket"`
	Kafka    KafkaConfig           `mapstructure:"kafka"`
	RabbitMQ RabbitMQAdapterConfig `mapstructure:"rabbitmq"`
}

type AdapterConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	Topics     []string `mapstructure:"topics"`
	GroupID    string   `mapstructure:"group_id"`
	CommitMode string   `mapstructure:"commit_mode"`
}

type RabbitMQAdapterConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	URL           string   `mapstructure:"url"`
	Exchange      string   `mapstructure:"exchange"`
	Queue         string   `mapstructure:"queue"`
	RoutingKeys   []string `mapstructure:"routing_keys"`
	PrefetchCount int      `mapstructure:"prefetch_count"`
}

// CoordinatorConfig configures the coordinator log reader's backing raft
// group and local store.
type CoordinatorConfig struct {
	Stream              string            `mapstructure:"stream"`
	NodeID              uint64            `mapstructure:"node_id"`
	RaftListenAddr      string            `mapstructure:"raft_listen_addr"`
	RaftPeers           map[string]string `mapstructure:"raft_peers"`
	BootstrapNewCluster bool              `mapstructure:"bootstrap_new_cluster"`
	StorePath           string            `mapstructure:"store_path"`
}

type FeatureConfig struct {
	AllowMultipleAdapters bool `mapstructure:"allow_multiple_adapters"`
}

func Load(path string) (Config, error) {
	// "::" as the key path delimiter keeps "system.stream" map keys (e.g.
	// under task.chooser.priorities) intact instead of re-nesting them.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetEnvPrefix("chooser")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_", ".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feature::allow_multiple_adapters", true)
	v.SetDefault("task::chooser::default_selector", "round-robin")
	v.SetDefault("ingest::kafka::commit_mode", "after_quorum_commit")
	v.SetDefault("ingest::rabbitmq::prefetch_count", 10)
	v.SetDefault("coordinator::store_path", "coordinator.db")
}

var validCommitModes = map[string]bool{
	"after_quorum_commit": true,
	"at_least_once":       true,
}

func (c Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if !c.Feature.AllowMultipleAdapters {
		enabled := 0
		if c.Ingest.Socket.Enabled {
			enabled++
		}
		if c.Ingest.Kafka.Enabled {
			enabled++
		}
		if c.Ingest.RabbitMQ.Enabled {
			enabled++
		}
		if enabled > 1 {
			return fmt.Errorf("multiple adapters enabled while feature.allow_multiple_adapters=false")
		}
	}
	if c.Ingest.Kafka.Enabled && !validCommitModes[c.Ingest.Kafka.CommitMode] {
		return fmt.Errorf("ingest.kafka.commit_mode %q is not one of after_quorum_commit, at_least_once", c.Ingest.Kafka.CommitMode)
	}
	if c.Ingest.RabbitMQ.Enabled && c.Ingest.RabbitMQ.PrefetchCount < 1 {
		return fmt.Errorf("ingest.rabbitmq.prefetch_count must be >= 1")
	}
	if c.Task.Chooser.BatchSize < 0 {
		return fmt.Errorf("task.chooser.batch_size must not be negative")
	}
	return nil
}
