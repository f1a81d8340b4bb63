package chooser

import (
	"fmt"
	"math"

	"chooser/internal/domain"
)

// Admin is the subset of the messaging system's administrative metadata
// interface the composer needs: resolving bootstrap streams to their
// current head offset per partition. Out of scope for this module's
// Non-goals otherwise (§1): drivers implementing this interface live in
// internal/ingest/*.
type Admin interface {
	GetSystemStreamMetadata(streams []domain.SystemStream) (map[domain.SystemStream]domain.StreamMetadata, error)
}

// MetricsHandle is the abstract metrics collaborator selector factories
// may report through. Real metrics export is out of scope for this
// module; production wiring passes a logging stub, tests pass a
// recording fake.
type MetricsHandle interface {
	IncrCounter(name string, tags ...string)
	Gauge(name string, v float64, tags ...string)
}

// SelectorFactory produces a fresh tie-breaker selector instance given a
// metrics handle. Registered by name through a simple string->factory
// lookup built at process init, per the "single interface, not a plugin
// system" design note — not a dynamic plugin loader.
type SelectorFactory func(metrics MetricsHandle) MessageSelector

var factoryRegistry = map[string]SelectorFactory{}

func init() {
	RegisterSelectorFactory("round-robin", func(MetricsHandle) MessageSelector {
		return NewRoundRobinSelector()
	})
}

// RegisterSelectorFactory makes a named factory available to configuration
// that names a default-selector-factory by string.
func RegisterSelectorFactory(name string, factory SelectorFactory) {
	factoryRegistry[name] = factory
}

// LookupSelectorFactory resolves a factory registered by name.
func LookupSelectorFactory(name string) (SelectorFactory, bool) {
	f, ok := factoryRegistry[name]
	return f, ok
}

// maxTier is the implicit tier assigned to bootstrap streams unless a
// priority is set explicitly for them.
const maxTier = math.MaxInt32

// Options holds the recognized composer configuration (§4.6, §6's
// task.chooser.* grammar, translated to a typed structure per the §9
// design note).
type Options struct {
	// BatchSize enables the batching layer when positive.
	BatchSize int
	// InputStreams lists every stream the task reads from; each starts at
	// tier 0 unless overridden below.
	InputStreams []domain.SystemStream
	// Priorities overrides a stream's tier explicitly; wins over the
	// bootstrap default and the tier-0 default alike.
	Priorities map[domain.SystemStream]int
	// Bootstrap declares a stream as a bootstrap stream; its tier
	// defaults to the maximum unless also present in Priorities.
	Bootstrap map[domain.SystemStream]bool
	// DefaultSelectorFactory builds the tie-breaker selector; defaults to
	// round-robin when nil.
	DefaultSelectorFactory SelectorFactory
}

// Compose reads Options and assembles the selector stack:
// Bootstrap( Batching( Priority( RoundRobin ) ) ), with layers omitted
// when their inputs are empty.
func Compose(opts Options, admin Admin, metrics MetricsHandle) (MessageSelector, error) {
	factory := opts.DefaultSelectorFactory
	if factory == nil {
		factory = factoryRegistry["round-robin"]
	}

	priorities := make(map[domain.SystemStream]int, len(opts.InputStreams))
	for _, s := range opts.InputStreams {
		priorities[s] = 0
	}
	for s, isBootstrap := range opts.Bootstrap {
		if isBootstrap {
			priorities[s] = maxTier
		}
	}
	for s, tier := range opts.Priorities {
		priorities[s] = tier
	}

	hasBootstrap := false
	for _, isBootstrap := range opts.Bootstrap {
		if isBootstrap {
			hasBootstrap = true
			break
		}
	}

	var stack MessageSelector
	if len(priorities) > 0 || hasBootstrap {
		tierSet := make(map[int]struct{})
		for _, tier := range priorities {
			tierSet[tier] = struct{}{}
		}
		tiers := make(map[int]MessageSelector, len(tierSet))
		for tier := range tierSet {
			tiers[tier] = factory(metrics)
		}
		stack = NewTieredPrioritySelector(priorities, tiers, factory(metrics))
	} else {
		stack = factory(metrics)
	}

	if stack == nil {
		return nil, fmt.Errorf("chooser: no default selector available: %w", ErrConfiguration)
	}

	if opts.BatchSize > 0 {
		stack = NewBatchingSelector(stack, opts.BatchSize)
	}

	if hasBootstrap {
		bootstrapTargets, err := resolveBootstrapTargets(opts.Bootstrap, admin)
		if err != nil {
			return nil, err
		}
		if len(bootstrapTargets) > 0 {
			stack = NewBootstrappingSelector(stack, bootstrapTargets)
		}
	}

	return stack, nil
}

func resolveBootstrapTargets(bootstrap map[domain.SystemStream]bool, admin Admin) (map[domain.SystemStreamPartition]string, error) {
	streams := make([]domain.SystemStream, 0, len(bootstrap))
	for s, isBootstrap := range bootstrap {
		if isBootstrap {
			streams = append(streams, s)
		}
	}
	if len(streams) == 0 {
		return nil, nil
	}
	if admin == nil {
		return nil, fmt.Errorf("chooser: bootstrap streams configured but no admin interface provided: %w", ErrConfiguration)
	}

	metadata, err := admin.GetSystemStreamMetadata(streams)
	if err != nil {
		return nil, fmt.Errorf("chooser: resolve bootstrap stream metadata: %w", err)
	}

	targets := make(map[domain.SystemStreamPartition]string)
	for _, s := range streams {
		md, ok := metadata[s]
		if !ok {
			return nil, fmt.Errorf("chooser: no admin metadata for bootstrap stream %s: %w", s, ErrConfiguration)
		}
		for partition, partitionMeta := range md.SystemStreamPartitionMetadata {
			ssp := domain.SystemStreamPartition{System: s.System, Stream: s.Stream, Partition: partition}
			targets[ssp] = partitionMeta.NewestOffset
		}
	}
	return targets, nil
}
