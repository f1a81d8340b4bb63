package domain

import "fmt"

// OffsetNone is the sentinel passed to Register when a stream has never
// been read before (an empty stream, from the consumer's point of view).
const OffsetNone = ""

// SystemStreamPartition identifies one ordered log of envelopes: a
// messaging system, a stream within that system, and a partition index
// within the stream. Value-equal and hashable, so it is safe to use as a
// map key.
type SystemStreamPartition struct {
	System    string
	Stream    string
	Partition int
}

func (ssp SystemStreamPartition) String() string {
	return fmt.Sprintf("%s.%s.%d", ssp.System, ssp.Stream, ssp.Partition)
}

// SystemStream identifies a stream without a partition, used for
// priority/bootstrap lookups that are keyed by stream rather than by SSP.
type SystemStream struct {
	System string
	Stream string
}

func (s SystemStream) String() string {
	return fmt.Sprintf("%s.%s", s.System, s.Stream)
}

func (ssp SystemStreamPartition) SystemStream() SystemStream {
	return SystemStream{System: ssp.System, Stream: ssp.Stream}
}

// IncomingEnvelope carries one message handed from a consumer to the
// selector core: the SSP it arrived on, an opaque key and message, and an
// offset that is compared against a bootstrap target (numerically when
// both parse as integers, for equality otherwise) but is otherwise only
// meaningful as an arrival-order marker within its SSP.
type IncomingEnvelope struct {
	SSP     SystemStreamPartition
	Key     []byte
	Message []byte
	Offset  string
}

// SystemStreamPartitionMetadata describes what an admin interface knows
// about one partition: its oldest and newest readable offsets, and the
// offset that will be assigned to the next message written to it.
type SystemStreamPartitionMetadata struct {
	OldestOffset  string
	NewestOffset  string
	UpcomingOffset string
}

// StreamMetadata is the per-stream result of an admin metadata query.
type StreamMetadata struct {
	Stream              string
	SystemStreamPartitionMetadata map[int]SystemStreamPartitionMetadata
}
