package chooser

import "chooser/internal/domain"

func ssp(system, stream string, partition int) domain.SystemStreamPartition {
	return domain.SystemStreamPartition{System: system, Stream: stream, Partition: partition}
}

func env(s domain.SystemStreamPartition, offset string) domain.IncomingEnvelope {
	return domain.IncomingEnvelope{SSP: s, Offset: offset}
}
