package chooser

import (
	"strconv"

	"chooser/internal/domain"
)

// BootstrappingSelector gates its inner selector until every bootstrap
// SSP has been given at least one chance to contribute an envelope since
// the gate last opened, and tracks which bootstrap SSPs are still lagging
// behind their captured target offset.
//
// Catch-up uses a monotonic offset comparison (offset >= target) rather
// than strict equality: the target offset is captured as "current head"
// at composition time, and a producer that keeps writing to a bootstrap
// stream while replay is still in flight would otherwise never produce
// an envelope whose offset is exactly equal to the captured target. See
// DESIGN.md for the open-question resolution this implements.
type BootstrappingSelector struct {
	inner            MessageSelector
	bootstrapTargets map[domain.SystemStreamPartition]string

	lagging                 map[domain.SystemStreamPartition]struct{}
	updatedSinceLastChoose  map[domain.SystemStreamPartition]struct{}
}

func NewBootstrappingSelector(inner MessageSelector, bootstrapTargets map[domain.SystemStreamPartition]string) *BootstrappingSelector {
	lagging := make(map[domain.SystemStreamPartition]struct{}, len(bootstrapTargets))
	for ssp := range bootstrapTargets {
		lagging[ssp] = struct{}{}
	}
	return &BootstrappingSelector{
		inner:                  inner,
		bootstrapTargets:       bootstrapTargets,
		lagging:                lagging,
		updatedSinceLastChoose: make(map[domain.SystemStreamPartition]struct{}),
	}
}

func (s *BootstrappingSelector) Register(ssp domain.SystemStreamPartition, lastReadOffset string) {
	s.inner.Register(ssp, lastReadOffset)
	target, isBootstrap := s.bootstrapTargets[ssp]
	if !isBootstrap {
		return
	}
	if offsetAtLeast(lastReadOffset, target) {
		delete(s.lagging, ssp)
	}
}

func (s *BootstrappingSelector) Update(envelope domain.IncomingEnvelope) {
	s.inner.Update(envelope)
	s.updatedSinceLastChoose[envelope.SSP] = struct{}{}
}

func (s *BootstrappingSelector) Choose() (domain.IncomingEnvelope, bool) {
	if len(s.lagging) > 0 {
		for ssp := range s.lagging {
			if _, ok := s.updatedSinceLastChoose[ssp]; !ok {
				return domain.IncomingEnvelope{}, false
			}
		}
	}

	e, ok := s.inner.Choose()
	if !ok {
		return domain.IncomingEnvelope{}, false
	}
	delete(s.updatedSinceLastChoose, e.SSP)

	if target, isBootstrap := s.bootstrapTargets[e.SSP]; isBootstrap {
		if offsetAtLeast(e.Offset, target) {
			delete(s.lagging, e.SSP)
		}
	}
	return e, true
}

func (s *BootstrappingSelector) Start() { s.inner.Start() }

func (s *BootstrappingSelector) Stop() {
	s.inner.Stop()
	s.updatedSinceLastChoose = make(map[domain.SystemStreamPartition]struct{})
}

// offsetAtLeast reports whether offset has reached target. An empty
// target means the bootstrap stream was already empty when its target
// was captured, so it is trivially caught up. Offsets are compared
// numerically when both parse as base-10 integers (true for every driver
// this module wires), falling back to byte-for-byte equality otherwise.
func offsetAtLeast(offset, target string) bool {
	if target == domain.OffsetNone {
		return true
	}
	if offset == domain.OffsetNone {
		return false
	}
	o, oErr := strconv.ParseInt(offset, 10, 64)
	t, tErr := strconv.ParseInt(target, 10, 64)
	if oErr == nil && tErr == nil {
		return o >= t
	}
	return offset == target
}
