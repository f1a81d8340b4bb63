package chooser

import (
	"sort"

	"chooser/internal/domain"
)

// TieredPrioritySelector routes envelopes into priority tiers, each with
// its own inner tie-breaker selector, and enforces strict priority: while
// any envelope sits queued at tier T, Choose never returns an envelope
// from a lower tier.
type TieredPrioritySelector struct {
	priorities map[domain.SystemStream]int
	tiers      map[int]MessageSelector
	descending []int

	defaultSelector MessageSelector
}

// NewTieredPrioritySelector builds a selector from a stream->tier map and
// a tier->selector map. Streams absent from priorities, or whose tier has
// no configured selector, fall through to defaultSelector, which is
// always consulted last (after every known tier has had a chance to
// return an envelope).
func NewTieredPrioritySelector(priorities map[domain.SystemStream]int, tiers map[int]MessageSelector, defaultSelector MessageSelector) *TieredPrioritySelector {
	descending := make([]int, 0, len(tiers))
	for tier := range tiers {
		descending = append(descending, tier)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(descending)))

	cp := make(map[domain.SystemStream]int, len(priorities))
	for k, v := range priorities {
		cp[k] = v
	}

	return &TieredPrioritySelector{
		priorities:      cp,
		tiers:           tiers,
		descending:      descending,
		defaultSelector: defaultSelector,
	}
}

func (s *TieredPrioritySelector) selectorFor(stream domain.SystemStream) MessageSelector {
	tier, ok := s.priorities[stream]
	if !ok {
		return s.defaultSelector
	}
	sel, ok := s.tiers[tier]
	if !ok {
		return s.defaultSelector
	}
	return sel
}

func (s *TieredPrioritySelector) Register(ssp domain.SystemStreamPartition, lastReadOffset string) {
	s.selectorFor(ssp.SystemStream()).Register(ssp, lastReadOffset)
}

func (s *TieredPrioritySelector) Update(envelope domain.IncomingEnvelope) {
	s.selectorFor(envelope.SSP.SystemStream()).Update(envelope)
}

func (s *TieredPrioritySelector) Choose() (domain.IncomingEnvelope, bool) {
	for _, tier := range s.descending {
		if e, ok := s.tiers[tier].Choose(); ok {
			return e, true
		}
	}
	return s.defaultSelector.Choose()
}

func (s *TieredPrioritySelector) Start() {
	for _, tier := range s.descending {
		s.tiers[tier].Start()
	}
	s.defaultSelector.Start()
}

func (s *TieredPrioritySelector) Stop() {
	for _, tier := range s.descending {
		s.tiers[tier].Stop()
	}
	s.defaultSelector.Stop()
}
