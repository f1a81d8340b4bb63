package chooser

import "chooser/internal/domain"

// BatchingSelector adds affinity to the last-chosen SSP: once it hands
// out an envelope for some SSP, it keeps handing out envelopes for that
// same SSP (up to batchSize) before consulting the inner selector again.
//
// The batcher owns a per-SSP buffer holding every envelope it has seen
// for that SSP but not yet returned. The inner selector only ever sees a
// single "doorbell" envelope per SSP at a time — the first one buffered
// since the SSP's buffer was last empty — which it uses purely to decide
// which SSP to favor next; the envelope actually returned to the caller
// always comes from the batcher's own buffer, so the inner selector never
// needs to track more than one outstanding entry per SSP and can never
// be asked to re-deliver something the batcher already served. While a
// batch is open on an SSP, further arrivals for that same SSP are
// buffered without ringing the doorbell again (the batcher is the sole
// owner of the pick for as long as the batch lasts); the doorbell is
// re-armed once the batch ends, if the buffer still has envelopes left.
type BatchingSelector struct {
	inner     MessageSelector
	batchSize int

	buffers           map[domain.SystemStreamPartition][]domain.IncomingEnvelope
	currentBatchSSP   *domain.SystemStreamPartition
	currentBatchCount int
}

func NewBatchingSelector(inner MessageSelector, batchSize int) *BatchingSelector {
	return &BatchingSelector{
		inner:     inner,
		batchSize: batchSize,
		buffers:   make(map[domain.SystemStreamPartition][]domain.IncomingEnvelope),
	}
}

func (s *BatchingSelector) Register(ssp domain.SystemStreamPartition, lastReadOffset string) {
	s.inner.Register(ssp, lastReadOffset)
}

func (s *BatchingSelector) Update(envelope domain.IncomingEnvelope) {
	ssp := envelope.SSP
	wasEmpty := len(s.buffers[ssp]) == 0
	s.buffers[ssp] = append(s.buffers[ssp], envelope)

	if s.currentBatchSSP != nil && ssp == *s.currentBatchSSP {
		return
	}
	if wasEmpty {
		s.inner.Update(envelope)
	}
}

func (s *BatchingSelector) Choose() (domain.IncomingEnvelope, bool) {
	if s.currentBatchSSP != nil {
		ssp := *s.currentBatchSSP
		buf := s.buffers[ssp]
		if s.currentBatchCount < s.batchSize && len(buf) > 0 {
			e := buf[0]
			s.buffers[ssp] = buf[1:]
			s.currentBatchCount++
			return e, true
		}
		s.endBatch(ssp)
	}

	e, ok := s.inner.Choose()
	if !ok {
		return domain.IncomingEnvelope{}, false
	}
	ssp := e.SSP
	buf := s.buffers[ssp]
	if len(buf) > 0 {
		e = buf[0]
		s.buffers[ssp] = buf[1:]
	}
	s.currentBatchSSP = &ssp
	s.currentBatchCount = 1
	return e, true
}

// endBatch clears the batch state and, if the outgoing SSP still has
// buffered envelopes (the batch ended because it hit batchSize, not
// because the buffer ran dry), re-arms its doorbell so the inner
// selector considers it again.
func (s *BatchingSelector) endBatch(ssp domain.SystemStreamPartition) {
	s.currentBatchSSP = nil
	s.currentBatchCount = 0
	if buf := s.buffers[ssp]; len(buf) > 0 {
		s.inner.Update(buf[0])
	}
}

func (s *BatchingSelector) Start() { s.inner.Start() }

func (s *BatchingSelector) Stop() {
	s.inner.Stop()
	s.buffers = make(map[domain.SystemStreamPartition][]domain.IncomingEnvelope)
	s.currentBatchSSP = nil
	s.currentBatchCount = 0
}
