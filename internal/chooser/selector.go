// Package chooser implements the message-selection core of a task's
// processing loop: it decides which envelope, out of many partitioned
// input streams, a task should process next.
//
// A MessageSelector is never called from more than one goroutine and
// never blocks. The task loop owns a stack of selectors and drives it by
// registering every input SSP once at startup, then interleaving Update
// (new envelope arrived) and Choose (give me the next one) for as long as
// the task runs.
package chooser

import "chooser/internal/domain"

// MessageSelector is the uniform contract implemented by every selector
// in the stack, from the RoundRobinSelector at the bottom to whatever
// layers the Composer wraps around it.
type MessageSelector interface {
	// Register declares that the caller is about to deliver envelopes for
	// ssp, starting just after lastReadOffset (domain.OffsetNone means the
	// stream has never been read). Must be called before any Update or
	// Choose call that refers to ssp.
	Register(ssp domain.SystemStreamPartition, lastReadOffset string)

	// Update deposits an envelope. Must not block. The caller guarantees
	// envelope.SSP was already registered.
	Update(envelope domain.IncomingEnvelope)

	// Choose returns the next envelope to process. ok is false when the
	// selector currently has no acceptable choice; this is a normal
	// flow-control signal, not an error. A returned envelope is removed
	// from the selector's internal state and will not be re-presented.
	Choose() (envelope domain.IncomingEnvelope, ok bool)

	// Start and Stop are lifecycle hooks, recursively invoked through the
	// stack. After Stop returns, no further Choose results are defined.
	Start()
	Stop()
}
