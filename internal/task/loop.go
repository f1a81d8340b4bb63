// Package task drives a MessageSelector stack against a live Consumer:
// the concurrent actor the rest of this module's selectors assume exists
// but never implement themselves (internal/chooser's selectors are
// single-threaded and non-blocking by design). Structured as one
// goroutine owning the whole register/update/choose/process/ack cycle,
// following the teacher's runWorker/readLoop/handleAcks goroutine-per-
// concern pattern in internal/ingest/kafka and internal/ingest/rabbitmq.
package task

import (
	"context"
	"errors"
	"fmt"

	"chooser/internal/chooser"
	"chooser/internal/domain"
	"chooser/internal/logging"

	"log/slog"
)

// Consumer is the external input side of a task: a driver that can be
// registered against specific SSPs, polled for new envelopes, and acked
// once an envelope has been fully processed.
type Consumer interface {
	Register(ssp domain.SystemStreamPartition, startingOffset string) error
	Start(ctx context.Context) error
	Stop() error
	Poll(ctx context.Context) ([]domain.IncomingEnvelope, error)
	Ack(ssp domain.SystemStreamPartition, offset string) error
}

// Handler processes one chosen envelope. Returning an error stops the
// loop rather than silently dropping the envelope: callers that want
// best-effort processing should swallow their own errors before
// returning.
type Handler func(ctx context.Context, envelope domain.IncomingEnvelope) error

// Loop owns a selector stack and a consumer, and drives register, update,
// choose, process, and ack for as long as Run's context stays alive.
type Loop struct {
	consumer Consumer
	selector chooser.MessageSelector
	handler  Handler
	logger   *slog.Logger

	registered map[domain.SystemStreamPartition]struct{}
}

func New(consumer Consumer, selector chooser.MessageSelector, handler Handler, logger *slog.Logger) *Loop {
	return &Loop{
		consumer:   consumer,
		selector:   selector,
		handler:    handler,
		logger:     logging.Component(logging.OrNop(logger), "task"),
		registered: make(map[domain.SystemStreamPartition]struct{}),
	}
}

// Register declares ssp to both the consumer and the selector stack. Must
// be called for every SSP the task will see before Run starts.
func (l *Loop) Register(ssp domain.SystemStreamPartition, startingOffset string) error {
	if err := l.consumer.Register(ssp, startingOffset); err != nil {
		return fmt.Errorf("register %s with consumer: %w", ssp, err)
	}
	l.selector.Register(ssp, startingOffset)
	l.registered[ssp] = struct{}{}
	return nil
}

// Run starts the consumer and the selector stack, then alternates
// draining polled envelopes into the selector and draining chosen
// envelopes into the handler until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	l.selector.Start()
	defer l.selector.Stop()
	defer l.consumer.Stop()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		envelopes, err := l.consumer.Poll(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("poll: %w", err)
		}
		for _, e := range envelopes {
			l.update(e)
		}

		for {
			e, ok := l.selector.Choose()
			if !ok {
				break
			}
			if err := l.handler(ctx, e); err != nil {
				return fmt.Errorf("process %s offset %s: %w", e.SSP, e.Offset, err)
			}
			if err := l.consumer.Ack(e.SSP, e.Offset); err != nil {
				return fmt.Errorf("ack %s offset %s: %w", e.SSP, e.Offset, err)
			}
		}
	}
}

// update enforces the protocol rule that every SSP must be registered
// before it is updated: an envelope for an unregistered SSP is logged and
// dropped rather than handed to the selector, the "minimal conformance"
// path this module's error design permits for a protocol violation.
func (l *Loop) update(e domain.IncomingEnvelope) {
	if _, ok := l.registered[e.SSP]; !ok {
		l.logger.Warn("dropping envelope for unregistered ssp",
			slog.String("ssp", e.SSP.String()),
			slog.String("offset", e.Offset),
			slog.Any("error", chooser.ErrProtocol),
		)
		return
	}
	l.selector.Update(e)
}
