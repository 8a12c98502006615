// Package postmaster parses inbound email and routes it into existing conversations or new
// tickets.
package postmaster

import (
	"context"

	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// Processor orchestrates parsing, correlation and ticket creation for one message.
type Processor interface {
	Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error)
}

// Result tracks what happened to a message.
type Result struct {
	Object  models.ObjectRef
	Ticket  *models.Ticket // set for new tickets
	EntryID int64
	Action  string // new_ticket, follow_up, duplicate, ignored
}

// Service wires connectors, filters, and the processor together.
type Service struct {
	FilterChain filters.Chain
	Handler     Processor
	Logger      *zap.Logger
}

// Deliver runs the filter chain then the processor.
func (s Service) Deliver(ctx context.Context, msg *connector.FetchedMessage) (Result, error) {
	ctxMsg := &filters.MessageContext{
		Account:     msg.AccountSnapshot(),
		Message:     msg,
		Annotations: map[string]any{},
	}
	if err := s.FilterChain.Run(ctx, ctxMsg); err != nil {
		return Result{}, err
	}
	return s.Handler.Process(ctx, msg, ctxMsg)
}

// Handle implements connector.Handler. Failures worth retrying are returned so the message
// stays in the mailbox; permanent ones are logged and the message is consumed.
func (s Service) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	res, err := s.Deliver(ctx, msg)
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err == nil {
		logger.Info("message processed",
			zap.String("connector", msg.Connector),
			zap.String("uid", msg.UID),
			zap.String("action", res.Action),
			zap.Stringer("object", res.Object))
		return nil
	}
	switch intake.KindOf(err) {
	case intake.KindUnavailable, intake.KindUnknown:
		return err
	}
	logger.Warn("message rejected",
		zap.String("connector", msg.Connector),
		zap.String("uid", msg.UID),
		zap.String("kind", intake.KindOf(err).String()),
		zap.Error(err))
	return nil
}
