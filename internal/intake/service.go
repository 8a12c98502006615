// Package intake turns submitted payloads into validated requests and new tickets.
package intake

import (
	"context"

	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/models"
	"github.com/gotrs-io/gotrs-intake/internal/repository"
)

// Service joins the normalizer and the creator for the channels.
type Service struct {
	normalizer *Normalizer
	creator    *Creator
	tickets    repository.TicketRepository
	logger     *zap.Logger
}

func NewService(n *Normalizer, c *Creator, tickets repository.TicketRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{normalizer: n, creator: c, tickets: tickets, logger: logger}
}

// Normalize validates the payload structure for format.
func (s *Service) Normalize(ctx context.Context, format string, payload map[string]any) (*Request, error) {
	return s.normalizer.Normalize(ctx, format, payload)
}

// Create opens a ticket for an already normalized request.
func (s *Service) Create(ctx context.Context, req *Request) (*models.Ticket, error) {
	return s.creator.Create(ctx, req)
}

// CreateFromAPI handles a structured API submission end to end.
func (s *Service) CreateFromAPI(ctx context.Context, payload map[string]any) (*models.Ticket, error) {
	req, err := s.normalizer.Normalize(ctx, FormatJSON, payload)
	if err != nil {
		return nil, err
	}
	t, err := s.creator.Create(ctx, req)
	if err != nil {
		s.logger.Info("api ticket rejected", zap.String("kind", KindOf(err).String()), zap.Error(err))
		return nil, err
	}
	return t, nil
}

// ListOpenTickets returns the open ticket report.
func (s *Service) ListOpenTickets(ctx context.Context) ([]*models.OpenTicket, error) {
	list, err := s.tickets.ListOpenTickets(ctx)
	if err != nil {
		return nil, storeError("list open tickets", err)
	}
	return list, nil
}
