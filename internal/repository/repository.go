// Package repository persists tickets, users and conversations for the intake pipeline.
package repository

import (
	"context"
	"errors"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

var (
	ErrNotFound           = errors.New("repository: not found")
	ErrDuplicateMessageID = errors.New("repository: message id already recorded")
	ErrDuplicateNumber    = errors.New("repository: ticket number already assigned")
	ErrDuplicateEmail     = errors.New("repository: user email already registered")
	ErrConversationClosed = errors.New("repository: conversation is closed")
	ErrUnavailable        = errors.New("repository: store unavailable")
	ErrValueTooLong       = errors.New("repository: value too long for column")
)

// ConversationRepository looks up and extends conversations by header identity.
type ConversationRepository interface {
	// FindEntryByMessageID returns the entry recorded with the message id.
	FindEntryByMessageID(ctx context.Context, messageID string) (*models.ConversationEntry, error)
	// FindConversationByReference returns the conversation a non-entry identity was recorded on.
	FindConversationByReference(ctx context.Context, messageID string) (*models.Conversation, error)
	// GetConversation returns the conversation with its owning object resolved.
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	ListEntries(ctx context.Context, conversationID int64) ([]*models.ConversationEntry, error)
	// AppendEntry posts an entry. A non-empty message id must be unique across all entries.
	AppendEntry(ctx context.Context, entry *models.ConversationEntry) error
	AddReference(ctx context.Context, ref *models.ConversationReference) error
	SetConversationClosed(ctx context.Context, id int64, closed bool) error
}

// TicketRepository creates and reads tickets.
type TicketRepository interface {
	// CreateTicket atomically stores the ticket, its conversation and the first entry.
	CreateTicket(ctx context.Context, ticket *models.Ticket, first *models.ConversationEntry) error
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error)
	// ListOpenTickets returns open tickets ordered by priority urgency, then creation time.
	ListOpenTickets(ctx context.Context) ([]*models.OpenTicket, error)
}

// UserRepository resolves end users by email.
type UserRepository interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

// Lookups are the reference rows the report joins against.
type Lookups struct {
	Statuses      []models.TicketStatus
	Priorities    []models.TicketPriority
	Organizations []models.Organization
}

// Store is the full persistence contract of the intake service.
type Store interface {
	ConversationRepository
	TicketRepository
	UserRepository
	Seed(ctx context.Context, lookups Lookups) error
	Ping(ctx context.Context) error
	Close() error
}

// Default ticket statuses.
const (
	StatusOpen     = 1
	StatusResolved = 2
	StatusClosed   = 3
)

// DefaultStatuses are seeded when no statuses are provided.
func DefaultStatuses() []models.TicketStatus {
	return []models.TicketStatus{
		{ID: StatusOpen, Name: "Open", State: models.StateOpen},
		{ID: StatusResolved, Name: "Resolved", State: models.StateClosed},
		{ID: StatusClosed, Name: "Closed", State: models.StateClosed},
	}
}
