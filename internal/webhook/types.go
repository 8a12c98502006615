package webhook

import (
	"time"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// Event represents the type of event that triggers a webhook
type Event string

const (
	EventTicketCreated Event = "ticket.created"
)

// Payload is the JSON document posted to an endpoint.
type Payload struct {
	Event     Event          `json:"event"`
	Delivery  string         `json:"delivery"`
	Timestamp time.Time      `json:"timestamp"`
	Ticket    *models.Ticket `json:"ticket"`
	Format    string         `json:"format,omitempty"`
	MessageID string         `json:"mid,omitempty"`
}

// DeliveryError reports an endpoint that did not accept a delivery.
type DeliveryError struct {
	Endpoint string
	Attempts int
	Status   int
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return "webhook " + e.Endpoint + ": " + e.Err.Error()
	}
	return "webhook " + e.Endpoint + ": " + httpStatus(e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
