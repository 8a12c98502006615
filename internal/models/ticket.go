package models

import "time"

// Status states a ticket status may map to.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Ticket sources recorded on creation.
const (
	SourceAPI   = "API"
	SourceEmail = "Email"
	SourceWeb   = "Web"
	SourcePhone = "Phone"
	SourceOther = "Other"
)

// TicketStatus is the lifecycle status a ticket carries.
type TicketStatus struct {
	ID    int    `json:"status_id" db:"id"`
	Name  string `json:"status_name" db:"name"`
	State string `json:"status_state" db:"state"`
}

// TicketPriority is a configured priority level. Lower urgency sorts first.
type TicketPriority struct {
	ID          int    `json:"priority_id" db:"priority_id" mapstructure:"id"`
	Name        string `json:"priority_name" db:"priority" mapstructure:"name"`
	Description string `json:"priority_desc" db:"priority_desc" mapstructure:"description"`
	Urgency     int    `json:"priority_urgency" db:"priority_urgency" mapstructure:"urgency"`
}

// HelpTopic groups intake forms and a default priority.
type HelpTopic struct {
	ID         int    `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	PriorityID int    `json:"priority_id" db:"priority_id"`
	Active     bool   `json:"active" db:"active"`
}

// Ticket represents a support ticket. Number is assigned once and never changes.
type Ticket struct {
	ID             int64      `json:"ticket_id" db:"id"`
	Number         string     `json:"ticket_number" db:"number"`
	Subject        string     `json:"subject" db:"subject"`
	StatusID       int        `json:"status_id" db:"status_id"`
	PriorityID     int        `json:"priority_id" db:"priority_id"`
	TopicID        int        `json:"topic_id,omitempty" db:"topic_id"`
	UserID         int64      `json:"user_id" db:"user_id"`
	OrgID          int64      `json:"org_id,omitempty" db:"org_id"`
	Source         string     `json:"source" db:"source"`
	IP             string     `json:"ip,omitempty" db:"ip_address"`
	Alert          bool       `json:"alert" db:"alert"`
	AutoRespond    bool       `json:"autorespond" db:"autorespond"`
	ConversationID int64      `json:"thread_id" db:"thread_id"`
	Created        time.Time  `json:"created" db:"created"`
	Due            *time.Time `json:"due,omitempty" db:"duedate"`
}

// Ref returns the object reference a conversation owned by this ticket resolves to.
func (t *Ticket) Ref() ObjectRef {
	if t == nil {
		return ObjectRef{}
	}
	return ObjectRef{Type: ObjectTicket, ID: t.ID, Number: t.Number}
}

// OpenTicket is one row of the open ticket report.
type OpenTicket struct {
	TicketID     int64           `json:"ticket_id"`
	TicketNumber string          `json:"ticket_number"`
	Subject      string          `json:"subject"`
	Status       *TicketStatus   `json:"status"`
	Priority     *TicketPriority `json:"priority"`
	User         *UserSummary    `json:"user"`
	Org          *OrgSummary     `json:"org"`
	Created      time.Time       `json:"created"`
	Due          *time.Time      `json:"due"`
}

// UserSummary is the user block of the open ticket report.
type UserSummary struct {
	ID    int64  `json:"user_id"`
	Name  string `json:"user_name"`
	Email string `json:"user_email"`
}

// OrgSummary is the organization block of the open ticket report.
type OrgSummary struct {
	ID   int64  `json:"org_id"`
	Name string `json:"org_name"`
}
