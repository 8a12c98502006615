package models

import (
	"fmt"
	"time"
)

// Object types a conversation can belong to.
const (
	ObjectTicket = "ticket"
	ObjectTask   = "task"
)

// Entry types.
const (
	EntryMessage  = "message"
	EntryResponse = "response"
	EntryNote     = "note"
)

// ObjectRef identifies the business object owning a conversation.
type ObjectRef struct {
	Type   string `json:"object_type"`
	ID     int64  `json:"object_id"`
	Number string `json:"number,omitempty"`
}

// IsZero reports whether the reference points nowhere.
func (r ObjectRef) IsZero() bool {
	return r.Type == "" && r.ID == 0
}

func (r ObjectRef) String() string {
	if r.Number != "" {
		return fmt.Sprintf("%s#%s", r.Type, r.Number)
	}
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Conversation is the append-only thread owned by exactly one object.
type Conversation struct {
	ID         int64     `json:"id" db:"id"`
	ObjectType string    `json:"object_type" db:"object_type"`
	ObjectID   int64     `json:"object_id" db:"object_id"`
	Closed     bool      `json:"closed" db:"closed"`
	Created    time.Time `json:"created" db:"created"`

	Object  ObjectRef            `json:"object" db:"-"`
	Entries []*ConversationEntry `json:"entries,omitempty" db:"-"`
}

// ConversationReference is a header identity recorded on a conversation without an entry,
// e.g. the message id of an outbound notice.
type ConversationReference struct {
	ConversationID int64     `json:"thread_id" db:"thread_id"`
	MessageID      string    `json:"mid" db:"mid"`
	Kind           string    `json:"kind" db:"kind"`
	Created        time.Time `json:"created" db:"created"`
}

// ConversationEntry is one posted message within a conversation.
type ConversationEntry struct {
	ID             int64       `json:"id" db:"id"`
	ConversationID int64       `json:"thread_id" db:"thread_id"`
	Type           string      `json:"type" db:"type"`
	MessageID      string      `json:"mid,omitempty" db:"mid"`
	InReplyTo      string      `json:"in_reply_to,omitempty" db:"in_reply_to"`
	References     []string    `json:"references,omitempty" db:"-"`
	Poster         string      `json:"poster" db:"poster"`
	UserID         int64       `json:"user_id,omitempty" db:"user_id"`
	Subject        string      `json:"subject,omitempty" db:"title"`
	Body           string      `json:"body" db:"body"`
	Format         string      `json:"format" db:"format"`
	Source         string      `json:"source" db:"source"`
	IP             string      `json:"ip,omitempty" db:"ip_address"`
	Flags          MailFlags   `json:"flags" db:"-"`
	Recipients     []Recipient `json:"recipients,omitempty" db:"-"`
	AttachmentIDs  []string    `json:"attachment_ids,omitempty" db:"-"`
	Created        time.Time   `json:"created" db:"created"`
}
