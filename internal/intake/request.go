package intake

import (
	"sort"
	"strings"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// Request formats.
const (
	FormatJSON  = "json"
	FormatEmail = "email"
)

// Request is a normalized intake request. It is built by the Normalizer and is not
// modified afterwards except for the attachment outcomes.
type Request struct {
	Format      string
	Source      string
	Alert       bool
	AutoRespond bool
	TopicID     int
	PriorityID  int
	Message     string
	BodyType    string
	IP          string

	// Fields holds the form field values keyed by field name.
	Fields      map[string]any
	Attachments []*models.Attachment

	SystemEmails          map[string]any
	ThreadEntryRecipients map[string]models.EntryRecipients

	// email only
	Header      string
	MessageID   string
	InReplyTo   string
	References  []string
	ReplyTo     string
	ReplyToName string
	ThreadType  string
	EmailID     int
	ToEmailID   int
	TicketID    int64
	Flags       models.MailFlags
	Recipients  []models.Recipient
}

// Field returns a form field value as a trimmed string.
func (r *Request) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	s, _ := stringOf(v)
	return strings.TrimSpace(s)
}

func (r *Request) Email() string   { return strings.ToLower(r.Field("email")) }
func (r *Request) Name() string    { return r.Field("name") }
func (r *Request) Subject() string { return r.Field("subject") }

// HeaderIDs lists the header identities in correlation order: own message id, In-Reply-To,
// then References newest first, without duplicates.
func (r *Request) HeaderIDs() []string {
	e := &models.InboundEmail{MessageID: r.MessageID, InReplyTo: r.InReplyTo, References: r.References}
	return e.HeaderIDs()
}

// StoredAttachmentIDs returns the storage identifiers of the successfully ingested files.
func (r *Request) StoredAttachmentIDs() []string {
	var ids []string
	for _, a := range r.Attachments {
		if a.Stored() {
			ids = append(ids, a.FileID)
		}
	}
	return ids
}

// SuppressAutoResponse reports whether mail flags forbid an auto response.
func (r *Request) SuppressAutoResponse() bool {
	return r.Flags.Bounce || r.Flags.AutoReply
}

// Entry builds the conversation entry a request posts.
func (r *Request) Entry(userID int64) *models.ConversationEntry {
	entryType := models.EntryMessage
	switch strings.ToLower(r.ThreadType) {
	case "n", "note":
		entryType = models.EntryNote
	case "r", "response":
		entryType = models.EntryResponse
	}
	format := "text"
	if strings.Contains(strings.ToLower(r.BodyType), "html") {
		format = "html"
	}
	poster := r.Name()
	if poster == "" {
		poster = r.Email()
	}
	recipients := append([]models.Recipient(nil), r.Recipients...)
	keys := make([]string, 0, len(r.ThreadEntryRecipients))
	for k := range r.ThreadEntryRecipients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tr := r.ThreadEntryRecipients[k]
		for _, addr := range tr.To {
			recipients = append(recipients, models.Recipient{Email: addr, Source: "to"})
		}
		for _, addr := range tr.Cc {
			recipients = append(recipients, models.Recipient{Email: addr, Source: "cc"})
		}
	}
	return &models.ConversationEntry{
		Type:          entryType,
		MessageID:     r.MessageID,
		InReplyTo:     r.InReplyTo,
		References:    append([]string(nil), r.References...),
		Poster:        poster,
		UserID:        userID,
		Subject:       r.Subject(),
		Body:          r.Message,
		Format:        format,
		Source:        r.Source,
		IP:            r.IP,
		Flags:         r.Flags,
		Recipients:    recipients,
		AttachmentIDs: r.StoredAttachmentIDs(),
	}
}
