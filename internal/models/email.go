package models

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// MailFlags are the delivery classifications attached to an inbound email.
// They are carried as metadata and never take part in correlation.
type MailFlags struct {
	Bounce    bool `json:"bounce"`
	AutoReply bool `json:"auto-reply"`
	Spam      bool `json:"spam"`
	Viral     bool `json:"viral"`
}

// Any reports whether at least one flag is set.
func (f MailFlags) Any() bool {
	return f.Bounce || f.AutoReply || f.Spam || f.Viral
}

// Recipient is an addressee of an inbound email.
type Recipient struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Source string `json:"source"` // to, cc, delivered-to
}

// Address is a parsed mailbox.
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// InboundEmail is an email after transport parsing. It is not mutated once built.
type InboundEmail struct {
	MessageID   string        `json:"mid"`
	InReplyTo   string        `json:"in-reply-to,omitempty"`
	References  []string      `json:"references,omitempty"`
	From        Address       `json:"from"`
	ReplyTo     *Address      `json:"reply-to,omitempty"`
	Recipients  []Recipient   `json:"recipients,omitempty"`
	Subject     string        `json:"subject"`
	Body        string        `json:"message"`
	BodyType    string        `json:"body_type"`
	Header      string        `json:"header"`
	Flags       MailFlags     `json:"mailflags"`
	ThreadType  string        `json:"thread-type,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time     `json:"received_at"`
}

// HeaderIDs returns the identities an inbound email may correlate through, own message id
// first, then In-Reply-To, then References newest-first. Duplicates are dropped.
func (e *InboundEmail) HeaderIDs() []string {
	if e == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(e.MessageID)
	add(e.InReplyTo)
	for i := len(e.References) - 1; i >= 0; i-- {
		add(e.References[i])
	}
	return ids
}

// Payload renders the email into the generic request shape used by the normalizer.
func (e *InboundEmail) Payload() map[string]any {
	if e == nil {
		return map[string]any{}
	}
	p := map[string]any{
		"source":  SourceEmail,
		"name":    e.From.Name,
		"email":   e.From.Email,
		"subject": e.Subject,
		"message": e.message(),
		"header":  e.Header,
		"mid":     e.MessageID,
		"mailflags": map[string]any{
			"bounce":     e.Flags.Bounce,
			"auto-reply": e.Flags.AutoReply,
			"spam":       e.Flags.Spam,
			"viral":      e.Flags.Viral,
		},
	}
	if e.InReplyTo != "" {
		p["in-reply-to"] = e.InReplyTo
	}
	if len(e.References) > 0 {
		p["references"] = strings.Join(e.References, " ")
	}
	if e.ReplyTo != nil && e.ReplyTo.Email != "" {
		p["reply-to"] = e.ReplyTo.Email
		p["reply-to-name"] = e.ReplyTo.Name
	}
	if e.ThreadType != "" {
		p["thread-type"] = e.ThreadType
	}
	if len(e.Recipients) > 0 {
		rcpts := make([]any, 0, len(e.Recipients))
		for _, r := range e.Recipients {
			rcpts = append(rcpts, map[string]any{"name": r.Name, "email": r.Email, "source": r.Source})
		}
		p["recipients"] = rcpts
	}
	if len(e.Attachments) > 0 {
		files := make([]any, 0, len(e.Attachments))
		for _, a := range e.Attachments {
			files = append(files, a.Descriptor())
		}
		p["attachments"] = files
	}
	return p
}

// EntryRecipients are the explicit to and cc addresses of a posted entry.
type EntryRecipients struct {
	To []string `json:"to,omitempty"`
	Cc []string `json:"cc,omitempty"`
}

// message renders the body, marking HTML bodies with a data URL prefix.
func (e *InboundEmail) message() string {
	if strings.Contains(strings.ToLower(e.BodyType), "html") {
		return "data:text/html," + e.Body
	}
	return e.Body
}

var messageIDPattern = regexp.MustCompile(`<([^<>]+)>`)

// ParseMessageIDs extracts the message ids of a header value such as References, in
// header order, without angle brackets and without duplicates.
func ParseMessageIDs(values ...string) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		id = NormalizeMessageID(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		matches := messageIDPattern.FindAllStringSubmatch(raw, -1)
		if len(matches) == 0 {
			for _, f := range strings.Fields(raw) {
				add(f)
			}
			continue
		}
		for _, m := range matches {
			add(m[1])
		}
	}
	return ids
}

// MaxMessageIDLength is the longest message id kept verbatim. It matches the indexed mid
// columns.
const MaxMessageIDLength = 191

// NormalizeMessageID strips whitespace, angle brackets and quotes from a message id. Ids
// longer than MaxMessageIDLength are replaced by a stable digest of the trimmed id.
func NormalizeMessageID(value string) string {
	id := TrimMessageID(value)
	if len(id) <= MaxMessageIDLength {
		return id
	}
	sum := sha1.Sum([]byte(id))
	return "sha1-" + hex.EncodeToString(sum[:]) + "@long.gotrs-intake"
}

// TrimMessageID strips whitespace, angle brackets and quotes without bounding the length.
func TrimMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "<>")
	value = strings.Trim(value, "\"")
	return strings.TrimSpace(value)
}
