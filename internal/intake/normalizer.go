package intake

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/attachments"
	"github.com/gotrs-io/gotrs-intake/internal/forms"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// Normalizer checks a raw payload against the accepted structure and turns it into a
// Request, ingesting the attachments on the way.
type Normalizer struct {
	forms    *forms.Registry
	ingestor *attachments.Ingestor
	strict   bool
	html     *bluemonday.Policy
	logger   *zap.Logger
}

type NormalizerOption func(*Normalizer)

// WithStrict rejects payloads with unknown fields. When off, unknown fields are dropped.
func WithStrict(strict bool) NormalizerOption {
	return func(n *Normalizer) { n.strict = strict }
}

// WithHTMLSanitizer sanitizes HTML message bodies with the UGC policy.
func WithHTMLSanitizer(enabled bool) NormalizerOption {
	return func(n *Normalizer) {
		if enabled {
			n.html = bluemonday.UGCPolicy()
		} else {
			n.html = nil
		}
	}
}

func WithNormalizerLogger(l *zap.Logger) NormalizerOption {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

func NewNormalizer(registry *forms.Registry, ingestor *attachments.Ingestor, opts ...NormalizerOption) *Normalizer {
	if registry == nil {
		registry = forms.Default()
	}
	n := &Normalizer{forms: registry, ingestor: ingestor, strict: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Forms exposes the registry the normalizer computes schemas from.
func (n *Normalizer) Forms() *forms.Registry { return n.forms }

// Normalize validates payload for format ("json" or "email") and builds the Request.
func (n *Normalizer) Normalize(ctx context.Context, format string, payload map[string]any) (*Request, error) {
	format = strings.ToLower(format)
	if format != FormatJSON && format != FormatEmail {
		return nil, Unsupported(415, fmt.Sprintf("Unsupported format %q", format))
	}
	if payload == nil {
		return nil, structural(errors.New("empty payload"))
	}

	topicID, _ := intOf(payload["topicId"])
	schema := n.forms.Schema(topicID)
	structure := requestStructure(format, schema)

	problems, err := structure.check(payload)
	if err != nil {
		return nil, structural(err)
	}
	if len(problems) > 0 {
		if n.strict {
			n.logger.Info("rejecting request with unexpected structure", zap.Strings("problems", problems))
			return nil, structural(errors.New(strings.Join(problems, "; ")))
		}
		var dropped []string
		pruned, _ := structure.prune(payload, "", &dropped).(map[string]any)
		if pruned == nil {
			return nil, structural(errors.New("payload is not an object"))
		}
		n.logger.Warn("dropping unexpected request fields", zap.Strings("fields", dropped))
		payload = pruned
	}

	req := &Request{
		Format:      format,
		Source:      models.SourceAPI,
		Alert:       boolOf(payload["alert"], true),
		AutoRespond: boolOf(payload["autorespond"], true),
		TopicID:     topicID,
		Fields:      make(map[string]any),
	}
	if s, ok := stringOf(payload["source"]); ok && strings.TrimSpace(s) != "" {
		req.Source = strings.TrimSpace(s)
	}
	req.PriorityID, _ = intOf(payload["priorityId"])
	req.IP, _ = stringOf(payload["ip"])
	raw, _ := stringOf(payload["message"])
	req.Message, req.BodyType = parseMessage(raw)
	if n.html != nil && req.BodyType == "text/html" {
		req.Message = n.html.Sanitize(req.Message)
	}

	for _, name := range schema.Names() {
		if name == forms.MessageField {
			continue
		}
		if v, ok := payload[name]; ok {
			req.Fields[name] = v
		}
	}
	if m, ok := payload["system_emails"].(map[string]any); ok {
		req.SystemEmails = m
	}
	req.ThreadEntryRecipients = parseEntryRecipients(payload["thread_entry_recipients"])

	if format == FormatEmail {
		n.emailHeaders(req, payload)
	}

	req.Attachments = parseAttachments(payload["attachments"])
	policy := schema.AttachmentPolicy()
	switch {
	case len(req.Attachments) == 0:
	case !policy.Enabled || n.ingestor == nil:
		// the message field does not take files
		if n.ingestor != nil {
			req.Attachments = n.ingestor.Drop(req.Attachments)
		} else {
			req.Attachments = nil
		}
	default:
		n.ingestor.Ingest(ctx, req.Attachments, policy, req.Message)
	}
	return req, nil
}

func (n *Normalizer) emailHeaders(req *Request, payload map[string]any) {
	req.Header, _ = stringOf(payload["header"])
	mid, _ := stringOf(payload["mid"])
	req.MessageID = models.NormalizeMessageID(mid)
	irt, _ := stringOf(payload["in-reply-to"])
	req.InReplyTo = models.NormalizeMessageID(irt)
	switch refs := payload["references"].(type) {
	case string:
		req.References = models.ParseMessageIDs(refs)
	case []any:
		for _, r := range refs {
			if s, ok := stringOf(r); ok {
				req.References = append(req.References, models.ParseMessageIDs(s)...)
			}
		}
	}
	req.ReplyTo, _ = stringOf(payload["reply-to"])
	req.ReplyToName, _ = stringOf(payload["reply-to-name"])
	req.ThreadType, _ = stringOf(payload["thread-type"])
	req.EmailID, _ = intOf(payload["emailId"])
	req.ToEmailID, _ = intOf(payload["to-email-id"])
	if id, ok := intOf(payload["ticketId"]); ok {
		req.TicketID = int64(id)
	}
	if flags, ok := payload["mailflags"].(map[string]any); ok {
		req.Flags = models.MailFlags{
			Bounce:    boolOf(flags["bounce"], false),
			AutoReply: boolOf(flags["auto-reply"], false),
			Spam:      boolOf(flags["spam"], false),
			Viral:     boolOf(flags["viral"], false),
		}
	}
	if list, ok := payload["recipients"].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			var r models.Recipient
			r.Name, _ = stringOf(m["name"])
			r.Email, _ = stringOf(m["email"])
			r.Source, _ = stringOf(m["source"])
			if r.Email != "" {
				req.Recipients = append(req.Recipients, r)
			}
		}
	}
	req.Source = models.SourceEmail
	if s, ok := stringOf(payload["source"]); ok && strings.TrimSpace(s) != "" {
		req.Source = strings.TrimSpace(s)
	}
	if req.Name() == "" && req.Email() != "" {
		req.Fields["name"] = req.Email()
	}
}

// parseMessage splits a "data:<type>[;base64],<body>" message into body and type.
// Plain strings are text/plain.
func parseMessage(raw string) (string, string) {
	if !strings.HasPrefix(raw, "data:") {
		return raw, "text/plain"
	}
	meta, body, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok {
		return raw, "text/plain"
	}
	params := strings.Split(meta, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	if mediaType == "" {
		mediaType = "text/plain"
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if isBase64 {
		if b, err := base64.StdEncoding.DecodeString(body); err == nil {
			return string(b), mediaType
		}
		return body, mediaType
	}
	if strings.Contains(body, "%") {
		if s, err := url.PathUnescape(body); err == nil && mediaType != "text/html" {
			body = s
		}
	}
	return body, mediaType
}

func parseAttachments(v any) []*models.Attachment {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]*models.Attachment, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a := &models.Attachment{}
		a.Name, _ = stringOf(m["name"])
		a.Type, _ = stringOf(m["type"])
		a.Encoding, _ = stringOf(m["encoding"])
		a.CID, _ = stringOf(m["cid"])
		switch d := m["data"].(type) {
		case []byte:
			a.Data = d
		case string:
			a.Data = []byte(d)
		}
		if size, ok := intOf(m["size"]); ok {
			a.Size = int64(size)
		}
		a.Truncated, _ = m["truncated"].(bool)
		if a.Name == "" {
			a.Name = fmt.Sprintf("attachment-%d", len(out)+1)
		}
		out = append(out, a)
	}
	return out
}

func parseEntryRecipients(v any) map[string]models.EntryRecipients {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]models.EntryRecipients, len(m))
	for k, raw := range m {
		rcpt, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out[k] = models.EntryRecipients{To: addressList(rcpt["to"]), Cc: addressList(rcpt["cc"])}
	}
	return out
}

func addressList(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for _, item := range t {
			if s, ok := stringOf(item); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func stringOf(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

func intOf(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

// boolOf interprets flags the way form posts send them: "0", "false", "no" and "" are false.
func boolOf(v any, def bool) bool {
	switch t := v.(type) {
	case nil:
		return def
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "0", "false", "no", "off", "n":
			return false
		}
		return true
	default:
		return def
	}
}
