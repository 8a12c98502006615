package postmaster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"go.uber.org/zap"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

const (
	defaultBodyLimit       = 128 * 1024
	defaultAttachmentLimit = 25 * 1024 * 1024
)

// generatedIDSpace namespaces message ids derived from messages that carry none.
var generatedIDSpace = uuid.MustParse("6f1c1d2e-5b0a-4c3e-9a57-3d2f0e8b7c41")

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Parser turns raw RFC 822 messages into InboundEmail values.
type Parser struct {
	logger          *zap.Logger
	maxBodyBytes    int64
	attachmentLimit int64
	decoder         *mime.WordDecoder
	now             func() time.Time
}

type ParserOption func(*Parser)

func WithParserLogger(l *zap.Logger) ParserOption {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithBodyLimit constrains how much of the body is kept.
func WithBodyLimit(limit int64) ParserOption {
	return func(p *Parser) {
		if limit > 0 {
			p.maxBodyBytes = limit
		}
	}
}

// WithAttachmentLimit caps the bytes buffered per attachment.
func WithAttachmentLimit(limit int64) ParserOption {
	return func(p *Parser) {
		if limit > 0 {
			p.attachmentLimit = limit
		}
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		logger:          zap.NewNop(),
		maxBodyBytes:    defaultBodyLimit,
		attachmentLimit: defaultAttachmentLimit,
		decoder:         &mime.WordDecoder{},
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ErrEmptyMessage is returned for a zero length message.
var ErrEmptyMessage = errors.New("postmaster: empty message")

// Parse reads raw. A message without Message-ID gets one derived from its content, so a
// re-delivery of the same bytes resolves to the same identity.
func (p *Parser) Parse(raw []byte) (*models.InboundEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}
	email := &models.InboundEmail{Header: rawHeader(raw), ReceivedAt: p.now()}

	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		p.logger.Debug("structured parse failed, using net/mail", zap.Error(err))
		if err := p.parseLegacy(raw, email); err != nil {
			return nil, err
		}
	} else {
		p.parseStructured(reader, email)
		if email.Body == "" && len(email.Attachments) == 0 {
			legacy := &models.InboundEmail{}
			if err := p.parseLegacy(raw, legacy); err == nil {
				email.Body, email.BodyType = legacy.Body, legacy.BodyType
			}
		}
	}

	if email.MessageID == "" {
		email.MessageID = uuid.NewSHA1(generatedIDSpace, raw).String() + "@generated.gotrs-intake"
		p.logger.Debug("message has no Message-ID", zap.String("generated", email.MessageID))
	}
	if email.BodyType == "" {
		email.BodyType = "text/plain"
	}
	return email, nil
}

func (p *Parser) parseStructured(reader *gomail.Reader, email *models.InboundEmail) {
	h := &reader.Header
	email.Subject = p.subjectFromHeader(h)
	email.From = p.addressFromHeader(h, "From")
	if rt := p.addressFromHeader(h, "Reply-To"); rt.Email != "" {
		email.ReplyTo = &rt
	}
	email.MessageID = models.NormalizeMessageID(h.Get("Message-Id"))
	email.InReplyTo = firstID(h.Get("In-Reply-To"))
	email.References = models.ParseMessageIDs(h.Values("References")...)
	for _, src := range []string{"To", "Cc", "Delivered-To"} {
		email.Recipients = append(email.Recipients, p.recipients(h, src)...)
	}
	contentType, params := p.contentTypeFromHeader(h)
	email.Flags = detectFlags(h.Header, contentType, params)
	if date, err := h.Date(); err == nil && !date.IsZero() {
		email.ReceivedAt = date.UTC()
	}

	body, mimeType, attachments := p.readBodyParts(reader)
	email.Body = body
	email.BodyType = mimeType
	email.Attachments = attachments
}

func (p *Parser) parseLegacy(raw []byte, email *models.InboundEmail) error {
	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("postmaster: parse message: %w", err)
	}
	email.Subject = p.decodeHeader(msg.Header.Get("Subject"))
	if addr := p.parseAddress(msg.Header.Get("From")); addr != nil {
		email.From = *addr
	}
	email.MessageID = models.NormalizeMessageID(msg.Header.Get("Message-Id"))
	email.InReplyTo = firstID(msg.Header.Get("In-Reply-To"))
	email.References = models.ParseMessageIDs(msg.Header["References"]...)
	mediaType, _ := parseContentType(msg.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "text/html") {
		email.BodyType = "text/html"
	}
	body, err := io.ReadAll(io.LimitReader(msg.Body, p.bodyLimit()))
	if err != nil {
		return fmt.Errorf("postmaster: read body: %w", err)
	}
	email.Body = string(body)
	return nil
}

type bodyCandidate struct {
	body     string
	mimeType string
}

func (p *Parser) readBodyParts(reader *gomail.Reader) (string, string, []*models.Attachment) {
	var plain, html *bodyCandidate
	var attachments []*models.Attachment
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logger.Warn("read part failed", zap.Error(err))
			break
		}
		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			mimeType, _, err := header.ContentType()
			if err != nil {
				mimeType, _ = parseContentType(header.Get("Content-Type"))
			}
			mimeType = strings.ToLower(strings.TrimSpace(mimeType))
			if mimeType == "" {
				mimeType = "text/plain"
			}
			if !strings.HasPrefix(mimeType, "text/") {
				// inline images referenced by cid
				if att := p.extractAttachment(part.Body, &header.Header, ""); att != nil {
					attachments = append(attachments, att)
				}
				continue
			}
			body, err := p.readPartBody(part.Body)
			if err != nil || body == "" {
				continue
			}
			candidate := &bodyCandidate{body: body, mimeType: mimeType}
			switch {
			case strings.HasPrefix(mimeType, "text/plain"):
				if plain == nil {
					plain = candidate
				}
			case strings.HasPrefix(mimeType, "text/html"):
				if html == nil {
					html = candidate
				}
			default:
				if plain == nil && html == nil {
					plain = candidate
				}
			}
		case *gomail.AttachmentHeader:
			filename, err := header.Filename()
			if err != nil {
				filename = ""
			}
			if att := p.extractAttachment(part.Body, &header.Header, filename); att != nil {
				attachments = append(attachments, att)
			}
		}
	}
	switch {
	case plain != nil:
		return plain.body, plain.mimeType, attachments
	case html != nil:
		return html.body, html.mimeType, attachments
	}
	return "", "", attachments
}

func (p *Parser) extractAttachment(src io.Reader, h *gomessage.Header, filename string) *models.Attachment {
	mimeType, params, err := h.ContentType()
	if err != nil || strings.TrimSpace(mimeType) == "" {
		mimeType, _ = parseContentType(h.Get("Content-Type"))
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if strings.TrimSpace(filename) == "" {
		filename = p.decodeHeader(params["name"])
	}
	limit := p.attachmentLimitBytes()
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		p.logger.Warn("read attachment body failed", zap.String("filename", filename), zap.Error(err))
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	size := int64(len(data))
	truncated := size > limit
	if truncated {
		rest, err := io.Copy(io.Discard, src)
		if err != nil {
			p.logger.Warn("read attachment body failed", zap.String("filename", filename), zap.Error(err))
		}
		size += rest
		data = nil
		p.logger.Info("attachment exceeds parser limit",
			zap.String("filename", filename), zap.Int64("size", size), zap.Int64("limit", limit))
	}
	cid := models.TrimMessageID(h.Get("Content-Id"))
	if strings.TrimSpace(filename) == "" {
		if cid != "" {
			filename = cid
		} else {
			filename = fmt.Sprintf("attachment-%d.bin", p.now().UnixNano())
		}
	}
	return &models.Attachment{
		Name:      filename,
		Type:      mimeType,
		Size:      size,
		Data:      data,
		CID:       cid,
		Truncated: truncated,
	}
}

func (p *Parser) readPartBody(src io.Reader) (string, error) {
	if src == nil {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(src, p.bodyLimit()))
	if err != nil {
		p.logger.Warn("read part body failed", zap.Error(err))
		return "", err
	}
	return string(data), nil
}

func (p *Parser) recipients(h *gomail.Header, field string) []models.Recipient {
	list, err := h.AddressList(field)
	if err != nil {
		addr := p.parseAddress(h.Get(field))
		if addr == nil {
			return nil
		}
		list = []*gomail.Address{{Name: addr.Name, Address: addr.Email}}
	}
	out := make([]models.Recipient, 0, len(list))
	source := strings.ToLower(field)
	for _, a := range list {
		if strings.TrimSpace(a.Address) == "" {
			continue
		}
		out = append(out, models.Recipient{Name: a.Name, Email: strings.ToLower(a.Address), Source: source})
	}
	return out
}

func (p *Parser) subjectFromHeader(h *gomail.Header) string {
	if subject, err := h.Subject(); err == nil {
		return strings.TrimSpace(subject)
	}
	return p.decodeHeader(h.Get("Subject"))
}

func (p *Parser) addressFromHeader(h *gomail.Header, field string) models.Address {
	if list, err := h.AddressList(field); err == nil && len(list) > 0 {
		return models.Address{Name: strings.TrimSpace(list[0].Name), Email: strings.ToLower(strings.TrimSpace(list[0].Address))}
	}
	if addr := p.parseAddress(h.Get(field)); addr != nil {
		return *addr
	}
	return models.Address{}
}

func (p *Parser) contentTypeFromHeader(h *gomail.Header) (string, map[string]string) {
	if mediaType, params, err := h.ContentType(); err == nil {
		return strings.ToLower(mediaType), params
	}
	mediaType, _ := parseContentType(h.Get("Content-Type"))
	return mediaType, nil
}

func (p *Parser) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func (p *Parser) parseAddress(value string) *models.Address {
	value = p.decodeHeader(value)
	if value == "" {
		return nil
	}
	if addrs, err := stdmail.ParseAddressList(value); err == nil && len(addrs) > 0 {
		return &models.Address{Name: addrs[0].Name, Email: strings.ToLower(strings.TrimSpace(addrs[0].Address))}
	}
	if strings.Contains(value, "@") && !strings.ContainsAny(value, " <>") {
		return &models.Address{Email: strings.ToLower(value)}
	}
	return nil
}

func (p *Parser) bodyLimit() int64 {
	if p.maxBodyBytes <= 0 {
		return defaultBodyLimit
	}
	return p.maxBodyBytes
}

func (p *Parser) attachmentLimitBytes() int64 {
	if p.attachmentLimit <= 0 {
		return defaultAttachmentLimit
	}
	return p.attachmentLimit
}

func parseContentType(value string) (string, string) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", ""
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw), ""
	}
	return strings.ToLower(mediaType), strings.ToLower(strings.TrimSpace(params["charset"]))
}

func firstID(value string) string {
	ids := models.ParseMessageIDs(value)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// rawHeader returns the header block of raw, without the separating blank line.
func rawHeader(raw []byte) string {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(raw, sep); i >= 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}
