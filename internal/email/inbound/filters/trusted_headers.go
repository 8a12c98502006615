package filters

import (
	"bytes"
	"context"
	"mime"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// TrustedHeadersFilter captures X-GOTRS-* overrides when the mailbox allows trusted headers.
type TrustedHeadersFilter struct {
	logger       *zap.Logger
	extraHeaders []string
}

// NewTrustedHeadersFilter constructs a filter instance. extraHeaders are copied verbatim
// into annotations under AnnotationTrustedHeaderPrefix.
func NewTrustedHeadersFilter(logger *zap.Logger, extraHeaders ...string) *TrustedHeadersFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrustedHeadersFilter{logger: logger, extraHeaders: canonicalHeaderList(extraHeaders...)}
}

func (f *TrustedHeadersFilter) ID() string { return "trusted_headers" }

// Apply inspects trusted headers and stores overrides inside the annotations map.
func (f *TrustedHeadersFilter) Apply(ctx context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	if !m.Account.AllowTrustedHeaders {
		return nil
	}
	reader, err := mail.ReadMessage(bytes.NewReader(m.Message.Raw))
	if err != nil {
		f.logger.Debug("trusted_headers: parse failed", zap.Error(err))
		return nil
	}
	if m.Annotations == nil {
		m.Annotations = make(map[string]any)
	}
	dec := mime.WordDecoder{}
	decode := func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return ""
		}
		decoded, err := dec.DecodeHeader(v)
		if err != nil {
			return v
		}
		return decoded
	}
	setStr := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			m.Annotations[key] = value
		}
	}
	setInt := func(key, raw string) {
		if id, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && id > 0 {
			m.Annotations[key] = id
		}
	}

	setInt(AnnotationTopicIDOverride, firstHeaderValue(reader.Header, topicIDHeaders))
	setInt(AnnotationPriorityIDOverride, firstHeaderValue(reader.Header, priorityIDHeaders))
	setStr(AnnotationTitleOverride, decode(firstHeaderValue(reader.Header, titleHeaders)))

	switch strings.ToLower(strings.TrimSpace(firstHeaderValue(reader.Header, threadTypeHeaders))) {
	case "n", "note":
		m.Annotations[AnnotationThreadType] = "N"
	case "r", "response":
		m.Annotations[AnnotationThreadType] = "R"
	case "m", "message":
		m.Annotations[AnnotationThreadType] = "M"
	}

	switch strings.ToLower(strings.TrimSpace(firstHeaderValue(reader.Header, ignoreHeaders))) {
	case "1", "true", "yes", "y":
		m.Annotations[AnnotationIgnoreMessage] = true
	case "0", "false", "no", "n":
		m.Annotations[AnnotationIgnoreMessage] = false
	}

	for _, name := range f.extraHeaders {
		setStr(annotationTrustedHeaderKey(name), decode(reader.Header.Get(name)))
	}
	return nil
}

var (
	topicIDHeaders    = canonicalHeaderList("X-GOTRS-TopicID", "X-GOTRS-HelpTopicID")
	priorityIDHeaders = canonicalHeaderList("X-GOTRS-PriorityID", "X-OTRS-PriorityID")
	titleHeaders      = canonicalHeaderList("X-GOTRS-Title", "X-OTRS-Title")
	threadTypeHeaders = canonicalHeaderList("X-GOTRS-ThreadType")
	ignoreHeaders     = canonicalHeaderList("X-GOTRS-Ignore", "X-OTRS-Ignore")
)

func firstHeaderValue(header mail.Header, names []string) string {
	for _, name := range names {
		if value := header.Get(name); value != "" {
			return value
		}
	}
	return ""
}

func canonicalHeaderList(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		canonical := textproto.CanonicalMIMEHeaderKey(value)
		key := strings.ToLower(canonical)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, canonical)
	}
	return out
}

func annotationTrustedHeaderKey(headerName string) string {
	return AnnotationTrustedHeaderPrefix + strings.ToLower(headerName)
}
