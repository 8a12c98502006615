package intake

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-intake/internal/attachments"
	"github.com/gotrs-io/gotrs-intake/internal/forms"
	"github.com/gotrs-io/gotrs-intake/internal/models"
	"github.com/gotrs-io/gotrs-intake/internal/storage"
)

const topicFormsYAML = `
forms:
  - id: hardware
    title: Hardware
    fields:
      - name: serial
        label: Serial Number
        type: text
        required: true
        max_length: 12
      - name: model
        type: choices
        choices: [T14, X1]
topics:
  - id: 5
    name: Hardware Failure
    priority_id: 3
    forms: [hardware]
  - id: 6
    name: Retired
    disabled: true
`

const noAttachmentsYAML = `
ticket:
  id: ticket
  fields:
    - name: subject
      type: text
      required: true
    - name: message
      type: thread
      required: true
      attachments:
        enabled: false
`

func newTestNormalizer(t *testing.T, registryYAML string, opts ...NormalizerOption) (*Normalizer, storage.Backend) {
	t.Helper()
	registry := forms.Default()
	if registryYAML != "" {
		var err error
		registry, err = forms.Parse([]byte(registryYAML))
		require.NoError(t, err)
	}
	backend := storage.NewMemoryBackend()
	ingestor := attachments.NewIngestor(attachments.NewStorageUploader(backend))
	return NewNormalizer(registry, ingestor, opts...), backend
}

func basePayload() map[string]any {
	return map[string]any{
		"name":    "Ada Lovelace",
		"email":   "Ada@Example.com",
		"subject": "Printer on fire",
		"message": "It is on fire.",
	}
}

func TestNormalizeDefaults(t *testing.T) {
	n, _ := newTestNormalizer(t, "")
	req, err := n.Normalize(context.Background(), FormatJSON, basePayload())
	require.NoError(t, err)

	assert.Equal(t, models.SourceAPI, req.Source)
	assert.True(t, req.Alert)
	assert.True(t, req.AutoRespond)
	assert.Equal(t, "ada@example.com", req.Email())
	assert.Equal(t, "Ada Lovelace", req.Name())
	assert.Equal(t, "Printer on fire", req.Subject())
	assert.Equal(t, "It is on fire.", req.Message)
	assert.Equal(t, "text/plain", req.BodyType)
}

func TestNormalizeFlags(t *testing.T) {
	n, _ := newTestNormalizer(t, "")
	p := basePayload()
	p["alert"] = "0"
	p["autorespond"] = false
	p["source"] = "Web"
	p["priorityId"] = float64(3)
	p["ip"] = "10.0.0.9"

	req, err := n.Normalize(context.Background(), FormatJSON, p)
	require.NoError(t, err)
	assert.False(t, req.Alert)
	assert.False(t, req.AutoRespond)
	assert.Equal(t, "Web", req.Source)
	assert.Equal(t, 3, req.PriorityID)
	assert.Equal(t, "10.0.0.9", req.IP)
}

func TestNormalizeStructure(t *testing.T) {
	t.Run("strict mode rejects unknown keys", func(t *testing.T) {
		n, _ := newTestNormalizer(t, "")
		p := basePayload()
		p["favourite_colour"] = "blue"

		_, err := n.Normalize(context.Background(), FormatJSON, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStructural)
		ie := AsError(err)
		assert.Equal(t, 400, ie.Code)
		assert.Equal(t, MsgInvalidData, ie.Message())
	})

	t.Run("email keys are not accepted as json", func(t *testing.T) {
		n, _ := newTestNormalizer(t, "")
		p := basePayload()
		p["mid"] = "abc@example.com"

		_, err := n.Normalize(context.Background(), FormatJSON, p)
		assert.ErrorIs(t, err, ErrStructural)
	})

	t.Run("unknown nested attachment key", func(t *testing.T) {
		n, _ := newTestNormalizer(t, "")
		p := basePayload()
		p["attachments"] = []any{map[string]any{"name": "a.txt", "data": "hi", "owner": "me"}}

		_, err := n.Normalize(context.Background(), FormatJSON, p)
		assert.ErrorIs(t, err, ErrStructural)
	})

	t.Run("lax mode drops unknown keys", func(t *testing.T) {
		n, _ := newTestNormalizer(t, "", WithStrict(false))
		p := basePayload()
		p["favourite_colour"] = "blue"
		p["attachments"] = []any{map[string]any{"name": "a.txt", "type": "text/plain", "data": "hi", "owner": "me"}}

		req, err := n.Normalize(context.Background(), FormatJSON, p)
		require.NoError(t, err)
		assert.NotContains(t, req.Fields, "favourite_colour")
		require.Len(t, req.Attachments, 1)
		assert.True(t, req.Attachments[0].Stored())
	})

	t.Run("unsupported format", func(t *testing.T) {
		n, _ := newTestNormalizer(t, "")
		_, err := n.Normalize(context.Background(), "xml", basePayload())
		assert.ErrorIs(t, err, ErrUnsupported)
		assert.Equal(t, 415, AsError(err).Code)
	})
}

func TestNormalizeTopicFields(t *testing.T) {
	n, _ := newTestNormalizer(t, topicFormsYAML)

	t.Run("topic form fields are accepted", func(t *testing.T) {
		p := basePayload()
		p["topicId"] = float64(5)
		p["serial"] = "SN-1234"
		req, err := n.Normalize(context.Background(), FormatJSON, p)
		require.NoError(t, err)
		assert.Equal(t, 5, req.TopicID)
		assert.Equal(t, "SN-1234", req.Field("serial"))
	})

	t.Run("topic form fields require the topic", func(t *testing.T) {
		p := basePayload()
		p["serial"] = "SN-1234"
		_, err := n.Normalize(context.Background(), FormatJSON, p)
		assert.ErrorIs(t, err, ErrStructural)
	})
}

func TestNormalizeAttachments(t *testing.T) {
	t.Run("each file gets an id or an error", func(t *testing.T) {
		n, backend := newTestNormalizer(t, "")
		p := basePayload()
		p["attachments"] = []any{
			map[string]any{"name": "ok.txt", "type": "text/plain", "encoding": "base64",
				"data": base64.StdEncoding.EncodeToString([]byte("hello"))},
			map[string]any{"name": "bad.txt", "type": "text/plain", "encoding": "BASE64", "data": "!!!"},
			map[string]any{"name": "evil.exe", "type": "application/octet-stream", "data": "MZ"},
		}

		req, err := n.Normalize(context.Background(), FormatJSON, p)
		require.NoError(t, err)
		require.Len(t, req.Attachments, 3)

		ok, bad, evil := req.Attachments[0], req.Attachments[1], req.Attachments[2]
		assert.NotEmpty(t, ok.FileID)
		assert.Empty(t, ok.Error)
		assert.Empty(t, bad.FileID)
		assert.Equal(t, "bad.txt: Poorly encoded base64 data", bad.Error)
		assert.Empty(t, evil.FileID)
		assert.Contains(t, evil.Error, "evil.exe: ")

		stored, err := backend.Retrieve(context.Background(), ok.FileID)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(stored.Data))
		assert.Equal(t, []string{ok.FileID}, req.StoredAttachmentIDs())
	})

	t.Run("disabled message attachments drop the list", func(t *testing.T) {
		n, _ := newTestNormalizer(t, noAttachmentsYAML)
		p := basePayload()
		p["attachments"] = []any{map[string]any{"name": "ok.txt", "type": "text/plain", "data": "hello"}}

		req, err := n.Normalize(context.Background(), FormatJSON, p)
		require.NoError(t, err)
		assert.Empty(t, req.Attachments)
	})
}

func TestNormalizeMessage(t *testing.T) {
	testCases := []struct {
		name     string
		message  string
		wantBody string
		wantType string
	}{
		{"plain", "hello", "hello", "text/plain"},
		{"data url", "data:text/plain,hello%20there", "hello there", "text/plain"},
		{"base64 data url", "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hi")), "hi", "text/plain"},
		{"html", "data:text/html,<p>hi</p>", "<p>hi</p>", "text/html"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body, typ := parseMessage(tc.message)
			assert.Equal(t, tc.wantBody, body)
			assert.Equal(t, tc.wantType, typ)
		})
	}

	t.Run("html is sanitized", func(t *testing.T) {
		n, _ := newTestNormalizer(t, "", WithHTMLSanitizer(true))
		p := basePayload()
		p["message"] = `data:text/html,<p>hi</p><script>alert(1)</script>`
		req, err := n.Normalize(context.Background(), FormatJSON, p)
		require.NoError(t, err)
		assert.Equal(t, "<p>hi</p>", req.Message)
		assert.Equal(t, "html", req.Entry(0).Format)
	})
}

func TestNormalizeEmail(t *testing.T) {
	n, _ := newTestNormalizer(t, "")
	email := &models.InboundEmail{
		MessageID:  "<new@mail.example>",
		InReplyTo:  "<parent@mail.example>",
		References: []string{"root@mail.example", "parent@mail.example"},
		From:       models.Address{Email: "bob@example.org"},
		Subject:    "Re: broken",
		Body:       "still broken",
		Header:     "Subject: Re: broken\r\n",
		Flags:      models.MailFlags{AutoReply: true},
		Recipients: []models.Recipient{{Email: "support@example.com", Source: "to"}},
		Attachments: []*models.Attachment{
			{Name: "log.txt", Type: "text/plain", Data: []byte("trace"), CID: "log1"},
		},
	}

	req, err := n.Normalize(context.Background(), FormatEmail, email.Payload())
	require.NoError(t, err)

	assert.Equal(t, models.SourceEmail, req.Source)
	assert.Equal(t, "new@mail.example", req.MessageID)
	assert.Equal(t, "parent@mail.example", req.InReplyTo)
	assert.Equal(t, []string{"root@mail.example", "parent@mail.example"}, req.References)
	assert.Equal(t, []string{"new@mail.example", "parent@mail.example", "root@mail.example"}, req.HeaderIDs())
	assert.True(t, req.Flags.AutoReply)
	assert.True(t, req.SuppressAutoResponse())
	assert.Equal(t, "bob@example.org", req.Name(), "name falls back to the address")
	require.Len(t, req.Recipients, 1)
	require.Len(t, req.Attachments, 1)
	assert.True(t, req.Attachments[0].Stored())
	assert.Equal(t, "log1", req.Attachments[0].CID)
}

func TestNormalizeEmailTruncatedAttachment(t *testing.T) {
	n, _ := newTestNormalizer(t, "")
	email := &models.InboundEmail{
		MessageID: "big@mail.example",
		From:      models.Address{Email: "bob@example.org"},
		Subject:   "logs",
		Body:      "see attached",
		Attachments: []*models.Attachment{
			{Name: "dump.txt", Type: "text/plain", Size: 40 << 20, Truncated: true},
			{Name: "log.txt", Type: "text/plain", Data: []byte("trace")},
		},
	}

	req, err := n.Normalize(context.Background(), FormatEmail, email.Payload())
	require.NoError(t, err)
	require.Len(t, req.Attachments, 2)

	dump := req.Attachments[0]
	assert.False(t, dump.Stored())
	assert.Equal(t, "dump.txt: File is too large (41943040 bytes)", dump.Error)
	assert.True(t, req.Attachments[1].Stored())
}

func TestBoolOf(t *testing.T) {
	assert.True(t, boolOf(nil, true))
	assert.False(t, boolOf(nil, false))
	assert.False(t, boolOf("no", true))
	assert.False(t, boolOf("0", true))
	assert.True(t, boolOf("1", false))
	assert.True(t, boolOf(float64(1), false))
	assert.False(t, boolOf(false, true))
}
