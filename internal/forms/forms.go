// Package forms holds the intake form definitions: the ticket form, the user form and the
// extra forms attached to help topics. A Schema is computed from them for every request.
package forms

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gotrs-io/gotrs-intake/internal/attachments"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// FieldType selects the validation applied to a field value.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeEmail   FieldType = "email"
	TypePhone   FieldType = "phone"
	TypeNumber  FieldType = "number"
	TypeChoices FieldType = "choices"
	TypeBool    FieldType = "bool"
	TypeThread  FieldType = "thread"
)

// MessageField is the name of the ticket form field carrying the message body.
const MessageField = "message"

// AttachmentSettings configure the files a thread field accepts.
type AttachmentSettings struct {
	Enabled           bool     `yaml:"enabled"`
	MaxSize           int64    `yaml:"max_size"`
	MaxFiles          int      `yaml:"max_files"`
	Mimetypes         []string `yaml:"mimetypes"`
	BlockedExtensions []string `yaml:"blocked_extensions"`
}

// Policy converts the settings into an attachment policy. Nil settings disable uploads.
func (a *AttachmentSettings) Policy() attachments.Policy {
	if a == nil || !a.Enabled {
		return attachments.Policy{}
	}
	p := attachments.DefaultPolicy()
	if a.MaxSize > 0 {
		p.MaxSize = a.MaxSize
	}
	if a.MaxFiles > 0 {
		p.MaxFiles = a.MaxFiles
	}
	if len(a.BlockedExtensions) > 0 {
		p.BlockedExtensions = a.BlockedExtensions
	}
	p.AllowedTypes = a.Mimetypes
	return p
}

type Field struct {
	Name        string              `yaml:"name"`
	Label       string              `yaml:"label"`
	Type        FieldType           `yaml:"type"`
	Required    bool                `yaml:"required"`
	MaxLength   int                 `yaml:"max_length"`
	Choices     []string            `yaml:"choices"`
	Attachments *AttachmentSettings `yaml:"attachments"`
}

type Form struct {
	ID     string  `yaml:"id"`
	Title  string  `yaml:"title"`
	Fields []Field `yaml:"fields"`
}

// Topic is a help topic. Its forms add fields to requests filed under it.
type Topic struct {
	ID         int      `yaml:"id"`
	Name       string   `yaml:"name"`
	PriorityID int      `yaml:"priority_id"`
	Disabled   bool     `yaml:"disabled"`
	Forms      []string `yaml:"forms"`
}

func (t Topic) Model() models.HelpTopic {
	return models.HelpTopic{ID: t.ID, Name: t.Name, PriorityID: t.PriorityID, Active: !t.Disabled}
}

// Definitions is the YAML document layout.
type Definitions struct {
	Ticket Form    `yaml:"ticket"`
	User   Form    `yaml:"user"`
	Forms  []Form  `yaml:"forms"`
	Topics []Topic `yaml:"topics"`
}

// Registry is an immutable set of form definitions.
type Registry struct {
	defs   Definitions
	forms  map[string]Form
	topics map[int]Topic
}

// Default returns the built in definitions.
func Default() *Registry {
	r, err := newRegistry(defaultDefinitions())
	if err != nil {
		panic(err)
	}
	return r
}

func defaultDefinitions() Definitions {
	return Definitions{
		Ticket: Form{ID: "ticket", Title: "Ticket Details", Fields: []Field{
			{Name: "subject", Label: "Issue Summary", Type: TypeText, Required: true, MaxLength: 255},
			{Name: MessageField, Label: "Issue Details", Type: TypeThread, Required: true,
				Attachments: &AttachmentSettings{Enabled: true}},
			{Name: "priority", Label: "Priority Level", Type: TypeText},
		}},
		User: Form{ID: "user", Title: "Contact Information", Fields: []Field{
			{Name: "email", Label: "Email Address", Type: TypeEmail, Required: true, MaxLength: 191},
			{Name: "name", Label: "Full Name", Type: TypeText, Required: true, MaxLength: 128},
			{Name: "phone", Label: "Phone Number", Type: TypePhone},
		}},
		Topics: []Topic{
			{ID: 1, Name: "General Inquiry", PriorityID: 2},
			{ID: 2, Name: "Report a Problem", PriorityID: 3},
		},
	}
}

// Parse reads YAML definitions. Sections left out fall back to the built in ones.
func Parse(b []byte) (*Registry, error) {
	var defs Definitions
	if err := yaml.Unmarshal(b, &defs); err != nil {
		return nil, fmt.Errorf("parse forms: %w", err)
	}
	base := defaultDefinitions()
	if len(defs.Ticket.Fields) == 0 {
		defs.Ticket = base.Ticket
	}
	if len(defs.User.Fields) == 0 {
		defs.User = base.User
	}
	if defs.Topics == nil {
		defs.Topics = base.Topics
	}
	return newRegistry(defs)
}

// LoadFile reads definitions from path. An empty path yields Default.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read forms %s: %w", path, err)
	}
	return Parse(b)
}

func newRegistry(defs Definitions) (*Registry, error) {
	r := &Registry{defs: defs, forms: make(map[string]Form), topics: make(map[int]Topic)}
	for _, f := range defs.Forms {
		if f.ID == "" {
			return nil, fmt.Errorf("form %q has no id", f.Title)
		}
		r.forms[f.ID] = f
	}
	for _, t := range defs.Topics {
		for _, id := range t.Forms {
			if _, ok := r.forms[id]; !ok {
				return nil, fmt.Errorf("topic %d references unknown form %q", t.ID, id)
			}
		}
		r.topics[t.ID] = t
	}
	hasMessage := false
	for _, f := range defs.Ticket.Fields {
		if f.Name == MessageField {
			hasMessage = true
		}
	}
	if !hasMessage {
		return nil, fmt.Errorf("ticket form has no %q field", MessageField)
	}
	return r, nil
}

// Topic returns the help topic with id.
func (r *Registry) Topic(id int) (Topic, bool) {
	t, ok := r.topics[id]
	return t, ok
}

// Schema computes the field set for a request filed under topicID (0 for none). Fields
// appear in user form, ticket form, topic forms order; a later duplicate name is skipped.
func (r *Registry) Schema(topicID int) *Schema {
	s := &Schema{index: make(map[string]int)}
	s.add(r.defs.User.Fields)
	s.add(r.defs.Ticket.Fields)
	if t, ok := r.topics[topicID]; ok {
		for _, id := range t.Forms {
			s.add(r.forms[id].Fields)
		}
	}
	return s
}

// Schema is the per request field set.
type Schema struct {
	Fields []Field
	index  map[string]int
}

func (s *Schema) add(fields []Field) {
	for _, f := range fields {
		key := strings.ToLower(f.Name)
		if _, dup := s.index[key]; dup || f.Name == "" {
			continue
		}
		s.index[key] = len(s.Fields)
		s.Fields = append(s.Fields, f)
	}
}

// Field looks a field up by name, case insensitively.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Names lists the field names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Message returns the message field.
func (s *Schema) Message() Field {
	f, _ := s.Field(MessageField)
	return f
}

// AttachmentPolicy is the policy of the message field.
func (s *Schema) AttachmentPolicy() attachments.Policy {
	return s.Message().Attachments.Policy()
}
