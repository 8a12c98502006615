package intake

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/gotrs-io/gotrs-intake/internal/forms"
)

// node describes the accepted shape of one request value.
type node struct {
	props  map[string]*node // object with exactly these keys
	items  *node            // array of items
	values *node            // object with arbitrary keys
}

func leaf() *node          { return &node{} }
func listOf(n *node) *node { return &node{items: n} }
func mapOf(n *node) *node  { return &node{values: n} }
func object(keys ...string) *node {
	n := &node{props: make(map[string]*node, len(keys))}
	for _, k := range keys {
		n.props[k] = leaf()
	}
	return n
}

// requestStructure returns the accepted structure for one request. It is computed from the
// form schema every time and never cached.
func requestStructure(format string, schema *forms.Schema) *node {
	attachment := object("name", "type", "data", "encoding", "size")
	root := object("alert", "autorespond", "source", "topicId", "message", "ip", "priorityId")
	root.props["attachments"] = listOf(attachment)
	root.props["system_emails"] = mapOf(leaf())
	root.props["thread_entry_recipients"] = mapOf(object("to", "cc"))

	for _, name := range schema.Names() {
		if _, ok := root.props[name]; !ok {
			root.props[name] = leaf()
		}
	}

	if format == FormatEmail {
		for _, k := range []string{"header", "mid", "emailId", "to-email-id", "ticketId", "reply-to",
			"reply-to-name", "in-reply-to", "references", "thread-type"} {
			root.props[k] = leaf()
		}
		root.props["mailflags"] = object("bounce", "auto-reply", "spam", "viral")
		root.props["recipients"] = listOf(object("name", "email", "source"))
		attachment.props["cid"] = leaf()
		attachment.props["truncated"] = leaf()
	}
	return root
}

// jsonSchema renders the structure as a JSON schema document.
func (n *node) jsonSchema() map[string]any {
	switch {
	case n.props != nil:
		props := make(map[string]any, len(n.props))
		for k, child := range n.props {
			props[k] = child.jsonSchema()
		}
		return map[string]any{"type": "object", "additionalProperties": false, "properties": props}
	case n.items != nil:
		return map[string]any{"type": "array", "items": n.items.jsonSchema()}
	case n.values != nil:
		return map[string]any{"type": "object", "additionalProperties": n.values.jsonSchema()}
	default:
		return map[string]any{}
	}
}

// check validates payload against the structure and returns the violations.
func (n *node) check(payload map[string]any) ([]string, error) {
	schema := gojsonschema.NewGoLoader(n.jsonSchema())
	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("structure check: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	sort.Strings(problems)
	return problems, nil
}

// prune removes every value the structure does not accept and reports the removed paths.
func (n *node) prune(value any, path string, dropped *[]string) any {
	switch {
	case n.props != nil:
		m, ok := value.(map[string]any)
		if !ok {
			*dropped = append(*dropped, path)
			return nil
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			child, ok := n.props[k]
			if !ok {
				*dropped = append(*dropped, join(path, k))
				continue
			}
			if pv := child.prune(v, join(path, k), dropped); pv != nil || v == nil {
				out[k] = pv
			}
		}
		return out
	case n.items != nil:
		list, ok := value.([]any)
		if !ok {
			*dropped = append(*dropped, path)
			return nil
		}
		out := make([]any, 0, len(list))
		for i, v := range list {
			if pv := n.items.prune(v, fmt.Sprintf("%s.%d", path, i), dropped); pv != nil {
				out = append(out, pv)
			}
		}
		return out
	case n.values != nil:
		m, ok := value.(map[string]any)
		if !ok {
			*dropped = append(*dropped, path)
			return nil
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			if pv := n.values.prune(v, join(path, k), dropped); pv != nil || v == nil {
				out[k] = pv
			}
		}
		return out
	default:
		return value
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
