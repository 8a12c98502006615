package filters

import (
	"bytes"
	"context"
	"net/mail"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/adapter"
)

// DispatchRuleProvider supplies per-mailbox rule lists.
type DispatchRuleProvider interface {
	RulesFor(account string) []config.DispatchRule
}

// MailboxRules serves the dispatch rules configured on each mailbox.
type MailboxRules map[string][]config.DispatchRule

// RulesFromConfig indexes the rules by mailbox name.
func RulesFromConfig(mailboxes []config.MailboxConfig) MailboxRules {
	rules := make(MailboxRules, len(mailboxes))
	for _, m := range mailboxes {
		if len(m.Dispatch) > 0 {
			rules[adapter.AccountFromConfig(m).Name] = append([]config.DispatchRule(nil), m.Dispatch...)
		}
	}
	return rules
}

func (r MailboxRules) RulesFor(account string) []config.DispatchRule {
	return r[account]
}

// DispatchFilter maps sender addresses to help topic and priority overrides.
type DispatchFilter struct {
	provider DispatchRuleProvider
	logger   *zap.Logger
}

func NewDispatchFilter(provider DispatchRuleProvider, logger *zap.Logger) *DispatchFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchFilter{provider: provider, logger: logger}
}

func (f *DispatchFilter) ID() string { return "dispatch" }

// Apply inspects the message sender and applies the first matching rule.
func (f *DispatchFilter) Apply(ctx context.Context, m *MessageContext) error {
	if f == nil || f.provider == nil || m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	rules := f.provider.RulesFor(m.Account.Name)
	if len(rules) == 0 {
		return nil
	}
	from := f.senderAddress(m.Message.Raw)
	if from == "" {
		return nil
	}
	for _, rule := range rules {
		if !ruleMatches(rule, from) {
			continue
		}
		if m.Annotations == nil {
			m.Annotations = make(map[string]any)
		}
		if rule.TopicID > 0 {
			m.Annotations[AnnotationTopicIDOverride] = rule.TopicID
		}
		if rule.PriorityID > 0 {
			m.Annotations[AnnotationPriorityIDOverride] = rule.PriorityID
		}
		f.logger.Debug("dispatch rule matched",
			zap.String("account", m.Account.Name),
			zap.String("match", rule.Match),
			zap.String("sender", from))
		break
	}
	return nil
}

func (f *DispatchFilter) senderAddress(raw []byte) string {
	reader, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		f.logger.Debug("dispatch: parse message failed", zap.Error(err))
		return ""
	}
	value := strings.TrimSpace(reader.Header.Get("From"))
	if value == "" {
		return ""
	}
	if addrs, err := mail.ParseAddressList(value); err == nil && len(addrs) > 0 {
		return strings.ToLower(strings.TrimSpace(addrs[0].Address))
	}
	return strings.ToLower(value)
}

func ruleMatches(r config.DispatchRule, addr string) bool {
	pattern := strings.TrimSpace(strings.ToLower(r.Match))
	if pattern == "" || pattern == "*" {
		return true
	}
	match, err := path.Match(pattern, strings.ToLower(strings.TrimSpace(addr)))
	return err == nil && match
}
