// Package adapter converts configured mailboxes into connector accounts.
package adapter

import (
	"strings"

	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
)

// AccountFromConfig converts a configured mailbox to the connector payload.
func AccountFromConfig(m config.MailboxConfig) connector.Account {
	accountType := strings.ToLower(strings.TrimSpace(m.Type))
	if accountType == "" {
		accountType = "pop3"
	}
	name := strings.TrimSpace(m.Name)
	if name == "" {
		name = m.Username + "@" + m.Host
	}
	return connector.Account{
		Name:                name,
		Type:                accountType,
		Host:                m.Host,
		Port:                m.Port,
		Username:            m.Username,
		Password:            []byte(m.Password),
		Folder:              m.Folder,
		KeepOnServer:        m.KeepOnServer,
		AllowTrustedHeaders: m.TrustedHeaders,
		DialTimeout:         m.DialTimeout,
	}
}

// Accounts converts every configured mailbox.
func Accounts(list []config.MailboxConfig) []connector.Account {
	out := make([]connector.Account, 0, len(list))
	for _, m := range list {
		out = append(out, AccountFromConfig(m))
	}
	return out
}
