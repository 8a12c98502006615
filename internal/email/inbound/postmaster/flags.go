package postmaster

import (
	"strings"

	gomessage "github.com/emersion/go-message"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

var autoReplyHeaders = []string{"X-Autoreply", "X-Autorespond", "X-Autoresponder", "X-Mailer-Autoreply"}

// detectFlags classifies a message from its top level headers.
func detectFlags(h gomessage.Header, contentType string, params map[string]string) models.MailFlags {
	var f models.MailFlags

	if contentType == "multipart/report" && strings.EqualFold(params["report-type"], "delivery-status") {
		f.Bounce = true
	}
	if h.Get("X-Failed-Recipients") != "" {
		f.Bounce = true
	}
	if strings.TrimSpace(h.Get("Return-Path")) == "<>" {
		from := strings.ToLower(h.Get("From"))
		if strings.Contains(from, "mailer-daemon") || strings.Contains(from, "postmaster") {
			f.Bounce = true
		}
	}

	if v := strings.ToLower(strings.TrimSpace(h.Get("Auto-Submitted"))); v != "" && v != "no" {
		f.AutoReply = true
	}
	for _, name := range autoReplyHeaders {
		if h.Get(name) != "" {
			f.AutoReply = true
		}
	}
	switch strings.ToLower(strings.TrimSpace(h.Get("Precedence"))) {
	case "auto_reply", "auto-reply":
		f.AutoReply = true
	}

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(h.Get("X-Spam-Flag"))), "yes") ||
		strings.HasPrefix(strings.ToLower(strings.TrimSpace(h.Get("X-Spam-Status"))), "yes") {
		f.Spam = true
	}

	if v := strings.ToLower(h.Get("X-Virus-Status")); strings.HasPrefix(strings.TrimSpace(v), "infected") {
		f.Viral = true
	}
	if h.Get("X-Virus-Found") != "" {
		f.Viral = true
	}
	return f
}
