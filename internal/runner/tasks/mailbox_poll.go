// Package tasks holds the scheduled jobs of the intake service.
package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/runner"
)

// DefaultPollSchedule applies to mailboxes without a poll_schedule.
const DefaultPollSchedule = "@every 1m"

// MailboxPollTask drains one mailbox into the inbound pipeline.
type MailboxPollTask struct {
	account  connector.Account
	factory  connector.Factory
	handler  connector.Handler
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewMailboxPollTask builds the poll task for account.
func NewMailboxPollTask(account connector.Account, factory connector.Factory, handler connector.Handler,
	schedule string, timeout time.Duration, logger *zap.Logger) runner.Task {
	if schedule == "" {
		schedule = DefaultPollSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailboxPollTask{
		account:  account,
		factory:  factory,
		handler:  handler,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger.With(zap.String("mailbox", account.Name)),
	}
}

func (t *MailboxPollTask) Name() string { return "mailbox-poll:" + t.account.Name }

func (t *MailboxPollTask) Schedule() string { return t.schedule }

func (t *MailboxPollTask) Timeout() time.Duration { return t.timeout }

// Run fetches the mailbox once.
func (t *MailboxPollTask) Run(ctx context.Context) error {
	fetcher, err := t.factory.FetcherFor(t.account)
	if err != nil {
		return fmt.Errorf("mailbox %s: %w", t.account.Name, err)
	}
	t.logger.Debug("polling mailbox", zap.String("connector", fetcher.Name()))
	if err := fetcher.Fetch(ctx, t.account, t.handler); err != nil {
		return fmt.Errorf("mailbox %s: %w", t.account.Name, err)
	}
	return nil
}
