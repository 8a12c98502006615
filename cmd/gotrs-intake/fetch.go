package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/logger"
	"github.com/gotrs-io/gotrs-intake/internal/runner"
)

var fetchMailboxes []string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Drain the configured mailboxes once",
	Long: `Fetch connects to every configured POP3/IMAP mailbox, or only those named with
--mailbox, and runs each message through the email pipeline. Messages that fail with a
temporary error stay on the server for the next run.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringSliceVar(&fetchMailboxes, "mailbox", nil, "Only fetch the named mailbox (repeatable)")
}

func runFetch(cmd *cobra.Command, _ []string) error {
	loader, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := loader.Get()
	log := logger.Must(cfg.Logging)
	defer func() { _ = log.Sync() }()

	mailboxes, err := selectMailboxes(cfg.Mailboxes, fetchMailboxes)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	registry := pollRegistry(a, mailboxes)
	r := runner.NewRunner(registry, log.Named("runner"))
	var errs []error
	for _, name := range registry.Names() {
		task, _ := registry.Get(name)
		if err := r.RunOnce(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info("fetch finished", zap.Int("mailboxes", len(mailboxes)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// selectMailboxes keeps the mailboxes named in only, or all of them when only is empty.
func selectMailboxes(all []config.MailboxConfig, only []string) ([]config.MailboxConfig, error) {
	if len(all) == 0 {
		return nil, errors.New("no mailboxes configured")
	}
	if len(only) == 0 {
		return all, nil
	}
	byName := make(map[string]config.MailboxConfig, len(all))
	for _, m := range all {
		byName[m.Name] = m
	}
	out := make([]config.MailboxConfig, 0, len(only))
	for _, name := range only {
		m, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("mailbox %q is not configured", name)
		}
		out = append(out, m)
	}
	return out, nil
}
