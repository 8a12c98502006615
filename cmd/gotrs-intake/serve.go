package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gotrs-io/gotrs-intake/internal/api"
	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/adapter"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/logger"
	"github.com/gotrs-io/gotrs-intake/internal/runner"
	"github.com/gotrs-io/gotrs-intake/internal/runner/tasks"
)

var servePoll bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the intake API and poll configured mailboxes",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&servePoll, "poll", true, "Poll configured mailboxes on their schedules")
}

func runServe(cmd *cobra.Command, _ []string) error {
	loader, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := loader.Get()
	log := logger.Must(cfg.Logging)
	defer func() { _ = log.Sync() }()

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	loader.Watch(func(c *config.Config) {
		a.keys.Reload(c.API.Keys)
	}, func(err error) {
		log.Warn("configuration reload rejected", zap.Error(err))
	})

	polling := servePoll && len(cfg.Mailboxes) > 0
	if !cfg.API.Enabled && !polling {
		return errors.New("nothing to serve: api is disabled and no mailboxes are polled")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		srv := &http.Server{
			Addr:         cfg.Server.GetServerAddr(),
			Handler:      newAPIServer(a).Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		group.Go(func() error {
			log.Info("starting HTTP server", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	if polling {
		r := runner.NewRunner(pollRegistry(a, cfg.Mailboxes), log.Named("runner"))
		group.Go(func() error { return r.Start(groupCtx) })
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server exited cleanly")
	return nil
}

func newAPIServer(a *app) *api.Server {
	return api.NewServer(a.service,
		api.WithEmailDelivery(a.postmaster),
		api.WithKeyRing(a.keys),
		api.WithHealthCheck(a.store),
		api.WithMetrics(a.metrics),
		api.WithLogger(a.logger.Named("api")),
		api.WithBodyLimit(a.cfg.Server.MaxBodyBytes),
		api.WithRequestTimeout(a.cfg.Server.WriteTimeout),
	)
}

// pollRegistry registers one poll task per configured mailbox.
func pollRegistry(a *app, mailboxes []config.MailboxConfig) *runner.TaskRegistry {
	factory := connector.DefaultFactory(a.logger.Named("connector"))
	registry := runner.NewTaskRegistry()
	for _, m := range mailboxes {
		registry.Register(tasks.NewMailboxPollTask(
			adapter.AccountFromConfig(m), factory, a.postmaster,
			m.PollSchedule, m.PollTimeout, a.logger.Named("poll")))
	}
	return registry
}
