package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/channel"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/logger"
	"github.com/gotrs-io/gotrs-intake/internal/metrics"
)

const channelPipe = "pipe"

var pipeCmd = &cobra.Command{
	Use:   "pipe",
	Short: "Read one email from stdin and exit with a delivery status",
	Long: `Pipe is meant to be called by an MTA. It reads a raw RFC 822 message from stdin,
files it, and reports the outcome only through the exit status: 0 delivered, 65/66/77
rejected permanently, 69/75 try again later. Nothing is written to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if code := runPipe(cmd.Context(), cmd.InOrStdin()); code != channel.ExitOK {
			return exitError{code: code}
		}
		return nil
	},
}

func runPipe(ctx context.Context, in io.Reader) int {
	loader, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "gotrs-intake pipe:", err)
		return channel.ExitTempFail
	}
	cfg := loader.Get()
	log := logger.Must(cfg.Logging).Named(channelPipe)
	defer func() { _ = log.Sync() }()

	if !cfg.Pipe.Enabled {
		log.Warn("pipe channel is disabled")
		return channel.Pipe{}.Translate(nil, intake.KeyNotAuthorized()).Code
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start intake pipeline", zap.Error(err))
		return channel.ExitTempFail
	}
	defer a.Close()

	return deliverPipe(ctx, a.postmaster, in, cfg.Pipe.MaxBytes, a.metrics, log)
}

type emailDelivery interface {
	Deliver(ctx context.Context, msg *connector.FetchedMessage) (postmaster.Result, error)
}

var errMessageTooLarge = errors.New("message exceeds pipe.max_bytes")

// deliverPipe files one piped message and returns the exit status for the MTA.
func deliverPipe(ctx context.Context, d emailDelivery, in io.Reader, maxBytes int64, m *metrics.Metrics, log *zap.Logger) int {
	start := time.Now()
	raw, err := readMessage(in, maxBytes)
	var res postmaster.Result
	switch {
	case errors.Is(err, errMessageTooLarge):
		err = intake.Unsupported(413, "Request body too large")
	case err != nil:
		err = &intake.Error{Kind: intake.KindUnknown, Msg: intake.MsgUnknown, Cause: err}
	default:
		msg := &connector.FetchedMessage{
			Connector:  channelPipe,
			UID:        uuid.NewString(),
			ReceivedAt: time.Now().UTC(),
			SizeBytes:  int64(len(raw)),
			Raw:        raw,
		}
		res, err = d.Deliver(ctx, msg)
	}

	reply := pipeReply(res, err)
	m.ObserveRequest(channelPipe, reply.Outcome, time.Since(start))
	if reply.Error != nil {
		log.Warn("piped message rejected",
			zap.Int("exit_code", reply.Code),
			zap.Bool("temporary", reply.Temporary),
			zap.String("reason", reply.Error.Error),
			zap.Error(err))
		return reply.Code
	}
	log.Info("piped message delivered",
		zap.String("action", res.Action),
		zap.Stringer("object", res.Object))
	return reply.Code
}

// pipeReply translates a delivery. Follow-ups, duplicates and ignored messages were
// delivered even though no ticket was created.
func pipeReply(res postmaster.Result, err error) channel.Reply {
	if err == nil && res.Ticket == nil {
		return channel.Reply{Code: channel.ExitOK, Ticket: res.Object.Number, Outcome: res.Action}
	}
	return channel.Pipe{}.Translate(res.Ticket, err)
}

func readMessage(in io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(in)
	}
	raw, err := io.ReadAll(io.LimitReader(in, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, errMessageTooLarge
	}
	return raw, nil
}
