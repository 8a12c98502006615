package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/gotrs-io/gotrs-intake/internal/channel"
	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/repository"
)

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{SystemID: "10"},
		Database: config.DatabaseConfig{Driver: "memory"},
		Storage:  config.StorageConfig{Backend: "memory"},
		Redis:    config.RedisConfig{SeenTTL: time.Hour},
		Ticket: config.TicketConfig{
			NumberGenerator: "Increment",
			CounterStore:    "memory",
			DefaultPriority: 2,
		},
		Intake: config.IntakeConfig{
			Strict:                true,
			FallbackOnPostFailure: true,
			BannedEmails:          []string{"*@spam.example"},
		},
		Pipe: config.PipeConfig{Enabled: true, MaxBytes: 1 << 20},
		Mailboxes: []config.MailboxConfig{
			{Name: "support", Type: "imaps", Host: "imap.example.com", Username: "support"},
			{Name: "sales", Type: "pop3", Host: "pop.example.com", Username: "sales"},
		},
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func rawMail(from, mid, subject string) string {
	return strings.Join([]string{
		"From: Jane Doe <" + from + ">",
		"To: support@example.com",
		"Subject: " + subject,
		"Message-ID: <" + mid + ">",
		"Date: Mon, 02 Jan 2006 15:04:05 +0000",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"My printer is on fire.",
		"",
	}, "\r\n")
}

func TestDeliverPipe(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	pipe := func(raw string, max int64) int {
		return deliverPipe(ctx, a.postmaster, strings.NewReader(raw), max, a.metrics, zap.NewNop())
	}

	t.Run("new email is delivered", func(t *testing.T) {
		assert.Equal(t, channel.ExitOK, pipe(rawMail("jane@example.com", "m1@example.com", "Printer"), 1<<20))
		open, err := a.store.ListOpenTickets(ctx)
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})

	t.Run("redelivery is a no-op", func(t *testing.T) {
		assert.Equal(t, channel.ExitOK, pipe(rawMail("jane@example.com", "m1@example.com", "Printer"), 1<<20))
		open, err := a.store.ListOpenTickets(ctx)
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})

	t.Run("empty input is rejected", func(t *testing.T) {
		assert.Equal(t, channel.ExitNoInput, pipe("", 1<<20))
	})

	t.Run("oversized input is rejected", func(t *testing.T) {
		assert.Equal(t, channel.ExitDataErr, pipe(rawMail("jane@example.com", "m2@example.com", "Big"), 16))
	})

	t.Run("banned sender is denied", func(t *testing.T) {
		assert.Equal(t, channel.ExitNoPerm, pipe(rawMail("bot@spam.example", "m3@example.com", "Buy"), 1<<20))
	})

	assert.Equal(t, float64(1), requestCount(t, a, "created"))
	assert.Equal(t, float64(1), requestCount(t, a, postmaster.ActionDuplicate))
}

func requestCount(t *testing.T, a *app, outcome string) float64 {
	t.Helper()
	families, err := a.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "gotrs_intake_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["channel"] == channelPipe && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

type stubDelivery struct {
	res postmaster.Result
	err error
}

func (s stubDelivery) Deliver(context.Context, *connector.FetchedMessage) (postmaster.Result, error) {
	return s.res, s.err
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestDeliverPipeFailures(t *testing.T) {
	raw := rawMail("jane@example.com", "m1@example.com", "Hi")
	testCases := []struct {
		name string
		d    stubDelivery
		want int
	}{
		{"unavailable store", stubDelivery{err: &intake.Error{Kind: intake.KindUnavailable, Cause: repository.ErrUnavailable}}, channel.ExitUnavailable},
		{"unknown failure", stubDelivery{err: errors.New("disk on fire")}, channel.ExitTempFail},
		{"closed conversation", stubDelivery{err: intake.Unsupported(417, "conversation closed")}, channel.ExitDataErr},
		{"ignored", stubDelivery{res: postmaster.Result{Action: postmaster.ActionIgnored}}, channel.ExitOK},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := deliverPipe(context.Background(), tc.d, strings.NewReader(raw), 0, nil, zap.NewNop())
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("read error is temporary", func(t *testing.T) {
		got := deliverPipe(context.Background(), stubDelivery{}, failingReader{}, 0, nil, zap.NewNop())
		assert.Equal(t, channel.ExitTempFail, got)
	})
}

func TestRunPipeDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipe:\n  enabled: false\n"), 0644))
	prev := configFile
	configFile = path
	t.Cleanup(func() { configFile = prev })

	assert.Equal(t, channel.ExitNoPerm, runPipe(context.Background(), strings.NewReader("")))
}

func TestPipeNotifiesWebhooks(t *testing.T) {
	var events []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events = append(events, r.Header.Get("X-Webhook-Event"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Webhooks = []config.WebhookConfig{{Name: "crm", URL: srv.URL}}
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	raw := rawMail("jane@example.com", "hook@example.com", "Printer")
	for i := 0; i < 2; i++ {
		code := deliverPipe(context.Background(), a.postmaster, strings.NewReader(raw), 0, a.metrics, zap.NewNop())
		require.Equal(t, channel.ExitOK, code)
	}
	assert.Equal(t, []string{"ticket.created"}, events)
}

func TestSelectMailboxes(t *testing.T) {
	all := testConfig().Mailboxes

	got, err := selectMailboxes(all, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = selectMailboxes(all, []string{"sales"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pop.example.com", got[0].Host)

	_, err = selectMailboxes(all, []string{"billing"})
	assert.Error(t, err)
	_, err = selectMailboxes(nil, nil)
	assert.Error(t, err)
}

func TestPollRegistry(t *testing.T) {
	a := newTestApp(t)
	registry := pollRegistry(a, a.cfg.Mailboxes)
	assert.Equal(t, []string{"mailbox-poll:sales", "mailbox-poll:support"}, registry.Names())
}

func TestHashKeyCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"hash-key", "s3cret"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	hashed := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashed), []byte("s3cret")))
}
