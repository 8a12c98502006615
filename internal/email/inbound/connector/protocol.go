package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Protocol families.
const (
	familyPOP3 = "pop3"
	familyIMAP = "imap"
)

// protocol describes how an account type is reached.
type protocol struct {
	family string
	tls    bool
	port   int
}

var protocols = map[string]protocol{
	"pop3":      {family: familyPOP3, port: 110},
	"pop3s":     {family: familyPOP3, tls: true, port: 995},
	"pop3_tls":  {family: familyPOP3, tls: true, port: 995},
	"pop3s_tls": {family: familyPOP3, tls: true, port: 995},
	"imap":      {family: familyIMAP, port: 143},
	"imaps":     {family: familyIMAP, tls: true, port: 993},
	"imap_tls":  {family: familyIMAP, tls: true, port: 993},
	"imaps_tls": {family: familyIMAP, tls: true, port: 993},
	"imaptls":   {family: familyIMAP, tls: true, port: 993},
}

// accountTypes lists the account types served by a protocol family.
func accountTypes(family string) []string {
	var out []string
	for name, p := range protocols {
		if p.family == family {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// protocolFor checks that account can be drained by the given family.
func protocolFor(account Account, family string) (protocol, error) {
	p, ok := protocols[normalizeType(account.Type)]
	switch {
	case !ok || p.family != family:
		return protocol{}, fmt.Errorf("account type %q not supported by %s connector", account.Type, family)
	case account.Username == "":
		return protocol{}, fmt.Errorf("%s account %q missing username", family, account.Name)
	case len(account.Password) == 0:
		return protocol{}, fmt.Errorf("%s account %q missing password", family, account.Name)
	}
	return p, nil
}

func (p protocol) portFor(account Account) int {
	if account.Port > 0 {
		return account.Port
	}
	return p.port
}

func (p protocol) address(account Account) string {
	return account.Host + ":" + strconv.Itoa(p.portFor(account))
}

const (
	defaultDialTimeout = 5 * time.Second
	defaultBatchSize   = 20
)

// settings are shared by both fetchers.
type settings struct {
	dialTimeout time.Duration
	batchSize   int
	now         func() time.Time
	logger      *zap.Logger
}

// Option customizes a fetcher.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDialTimeout sets the dial timeout for accounts that do not set their own.
func WithDialTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithBatchSize bounds how many IMAP messages are fetched per round trip.
func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		dialTimeout: defaultDialTimeout,
		batchSize:   defaultBatchSize,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

func (s settings) timeoutFor(account Account) time.Duration {
	if account.DialTimeout > 0 {
		return account.DialTimeout
	}
	return s.dialTimeout
}

// newMessage builds the message handed to the pipeline.
func newMessage(conn string, account Account, uid string, raw []byte, received time.Time, meta map[string]string) *FetchedMessage {
	msg := &FetchedMessage{
		Connector:  conn,
		UID:        uid,
		RemoteID:   remoteID(account, uid),
		ReceivedAt: received,
		SizeBytes:  int64(len(raw)),
		Raw:        append([]byte(nil), raw...),
		Metadata:   meta,
	}
	msg.WithAccount(account)
	return msg
}

func remoteID(account Account, uid string) string {
	if account.Username == "" {
		return account.Host + ":" + uid
	}
	return account.Username + "@" + account.Host + ":" + uid
}

// errNoHandler is returned when Fetch is called without a handler.
var errNoHandler = errors.New("connector: fetch requires a handler")

// deliver hands msg to the handler. A failure leaves the message on the server.
func deliver(ctx context.Context, handler Handler, msg *FetchedMessage) error {
	if err := handler.Handle(ctx, msg); err != nil {
		return fmt.Errorf("%s message %s kept on server: %w", msg.Connector, msg.UID, err)
	}
	return nil
}

// logRun records the outcome of one drain.
func (s settings) logRun(conn string, account Account, listed, delivered int, err error) {
	fields := []zap.Field{
		zap.String("connector", conn),
		zap.String("mailbox", account.Name),
		zap.Int("listed", listed),
		zap.Int("delivered", delivered),
	}
	if err != nil {
		s.logger.Warn("mailbox drain stopped", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("mailbox drained", fields...)
}
