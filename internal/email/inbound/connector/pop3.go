package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/knadh/go-pop3"
	"go.uber.org/zap"
)

// pop3Conn is the subset of *pop3.Conn the fetcher uses.
type pop3Conn interface {
	Auth(user, password string) error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
	Quit() error
}

type pop3Dialer func(account Account, p protocol, s settings) (pop3Conn, error)

// POP3Fetcher drains POP3 and POP3S mailboxes.
type POP3Fetcher struct {
	settings
	dial pop3Dialer
}

func NewPOP3Fetcher(opts ...Option) *POP3Fetcher {
	return &POP3Fetcher{settings: newSettings(opts), dial: dialPOP3}
}

func (f *POP3Fetcher) Name() string { return familyPOP3 }

// Fetch retrieves every message listed by UIDL in order. Accepted messages are marked for
// deletion, which the server applies on QUIT, unless the account keeps them. The first
// handler failure ends the run and leaves that message and the rest in place.
func (f *POP3Fetcher) Fetch(ctx context.Context, account Account, handler Handler) (err error) {
	if handler == nil {
		return errNoHandler
	}
	p, err := protocolFor(account, familyPOP3)
	if err != nil {
		return err
	}
	conn, err := f.dial(account, p, f.settings)
	if err != nil {
		return fmt.Errorf("pop3 connect %s: %w", account.Host, err)
	}
	defer func() {
		if qerr := conn.Quit(); qerr != nil {
			f.logger.Warn("pop3 quit failed", zap.String("mailbox", account.Name), zap.Error(qerr))
		}
	}()

	if err := conn.Auth(account.Username, string(account.Password)); err != nil {
		return fmt.Errorf("pop3 auth: %w", err)
	}
	listing, err := conn.Uidl(0)
	if err != nil {
		return fmt.Errorf("pop3 uidl: %w", err)
	}

	delivered := 0
	defer func() { f.logRun(f.Name(), account, len(listing), delivered, err) }()
	for _, item := range listing {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.take(ctx, conn, account, item, handler); err != nil {
			return err
		}
		delivered++
	}
	return nil
}

func (f *POP3Fetcher) take(ctx context.Context, conn pop3Conn, account Account, item pop3.MessageID, handler Handler) error {
	buf, err := conn.RetrRaw(item.ID)
	if err != nil {
		return fmt.Errorf("pop3 retr %d: %w", item.ID, err)
	}
	uid := item.UID
	if uid == "" {
		uid = strconv.Itoa(item.ID)
	}
	meta := map[string]string{"uidl": uid, "pop3_id": strconv.Itoa(item.ID)}
	if item.Size > 0 {
		meta["reported_size"] = strconv.Itoa(item.Size)
	}
	if err := deliver(ctx, handler, newMessage(f.Name(), account, uid, buf.Bytes(), f.now(), meta)); err != nil {
		return err
	}
	if account.KeepOnServer {
		return nil
	}
	if err := conn.Dele(item.ID); err != nil {
		return fmt.Errorf("pop3 dele %d: %w", item.ID, err)
	}
	return nil
}

func dialPOP3(account Account, p protocol, s settings) (pop3Conn, error) {
	if account.Host == "" {
		return nil, errors.New("pop3 account missing host")
	}
	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        p.portFor(account),
		DialTimeout: s.timeoutFor(account),
		TLSEnabled:  p.tls,
	})
	return client.NewConn()
}
