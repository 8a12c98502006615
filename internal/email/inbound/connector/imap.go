package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

const defaultFolder = "INBOX"

// imapMessage is one fetched body.
type imapMessage struct {
	uid      imap.UID
	received time.Time
	raw      []byte
}

// imapSession is the mailbox conversation the fetcher needs.
type imapSession interface {
	Login(username, password string) error
	Select(folder string) error
	PendingUIDs() ([]imap.UID, error)
	FetchBodies(uids []imap.UID) ([]imapMessage, error)
	Delete(uids []imap.UID) error
	Logout() error
	Close() error
}

type imapDialer func(account Account, p protocol, s settings) (imapSession, error)

// IMAPFetcher drains IMAP and IMAPS folders.
type IMAPFetcher struct {
	settings
	dial imapDialer
}

func NewIMAPFetcher(opts ...Option) *IMAPFetcher {
	return &IMAPFetcher{settings: newSettings(opts), dial: dialIMAP}
}

func (f *IMAPFetcher) Name() string { return familyIMAP }

// Fetch walks the folder in UID batches. After each batch the accepted messages are
// flagged \Deleted and expunged unless the account keeps them. A handler failure stops
// the run once the messages accepted before it are removed.
func (f *IMAPFetcher) Fetch(ctx context.Context, account Account, handler Handler) (err error) {
	if handler == nil {
		return errNoHandler
	}
	p, err := protocolFor(account, familyIMAP)
	if err != nil {
		return err
	}
	sess, err := f.dial(account, p, f.settings)
	if err != nil {
		return fmt.Errorf("imap connect %s: %w", p.address(account), err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			f.logger.Debug("imap close failed", zap.String("mailbox", account.Name), zap.Error(cerr))
		}
	}()

	if err := sess.Login(account.Username, string(account.Password)); err != nil {
		return fmt.Errorf("imap auth: %w", err)
	}
	folder := account.Folder
	if folder == "" {
		folder = defaultFolder
	}
	if err := sess.Select(folder); err != nil {
		return fmt.Errorf("imap select %s: %w", folder, err)
	}
	uids, err := sess.PendingUIDs()
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}

	delivered := 0
	defer func() { f.logRun(f.Name(), account, len(uids), delivered, err) }()
	for start := 0; start < len(uids); start += f.batchSize {
		end := min(start+f.batchSize, len(uids))
		n, err := f.batch(ctx, sess, account, folder, uids[start:end], handler)
		delivered += n
		if err != nil {
			return err
		}
	}
	if err := sess.Logout(); err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

// batch delivers one UID range and removes what was accepted. It reports how many
// messages the handler took.
func (f *IMAPFetcher) batch(ctx context.Context, sess imapSession, account Account, folder string, uids []imap.UID, handler Handler) (int, error) {
	msgs, err := sess.FetchBodies(uids)
	if err != nil {
		return 0, fmt.Errorf("imap fetch: %w", err)
	}
	var (
		accepted []imap.UID
		stop     error
	)
	for _, m := range msgs {
		if stop = ctx.Err(); stop != nil {
			break
		}
		received := m.received
		if received.IsZero() {
			received = f.now()
		}
		uid := strconv.FormatUint(uint64(m.uid), 10)
		meta := map[string]string{"imap_uid": uid, "imap_folder": folder}
		if stop = deliver(ctx, handler, newMessage(f.Name(), account, uid, m.raw, received, meta)); stop != nil {
			break
		}
		accepted = append(accepted, m.uid)
	}
	if account.KeepOnServer || len(accepted) == 0 {
		return len(accepted), stop
	}
	if err := sess.Delete(accepted); err != nil {
		return len(accepted), errors.Join(stop, fmt.Errorf("imap expunge: %w", err))
	}
	return len(accepted), stop
}

// clientSession adapts imapclient.Client.
type clientSession struct {
	c *imapclient.Client
}

func dialIMAP(account Account, p protocol, s settings) (imapSession, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: s.timeoutFor(account)}}
	var (
		c   *imapclient.Client
		err error
	)
	if p.tls {
		c, err = imapclient.DialTLS(p.address(account), opts)
	} else {
		c, err = imapclient.DialInsecure(p.address(account), opts)
	}
	if err != nil {
		return nil, err
	}
	return &clientSession{c: c}, nil
}

func (s *clientSession) Login(username, password string) error {
	return s.c.Login(username, password).Wait()
}

func (s *clientSession) Select(folder string) error {
	_, err := s.c.Select(folder, nil).Wait()
	return err
}

func (s *clientSession) PendingUIDs() ([]imap.UID, error) {
	data, err := s.c.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllUIDs(), nil
}

func (s *clientSession) FetchBodies(uids []imap.UID) ([]imapMessage, error) {
	whole := &imap.FetchItemBodySection{}
	bufs, err := s.c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{whole},
	}).Collect()
	if err != nil {
		return nil, err
	}
	out := make([]imapMessage, 0, len(bufs))
	for _, b := range bufs {
		body := b.FindBodySection(whole)
		if body == nil {
			continue
		}
		out = append(out, imapMessage{uid: b.UID, received: b.InternalDate, raw: body})
	}
	return out, nil
}

func (s *clientSession) Delete(uids []imap.UID) error {
	set := imap.UIDSetNum(uids...)
	flags := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}}
	if err := s.c.Store(set, flags, nil).Close(); err != nil {
		return err
	}
	return s.c.UIDExpunge(set).Close()
}

func (s *clientSession) Logout() error { return s.c.Logout().Wait() }

func (s *clientSession) Close() error { return s.c.Close() }
