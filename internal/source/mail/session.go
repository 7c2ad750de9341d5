package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/oshokin/alarm-relay/internal/config"
)

// Session is one authenticated connection to a selected mailbox.
type Session interface {
	// WaitNew blocks until the server announces a new message (true), the
	// timeout expires (false) or ctx is done.
	WaitNew(ctx context.Context, timeout time.Duration) (bool, error)
	// FetchLatest returns the newest message or nil for an empty mailbox.
	FetchLatest(ctx context.Context) ([]byte, error)
	// Unseen returns the UIDs of messages without the \Seen flag.
	Unseen(ctx context.Context) ([]uint32, error)
	// Fetch returns the message with the given UID or nil if it is gone.
	Fetch(ctx context.Context, uid uint32) ([]byte, error)
	// Close logs out.
	Close() error
}

// Dialer opens a session for a mail source.
type Dialer func(ctx context.Context, src *config.MailSource) (Session, error)

// imapSession implements Session on go-imap.
type imapSession struct {
	client *client.Client
	// keepalive restarts IDLE before the server drops the connection.
	keepalive time.Duration
	// newMail holds a token once the server reported a mailbox change.
	newMail chan struct{}
	// done stops the update watcher.
	done chan struct{}
}

var errIdleEnded = errors.New("idle ended unexpectedly")

// DialIMAP connects, logs in and selects the configured mailbox.
//
//nolint:ireturn // Session is the seam used by tests.
func DialIMAP(_ context.Context, src *config.MailSource) (Session, error) {
	var (
		c   *client.Client
		err error
	)

	if src.TLS {
		c, err = client.DialTLS(src.Address(), nil)
	} else {
		c, err = client.Dial(src.Address())
	}

	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", src.Address(), err)
	}

	updates := make(chan client.Update, 32)
	c.Updates = updates

	if err = c.Login(src.User, src.Password); err != nil {
		_ = c.Logout()

		return nil, fmt.Errorf("login as %s: %w", src.User, err)
	}

	if _, err = c.Select(src.Mailbox, false); err != nil {
		_ = c.Logout()

		return nil, fmt.Errorf("select %s: %w", src.Mailbox, err)
	}

	s := &imapSession{
		client:    c,
		keepalive: src.Keepalive,
		newMail:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	// Updates caused by SELECT describe mail that was already there.
	drain(updates)

	go s.watch(updates)

	return s, nil
}

func drain(updates <-chan client.Update) {
	for {
		select {
		case <-updates:
		default:
			return
		}
	}
}

// watch turns mailbox updates into a new-mail token and keeps the update
// channel drained so the client never blocks on it.
func (s *imapSession) watch(updates <-chan client.Update) {
	for {
		select {
		case <-s.done:
			return
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); !ok {
				continue
			}

			select {
			case s.newMail <- struct{}{}:
			default:
			}
		}
	}
}

func (s *imapSession) WaitNew(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-s.newMail:
		return true, nil
	default:
	}

	stop := make(chan struct{})
	idleDone := make(chan error, 1)

	go func() {
		idleDone <- s.client.Idle(stop, &client.IdleOptions{LogoutTimeout: s.keepalive})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var announced bool

	select {
	case <-s.newMail:
		announced = true
	case <-timer.C:
	case <-ctx.Done():
	case err := <-idleDone:
		if err == nil {
			err = errIdleEnded
		}

		return false, fmt.Errorf("idle: %w", err)
	}

	close(stop)

	if err := <-idleDone; err != nil {
		return announced, fmt.Errorf("idle: %w", err)
	}

	return announced, ctx.Err()
}

func (s *imapSession) FetchLatest(context.Context) ([]byte, error) {
	status := s.client.Mailbox()
	if status == nil || status.Messages == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(status.Messages)

	return s.fetch(seqset, false)
}

func (s *imapSession) Unseen(context.Context) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}

	return uids, nil
}

func (s *imapSession) Fetch(_ context.Context, uid uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	return s.fetch(seqset, true)
}

func (s *imapSession) fetch(seqset *imap.SeqSet, byUID bool) ([]byte, error) {
	section := new(imap.BodySectionName)
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		if byUID {
			done <- s.client.UidFetch(seqset, items, messages)
		} else {
			done <- s.client.Fetch(seqset, items, messages)
		}
	}()

	var (
		raw     []byte
		readErr error
	)

	for msg := range messages {
		if raw != nil || readErr != nil {
			continue
		}

		body := msg.GetBody(section)
		if body == nil {
			continue
		}

		raw, readErr = io.ReadAll(body)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	if readErr != nil {
		return nil, fmt.Errorf("read body: %w", readErr)
	}

	return raw, nil
}

func (s *imapSession) Close() error {
	close(s.done)

	return s.client.Logout()
}
