package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/textproto"
	"sync"

	mail "github.com/go-mail/mail"
	pkgerrors "github.com/pkg/errors"

	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
)

// Dialer is satisfied by *mail.Dialer.
type Dialer interface {
	Dial() (mail.SendCloser, error)
}

type DialerFactory func(settings Settings, creds Credentials) Dialer

type SMTPOpener struct {
	settings  Settings
	newDialer DialerFactory
}

func NewSMTPOpener(settings Settings) *SMTPOpener {
	return &SMTPOpener{settings: settings, newDialer: NewMailDialer}
}

// NewSMTPOpenerWithDialer lets tests replace the network dialer.
func NewSMTPOpenerWithDialer(settings Settings, factory DialerFactory) *SMTPOpener {
	return &SMTPOpener{settings: settings, newDialer: factory}
}

// NewMailDialer configures a go-mail dialer for the relay.
func NewMailDialer(s Settings, creds Credentials) Dialer {
	d := mail.NewDialer(s.Host, s.Port, creds.Username, creds.Password)
	d.TLSConfig = &tls.Config{ServerName: s.Host}
	if s.Timeout > 0 {
		d.Timeout = s.Timeout
	}
	// reconnects are handled by SMTPSession
	d.RetryFailure = false

	switch s.TLSMode {
	case TLSModeSSL:
		d.SSL = true
	case TLSModeNone:
		d.StartTLSPolicy = mail.NoStartTLS
	case TLSModeAuto:
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	default:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return d
}

// Open dials and authenticates. Failures are ErrAuth or ErrConnect.
func (o *SMTPOpener) Open(ctx context.Context, creds Credentials) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	d := o.newDialer(o.settings, creds)
	sc, err := d.Dial()
	if err != nil {
		return nil, classifyDialError(err, o.settings)
	}

	logger.Debug("smtp session opened", "host", o.settings.Host, "port", o.settings.Port, "user", creds.Username)
	return &SMTPSession{dialer: d, sender: sc, host: o.settings.Host}, nil
}

func classifyDialError(err error, s Settings) error {
	wrapped := pkgerrors.Wrapf(err, "dial %s:%d", s.Host, s.Port)
	if isAuthReply(err) {
		return fmt.Errorf("%w: %w", ErrAuth, wrapped)
	}
	return fmt.Errorf("%w: %w", ErrConnect, wrapped)
}

func isAuthReply(err error) bool {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return false
	}
	switch tpErr.Code {
	case 454, 530, 534, 535, 538:
		return true
	}
	return false
}

// SMTPSession reuses one go-mail connection for all messages of a run.
type SMTPSession struct {
	mu     sync.Mutex
	dialer Dialer
	sender mail.SendCloser
	host   string
	closed bool
}

// Send delivers one message. A rejected message returns *SendError and the
// session remains usable. go-mail exposes no RSET, so the half-open SMTP
// transaction left by a rejection is cleared by reconnecting with the same
// credentials. Replies that mean the relay ended the session (421) or
// revoked the login (530/534/535), and connection failures that a reconnect
// cannot repair, return ErrFatal. A rejection followed by a failed reconnect
// returns a *SendError that matches ErrFatal too.
func (s *SMTPSession) Send(ctx context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", env.From)
	m.SetHeader("To", env.To)
	m.SetHeader("Subject", env.Subject)
	m.SetBody("text/html", env.HTML)

	err := s.sender.Send(env.From, []string{env.To}, m)
	if err == nil {
		return nil
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 421, 530, 534, 535:
			return fmt.Errorf("%w: %w", ErrFatal, pkgerrors.Wrapf(err, "relay %s ended the session", s.host))
		}
		// the rejection stands even if the session cannot be restored
		return &SendError{Recipient: env.To, Code: tpErr.Code, Err: err, Lost: s.reconnect()}
	}

	// anything that is not a protocol reply is a transport failure
	if rerr := s.reconnect(); rerr != nil {
		return rerr
	}
	return &SendError{Recipient: env.To, Err: err}
}

func (s *SMTPSession) reconnect() error {
	_ = s.sender.Close()
	sc, err := s.dialer.Dial()
	if err != nil {
		s.closed = true
		return fmt.Errorf("%w: %w", ErrFatal, pkgerrors.Wrapf(err, "reconnect to %s", s.host))
	}
	s.sender = sc
	return nil
}

func (s *SMTPSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.sender.Close()
}
