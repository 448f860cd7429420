// Package transport holds the outbound mail relay session a dispatch run
// sends every message through.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuth means the relay rejected the credentials while opening the session.
	ErrAuth = errors.New("smtp authentication failed")
	// ErrConnect means the relay could not be reached or the handshake failed.
	ErrConnect = errors.New("smtp connection failed")
	// ErrFatal means the session broke mid-run and cannot carry more messages.
	ErrFatal = errors.New("smtp session lost")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("smtp session closed")
)

// SendError is a rejection of a single message. The session stays usable
// unless Lost is set, in which case the error also matches ErrFatal.
type SendError struct {
	Recipient string
	Code      int
	Err       error
	Lost      error
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		msg := fmt.Sprintf("send to %s rejected (%d): %v", e.Recipient, e.Code, e.Err)
		if e.Lost != nil {
			msg += "; " + e.Lost.Error()
		}
		return msg
	}
	return fmt.Sprintf("send to %s failed: %v", e.Recipient, e.Err)
}

func (e *SendError) Unwrap() []error {
	if e.Lost != nil {
		return []error{e.Err, e.Lost}
	}
	return []error{e.Err}
}

const (
	TLSModeStartTLS = "starttls"
	TLSModeSSL      = "ssl"
	TLSModeAuto     = "auto"
	TLSModeNone     = "none"
)

type Settings struct {
	Host    string
	Port    int
	TLSMode string
	Timeout time.Duration
}

// Credentials live only as long as the run that received them.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return "Credentials{Username: " + c.Username + ", Password: <redacted>}"
}

type Envelope struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Session is one authenticated relay connection. It is not safe for
// concurrent use.
type Session interface {
	Send(ctx context.Context, env Envelope) error
	Close() error
}

type Opener interface {
	Open(ctx context.Context, creds Credentials) (Session, error)
}
