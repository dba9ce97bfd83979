// Package mailer delivers follow-up and relay test messages through the
// user's own mail relay, one connection per message.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"followmail/models"
	"followmail/utils"

	mail "github.com/go-mail/mail"
)

const (
	// DefaultTimeout bounds the dial and every protocol exchange of one send
	DefaultTimeout = 10 * time.Second
	// ImplicitTLSPort is the submission port that speaks TLS from the first byte
	ImplicitTLSPort = 465
)

// ErrRelayNotConfigured is returned when the user has no complete relay configuration.
var ErrRelayNotConfigured = errors.New("mail relay not configured")

// Decrypter opens stored relay passwords. *secret.Cipher satisfies it.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// sendFunc performs one dial-authenticate-transmit-close cycle.
type sendFunc func(d *mail.Dialer, m *mail.Message) error

func dialAndSend(d *mail.Dialer, m *mail.Message) error {
	return d.DialAndSend(m)
}

// Sender sends single messages through a relay.
type Sender struct {
	cipher  Decrypter
	timeout time.Duration
	send    sendFunc
	log     *utils.Logger
}

// Option configures a Sender
type Option func(*Sender)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger; utils.Log is used otherwise.
func WithLogger(l *utils.Logger) Option {
	return func(s *Sender) { s.log = l }
}

func withSendFunc(fn sendFunc) Option {
	return func(s *Sender) { s.send = fn }
}

// New creates a Sender that decrypts relay passwords with cipher.
func New(cipher Decrypter, opts ...Option) *Sender {
	s := &Sender{
		cipher:  cipher,
		timeout: DefaultTimeout,
		send:    dialAndSend,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = utils.Log
	}
	return s
}

// Send transmits one plain-text message through relay. It never retries; every
// failure is returned as a *SendError.
func (s *Sender) Send(ctx context.Context, relay models.RelayConfig, from, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return newSendError("send", err)
	}
	if relay.Host == "" || relay.Port <= 0 || relay.Username == "" || relay.Password == "" {
		return newSendError("config", ErrRelayNotConfigured)
	}

	password, err := s.cipher.Decrypt(relay.Password)
	if err != nil {
		return newSendError("decrypt", err)
	}

	m := mail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	log := s.log.WithFields(map[string]interface{}{
		"host": relay.Host,
		"port": relay.Port,
		"to":   to,
	})
	log.Debug("Sending %q", subject)

	start := time.Now()
	if err := s.send(s.newDialer(relay, password), m); err != nil {
		sendErr := newSendError("send", err)
		log.Warn("Relay send failed after %s (%s): %v", time.Since(start).Round(time.Millisecond), sendErr.Code, err)
		return sendErr
	}

	log.Info("Message sent in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// newDialer connects with implicit TLS on port 465 and requires STARTTLS on
// every other port.
func (s *Sender) newDialer(relay models.RelayConfig, password string) *mail.Dialer {
	d := mail.NewDialer(relay.Host, relay.Port, relay.Username, password)
	d.Timeout = s.timeout
	d.RetryFailure = false
	d.TLSConfig = &tls.Config{
		ServerName: relay.Host,
		MinVersion: tls.VersionTLS12,
	}

	if relay.Port == ImplicitTLSPort {
		d.SSL = true
	} else {
		d.SSL = false
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return d
}

// SendTest sends the verification message from the relay address to itself.
func (s *Sender) SendTest(ctx context.Context, user *models.User) error {
	if user == nil || !user.HasRelay() {
		return newSendError("config", ErrRelayNotConfigured)
	}
	return s.Send(ctx, user.Relay(), user.SMTPEmail, user.SMTPEmail, TestSubject, TestBody)
}

// SendFollowup sends the follow-up message for client through its owner's relay.
func (s *Sender) SendFollowup(ctx context.Context, user *models.User, client *models.Client) error {
	if user == nil || !user.HasRelay() {
		return newSendError("config", ErrRelayNotConfigured)
	}
	if client == nil || client.Email == "" {
		return newSendError("config", fmt.Errorf("client has no email address"))
	}
	return s.Send(ctx, user.Relay(), user.SMTPEmail, client.Email, FollowupSubject, FollowupBody(user, client))
}
