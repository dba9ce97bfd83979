package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"followmail/secret"
)

// SendError wraps any failure of a single send attempt.
type SendError struct {
	Op        string // config | decrypt | send
	Code      string // see diagnose
	Temporary bool   // a later attempt may succeed
	Err       error
}

func newSendError(op string, err error) *SendError {
	code, temporary := diagnose(err)
	return &SendError{Op: op, Code: code, Temporary: temporary, Err: err}
}

func (e *SendError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ErrorCode returns the diagnostic code of err, or "unknown" when err is not a SendError.
func ErrorCode(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Code
	}
	return "unknown"
}

// diagnose classifies relay failures from their type and reply text.
func diagnose(err error) (code string, temporary bool) {
	if err == nil {
		return "unknown", false
	}

	switch {
	case errors.Is(err, ErrRelayNotConfigured):
		return "config", false
	case errors.Is(err, secret.ErrDecryption):
		return "decrypt", false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout", true
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout"):
		return "timeout", true
	case strings.Contains(s, "connection refused"),
		strings.Contains(s, "no such host"),
		strings.Contains(s, "dial tcp"):
		return "dial", true
	case strings.Contains(s, "x509:"),
		strings.Contains(s, "tls") && (strings.Contains(s, "handshake") || strings.Contains(s, "certificate")),
		strings.Contains(s, "starttls"):
		return "tls", false
	case strings.Contains(s, "5.7.8"),
		strings.Contains(s, "535"),
		strings.Contains(s, "username and password not accepted"),
		strings.Contains(s, "authentication failed"),
		strings.Contains(s, "auth") && strings.Contains(s, "failed"):
		return "auth", false
	case strings.Contains(s, "4.7.0"),
		strings.Contains(s, "rate limit"),
		strings.Contains(s, "try again later"),
		strings.Contains(s, "421"),
		strings.Contains(s, "451"):
		return "rate_limited", true
	case strings.Contains(s, "5.1.1"),
		strings.Contains(s, "user unknown"),
		strings.Contains(s, "mailbox not found"):
		return "invalid_recipient", false
	case strings.Contains(s, "5.7.1"),
		strings.Contains(s, "message rejected"),
		strings.Contains(s, "policy"):
		return "rejected", false
	}

	if errors.As(err, &ne) {
		return "network", true
	}
	return "unknown", false
}
