package mailer

import (
	"errors"
	"fmt"
	"testing"

	"followmail/secret"

	"github.com/stretchr/testify/assert"
)

func TestDiagnose(t *testing.T) {
	tests := []struct {
		err       error
		code      string
		temporary bool
	}{
		{timeoutErr{}, "timeout", true},
		{errors.New("dial tcp: lookup smtp.invalid: no such host"), "dial", true},
		{errors.New("535 5.7.8 Username and Password not accepted"), "auth", false},
		{errors.New("x509: certificate signed by unknown authority"), "tls", false},
		{errors.New("gomail: MandatoryStartTLS required, but SMTP server does not support STARTTLS"), "tls", false},
		{errors.New("421 4.7.0 Try again later"), "rate_limited", true},
		{errors.New("550 5.1.1 user unknown"), "invalid_recipient", false},
		{errors.New("550 5.7.1 message rejected"), "rejected", false},
		{fmt.Errorf("wrapped: %w", ErrRelayNotConfigured), "config", false},
		{&secret.DecryptionError{Err: errors.New("x")}, "decrypt", false},
		{errors.New("something odd"), "unknown", false},
	}

	for _, tt := range tests {
		code, temporary := diagnose(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
		assert.Equal(t, tt.temporary, temporary, tt.err.Error())
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "unknown", ErrorCode(errors.New("plain")))
	assert.Equal(t, "auth", ErrorCode(newSendError("send", errors.New("535 authentication failed"))))
}

func TestSendError_Message(t *testing.T) {
	err := newSendError("send", errors.New("connection reset"))
	assert.Equal(t, "smtp send: connection reset", err.Error())
}
