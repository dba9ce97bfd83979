package models

import "time"

// User owns clients and, optionally, one outbound mail relay configuration
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose in JSON
	SMTPEmail    string    `json:"smtp_email"` // Relay login name and sender address
	SMTPHost     string    `json:"smtp_host"`
	SMTPPort     int       `json:"smtp_port"`
	SMTPPassword string    `json:"-"` // Ciphertext, see secret.Cipher
	SMTPTLS      bool      `json:"smtp_tls"`
	SMTPVerified bool      `json:"smtp_verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RelayConfig is the connection information for a user's mail relay.
// Password holds the encrypted form.
type RelayConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
}

// HasRelay reports whether every field needed to connect to the relay is set
func (u *User) HasRelay() bool {
	return u.SMTPHost != "" && u.SMTPPort > 0 && u.SMTPEmail != "" && u.SMTPPassword != ""
}

// Relay returns the user's relay configuration
func (u *User) Relay() RelayConfig {
	return RelayConfig{
		Host:     u.SMTPHost,
		Port:     u.SMTPPort,
		Username: u.SMTPEmail,
		Password: u.SMTPPassword,
		TLS:      u.SMTPTLS,
	}
}
