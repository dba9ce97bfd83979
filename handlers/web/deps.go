package web

import (
	"context"

	"followmail/handlers/api"
	"followmail/models"
	"followmail/storage"
)

// UserStore is implemented by *storage.UserStorage
type UserStore interface {
	api.UserLoader
	CreateUser(ctx context.Context, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	UpdateRelay(ctx context.Context, userID string, u storage.RelayUpdate) error
	MarkRelayVerified(ctx context.Context, userID string, tested models.RelayConfig) error
}

// ClientStore is implemented by *storage.ClientStorage
type ClientStore interface {
	api.ClientReader
	CreateClient(ctx context.Context, c *models.Client) error
	UpdateClient(ctx context.Context, c *models.Client) error
	DeleteClient(ctx context.Context, userID, id string) error
}

// Encrypter is implemented by *secret.Cipher
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// TestSender is implemented by *mailer.Sender
type TestSender interface {
	SendTest(ctx context.Context, user *models.User) error
}
