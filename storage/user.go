package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"followmail/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, email, password_hash, smtp_email, smtp_host, smtp_port,
       smtp_password, smtp_tls, smtp_verified, created_at, updated_at`

// UserStorage manages user records
type UserStorage struct {
	db   DBTX
	cost int
}

// NewUserStorage creates a new user storage instance
func NewUserStorage(db DBTX) *UserStorage {
	return &UserStorage{db: db, cost: bcrypt.DefaultCost}
}

// RelayUpdate carries the relay settings form. An empty Password keeps the
// stored one; a non-empty Password must already be encrypted.
type RelayUpdate struct {
	Email    string
	Host     string
	Port     int
	Password string
	TLS      bool
}

// NormalizeEmail lowercases and trims an account email
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers a new account with a bcrypt-hashed password.
func (s *UserStorage) CreateUser(ctx context.Context, email, password string) (*models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Email:        NormalizeEmail(email),
		PasswordHash: string(hashedPassword),
		SMTPTLS:      true,
	}

	query := `INSERT INTO users (id, email, password_hash)
         VALUES ($1, $2, $3)
         RETURNING created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query, user.ID, user.Email, user.PasswordHash).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (s *UserStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail retrieves a user by login email
func (s *UserStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email)))
}

// Authenticate returns the user whose email and password match.
func (s *UserStorage) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// UpdateRelay stores new relay settings and always clears the verified flag,
// even when the values are unchanged.
func (s *UserStorage) UpdateRelay(ctx context.Context, userID string, u RelayUpdate) error {
	if !validID(userID) {
		return ErrNotFound
	}

	query := `UPDATE users
            SET smtp_email = $2,
                smtp_host = $3,
                smtp_port = $4,
                smtp_password = COALESCE(NULLIF($5::text, ''), smtp_password),
                smtp_tls = $6,
                smtp_verified = FALSE,
                updated_at = now()
          WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, userID, u.Email, u.Host, u.Port, u.Password, u.TLS)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// MarkRelayVerified records a successful test send of tested. Settings saved
// while the test was in flight are left unverified and yield ErrRelayChanged.
func (s *UserStorage) MarkRelayVerified(ctx context.Context, userID string, tested models.RelayConfig) error {
	if !validID(userID) {
		return ErrNotFound
	}

	query := `UPDATE users
            SET smtp_verified = TRUE,
                updated_at = now()
          WHERE id = $1
            AND smtp_email = $2
            AND smtp_host = $3
            AND smtp_port = $4
            AND smtp_password = $5
            AND smtp_tls = $6`

	res, err := s.db.ExecContext(ctx, query, userID,
		tested.Username, tested.Host, tested.Port, tested.Password, tested.TLS)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrRelayChanged
		}
		return err
	}
	return nil
}

func (s *UserStorage) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash,
		&user.SMTPEmail, &user.SMTPHost, &user.SMTPPort,
		&user.SMTPPassword, &user.SMTPTLS, &user.SMTPVerified,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
