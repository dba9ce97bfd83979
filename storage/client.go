package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"followmail/models"

	"github.com/google/uuid"
)

const clientColumns = `id, user_id, name, email, followup_date, sent, sent_at,
       attempt_count, last_error, created_at, updated_at`

// ClientStorage manages client records. Every read and write made on behalf
// of a user is scoped by that user's id.
type ClientStorage struct {
	db DBTX
}

// NewClientStorage creates a new client storage instance
func NewClientStorage(db DBTX) *ClientStorage {
	return &ClientStorage{db: db}
}

func dateArg(t time.Time) string {
	return t.Format(models.DateLayout)
}

// CreateClient inserts c, assigning its ID and timestamps.
func (s *ClientStorage) CreateClient(ctx context.Context, c *models.Client) error {
	if !validID(c.UserID) {
		return ErrNotFound
	}
	c.ID = uuid.New().String()

	query := `INSERT INTO clients (id, user_id, name, email, followup_date)
         VALUES ($1, $2, $3, $4, $5::date)
         RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, c.ID, c.UserID, c.Name, c.Email, dateArg(c.FollowupDate)).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListClients returns the user's clients ordered by follow-up date.
func (s *ClientStorage) ListClients(ctx context.Context, userID string) ([]*models.Client, error) {
	if !validID(userID) {
		return []*models.Client{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE user_id = $1 ORDER BY followup_date, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	clients := []*models.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return clients, nil
}

// GetClient returns the client only when userID owns it.
func (s *ClientStorage) GetClient(ctx context.Context, userID, id string) (*models.Client, error) {
	if !validID(userID) || !validID(id) {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1 AND user_id = $2`, id, userID)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// UpdateClient saves the editable fields of c. Send state is left alone: a
// sent client stays sent whatever its new date, and a failed one becomes due
// again on the new date because it was never marked sent.
func (s *ClientStorage) UpdateClient(ctx context.Context, c *models.Client) error {
	if !validID(c.UserID) || !validID(c.ID) {
		return ErrNotFound
	}

	query := `UPDATE clients
            SET name = $3,
                email = $4,
                followup_date = $5::date,
                updated_at = now()
          WHERE id = $1 AND user_id = $2
      RETURNING sent, sent_at, attempt_count, last_error, updated_at`

	var sentAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, c.ID, c.UserID, c.Name, c.Email, dateArg(c.FollowupDate)).
		Scan(&c.Sent, &sentAt, &c.AttemptCount, &c.LastError, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	c.SentAt = nil
	if sentAt.Valid {
		t := sentAt.Time
		c.SentAt = &t
	}
	return nil
}

// DeleteClient removes the client only when userID owns it.
func (s *ClientStorage) DeleteClient(ctx context.Context, userID, id string) error {
	if !validID(userID) || !validID(id) {
		return ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// ListDueClients returns every unsent client whose follow-up date is today
// and whose owner has a verified relay. See models.IsDue.
func (s *ClientStorage) ListDueClients(ctx context.Context, today time.Time) ([]models.DueClient, error) {
	query := `SELECT c.id, c.user_id, c.name, c.email, c.followup_date, c.sent, c.sent_at,
       c.attempt_count, c.last_error, c.created_at, c.updated_at,
       u.id, u.email, u.smtp_email, u.smtp_host, u.smtp_port,
       u.smtp_password, u.smtp_tls, u.smtp_verified
  FROM clients c
  JOIN users u ON u.id = c.user_id
 WHERE c.followup_date = $1::date
   AND NOT c.sent
   AND u.smtp_verified`

	rows, err := s.db.QueryContext(ctx, query, dateArg(today))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var due []models.DueClient
	for rows.Next() {
		var (
			c      models.Client
			u      models.User
			sentAt sql.NullTime
		)
		err := rows.Scan(
			&c.ID, &c.UserID, &c.Name, &c.Email, &c.FollowupDate, &c.Sent, &sentAt,
			&c.AttemptCount, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
			&u.ID, &u.Email, &u.SMTPEmail, &u.SMTPHost, &u.SMTPPort,
			&u.SMTPPassword, &u.SMTPTLS, &u.SMTPVerified,
		)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if sentAt.Valid {
			c.SentAt = &sentAt.Time
		}
		c.FollowupDate = models.DateOf(c.FollowupDate)
		due = append(due, models.DueClient{User: &u, Client: &c})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return due, nil
}

// MarkSent records a delivered follow-up. It affects nothing when the client
// was already marked sent.
func (s *ClientStorage) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET sent = TRUE, sent_at = $2, updated_at = now() WHERE id = $1 AND NOT sent`,
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// RecordFailure increments the attempt counter and stores the failure text.
func (s *ClientStorage) RecordFailure(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET attempt_count = attempt_count + 1, last_error = $2, updated_at = now() WHERE id = $1`,
		id, message)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var (
		c      models.Client
		sentAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Email, &c.FollowupDate, &c.Sent, &sentAt,
		&c.AttemptCount, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	c.FollowupDate = models.DateOf(c.FollowupDate)
	return &c, nil
}
