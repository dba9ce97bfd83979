package storage

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned for missing records and for records owned by another user.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when signing up with a registered email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidCredentials is returned by Authenticate for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrRelayChanged is returned by MarkRelayVerified when the stored relay
	// settings no longer match the ones that were tested.
	ErrRelayChanged = errors.New("relay settings changed since the test")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// validID rejects identifiers the uuid column would refuse, so lookups by a
// malformed id read as "not found" rather than as a database error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
