package remote

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by Update and Get when the document does not exist.
var ErrNotFound = errors.New("remote document not found")

// ErrOrganizationMismatch is returned when a write targets a document owned by
// another organization. It always arrives wrapped in a NonRetryableError.
var ErrOrganizationMismatch = errors.New("document belongs to another organization")

// NonRetryableError marks a rejection that replaying the same mutation cannot fix.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err should send an event straight to quarantine.
// Updating a missing document is permanent.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetry NonRetryableError
	if errors.As(err, &nonRetry) {
		return true
	}
	return errors.Is(err, ErrNotFound)
}

// classify marks postgres errors that will fail the same way on every retry:
// data exceptions (22), integrity violations (23) and privilege errors (42501).
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "42501" || strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23") {
			return NewNonRetryableError(err)
		}
	}
	return err
}
