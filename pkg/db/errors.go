package db

import (
	"database/sql"
	"errors"
	"strings"
)

// IsUniqueViolation reports whether the provided error references a unique
// violation (postgres or sqlite). When constraintName is provided, the helper looks
// for the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

var unavailableMarkers = []string{
	"database is closed",
	"sql: database is closed",
	"unable to open database file",
	"no such table",
	"disk i/o error",
	"database disk image is malformed",
	"connection refused",
}

// IsUnavailable reports whether err means the storage engine itself cannot be
// used, as opposed to a failed statement against a healthy engine.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range unavailableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
