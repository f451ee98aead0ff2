package db

import (
	"strings"

	pkgerrors "github.com/piratar/members-sync/pkg/errors"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// When constraintName is provided it must match the violated constraint.
// sqlite only reports violations in the message text, so that is matched too.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if dbErr, ok := pkgerrors.DatabaseError(err); ok {
		return dbErr.Code == pgUniqueViolation &&
			(constraintName == "" || dbErr.Constraint == constraintName)
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}
