package db

import "strings"

// IsUniqueViolation reports whether the provided error references a unique
// violation. The constraint name matches postgres messages; sqlite reports
// the column form ("UNIQUE constraint failed: table.column") with no
// constraint name, so the generic markers are always checked too.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
