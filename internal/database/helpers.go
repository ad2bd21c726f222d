package database

import (
	"database/sql"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleStatus is returned when a compare-and-set status update matched no row because
	// another worker changed the status first.
	ErrStaleStatus = errors.New("status changed concurrently")
	// ErrLeaseNotAcquired is returned when a listing group is not in a status that allows
	// unification to start.
	ErrLeaseNotAcquired = errors.New("listing group lease not acquired")
	// ErrLeaseLost is returned when the unification commit finds the group no longer in processing.
	ErrLeaseLost = errors.New("listing group lease lost before commit")
)

// execRequireRows validates that an ExecContext result affected at least one row.
// Returns err if non-nil, or notFoundErr if rowsAffected is 0.
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

// notFound maps sql.ErrNoRows onto ErrNotFound and leaves other errors untouched.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
