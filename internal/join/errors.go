package join

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLError carries the statement that failed next to the driver error.
type SQLError struct {
	Query string
	Err   error
}

func (e *SQLError) Error() string {
	return "SQL Error: " + e.Err.Error()
}

func (e *SQLError) Unwrap() error {
	return e.Err
}

// SQLState returns the Postgres error code, or "" when the failure did not
// come from the server.
func (e *SQLError) SQLState() string {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
