package database

import (
	stderrors "errors"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/docflow/docflow-backend/pkg/errors"
)

// MapDriverError converts a postgres or sqlite error to an AppError.
// Returns nil if the error is not a recognised driver error.
func MapDriverError(err error) *errors.AppError {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return mapPQError(pqErr)
	}

	var liteErr *sqlite.Error
	if stderrors.As(err, &liteErr) {
		return mapSQLiteError(liteErr)
	}

	return nil
}

func mapPQError(pqErr *pq.Error) *errors.AppError {
	switch pqErr.Code {
	// Unique constraint violation
	case "23505":
		return errors.Conflict("a record with these values already exists")

	// Not null violation
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{col: "must not be empty"})

	// Value too long for the column
	case "22001":
		return errors.BadRequest("value too large to store")

	// Serialization failure / deadlock, the caller may retry
	case "40001", "40P01":
		return errors.Conflict("concurrent update, retry the request")

	default:
		return nil
	}
}

func mapSQLiteError(liteErr *sqlite.Error) *errors.AppError {
	// Extended result codes keep the primary code in the low byte.
	switch liteErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return errors.Conflict("a record with these values already exists")
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return errors.Conflict("store is busy, retry the request")
	case sqlite3.SQLITE_TOOBIG:
		return errors.BadRequest("value too large to store")
	default:
		return nil
	}
}
