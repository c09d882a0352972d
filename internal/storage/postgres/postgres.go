// Package postgres implements the session collaborator ports on pgx. Every
// commit unit is a single transaction; uniqueness invariants live in the
// schema and surface here as Conflict errors.
package postgres

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const codeUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
