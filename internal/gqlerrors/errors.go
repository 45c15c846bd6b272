// Package gqlerrors defines the typed errors surfaced by the query runner and
// the GraphQL layer on top of it.
package gqlerrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// BadRequest means the caller sent something unusable.
	BadRequest Kind = "BAD_USER_INPUT"
	// NotFound means a referenced record does not exist.
	NotFound Kind = "NOT_FOUND"
	// Internal covers everything the caller cannot fix.
	Internal Kind = "INTERNAL_SERVER_ERROR"
)

// Error carries a kind, a client-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Extensions implements graphql-go's extended error interface.
func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": string(e.Kind)}
}

// NewBadRequest builds a BadRequest error.
func NewBadRequest(message string) *Error {
	return &Error{Kind: BadRequest, Message: message}
}

// NewNotFound builds a NotFound error.
func NewNotFound(message string) *Error {
	return &Error{Kind: NotFound, Message: message}
}

// NewInternal builds an Internal error.
func NewInternal(message string) *Error {
	return &Error{Kind: Internal, Message: message}
}

// Wrap attaches kind and message to err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not one of ours.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsBadRequest reports whether err is a BadRequest error.
func IsBadRequest(err error) bool { return KindOf(err) == BadRequest }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

// IsInternal reports whether err is an Internal error.
func IsInternal(err error) bool { return KindOf(err) == Internal }

// PostgreSQL SQLSTATE codes we translate.
const (
	pgInvalidSchemaName  = "3F000"
	pgUndefinedFunction  = "42883"
	pgUniqueViolation    = "23505"
	pgInsufficientPrivil = "42501"
)

// FromPostgres translates driver-level errors raised while executing against a
// workspace. Unknown errors are returned unchanged.
func FromPostgres(err error, workspaceID string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgInvalidSchemaName:
		return Wrap(NotFound, fmt.Sprintf("Workspace %s has no data source", workspaceID), err)
	case pgUndefinedFunction:
		return Wrap(Internal, "pg_graphql extension is not installed", err)
	case pgUniqueViolation:
		return Wrap(BadRequest, "Record violates a uniqueness constraint", err)
	case pgInsufficientPrivil:
		return Wrap(Internal, "Insufficient privileges on workspace data source", err)
	default:
		return err
	}
}
