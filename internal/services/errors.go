package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/pkg/logger"
)

// Kind classifies every error the core returns.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindTimeout
	KindStoreUnavailable
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Retryable reports whether the same call may succeed later.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindStoreUnavailable
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrInvalid          = &Error{Kind: KindInvalid}
)

// Error is the typed error returned by every core operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error

	// concealed marks a permission denial rendered as NotFound.
	concealed bool
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func invalidf(op, format string, args ...interface{}) *Error {
	return newError(KindInvalid, op, format, args...)
}

func forbiddenf(op, format string, args ...interface{}) *Error {
	return newError(KindForbidden, op, format, args...)
}

func conflictf(op, format string, args ...interface{}) *Error {
	return newError(KindConflict, op, format, args...)
}

func notFoundf(op, format string, args ...interface{}) *Error {
	return newError(KindNotFound, op, format, args...)
}

// projectNotFound is the single rendering of a missing project. Concealed
// denials use it too so that callers cannot tell the two apart.
func projectNotFound(op string, concealed bool) *Error {
	e := notFoundf(op, "project not found")
	e.concealed = concealed
	return e
}

func collaboratorNotFound(op string, concealed bool) *Error {
	e := notFoundf(op, "collaborator not found")
	e.concealed = concealed
	return e
}

// asCollaboratorNotFound renders any NotFound reached through a
// collaborator id, including a concealed denial, as a missing collaborator.
func asCollaboratorNotFound(op string, err error) error {
	if KindOf(err) == KindNotFound {
		return collaboratorNotFound(op, IsConcealed(err))
	}
	return err
}

// KindOf returns the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// IsConcealed reports whether a NotFound actually hides a denial.
func IsConcealed(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.concealed
}

// Postgres SQLSTATE codes the core recognizes.
const (
	pgUniqueViolation  = "23505"
	pgQueryCanceled    = "57014"
	pgPolicyRecursion  = "42P17"
	pgConnectionPrefix = "08"
)

// classifyStoreError maps driver and ORM failures onto the core's kinds.
// Errors that are already typed pass through untouched.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	kind, msg := classify(err)
	e := &Error{Kind: kind, Op: op, Msg: msg, Err: err}
	if kind == KindStoreUnavailable || kind == KindTimeout {
		storeErrorsTotal.WithLabelValues(op, kind.String()).Inc()
		logger.Error().Err(err).Str("op", op).Str("kind", kind.String()).Msg("store error")
	}
	return e
}

// isContextError reports whether err came from a cancelled or expired
// context.
func isContextError(err error) bool {
	return err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}

func classify(err error) (Kind, string) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound, "record not found"
	case isContextError(err):
		return KindTimeout, "operation timed out"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return KindConflict, "duplicate record"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			return KindConflict, "duplicate record"
		case pgErr.Code == pgQueryCanceled:
			return KindTimeout, "operation timed out"
		case pgErr.Code == pgPolicyRecursion:
			return KindStoreUnavailable, "row-level security policy recursion"
		case strings.HasPrefix(pgErr.Code, pgConnectionPrefix):
			return KindStoreUnavailable, "database connection failed"
		}
	}
	return KindStoreUnavailable, "store unavailable"
}
