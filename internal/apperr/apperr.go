package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an engine error so transport layers can map it to a status
// code without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyAttempted
	KindExpired
	KindForbidden
	KindLocked
	KindAlreadyFinalized
	KindIncompleteGrading
	KindValidation
)

type Error struct {
	Kind    Kind
	Message string
	// Meta carries structured context the caller needs (e.g. the existing
	// attempt id and status on AlreadyAttempted, the expiry on Expired).
	Meta map[string]interface{}
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func AlreadyAttempted(format string, args ...interface{}) *Error {
	return newf(KindAlreadyAttempted, format, args...)
}

func Expired(format string, args ...interface{}) *Error {
	return newf(KindExpired, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

func Locked(format string, args ...interface{}) *Error {
	return newf(KindLocked, format, args...)
}

func AlreadyFinalized(format string, args ...interface{}) *Error {
	return newf(KindAlreadyFinalized, format, args...)
}

func IncompleteGrading(format string, args ...interface{}) *Error {
	return newf(KindIncompleteGrading, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// WithMeta attaches structured context and returns the same error for
// chaining: apperr.Expired("...").WithMeta("attempt_id", id).
func (e *Error) WithMeta(key string, value interface{}) *Error {
	if e.Meta == nil {
		e.Meta = map[string]interface{}{}
	}
	e.Meta[key] = value
	return e
}

// KindOf returns the Kind of err, or KindUnknown for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MetaOf returns the structured context of err, if any.
func MetaOf(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Meta
	}
	return nil
}

// HTTPStatus maps an error to the status code the REST surface should emit.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyAttempted, KindIncompleteGrading:
		return http.StatusConflict
	case KindExpired:
		return http.StatusGone
	case KindForbidden:
		return http.StatusForbidden
	case KindLocked, KindAlreadyFinalized:
		return http.StatusLocked
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
