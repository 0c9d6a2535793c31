package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the progression services.
// Kinds implement error so callers can match them with errors.Is.
type ErrorKind string

const (
	KindUserNotFound              ErrorKind = "user_not_found"
	KindLedgerWriteFailed         ErrorKind = "ledger_write_failed"
	KindTotalRecomputeFailed      ErrorKind = "total_recompute_failed"
	KindUserUpdateFailed          ErrorKind = "user_update_failed"
	KindMissionOrProgressNotFound ErrorKind = "mission_or_progress_not_found"
	KindMissionNotCompleted       ErrorKind = "mission_not_completed"
	KindRewardAlreadyClaimed      ErrorKind = "reward_already_claimed"
	KindInvalidAmount             ErrorKind = "invalid_amount"
	KindInvalidInput              ErrorKind = "invalid_input"
	KindForbidden                 ErrorKind = "forbidden"
	KindUnexpected                ErrorKind = "unexpected_error"
)

func (k ErrorKind) Error() string {
	return string(k)
}

// ServiceError carries an operation-scoped code, a kind and the underlying cause.
type ServiceError struct {
	code string
	kind ErrorKind
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is reports whether target is the kind of this error.
func (e *ServiceError) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.kind
}

// Code returns the "<operation>.<reason>" code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the error classification.
func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

// NewServiceError builds a ServiceError with code "<operation>.<reason>".
func NewServiceError(operation, reason string, kind ErrorKind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

// KindOf extracts the kind from err. Unclassified errors are unexpected.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	var kind ErrorKind
	if errors.As(err, &kind) {
		return kind
	}
	return KindUnexpected
}
