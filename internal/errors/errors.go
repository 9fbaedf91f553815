// Package errors defines the typed failures returned by every savings service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the failure kind. Transport layers render it verbatim.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NotFound"
	CodeUnauthorized      ErrorCode = "Unauthorized"
	CodeUnauthenticated   ErrorCode = "Unauthenticated"
	CodeInvalidAmount     ErrorCode = "InvalidAmount"
	CodeInvalidIndex      ErrorCode = "InvalidIndex"
	CodeInvalidItem       ErrorCode = "InvalidItem"
	CodeInvalidInput      ErrorCode = "InvalidInput"
	CodeInsufficientFunds ErrorCode = "InsufficientFunds"
	CodeAlreadyOccupied   ErrorCode = "AlreadyOccupied"
	CodeSelfVote          ErrorCode = "SelfVote"
	CodeAlreadyDecided    ErrorCode = "AlreadyDecided"
	CodeDuplicateVote     ErrorCode = "DuplicateVote"
	CodeNoTokens          ErrorCode = "NoTokensAvailable"
	CodeIllegalTransition ErrorCode = "IllegalTransition"
	CodeRateLimited       ErrorCode = "RateLimited"
	CodeInternal          ErrorCode = "Internal"
)

// ServiceError is the error type surfaced by services and rendered by the API.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches any ServiceError carrying the same code, so callers can compare
// against the package sentinels with errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = &ServiceError{Code: CodeNotFound, HTTPStatus: http.StatusNotFound}
	ErrUnauthorized      = &ServiceError{Code: CodeUnauthorized, HTTPStatus: http.StatusForbidden}
	ErrUnauthenticated   = &ServiceError{Code: CodeUnauthenticated, HTTPStatus: http.StatusUnauthorized}
	ErrInvalidAmount     = &ServiceError{Code: CodeInvalidAmount, HTTPStatus: http.StatusBadRequest}
	ErrInvalidIndex      = &ServiceError{Code: CodeInvalidIndex, HTTPStatus: http.StatusBadRequest}
	ErrInvalidItem       = &ServiceError{Code: CodeInvalidItem, HTTPStatus: http.StatusBadRequest}
	ErrInvalidInput      = &ServiceError{Code: CodeInvalidInput, HTTPStatus: http.StatusBadRequest}
	ErrInsufficientFunds = &ServiceError{Code: CodeInsufficientFunds, HTTPStatus: http.StatusPaymentRequired}
	ErrAlreadyOccupied   = &ServiceError{Code: CodeAlreadyOccupied, HTTPStatus: http.StatusConflict}
	ErrSelfVote          = &ServiceError{Code: CodeSelfVote, HTTPStatus: http.StatusForbidden}
	ErrAlreadyDecided    = &ServiceError{Code: CodeAlreadyDecided, HTTPStatus: http.StatusConflict}
	ErrDuplicateVote     = &ServiceError{Code: CodeDuplicateVote, HTTPStatus: http.StatusConflict}
	ErrNoTokens          = &ServiceError{Code: CodeNoTokens, HTTPStatus: http.StatusConflict}
	ErrIllegalTransition = &ServiceError{Code: CodeIllegalTransition, HTTPStatus: http.StatusConflict}
	ErrRateLimited       = &ServiceError{Code: CodeRateLimited, HTTPStatus: http.StatusTooManyRequests}
	ErrInternal          = &ServiceError{Code: CodeInternal, HTTPStatus: http.StatusInternalServerError}
)

func newError(proto *ServiceError, msg string) *ServiceError {
	return &ServiceError{Code: proto.Code, HTTPStatus: proto.HTTPStatus, Message: msg}
}

// NotFound reports that the resource id does not resolve.
func NotFound(resource, id string) *ServiceError {
	return newError(ErrNotFound, fmt.Sprintf("%s %s not found", resource, id)).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Unauthorized reports that the caller does not own or may not act on a resource.
func Unauthorized(msg string) *ServiceError {
	if msg == "" {
		msg = "caller is not permitted to access this resource"
	}
	return newError(ErrUnauthorized, msg)
}

// Unauthenticated reports a missing or invalid caller identity.
func Unauthenticated(msg string) *ServiceError {
	if msg == "" {
		msg = "authentication required"
	}
	return newError(ErrUnauthenticated, msg)
}

func InvalidAmount(msg string) *ServiceError { return newError(ErrInvalidAmount, msg) }

func InvalidIndex(index, size int) *ServiceError {
	return newError(ErrInvalidIndex, fmt.Sprintf("cell %d outside [0,%d)", index, size)).
		WithDetails("cell", index)
}

func InvalidItem(msg string) *ServiceError { return newError(ErrInvalidItem, msg) }

func InvalidInput(msg string) *ServiceError { return newError(ErrInvalidInput, msg) }

// InsufficientFunds reports a coin spend larger than the balance.
func InsufficientFunds(have, need int64) *ServiceError {
	return newError(ErrInsufficientFunds, fmt.Sprintf("need %d coins, have %d", need, have)).
		WithDetails("balance", have).
		WithDetails("required", need)
}

func AlreadyOccupied(cell int) *ServiceError {
	return newError(ErrAlreadyOccupied, fmt.Sprintf("cell %d already holds an item", cell)).
		WithDetails("cell", cell)
}

func SelfVote() *ServiceError {
	return newError(ErrSelfVote, "requesters cannot vote on their own request")
}

func AlreadyDecided(status string) *ServiceError {
	return newError(ErrAlreadyDecided, fmt.Sprintf("request already %s", status)).
		WithDetails("status", status)
}

func DuplicateVote(voter string) *ServiceError {
	return newError(ErrDuplicateVote, fmt.Sprintf("%s already voted on this request", voter))
}

func NoTokensAvailable() *ServiceError {
	return newError(ErrNoTokens, "no approve tokens available; complete another grid row")
}

// IllegalTransition reports a status change the goal state machine forbids.
func IllegalTransition(from, to string) *ServiceError {
	return newError(ErrIllegalTransition, fmt.Sprintf("cannot move from %s to %s", from, to)).
		WithDetails("from", from).
		WithDetails("to", to)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(ErrRateLimited, fmt.Sprintf("rate limit of %d per %s exceeded", limit, window))
}

// Internal wraps an unexpected infrastructure failure.
func Internal(msg string, err error) *ServiceError {
	e := newError(ErrInternal, msg)
	e.Err = err
	return e
}

// GetServiceError extracts the ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus maps any error to a response status; unknown errors are 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// CodeOf returns the error code, or CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if se := GetServiceError(err); se != nil {
		return se.Code
	}
	return CodeInternal
}
