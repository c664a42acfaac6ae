// Package apperr defines the stable error taxonomy returned across the API,
// matching, and settlement layers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier. Clients may match on
// it; the human-readable message is free to change.
type Code string

const (
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeChainMismatch      Code = "CHAIN_MISMATCH"
	CodeExpiredOrder       Code = "EXPIRED_ORDER"
	CodeNonceTooLow        Code = "NONCE_TOO_LOW"
	CodeDuplicateOrder     Code = "DUPLICATE_ORDER"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeUnknownPair        Code = "UNKNOWN_PAIR"
	CodeTickSizeViolation  Code = "TICK_SIZE_VIOLATION"
	CodeBelowMinNotional   Code = "BELOW_MIN_NOTIONAL"
	CodeOrderNotFound      Code = "ORDER_NOT_FOUND"
	CodeNotOrderOwner      Code = "NOT_ORDER_OWNER"
	CodeOrderNotCancelable Code = "ORDER_NOT_CANCELABLE"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeRiskRejected       Code = "RISK_REJECTED"
	CodeBlacklisted        Code = "BLACKLISTED"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeInternal           Code = "INTERNAL"
)

var httpStatus = map[Code]int{
	CodeInvalidSignature:    http.StatusUnauthorized,
	CodeChainMismatch:       http.StatusUnauthorized,
	CodeExpiredOrder:        http.StatusBadRequest,
	CodeNonceTooLow:         http.StatusConflict,
	CodeDuplicateOrder:      http.StatusConflict,
	CodeInsufficientBalance: http.StatusUnprocessableEntity,
	CodeUnknownPair:         http.StatusNotFound,
	CodeTickSizeViolation:   http.StatusBadRequest,
	CodeBelowMinNotional:    http.StatusBadRequest,
	CodeOrderNotFound:       http.StatusNotFound,
	CodeNotOrderOwner:       http.StatusForbidden,
	CodeOrderNotCancelable:  http.StatusConflict,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeRiskRejected:        http.StatusUnprocessableEntity,
	CodeBlacklisted:         http.StatusForbidden,
	CodeInvalidRequest:      http.StatusBadRequest,
	CodeInternal:            http.StatusInternalServerError,
}

// E is a typed application error carrying a stable code and HTTP status.
type E struct {
	Code    Code
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

// HTTPStatus returns the HTTP status code a REST handler should respond with.
func (e *E) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an error with a code and message, no wrapped cause.
func New(code Code, message string) *E {
	return &E{Code: code, Message: message}
}

// Wrap builds an error with a code, message, and wrapped cause.
func Wrap(code Code, message string, err error) *E {
	return &E{Code: code, Message: message, Err: err}
}

// As extracts an *E from err, mirroring errors.As for callers that only
// need the typed error.
func As(err error) (*E, bool) {
	var e *E
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
