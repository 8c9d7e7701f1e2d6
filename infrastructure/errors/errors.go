// Package errors provides unified error handling for the reservation control plane.
// It maps the five error kinds of the reservation lifecycle (validation, state
// precondition, protocol failure, resource failure, fatal) onto a single
// structured error type carrying an HTTP status for the REST adapter.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Validation errors (1xxx) — ill-formed request, no state change.
	ErrCodeInvalidInput     ErrorCode = "RES_VAL_1001"
	ErrCodeMissingParameter ErrorCode = "RES_VAL_1002"
	ErrCodeInvalidTerm      ErrorCode = "RES_VAL_1003"
	ErrCodeInvalidSlice     ErrorCode = "RES_VAL_1004"

	// State precondition errors (2xxx) — operation not legal from (state, pending).
	ErrCodeWrongState        ErrorCode = "RES_STATE_2001"
	ErrCodeAlreadyTerminal   ErrorCode = "RES_STATE_2002"
	ErrCodeBlockedByPending  ErrorCode = "RES_STATE_2003"
	ErrCodePredecessorUnmet  ErrorCode = "RES_STATE_2004"
	ErrCodeExtendDuringPrime ErrorCode = "RES_STATE_2005"

	// Protocol failure errors (3xxx) — peer rejected or timed out.
	ErrCodeProtocolRejected ErrorCode = "RES_PROTO_3001"
	ErrCodeProtocolTimeout  ErrorCode = "RES_PROTO_3002"
	ErrCodeUnknownPeer      ErrorCode = "RES_PROTO_3003"

	// Resource/concrete-set failure errors (4xxx) — setup/probe/close error.
	ErrCodeConcreteSetupFailed ErrorCode = "RES_CONC_4001"
	ErrCodeConcreteProbeFailed ErrorCode = "RES_CONC_4002"
	ErrCodeConcreteCloseFailed ErrorCode = "RES_CONC_4003"

	// Fatal errors (5xxx) — persistence or tick-service failure.
	ErrCodeStoreFailure ErrorCode = "RES_FATAL_5001"
	ErrCodeTickFailure  ErrorCode = "RES_FATAL_5002"
	ErrCodeInternal     ErrorCode = "RES_FATAL_5003"

	// Not-found errors (6xxx) — a store lookup found nothing by that id.
	ErrCodeNotFound ErrorCode = "RES_NOTFOUND_6001"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidTerm(reason string) *ServiceError {
	return New(ErrCodeInvalidTerm, "invalid term", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func InvalidSlice(reason string) *ServiceError {
	return New(ErrCodeInvalidSlice, "invalid slice", http.StatusBadRequest).
		WithDetails("reason", reason)
}

// State precondition errors

func WrongState(reservationID, state, pending string) *ServiceError {
	return New(ErrCodeWrongState, "operation not legal from current state", http.StatusConflict).
		WithDetails("reservation_id", reservationID).
		WithDetails("state", state).
		WithDetails("pending", pending)
}

// WrongStateOp is WrongState with the attempted operation attached, so a
// caller inspecting the error can tell which trigger was rejected.
func WrongStateOp(reservationID, op, state, pending string) *ServiceError {
	return WrongState(reservationID, state, pending).WithDetails("op", op)
}

func AlreadyTerminal(reservationID string) *ServiceError {
	return New(ErrCodeAlreadyTerminal, "reservation is already terminal", http.StatusConflict).
		WithDetails("reservation_id", reservationID)
}

func BlockedByPending(reservationID, pending string) *ServiceError {
	return New(ErrCodeBlockedByPending, "reservation has an in-flight operation", http.StatusConflict).
		WithDetails("reservation_id", reservationID).
		WithDetails("pending", pending)
}

func PredecessorUnmet(reservationID, predecessorID string) *ServiceError {
	return New(ErrCodePredecessorUnmet, "predecessor reservation is not yet active", http.StatusConflict).
		WithDetails("reservation_id", reservationID).
		WithDetails("predecessor_id", predecessorID)
}

func ExtendDuringPrime(reservationID string) *ServiceError {
	return New(ErrCodeExtendDuringPrime, "extension overlaps an in-flight prime", http.StatusConflict).
		WithDetails("reservation_id", reservationID)
}

// Protocol failure errors

func ProtocolRejected(operation, peer, reason string) *ServiceError {
	return New(ErrCodeProtocolRejected, "peer rejected protocol operation", http.StatusBadGateway).
		WithDetails("operation", operation).
		WithDetails("peer", peer).
		WithDetails("reason", reason)
}

func ProtocolTimeout(operation, peer string) *ServiceError {
	return New(ErrCodeProtocolTimeout, "protocol operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation).
		WithDetails("peer", peer)
}

func UnknownPeer(guid string) *ServiceError {
	return New(ErrCodeUnknownPeer, "unknown peer", http.StatusNotFound).
		WithDetails("guid", guid)
}

// Resource/concrete-set failure errors

func ConcreteSetupFailed(reservationID string, err error) *ServiceError {
	return Wrap(ErrCodeConcreteSetupFailed, "concrete resource setup failed", http.StatusInternalServerError, err).
		WithDetails("reservation_id", reservationID)
}

func ConcreteProbeFailed(reservationID string, err error) *ServiceError {
	return Wrap(ErrCodeConcreteProbeFailed, "concrete resource probe failed", http.StatusInternalServerError, err).
		WithDetails("reservation_id", reservationID)
}

func ConcreteCloseFailed(reservationID string, err error) *ServiceError {
	return Wrap(ErrCodeConcreteCloseFailed, "concrete resource close failed", http.StatusInternalServerError, err).
		WithDetails("reservation_id", reservationID)
}

// Fatal errors

func StoreFailure(operation string, err error) *ServiceError {
	return Wrap(ErrCodeStoreFailure, "persistence operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func TickFailure(err error) *ServiceError {
	return Wrap(ErrCodeTickFailure, "tick service failure", http.StatusInternalServerError, err)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// NotFound reports that a store lookup for kind (e.g. "reservation",
// "slice") found nothing under id.
func NotFound(kind, id string) *ServiceError {
	return New(ErrCodeNotFound, kind+" not found", http.StatusNotFound).
		WithDetails("id", id)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsFatal reports whether the error is one of the fatal-kind codes that
// should halt an actor's event processor.
func IsFatal(err error) bool {
	serviceErr := GetServiceError(err)
	if serviceErr == nil {
		return false
	}
	switch serviceErr.Code {
	case ErrCodeStoreFailure, ErrCodeTickFailure:
		return true
	default:
		return false
	}
}
