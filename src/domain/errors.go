package domain

import (
	"net/http"
)

// ErrorCode is a stable, machine-readable error name.
type ErrorCode string

const (
	ErrorCodeParameterInvalid     ErrorCode = "PARAMETER_INVALID"
	ErrorCodeResourceNotFound     ErrorCode = "RESOURCE_NOT_FOUND"
	ErrorCodeSignaturePolicy      ErrorCode = "SIGNATURE_POLICY"
	ErrorCodeAuthNotAuthenticated ErrorCode = "AUTH_NOT_AUTHENTICATED"
	ErrorCodeInternalProcess      ErrorCode = "INTERNAL_PROCESS"
	ErrorCodeRemoteProcess        ErrorCode = "REMOTE_PROCESS_ERROR"
)

// DomainError carries a stable name, the wrapped cause, and an optional
// message safe to show to the client.
type DomainError struct {
	code      ErrorCode
	cause     error
	clientMsg string
	detail    map[string]interface{}
}

type ErrorOption func(*DomainError)

// WithMsg sets the client-facing message.
func WithMsg(msg string) ErrorOption {
	return func(e *DomainError) { e.clientMsg = msg }
}

// WithDetail attaches structured detail to the error.
func WithDetail(detail map[string]interface{}) ErrorOption {
	return func(e *DomainError) { e.detail = detail }
}

func NewError(code ErrorCode, cause error, opts ...ErrorOption) DomainError {
	e := DomainError{code: code, cause: cause}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e DomainError) Error() string {
	if e.cause != nil {
		return string(e.code) + ": " + e.cause.Error()
	}
	return string(e.code)
}

func (e DomainError) Unwrap() error { return e.cause }

func (e DomainError) Name() string {
	if e.code == "" {
		return string(ErrorCodeInternalProcess)
	}
	return string(e.code)
}

func (e DomainError) ClientMsg() string { return e.clientMsg }

func (e DomainError) Detail() map[string]interface{} { return e.detail }

// HTTPStatus maps the error name to an HTTP status for the handler layer.
func (e DomainError) HTTPStatus() int {
	switch e.code {
	case ErrorCodeParameterInvalid, ErrorCodeSignaturePolicy:
		return http.StatusBadRequest
	case ErrorCodeResourceNotFound:
		return http.StatusNotFound
	case ErrorCodeAuthNotAuthenticated:
		return http.StatusUnauthorized
	case ErrorCodeRemoteProcess:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
