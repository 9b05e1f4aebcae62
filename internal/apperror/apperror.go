// Package apperror classifies gateway failures into the kinds the pipeline
// knows how to answer.
package apperror

import (
	"errors"
	"net/http"
)

// Kind identifies which stage rejected a request and how.
type Kind string

const (
	KindAuthentication      Kind = "AUTHENTICATION_FAILURE"
	KindRateLimited         Kind = "RATE_LIMIT_EXCEEDED"
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	KindRouteNotFound       Kind = "ROUTE_NOT_FOUND"
	KindDependencyDegraded  Kind = "DEPENDENCY_DEGRADED"
	KindInternal            Kind = "INTERNAL"
)

// Error is a classified gateway error. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Status maps the kind to the HTTP status the gateway answers with.
func (e *Error) Status() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindRouteNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func Unauthorized(msg string, err error) *Error {
	return &Error{Kind: KindAuthentication, Message: msg, Err: err}
}

func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Message: msg}
}

func UpstreamUnavailable(msg string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: msg, Err: err}
}

func RouteNotFound(msg string) *Error {
	return &Error{Kind: KindRouteNotFound, Message: msg}
}

func Degraded(msg string, err error) *Error {
	return &Error{Kind: KindDependencyDegraded, Message: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// From returns err as an *Error, wrapping anything unclassified as Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An error occurred in the API Gateway", err)
}

// Body is the JSON payload written for every gateway-produced error.
type Body struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func (e *Error) Body() Body {
	return Body{Error: e.Message, Status: e.Status()}
}
