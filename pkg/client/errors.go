package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/apiclient/pkg/cache"
	"github.com/Sternrassler/apiclient/pkg/ratelimit"
)

// Sentinel errors matched by errors.Is against *Error values of the
// corresponding kind.
var (
	// ErrCachedResponseNotFound is reported when a cache lookup misses.
	ErrCachedResponseNotFound = errors.New("cached response not found")

	// ErrRequestMalformed is reported when the transport returns no task.
	ErrRequestMalformed = errors.New("request malformed")

	// ErrInvalidResponse is reported when a payload cannot be mapped.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrCancelled is reported for a cancelled transport call.
	ErrCancelled = errors.New("request cancelled")
)

// Kind identifies the category of a request failure.
type Kind string

const (
	KindCacheMiss            Kind = "cache_miss"
	KindCacheCorrupt         Kind = "cache_corrupt"
	KindResponseShapeInvalid Kind = "response_shape_invalid"
	KindTransportCancelled   Kind = "transport_cancelled"
	KindTransportFailure     Kind = "transport_failure"
	KindServiceUnavailable   Kind = "service_unavailable"
	KindInvalidCredential    Kind = "invalid_credential"
	KindRequestMalformed     Kind = "request_malformed"
	KindUndefined            Kind = "undefined"
)

var kindSentinels = map[Kind]error{
	KindCacheMiss:            ErrCachedResponseNotFound,
	KindRequestMalformed:     ErrRequestMalformed,
	KindResponseShapeInvalid: ErrInvalidResponse,
	KindTransportCancelled:   ErrCancelled,
}

// Error is the error delivered for a failed submission.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of e's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the kind of err, or KindUndefined when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUndefined
}

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatusCode() int
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// IsCancellation reports whether err stems from a cancelled call.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// ErrorClass represents a classification of transport errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and locally blocked calls.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassShape represents payloads that failed mapping.
	ErrorClassShape ErrorClass = "shape"

	// ErrorClassCancelled represents cancelled calls.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// ClassifyError categorizes an error for observability.
func ClassifyError(err error) ErrorClass {
	switch {
	case IsCancellation(err):
		return ErrorClassCancelled
	case errors.Is(err, ratelimit.ErrBlocked):
		return ErrorClassRateLimit
	case errors.Is(err, ErrInvalidResponse):
		return ErrorClassShape
	case errors.Is(err, ErrRequestMalformed):
		return ErrorClassClient
	}

	switch code := StatusCode(err); {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ErrorClassNetwork
	}
}

// transportError wraps a failed network attempt into an *Error. 503 and 401
// responses get their own kinds.
func transportError(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if IsCancellation(err) {
		return &Error{Kind: KindTransportCancelled, Op: op, Err: err}
	}

	code := StatusCode(err)
	kind := KindTransportFailure
	switch code {
	case http.StatusServiceUnavailable:
		kind = KindServiceUnavailable
	case http.StatusUnauthorized:
		kind = KindInvalidCredential
	}
	return &Error{Kind: kind, Op: op, StatusCode: code, Err: err}
}

// cacheError wraps a failed cache lookup into an *Error.
func cacheError(err error) *Error {
	if errors.Is(err, cache.ErrCacheMiss) {
		return &Error{Kind: KindCacheMiss, Op: "cache fetch", Err: err}
	}
	return &Error{Kind: KindCacheCorrupt, Op: "cache fetch", Err: err}
}
