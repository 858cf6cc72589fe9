package client

import (
	"github.com/Sternrassler/apiclient/pkg/cache"
)

// Response is one delivered result of a request.
type Response[T any] struct {
	// Model is the mapped result. It is the zero value for ResultEmpty requests.
	Model T

	// Payload is the raw dictionary Model was mapped from.
	Payload cache.Payload

	// IsCachedResponse reports whether the response came from the cache.
	IsCachedResponse bool

	// IsFinalResponse reports whether no further delivery follows for the
	// same submission.
	IsFinalResponse bool
}

// Result carries either a Response or the error that ended the submission.
// A result with a non-nil Err is always final.
type Result[T any] struct {
	Response Response[T]
	Err      error
}

// Completion receives the results of a submission.
type Completion[T any] func(Result[T])
