package client

import (
	"github.com/Sternrassler/apiclient/pkg/cache"
	"github.com/Sternrassler/apiclient/pkg/notify"
)

// Task is an in-flight transport call.
type Task interface {
	Cancel()
}

// Transport issues API calls. Dispatch starts the call and returns its task,
// or nil when the call could not be built. Exactly one of onSuccess and
// onFailure is called per dispatched task. A cancelled task reports a
// failure matching context.Canceled.
type Transport interface {
	Dispatch(method Method, path string, params map[string]string,
		onSuccess func(task Task, body any), onFailure func(task Task, err error)) Task
}

// Publisher broadcasts process-wide events.
type Publisher interface {
	Publish(kind notify.Kind, payload any)
}

// ResponseCache stores and looks up raw payloads by request fingerprint.
// *cache.ResponseCache implements it.
type ResponseCache interface {
	Store(key cache.CacheKey, payload cache.Payload)
	Fetch(key cache.CacheKey, done func(cache.Payload, error))
	Evict(key cache.CacheKey)
}
