package client

import (
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/Sternrassler/apiclient/pkg/cache"
	"github.com/Sternrassler/apiclient/pkg/mapping"
)

// Method is an HTTP method supported by the API.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// CacheFetchPolicy selects how a request combines the cache and the network.
type CacheFetchPolicy int

const (
	// CacheOnly answers from the cache and never touches the network.
	CacheOnly CacheFetchPolicy = iota

	// NetworkOnly skips the cache for reading.
	NetworkOnly

	// CacheThenNetwork looks up the cache and dispatches the network call
	// together. A cache hit arriving first is delivered as non-final.
	CacheThenNetwork

	// TryNetworkThenCache dispatches the network call and falls back to the
	// cache once the network attempts are exhausted.
	TryNetworkThenCache
)

var fetchPolicyNames = map[CacheFetchPolicy]string{
	CacheOnly:           "cacheOnly",
	NetworkOnly:         "networkOnly",
	CacheThenNetwork:    "cacheThenNetwork",
	TryNetworkThenCache: "tryNetworkThenCache",
}

func (p CacheFetchPolicy) String() string {
	if name, ok := fetchPolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("CacheFetchPolicy(%d)", int(p))
}

// ParseCacheFetchPolicy parses a policy name such as "cacheThenNetwork".
// Matching is case-insensitive.
func ParseCacheFetchPolicy(s string) (CacheFetchPolicy, error) {
	for p, name := range fetchPolicyNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown cache fetch policy %q", s)
}

// defaultFetchPolicy returns the policy used when none is given.
func defaultFetchPolicy(m Method) CacheFetchPolicy {
	if m == MethodGet {
		return CacheThenNetwork
	}
	return NetworkOnly
}

// ResultKind declares what a request expects back from the API.
type ResultKind int

const (
	// ResultTyped maps the response payload to the request's model type.
	ResultTyped ResultKind = iota

	// ResultEmpty expects no body; a success yields an empty response.
	ResultEmpty
)

// Mapper converts a raw payload into a model, starting at keyPath.
type Mapper[T any] interface {
	Map(payload cache.Payload, keyPath string) (T, error)
}

type requestSpec struct {
	method       Method
	path         string
	params       map[string]string
	fetchPolicy  CacheFetchPolicy
	retryPolicy  RetryPolicy
	shouldCache  bool
	modelKeyPath string
	resultKind   ResultKind
}

// RequestOption configures a request built by NewRequest.
type RequestOption func(*requestSpec)

// WithParams sets the request parameters.
func WithParams(params map[string]string) RequestOption {
	return func(s *requestSpec) {
		s.params = maps.Clone(params)
	}
}

// WithParam sets a single request parameter.
func WithParam(name, value string) RequestOption {
	return func(s *requestSpec) {
		if s.params == nil {
			s.params = make(map[string]string)
		}
		s.params[name] = value
	}
}

// WithFetchPolicy sets the cache fetch policy.
func WithFetchPolicy(p CacheFetchPolicy) RequestOption {
	return func(s *requestSpec) {
		s.fetchPolicy = p
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) RequestOption {
	return func(s *requestSpec) {
		s.retryPolicy = p
	}
}

// WithCacheResponse controls whether a successful response is stored.
func WithCacheResponse(enabled bool) RequestOption {
	return func(s *requestSpec) {
		s.shouldCache = enabled
	}
}

// WithModelKeyPath sets the dot-separated path of the payload substructure
// that is mapped to the model.
func WithModelKeyPath(keyPath string) RequestOption {
	return func(s *requestSpec) {
		s.modelKeyPath = keyPath
	}
}

// WithResultKind sets the expected result kind.
func WithResultKind(k ResultKind) RequestOption {
	return func(s *requestSpec) {
		s.resultKind = k
	}
}

// Request describes one API call whose response maps to T. Requests are
// values; the With/with helpers return modified copies.
//
// Defaults: GET requests use CacheThenNetwork and cache their responses,
// other methods use NetworkOnly and do not cache. All requests make a
// single attempt.
type Request[T any] struct {
	spec   requestSpec
	mapper Mapper[T]
}

// NewRequest builds a request for method and path.
func NewRequest[T any](method Method, path string, opts ...RequestOption) Request[T] {
	spec := requestSpec{
		method:      method,
		path:        path,
		fetchPolicy: defaultFetchPolicy(method),
		retryPolicy: SingleAttempt(),
		shouldCache: method == MethodGet,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	return Request[T]{spec: spec}
}

func (r Request[T]) Method() Method                { return r.spec.method }
func (r Request[T]) Path() string                  { return r.spec.path }
func (r Request[T]) FetchPolicy() CacheFetchPolicy { return r.spec.fetchPolicy }
func (r Request[T]) RetryPolicy() RetryPolicy      { return r.spec.retryPolicy }
func (r Request[T]) ShouldCacheResponse() bool     { return r.spec.shouldCache }
func (r Request[T]) ModelKeyPath() string          { return r.spec.modelKeyPath }
func (r Request[T]) ResultKind() ResultKind        { return r.spec.resultKind }

// Params returns a copy of the request parameters.
func (r Request[T]) Params() map[string]string {
	return maps.Clone(r.spec.params)
}

// WithMapper returns a copy of r mapped by m instead of the default mapper.
func (r Request[T]) WithMapper(m Mapper[T]) Request[T] {
	r.mapper = m
	return r
}

// CacheKey returns the fingerprint of r. It covers the method, path,
// parameters and the identity of T.
func (r Request[T]) CacheKey() cache.CacheKey {
	return cache.CacheKey{
		Method:     string(r.spec.method),
		Path:       r.spec.path,
		Params:     r.spec.params,
		ResultType: typeIdentity[T](),
	}
}

func (r Request[T]) withFetchPolicy(p CacheFetchPolicy) Request[T] {
	r.spec.fetchPolicy = p
	return r
}

func (r Request[T]) withRetryPolicy(p RetryPolicy) Request[T] {
	r.spec.retryPolicy = p
	return r
}

func (r Request[T]) modelMapper() Mapper[T] {
	if r.mapper != nil {
		return r.mapper
	}
	return mapping.Mapper[T]{}
}

func typeIdentity[T any]() string {
	t := reflect.TypeFor[T]()
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
