package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/apiclient/pkg/cache"
	"github.com/Sternrassler/apiclient/pkg/notify"
)

type testVideo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// statusError is a transport error carrying an HTTP status.
type statusError struct {
	code int
}

func (e *statusError) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusError) HTTPStatusCode() int { return e.code }

type fakeTask struct {
	cancelled atomic.Bool
}

func (t *fakeTask) Cancel() { t.cancelled.Store(true) }

// dispatchCall is one recorded transport dispatch. Tests complete it with
// succeed or fail.
type dispatchCall struct {
	method    Method
	path      string
	params    map[string]string
	task      *fakeTask
	onSuccess func(Task, any)
	onFailure func(Task, error)
}

func (c *dispatchCall) succeed(body any) { c.onSuccess(c.task, body) }
func (c *dispatchCall) fail(err error)   { c.onFailure(c.task, err) }

// fakeTransport records dispatches. When respond is set it is called
// synchronously for every dispatch.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []*dispatchCall
	respond func(*dispatchCall)
	nilTask bool
}

func (f *fakeTransport) Dispatch(method Method, path string, params map[string]string,
	onSuccess func(Task, any), onFailure func(Task, error)) Task {
	if f.nilTask {
		return nil
	}

	call := &dispatchCall{
		method:    method,
		path:      path,
		params:    params,
		task:      &fakeTask{},
		onSuccess: onSuccess,
		onFailure: onFailure,
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		respond(call)
	}
	return call.task
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) call(t *testing.T, i int) *dispatchCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.calls) {
		t.Fatalf("dispatch %d not made, have %d", i, len(f.calls))
	}
	return f.calls[i]
}

// fakeCache is an in-memory ResponseCache. In hold mode lookups stay pending
// until release is called.
type fakeCache struct {
	mu      sync.Mutex
	records map[string]cache.Payload
	hold    bool
	pending []func()
	fetches int
	stores  int
	evicts  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: make(map[string]cache.Payload)}
}

func (f *fakeCache) Store(key cache.CacheKey, payload cache.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	f.records[key.String()] = payload
}

func (f *fakeCache) Fetch(key cache.CacheKey, done func(cache.Payload, error)) {
	f.mu.Lock()
	f.fetches++
	payload, ok := f.records[key.String()]
	resolve := func() {
		if ok {
			done(payload, nil)
			return
		}
		done(nil, cache.ErrCacheMiss)
	}
	if f.hold {
		f.pending = append(f.pending, resolve)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	resolve()
}

func (f *fakeCache) Evict(key cache.CacheKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicts++
	delete(f.records, key.String())
}

// release resolves the pending lookups.
func (f *fakeCache) release() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, resolve := range pending {
		resolve()
	}
}

func (f *fakeCache) counts() (fetches, stores, evicts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.stores, f.evicts
}

func (f *fakeCache) has(key cache.CacheKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[key.String()]
	return ok
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

// fakeScheduler records scheduled calls; tests run them with fire.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{delay: d, f: f}
	s.timers = append(s.timers, timer)
	return timer
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, timer := range s.timers {
		out[i] = timer.delay
	}
	return out
}

// fire runs timer i unless it was stopped.
func (s *fakeScheduler) fire(t *testing.T, i int) {
	t.Helper()
	s.mu.Lock()
	if i >= len(s.timers) {
		s.mu.Unlock()
		t.Fatalf("timer %d not scheduled, have %d", i, len(s.timers))
	}
	timer := s.timers[i]
	s.mu.Unlock()

	if !timer.stopped.Load() {
		timer.f()
	}
}

type publishedEvent struct {
	kind    notify.Kind
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(kind notify.Kind, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{kind: kind, payload: payload})
}

func (p *fakePublisher) kinds() []notify.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.kind
	}
	return out
}

// recorder collects delivered results.
type recorder[T any] struct {
	mu      sync.Mutex
	results []Result[T]
	signal  chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{signal: make(chan struct{}, 64)}
}

func (r *recorder[T]) complete(res Result[T]) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder[T]) snapshot() []Result[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result[T](nil), r.results...)
}

// wait blocks until n results were delivered.
func (r *recorder[T]) wait(t *testing.T, n int) []Result[T] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(r.snapshot()) < n {
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("got %d results, want %d", len(r.snapshot()), n)
		}
	}
	return r.snapshot()
}

type testEnv struct {
	client    *Client
	transport *fakeTransport
	cache     *fakeCache
	scheduler *fakeScheduler
	publisher *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		transport: &fakeTransport{},
		cache:     newFakeCache(),
		scheduler: &fakeScheduler{},
		publisher: &fakePublisher{},
	}

	c, err := New(Config{
		Transport: env.transport,
		Cache:     env.cache,
		Executor:  InlineExecutor{},
		Scheduler: env.scheduler,
		Publisher: env.publisher,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	env.client = c
	return env
}
