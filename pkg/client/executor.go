package client

import "sync"

// Executor is the context completions are delivered on.
type Executor interface {
	Execute(f func())
}

// InlineExecutor runs each function on the calling goroutine.
type InlineExecutor struct{}

// Execute runs f immediately.
func (InlineExecutor) Execute(f func()) { f() }

// SerialExecutor runs functions one at a time on a dedicated goroutine, in
// the order they were submitted.
type SerialExecutor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewSerialExecutor starts a serial executor.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

// Execute enqueues f. Functions submitted after Close are dropped.
func (e *SerialExecutor) Execute(f func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, f)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close runs the functions already queued and stops the executor.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	<-e.done
}

func (e *SerialExecutor) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		f := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		f()
	}
}
