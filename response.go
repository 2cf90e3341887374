package gattc

import (
	"sync"
	"time"
)

// ResponseState is the observable state of a Response.
type ResponseState int

const (
	// Pending means the response has not been resolved yet.
	Pending ResponseState = iota
	// Succeeded means the response resolved with a payload.
	Succeeded
	// Failed means the response resolved with a failure reason.
	Failed
)

func (s ResponseState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// A ResolvedHandler is invoked exactly once when a Response resolves. It
// runs on the goroutine that performs the resolution (the connection's
// delivery goroutine or a timer), never the submitter's, and must not
// block.
type ResolvedHandler interface {
	HandleResolved(*Response)
}

// ResolvedHandlerFunc adapts a plain function to a ResolvedHandler.
type ResolvedHandlerFunc func(*Response)

// HandleResolved calls f(r).
func (f ResolvedHandlerFunc) HandleResolved(r *Response) { f(r) }

// A Response is the eventual result of one outstanding request. It
// resolves exactly once, with either a payload or a failure reason, and
// can be observed by polling or by a blocking wait from any number of
// goroutines.
type Response struct {
	mu       sync.Mutex
	done     chan struct{}
	state    ResponseState
	payloads [][]byte
	err      error
	handler  ResolvedHandler
}

// NewResponse creates an unresolved Response.
func NewResponse() *Response {
	return &Response{done: make(chan struct{})}
}

// NewResponseWithHandler creates an unresolved Response whose handler is
// invoked at resolution time.
func NewResponseWithHandler(h ResolvedHandler) *Response {
	r := NewResponse()
	r.handler = h
	return r
}

// Poll returns the current state without blocking. Repeatable and
// side-effect free.
func (r *Response) Poll() ResponseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Wait blocks until the response resolves or timeout elapses. A timeout
// of zero or less waits indefinitely. It returns the resolution failure,
// nil on success, or ErrWaitTimeout if the wait window elapsed first; a
// wait timeout does not resolve the response, which may still resolve
// later.
func (r *Response) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-r.done
		return r.Err()
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-r.done:
		return r.Err()
	case <-t.C:
		return ErrWaitTimeout
	}
}

// Bytes returns the first payload, or nil if the response has not
// succeeded.
func (r *Response) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[0]
}

// Payloads returns all payloads. Read-by-UUID requests may resolve with
// several, one per matching attribute instance.
func (r *Response) Payloads() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads
}

// Err returns the failure reason, or nil while pending or on success.
func (r *Response) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// resolve assigns the result. Single-assignment: a second call is a no-op.
func (r *Response) resolve(payloads [][]byte, err error) {
	r.mu.Lock()
	if r.state != Pending {
		r.mu.Unlock()
		GetLogger().Debugf("response already %s, dropping duplicate resolution", r.state)
		return
	}
	if err != nil {
		r.state = Failed
		r.err = err
	} else {
		r.state = Succeeded
		r.payloads = payloads
	}
	h := r.handler
	r.mu.Unlock()

	close(r.done)
	if h != nil {
		h.HandleResolved(r)
	}
}
