package gattc

import (
	"github.com/pkg/errors"

	"github.com/calliere/gattc/att"
)

var (
	// ErrConnectFailed means the peripheral was unreachable or not found.
	// Fatal to session construction; never retried by the engine.
	ErrConnectFailed = errors.New("connect failed")

	// ErrNotConnected means an operation was attempted on a torn-down
	// session.
	ErrNotConnected = errors.New("not connected")

	// ErrRequestPending means a request/response operation was submitted
	// while another was still outstanding on the same connection. The
	// engine rejects rather than queues; callers serialize their own
	// request/response calls.
	ErrRequestPending = errors.New("request already pending")

	// ErrRequestTimeout means no matching response arrived within the
	// protocol window. The connection remains usable afterwards.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrWaitTimeout means the caller's own wait window elapsed. The
	// underlying request may still resolve later; poll or wait again.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrDisconnected means the link was lost while a request was
	// outstanding.
	ErrDisconnected = errors.New("disconnected")

	// ErrInvalidConfiguration means an operation was invoked with an
	// unusable parameter combination, e.g. Discover with neither a
	// timeout nor a handler.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrScanActive means a discovery scan is already running on this
	// service.
	ErrScanActive = errors.New("scan already running")
)

// ProtocolError extracts the peripheral-reported attribute error code from
// err, if err originated from an Error Response.
func ProtocolError(err error) (att.Error, bool) {
	e, ok := errors.Cause(err).(att.Error)
	return e, ok
}
