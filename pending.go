package gattc

import (
	"fmt"
	"sync"
	"time"

	"github.com/calliere/gattc/att"
)

// pendingRequest is the one outstanding request/response transaction on a
// connection.
type pendingRequest struct {
	reqOp  byte
	rspOp  byte
	rsp    *Response
	decode func(pdu []byte) ([][]byte, error)
	issued time.Time
	timer  *time.Timer
}

// pendingTable correlates inbound PDUs to the single outstanding request
// of one connection. It is the connection's PDUSink: the transport invokes
// HandlePDU and HandleDisconnect from the delivery goroutine, while submit
// is called from arbitrary caller goroutines.
type pendingTable struct {
	mu      sync.Mutex
	cur     *pendingRequest
	dead    bool
	timeout time.Duration
	log     Logger

	// notify receives unsolicited PDUs (notifications, indications)
	// unchanged. They never touch the outstanding-request slot.
	notify func(pdu []byte)
}

func newPendingTable(timeout time.Duration, log Logger, notify func(pdu []byte)) *pendingTable {
	return &pendingTable{
		timeout: timeout,
		log:     log,
		notify:  notify,
	}
}

// submit registers a request/response transaction and starts its protocol
// timer. It rejects if the connection is dead or another transaction is
// outstanding; the engine never queues.
func (t *pendingTable) submit(p *pendingRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return ErrNotConnected
	}
	if t.cur != nil {
		return ErrRequestPending
	}

	p.issued = time.Now()
	p.timer = time.AfterFunc(t.timeout, func() { t.onTimeout(p) })
	t.cur = p
	return nil
}

// abort clears the slot without resolving, for requests whose send failed
// before anything could arrive.
func (t *pendingTable) abort(p *pendingRequest) {
	t.mu.Lock()
	if t.cur == p {
		t.cur = nil
		p.timer.Stop()
	}
	t.mu.Unlock()
}

func (t *pendingTable) connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.dead
}

// take clears and returns the outstanding request if pred accepts it.
func (t *pendingTable) take(pred func(*pendingRequest) bool) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.cur
	if p == nil || !pred(p) {
		return nil
	}
	p.timer.Stop()
	t.cur = nil
	return p
}

// HandlePDU classifies one inbound PDU. Responses resolve the outstanding
// request; unsolicited PDUs are forwarded to the notification path; stale
// responses are dropped and logged.
func (t *pendingTable) HandlePDU(pdu []byte) {
	if len(pdu) == 0 {
		t.log.Warn("dropping empty pdu")
		return
	}
	op := pdu[0]

	if att.IsUnsolicited(op) {
		t.notify(pdu)
		return
	}

	if op == att.ErrorResponseCode {
		e := att.ErrorResponse(pdu)
		if !e.Valid() {
			t.log.Warnf("dropping malformed error response [% X]", pdu)
			return
		}
		p := t.take(func(p *pendingRequest) bool { return p.reqOp == e.RequestOpcode() })
		if p == nil {
			t.log.Warnf("dropping stale error response for opcode %#02x", e.RequestOpcode())
			return
		}
		p.rsp.resolve(nil, e.ErrorCode())
		return
	}

	p := t.take(func(p *pendingRequest) bool { return p.rspOp == op })
	if p == nil {
		t.log.Warnf("dropping stale pdu, opcode %#02x", op)
		return
	}

	payloads, err := p.decode(pdu)
	if err != nil {
		p.rsp.resolve(nil, fmt.Errorf("opcode %#02x: %s", op, err))
		return
	}
	p.rsp.resolve(payloads, nil)
}

// onTimeout fires when no matching PDU arrived within the protocol
// window. The slot is freed before the future resolves, so a new request
// may be submitted immediately.
func (t *pendingTable) onTimeout(p *pendingRequest) {
	taken := t.take(func(cur *pendingRequest) bool { return cur == p })
	if taken == nil {
		// lost the race against a response or disconnect
		return
	}
	t.log.Debugf("request opcode %#02x timed out after %s", p.reqOp, time.Since(p.issued))
	p.rsp.resolve(nil, ErrRequestTimeout)
}

// HandleDisconnect resolves any outstanding request as disconnected and
// poisons the table; subsequent submits fail with ErrNotConnected.
func (t *pendingTable) HandleDisconnect() {
	t.mu.Lock()
	t.dead = true
	p := t.cur
	t.cur = nil
	t.mu.Unlock()

	if p != nil {
		p.timer.Stop()
		p.rsp.resolve(nil, ErrDisconnected)
	}
}
