package gattc

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/calliere/gattc/att"
)

// A NotificationHandler receives unsolicited attribute-value pushes. It is
// invoked on the connection's delivery goroutine for both notifications
// and indications and must not block; the engine confirms indications
// itself once the handler returns.
type NotificationHandler interface {
	HandleNotification(handle uint16, value []byte)
}

// NotificationHandlerFunc adapts a plain function to a
// NotificationHandler.
type NotificationHandlerFunc func(handle uint16, value []byte)

// HandleNotification calls f(handle, value).
func (f NotificationHandlerFunc) HandleNotification(handle uint16, value []byte) {
	f(handle, value)
}

// A Requester is a GATT session with one peripheral. Request/response
// operations come in a blocking form and an -Async form taking a caller
// supplied Response; the blocking form is a thin wrapper that allocates a
// Response, submits and waits. At most one request/response transaction
// may be outstanding at a time; overlapping submissions are rejected with
// ErrRequestPending. WriteCmd and notification delivery are exempt from
// that constraint.
//
// Blocking calls must not be made from the connection's delivery
// goroutine (a notification or resolution handler), or they deadlock.
type Requester struct {
	addr  Addr
	conn  Conn
	table *pendingTable
	log   Logger

	muHandler sync.RWMutex
	handler   NotificationHandler
}

// Connect dials the peripheral at addr over tr and returns a connected
// session. Construction blocks until the link is up or fails with
// ErrConnectFailed as the cause.
func Connect(tr Transport, addr string, opts ...Option) (*Requester, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	r := &Requester{
		addr:    NewAddr(addr),
		log:     cfg.logger.ChildLogger(map[string]interface{}{"peer": addr}),
		handler: cfg.handler,
	}
	r.table = newPendingTable(cfg.requestTimeout, r.log, r.handleUnsolicited)

	conn, err := tr.Dial(r.addr, r.table)
	if err != nil {
		return nil, errors.WithMessage(ErrConnectFailed, err.Error())
	}
	r.conn = conn

	r.log.Debug("connected")
	return r, nil
}

// Addr returns the peripheral's address.
func (r *Requester) Addr() Addr { return r.addr }

// IsConnected reports whether the session is still usable.
func (r *Requester) IsConnected() bool { return r.table.connected() }

// Disconnect tears the session down. Any outstanding request resolves
// with ErrDisconnected; subsequent operations fail with ErrNotConnected.
func (r *Requester) Disconnect() error {
	return r.conn.Close()
}

// SetNotificationHandler replaces the handler invoked for notifications
// and indications. A nil handler restores the default no-op.
func (r *Requester) SetNotificationHandler(h NotificationHandler) {
	r.muHandler.Lock()
	r.handler = h
	r.muHandler.Unlock()
}

// ReadByHandleAsync submits a read of the attribute at handle h and
// returns immediately; rsp resolves when the response, an error response,
// the protocol timeout or a disconnect arrives.
func (r *Requester) ReadByHandleAsync(h uint16, rsp *Response) error {
	return r.submit(att.NewReadRequest(h), rsp, decodeRead)
}

// ReadByHandle reads the attribute at handle h, blocking until resolution
// or the protocol timeout.
func (r *Requester) ReadByHandle(h uint16) ([]byte, error) {
	rsp := NewResponse()
	if err := r.ReadByHandleAsync(h, rsp); err != nil {
		return nil, err
	}
	if err := rsp.Wait(0); err != nil {
		return nil, err
	}
	return rsp.Bytes(), nil
}

// ReadByUUIDAsync submits a read of every attribute of type u, as a single
// read-by-type exchange over the whole handle range. rsp resolves with one
// payload per matching attribute instance.
func (r *Requester) ReadByUUIDAsync(u UUID, rsp *Response) error {
	return r.submit(att.NewReadByTypeRequest(0x0001, 0xFFFF, u), rsp, decodeReadByType)
}

// ReadByUUID reads every attribute of type u, blocking until resolution
// or the protocol timeout.
func (r *Requester) ReadByUUID(u UUID) ([][]byte, error) {
	rsp := NewResponse()
	if err := r.ReadByUUIDAsync(u, rsp); err != nil {
		return nil, err
	}
	if err := rsp.Wait(0); err != nil {
		return nil, err
	}
	return rsp.Payloads(), nil
}

// WriteByHandleAsync submits an acknowledged write; rsp resolves with no
// payload once the peripheral acknowledges.
func (r *Requester) WriteByHandleAsync(h uint16, value []byte, rsp *Response) error {
	return r.submit(att.NewWriteRequest(h, value), rsp, decodeWrite)
}

// WriteByHandle writes the attribute at handle h, blocking until the
// acknowledgement or the protocol timeout.
func (r *Requester) WriteByHandle(h uint16, value []byte) error {
	rsp := NewResponse()
	if err := r.WriteByHandleAsync(h, value, rsp); err != nil {
		return err
	}
	return rsp.Wait(0)
}

// WriteCmd sends a write command: fire and forget, no acknowledgement,
// and no contention with the outstanding-request slot.
func (r *Requester) WriteCmd(h uint16, value []byte) error {
	if !r.table.connected() {
		return ErrNotConnected
	}
	return errors.Wrap(r.conn.Send(att.NewWriteCommand(h, value)), "write cmd")
}

// ExchangeMTU advertises the client receive MTU and returns the MTU the
// peripheral selected.
func (r *Requester) ExchangeMTU(mtu uint16) (uint16, error) {
	rsp := NewResponse()
	if err := r.submit(att.NewExchangeMTURequest(mtu), rsp, decodeMTU); err != nil {
		return 0, err
	}
	if err := rsp.Wait(0); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(rsp.Bytes()), nil
}

// submit registers the transaction, then sends the PDU. A send failure
// frees the slot and resolves rsp so both observation paths agree.
func (r *Requester) submit(pdu []byte, rsp *Response, decode func([]byte) ([][]byte, error)) error {
	if rsp == nil {
		return errors.WithMessage(ErrInvalidConfiguration, "nil response")
	}
	reqOp := pdu[0]
	rspOp, ok := att.ResponseFor(reqOp)
	if !ok {
		return errors.WithMessage(ErrInvalidConfiguration, "opcode expects no response")
	}

	p := &pendingRequest{
		reqOp:  reqOp,
		rspOp:  rspOp,
		rsp:    rsp,
		decode: decode,
	}
	if err := r.table.submit(p); err != nil {
		return err
	}

	if err := r.conn.Send(pdu); err != nil {
		r.table.abort(p)
		err = errors.Wrapf(err, "send opcode %#02x", reqOp)
		rsp.resolve(nil, err)
		return err
	}
	return nil
}

// handleUnsolicited dispatches one notification or indication to the
// caller's handler, then confirms indications so the peripheral may send
// the next one.
func (r *Requester) handleUnsolicited(pdu []byte) {
	hv := att.HandleValue(pdu)
	if !hv.Valid() {
		r.log.Warnf("dropping malformed handle value pdu [% X]", pdu)
		return
	}

	r.muHandler.RLock()
	h := r.handler
	r.muHandler.RUnlock()

	if h != nil {
		h.HandleNotification(hv.AttributeHandle(), hv.Value())
	}

	if pdu[0] == att.HandleValueIndicationCode {
		if err := r.conn.Send(att.NewHandleValueConfirmation()); err != nil {
			r.log.Errorf("can't confirm indication: %s", err)
		}
	}
}

func decodeRead(pdu []byte) ([][]byte, error) {
	return [][]byte{pdu[1:]}, nil
}

func decodeReadByType(pdu []byte) ([][]byte, error) {
	vv, err := att.ParseReadByTypeResponse(pdu)
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, 0, len(vv))
	for _, v := range vv {
		payloads = append(payloads, v.Value)
	}
	return payloads, nil
}

func decodeWrite(pdu []byte) ([][]byte, error) {
	if len(pdu) != 1 {
		return nil, att.ErrInvalidResponse
	}
	return nil, nil
}

func decodeMTU(pdu []byte) ([][]byte, error) {
	if len(pdu) != 3 {
		return nil, att.ErrInvalidResponse
	}
	return [][]byte{pdu[1:]}, nil
}
