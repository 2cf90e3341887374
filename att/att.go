// Package att carries the attribute-protocol PDU shapes exchanged with a
// peripheral: op-code families, request builders and response accessors.
// Only the client-side subset is implemented.
package att

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DefaultMTU is the ATT_MTU both sides may assume before an exchange.
const DefaultMTU = 23

// MaxMTU is the maximum ATT_MTU: 512 bytes of value plus 3 bytes of header.
// [Vol 3, Part F, 3.2.9]
const MaxMTU = 512 + 3

// ATT PDU op-codes. [Vol 3, Part F, 3.4]
const (
	ErrorResponseCode           = 0x01
	ExchangeMTURequestCode      = 0x02
	ExchangeMTUResponseCode     = 0x03
	ReadByTypeRequestCode       = 0x08
	ReadByTypeResponseCode      = 0x09
	ReadRequestCode             = 0x0A
	ReadResponseCode            = 0x0B
	WriteRequestCode            = 0x12
	WriteResponseCode           = 0x13
	WriteCommandCode            = 0x52
	HandleValueNotificationCode = 0x1B
	HandleValueIndicationCode   = 0x1D
	HandleValueConfirmationCode = 0x1E
)

var (
	// ErrInvalidResponse means one or more of the response fields are invalid.
	ErrInvalidResponse = errors.New("invalid response")
)

var rspFor = map[byte]byte{
	ExchangeMTURequestCode: ExchangeMTUResponseCode,
	ReadByTypeRequestCode:  ReadByTypeResponseCode,
	ReadRequestCode:        ReadResponseCode,
	WriteRequestCode:       WriteResponseCode,
}

// ResponseFor returns the response op-code a request op-code waits for.
// The second return is false for op-codes that expect no response.
func ResponseFor(reqOp byte) (byte, bool) {
	rsp, ok := rspFor[reqOp]
	return rsp, ok
}

// IsUnsolicited reports whether op is a server-initiated op-code
// (notification or indication) which never matches an outstanding request.
func IsUnsolicited(op byte) bool {
	return op == HandleValueNotificationCode || op == HandleValueIndicationCode
}

// NewReadRequest builds a Read Request for the attribute at handle h.
func NewReadRequest(h uint16) []byte {
	b := make([]byte, 3)
	b[0] = ReadRequestCode
	binary.LittleEndian.PutUint16(b[1:], h)
	return b
}

// NewReadByTypeRequest builds a Read By Type Request covering the handle
// range [start, end] for attributes of the given type. The UUID is in
// little-endian wire order and must be 2 or 16 bytes.
func NewReadByTypeRequest(start, end uint16, uuid []byte) []byte {
	b := make([]byte, 5+len(uuid))
	b[0] = ReadByTypeRequestCode
	binary.LittleEndian.PutUint16(b[1:], start)
	binary.LittleEndian.PutUint16(b[3:], end)
	copy(b[5:], uuid)
	return b
}

// NewWriteRequest builds a Write Request; the peripheral acknowledges it
// with a Write Response.
func NewWriteRequest(h uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = WriteRequestCode
	binary.LittleEndian.PutUint16(b[1:], h)
	copy(b[3:], value)
	return b
}

// NewWriteCommand builds a Write Command, which expects no acknowledgement.
func NewWriteCommand(h uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = WriteCommandCode
	binary.LittleEndian.PutUint16(b[1:], h)
	copy(b[3:], value)
	return b
}

// NewExchangeMTURequest builds an Exchange MTU Request advertising the
// client receive MTU.
func NewExchangeMTURequest(mtu uint16) []byte {
	b := make([]byte, 3)
	b[0] = ExchangeMTURequestCode
	binary.LittleEndian.PutUint16(b[1:], mtu)
	return b
}

// NewExchangeMTUResponse builds an Exchange MTU Response carrying the
// server receive MTU.
func NewExchangeMTUResponse(mtu uint16) []byte {
	b := make([]byte, 3)
	b[0] = ExchangeMTUResponseCode
	binary.LittleEndian.PutUint16(b[1:], mtu)
	return b
}

// NewReadResponse builds a Read Response around an attribute value.
func NewReadResponse(value []byte) []byte {
	b := make([]byte, 1+len(value))
	b[0] = ReadResponseCode
	copy(b[1:], value)
	return b
}

// NewWriteResponse builds a Write Response.
func NewWriteResponse() []byte {
	return []byte{WriteResponseCode}
}

// NewHandleValueNotification builds a Handle Value Notification.
func NewHandleValueNotification(h uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = HandleValueNotificationCode
	binary.LittleEndian.PutUint16(b[1:], h)
	copy(b[3:], value)
	return b
}

// NewHandleValueIndication builds a Handle Value Indication.
func NewHandleValueIndication(h uint16, value []byte) []byte {
	b := NewHandleValueNotification(h, value)
	b[0] = HandleValueIndicationCode
	return b
}

// NewHandleValueConfirmation builds the confirmation the client must send
// back after each indication.
func NewHandleValueConfirmation() []byte {
	return []byte{HandleValueConfirmationCode}
}

// NewErrorResponse builds an Error Response for the request op-code in
// error, the attribute handle in error and the error code.
func NewErrorResponse(reqOp byte, h uint16, code Error) []byte {
	b := make([]byte, 5)
	b[0] = ErrorResponseCode
	b[1] = reqOp
	binary.LittleEndian.PutUint16(b[2:], h)
	b[4] = byte(code)
	return b
}

// ErrorResponse provides accessors over a raw Error Response PDU.
type ErrorResponse []byte

func (r ErrorResponse) Valid() bool           { return len(r) == 5 && r[0] == ErrorResponseCode }
func (r ErrorResponse) RequestOpcode() byte   { return r[1] }
func (r ErrorResponse) AttributeHandle() uint16 {
	return binary.LittleEndian.Uint16(r[2:4])
}
func (r ErrorResponse) ErrorCode() Error { return Error(r[4]) }

// HandleValue provides accessors over a Handle Value Notification or
// Indication PDU.
type HandleValue []byte

func (p HandleValue) Valid() bool { return len(p) >= 3 && IsUnsolicited(p[0]) }
func (p HandleValue) AttributeHandle() uint16 {
	return binary.LittleEndian.Uint16(p[1:3])
}
func (p HandleValue) Value() []byte { return p[3:] }

// TypedValue is one handle/value pair of a Read By Type Response.
type TypedValue struct {
	Handle uint16
	Value  []byte
}

// ParseReadByTypeResponse splits a Read By Type Response into its
// handle/value pairs. All pairs share the length declared in the PDU.
func ParseReadByTypeResponse(pdu []byte) ([]TypedValue, error) {
	if len(pdu) < 2 || pdu[0] != ReadByTypeResponseCode {
		return nil, ErrInvalidResponse
	}
	length := int(pdu[1])
	if length < 2 {
		return nil, ErrInvalidResponse
	}
	b := pdu[2:]
	if len(b) == 0 || len(b)%length != 0 {
		return nil, ErrInvalidResponse
	}
	var vv []TypedValue
	for len(b) != 0 {
		vv = append(vv, TypedValue{
			Handle: binary.LittleEndian.Uint16(b[:2]),
			Value:  b[2:length],
		})
		b = b[length:]
	}
	return vv, nil
}

// NewReadByTypeResponse assembles a Read By Type Response from pairs which
// must all carry values of equal length.
func NewReadByTypeResponse(vv []TypedValue) ([]byte, error) {
	if len(vv) == 0 {
		return nil, ErrInvalidResponse
	}
	length := 2 + len(vv[0].Value)
	b := []byte{ReadByTypeResponseCode, byte(length)}
	for _, v := range vv {
		if 2+len(v.Value) != length {
			return nil, errors.New("unequal value lengths")
		}
		h := make([]byte, 2)
		binary.LittleEndian.PutUint16(h, v.Handle)
		b = append(b, h...)
		b = append(b, v.Value...)
	}
	return b, nil
}
